package senderLock

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// LocalLock is an in-process ISenderLock. Each address gets a one-slot semaphore so that
// waiting callers can give up when their context ends.
type LocalLock struct {
	mu    sync.Mutex
	slots map[common.Address]chan struct{}
}

// NewLocalLock creates an empty LocalLock.
func NewLocalLock() *LocalLock {
	return &LocalLock{slots: make(map[common.Address]chan struct{})}
}

func (l *LocalLock) slot(sender common.Address) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[sender]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[sender] = ch
	}
	return ch
}

// Lock acquires the slot for sender.
func (l *LocalLock) Lock(ctx context.Context, sender common.Address) (func(), error) {
	ch := l.slot(sender)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w for %s: %w", ErrLockTimeout, sender, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
