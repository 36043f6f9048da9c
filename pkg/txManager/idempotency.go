package txManager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru"
)

type idempotencyEntry struct {
	done    chan struct{}
	receipt *types.Receipt
	err     error
}

// idempotencyCache remembers the outcome of submissions by idempotency key. Concurrent
// duplicates wait for the first call instead of broadcasting again.
type idempotencyCache struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newIdempotencyCache(size int) (*idempotencyCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create idempotency cache: %w", err)
	}
	return &idempotencyCache{cache: cache}, nil
}

// do runs submit once per key. The bool result reports whether the answer came from the cache.
// When the call that broadcast stopped waiting for the receipt, the next duplicate takes over the
// wait through resume instead of inheriting the cancellation.
func (c *idempotencyCache) do(
	ctx context.Context,
	key string,
	submit func() (*types.Receipt, error),
	resume func(cancelled *TxManagerError) (*types.Receipt, error),
) (*types.Receipt, bool, error) {
	for {
		c.mu.Lock()
		v, ok := c.cache.Get(key)
		if !ok {
			entry := &idempotencyEntry{done: make(chan struct{})}
			c.cache.Add(key, entry)
			c.mu.Unlock()
			receipt, err := c.run(key, entry, submit)
			return receipt, false, err
		}
		entry := v.(*idempotencyEntry)
		select {
		case <-entry.done:
			if cancelled := waitCancelled(entry.err); cancelled != nil && ctx.Err() == nil {
				next := &idempotencyEntry{done: make(chan struct{})}
				c.cache.Add(key, next)
				c.mu.Unlock()
				receipt, err := c.run(key, next, func() (*types.Receipt, error) { return resume(cancelled) })
				return receipt, true, err
			}
			c.mu.Unlock()
			return entry.receipt, true, entry.err
		default:
		}
		c.mu.Unlock()

		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, true, &TxManagerError{Kind: ErrReceiptWaitCancelled, Err: ctx.Err()}
		}
	}
}

func (c *idempotencyCache) run(key string, entry *idempotencyEntry, fn func() (*types.Receipt, error)) (*types.Receipt, error) {
	entry.receipt, entry.err = fn()
	if entry.err != nil && !broadcastHappened(entry.err) {
		c.mu.Lock()
		if v, ok := c.cache.Get(key); ok && v == entry {
			c.cache.Remove(key)
		}
		c.mu.Unlock()
	}
	close(entry.done)
	return entry.receipt, entry.err
}

// waitCancelled returns err if it is a receipt wait that can be resumed.
func waitCancelled(err error) *TxManagerError {
	var txErr *TxManagerError
	if errors.As(err, &txErr) && errors.Is(txErr.Kind, ErrReceiptWaitCancelled) && txErr.pending != nil {
		return txErr
	}
	return nil
}

// broadcastHappened reports whether err was raised after a transaction reached the node.
// Such outcomes stay cached because the transaction may still be mined.
func broadcastHappened(err error) bool {
	var txErr *TxManagerError
	return errors.As(err, &txErr) && txErr.TxHash != (common.Hash{})
}
