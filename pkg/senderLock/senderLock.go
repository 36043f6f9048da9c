// Package senderLock serializes nonce assignment per sender address.
//
// A lock is held from nonce fetch until the signed transaction has been accepted by the node,
// never across the receipt wait. LocalLock covers one process; RedisLock covers several manager
// processes that share one operator key.
package senderLock

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrLockTimeout is returned when the lock could not be acquired before the context ended.
var ErrLockTimeout = errors.New("senderLock: timed out acquiring lock")

// ISenderLock provides an exclusive section per sender address.
type ISenderLock interface {
	// Lock blocks until the caller holds the lock for sender or ctx is done.
	// The returned function releases the lock and must be called exactly once.
	Lock(ctx context.Context, sender common.Address) (func(), error)
}
