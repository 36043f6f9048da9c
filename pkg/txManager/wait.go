package txManager

import (
	"context"
	"errors"
	"time"

	"github.com/Layr-Labs/txmgr-go/pkg/chainManager"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// waitForReceipt polls every hash broadcast for p until one is mined, ctx ends, or ReceiptTimeout
// elapses (errReceiptTimeout). New heads trigger an extra poll when the client can push them.
// Node errors are logged and polled through.
func (m *SimpleTxManager) waitForReceipt(ctx context.Context, p *PendingSubmission) (*types.Receipt, error) {
	timeout := time.NewTimer(m.config.ReceiptTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(m.config.ReceiptPollInterval)
	defer ticker.Stop()

	heads, subErr, unsubscribe := m.subscribeHeads(ctx)
	defer unsubscribe()

	for {
		if receipt := m.pollReceipts(ctx, p); receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout.C:
			return nil, errReceiptTimeout
		case <-ticker.C:
		case <-heads:
		case err := <-subErr:
			m.logger.Sugar().Debugw("Head subscription ended, polling only", zap.Error(err))
			heads, subErr = nil, nil
		}
	}
}

func (m *SimpleTxManager) subscribeHeads(ctx context.Context) (<-chan *types.Header, <-chan error, func()) {
	subscriber, ok := m.client.(chainManager.HeadSubscriber)
	if !ok {
		return nil, nil, func() {}
	}
	ch := make(chan *types.Header, 1)
	sub, err := subscriber.SubscribeNewHead(ctx, ch)
	if err != nil {
		// plain HTTP endpoints do not support subscriptions
		m.logger.Sugar().Debugw("Cannot subscribe to new heads, polling only", zap.Error(err))
		return nil, nil, func() {}
	}
	return ch, sub.Err(), sub.Unsubscribe
}

// pollReceipts checks the newest hash first since it is the most likely to be mined.
func (m *SimpleTxManager) pollReceipts(ctx context.Context, p *PendingSubmission) *types.Receipt {
	m.pendingMu.Lock()
	hashes := append([]common.Hash(nil), p.Hashes...)
	m.pendingMu.Unlock()

	for i := len(hashes) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return nil
		}
		receipt, err := m.fetchReceipt(ctx, hashes[i])
		if err == nil && receipt != nil {
			return receipt
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			m.logger.Sugar().Warnw("Failed to fetch receipt",
				zap.String("txHash", hashes[i].Hex()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (m *SimpleTxManager) fetchReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.RPCTimeout)
	defer cancel()
	return m.client.TransactionReceipt(ctx, hash)
}
