package txManager

import (
	"context"
	"errors"
	"fmt"

	"github.com/Layr-Labs/txmgr-go/pkg/gasEstimator"
	"github.com/Layr-Labs/txmgr-go/pkg/metrics"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// confirm waits for p to be mined, replacing it with higher fees each time the wait times out.
func (m *SimpleTxManager) confirm(ctx context.Context, p *PendingSubmission) (*types.Receipt, error) {
	for {
		receipt, err := m.waitForReceipt(ctx, p)
		if err == nil {
			return m.finish(p, receipt), nil
		}
		if !errors.Is(err, errReceiptTimeout) {
			return nil, m.cancelled(p, err)
		}

		if p.Replacements >= m.config.MaxReplacements {
			return nil, m.abandon(p, ErrTransactionStuck,
				fmt.Errorf("no receipt after %d replacements", p.Replacements))
		}
		if err := m.replace(ctx, p); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil, m.cancelled(p, ctx.Err())
			case errors.Is(err, gasEstimator.ErrFeeCeilingReached):
				return nil, m.abandon(p, ErrTransactionStuck, err)
			default:
				return nil, m.abandon(p, ErrSigning, err)
			}
		}
	}
}

// replace broadcasts the same nonce, gas limit and payload with bumped fees. Every call counts
// as one replacement attempt, whether the node accepts it or not. Only signing failures and the
// fee ceiling are returned as errors; node rejections leave the earlier hashes being waited on.
func (m *SimpleTxManager) replace(ctx context.Context, p *PendingSubmission) error {
	feeCtx, cancel := context.WithTimeout(ctx, m.config.RPCTimeout)
	fresh, err := m.estimator.SuggestFees(feeCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Sugar().Warnw("Cannot refresh fees for replacement, bumping previous fees",
			zap.Uint64("nonce", p.Nonce),
			zap.Error(err),
		)
		fresh = nil
	}

	bumped, err := gasEstimator.BumpFees(p.lastAttemptFees, fresh, m.config.FeeBumpPercent, m.estimator.MaxFeePerGas())
	if err != nil {
		return err
	}
	prepared := p.Prepared.WithFees(bumped)
	signed, err := m.sign(ctx, prepared)
	if err != nil {
		return err
	}

	m.updatePending(p, func() {
		p.Replacements++
		p.lastAttemptFees = bumped
	})

	err = m.sendTransaction(ctx, signed)
	switch {
	case err == nil || isAlreadyKnown(err):
		m.updatePending(p, func() {
			if !p.hasHash(signed.Hash) {
				p.Hashes = append(p.Hashes, signed.Hash)
			}
			p.Prepared = prepared
		})
		m.saveJournal(p)
		m.metrics.ReplacementsTotal.Inc()
		fields := append([]zap.Field{
			zap.String("txHash", signed.Hash.Hex()),
			zap.Uint64("nonce", p.Nonce),
			zap.Int("replacement", p.Replacements),
		}, feesForLog(bumped)...)
		m.logger.Info("Broadcast replacement transaction", fields...)
	case ctx.Err() != nil:
		return ctx.Err()
	case isNonceTooLow(err):
		// one of the earlier hashes was mined; the next poll finds its receipt
		m.logger.Sugar().Infow("Replacement rejected, nonce already used",
			zap.Uint64("nonce", p.Nonce),
			zap.String("latestHash", p.LatestHash().Hex()),
		)
	case isUnderpriced(err):
		m.logger.Sugar().Warnw("Replacement underpriced, next attempt bumps from the rejected fees",
			zap.Uint64("nonce", p.Nonce),
			zap.Error(err),
		)
	case isRejection(err):
		m.logger.Sugar().Warnw("Replacement rejected",
			zap.Uint64("nonce", p.Nonce),
			zap.Error(err),
		)
	default:
		// the node may have taken it, so its receipt is polled like any other hash
		m.updatePending(p, func() {
			if !p.hasHash(signed.Hash) {
				p.Hashes = append(p.Hashes, signed.Hash)
			}
			p.Prepared = prepared
		})
		m.saveJournal(p)
		m.logger.Sugar().Warnw("Replacement send outcome unknown, polling its hash",
			zap.String("txHash", signed.Hash.Hex()),
			zap.Uint64("nonce", p.Nonce),
			zap.Error(err),
		)
	}
	return nil
}

func (m *SimpleTxManager) finish(p *PendingSubmission, receipt *types.Receipt) *types.Receipt {
	m.untrackPending(p)
	if m.journal != nil {
		if err := m.journal.Delete(p.Sender, p.Nonce); err != nil {
			m.logger.Sugar().Errorw("Failed to remove journal entry", zap.Uint64("nonce", p.Nonce), zap.Error(err))
		}
	}
	m.metrics.ObserveConfirmation(p.SubmittedAt)

	fields := []zap.Field{
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.Uint64("nonce", p.Nonce),
		zap.Uint64("gasUsed", receipt.GasUsed),
		zap.Int("replacements", p.Replacements),
	}
	if receipt.BlockNumber != nil {
		fields = append(fields, zap.Uint64("blockNumber", receipt.BlockNumber.Uint64()))
	}
	if receipt.Status == types.ReceiptStatusFailed {
		m.metrics.ObserveOutcome(metrics.OutcomeReverted)
		m.logger.Warn("Transaction mined but reverted", fields...)
	} else {
		m.metrics.ObserveOutcome(metrics.OutcomeConfirmed)
		m.logger.Info("Transaction confirmed", fields...)
	}
	return receipt
}

// cancelled stops tracking p in memory. The journal keeps it, since the transaction is still out there.
func (m *SimpleTxManager) cancelled(p *PendingSubmission, cause error) error {
	m.untrackPending(p)
	m.metrics.ObserveOutcome(metrics.OutcomeCancelled)
	m.logger.Sugar().Infow("Stopped waiting for receipt",
		zap.String("txHash", p.LatestHash().Hex()),
		zap.Uint64("nonce", p.Nonce),
		zap.Error(cause),
	)
	return &TxManagerError{Kind: ErrReceiptWaitCancelled, TxHash: p.LatestHash(), Nonce: p.Nonce, Err: cause, pending: p}
}

// resume waits again for a submission whose earlier receipt wait was cancelled.
func (m *SimpleTxManager) resume(ctx context.Context, cancelled *TxManagerError) (*types.Receipt, error) {
	p := cancelled.pending
	m.trackPending(p)
	m.logger.Sugar().Infow("Resuming receipt wait",
		zap.String("txHash", p.LatestHash().Hex()),
		zap.Uint64("nonce", p.Nonce),
	)
	return m.confirm(ctx, p)
}

func (m *SimpleTxManager) abandon(p *PendingSubmission, kind error, cause error) error {
	m.untrackPending(p)
	txErr := &TxManagerError{Kind: kind, TxHash: p.LatestHash(), Nonce: p.Nonce, Err: cause}
	if m.journal != nil {
		if err := m.journal.MarkAbandoned(p.Sender, p.Nonce, txErr.Error()); err != nil {
			m.logger.Sugar().Errorw("Failed to mark journal entry abandoned", zap.Uint64("nonce", p.Nonce), zap.Error(err))
		}
	}
	if errors.Is(kind, ErrTransactionStuck) {
		m.metrics.ObserveOutcome(metrics.OutcomeStuck)
	} else {
		m.metrics.ObserveOutcome(metrics.OutcomeFailed)
	}
	m.logger.Error("Abandoned transaction",
		zap.String("txHash", p.LatestHash().Hex()),
		zap.Uint64("nonce", p.Nonce),
		zap.Int("replacements", p.Replacements),
		zap.Error(cause),
	)
	return txErr
}
