package txManager

import (
	"context"
	"errors"
	"time"

	"github.com/Layr-Labs/txmgr-go/pkg/gasEstimator"
	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// broadcast holds the sender lock from nonce assignment until the node has the transaction.
// Everything returned as an error here happened before anything could have been broadcast.
// A send whose outcome is unknown is returned as pending: the nonce stays pinned and the
// receipt wait decides, so the intent never gets a second nonce.
func (m *SimpleTxManager) broadcast(ctx context.Context, intent *TransactionIntent) (*PendingSubmission, error) {
	release, err := m.lock.Lock(ctx, m.sender)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &TxManagerError{Kind: ErrSubmissionCancelled, Err: err}
		}
		return nil, &TxManagerError{Kind: ErrSubmission, Err: err}
	}
	defer release()

	for attempt := 1; ; attempt++ {
		prepared, err := m.prepareWithRetry(ctx, intent)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &TxManagerError{Kind: ErrSubmissionCancelled, Err: ctx.Err()}
			}
			return nil, &TxManagerError{Kind: ErrEstimation, Err: err}
		}
		prepared.Nonce = m.reserveNonce(prepared.Nonce)

		signed, err := m.sign(ctx, prepared)
		if err != nil {
			return nil, &TxManagerError{Kind: ErrSigning, Nonce: prepared.Nonce, Err: err}
		}

		if ctx.Err() != nil {
			return nil, &TxManagerError{Kind: ErrSubmissionCancelled, Nonce: prepared.Nonce, Err: ctx.Err()}
		}
		rejection, sendErr := m.sendSigned(ctx, signed)
		if rejection == nil {
			m.advanceNonce(prepared.Nonce)
			pending := &PendingSubmission{
				Sender:          m.sender,
				Nonce:           prepared.Nonce,
				ChainID:         prepared.ChainID,
				SubmittedAt:     time.Now(),
				Hashes:          []common.Hash{signed.Hash},
				Prepared:        prepared,
				lastAttemptFees: prepared.Fees,
			}
			m.trackPending(pending)

			fields := append([]zap.Field{
				zap.String("txHash", signed.Hash.Hex()),
				zap.Uint64("nonce", prepared.Nonce),
				zap.Uint64("gasLimit", prepared.GasLimit),
				zap.String("value", bigString(intent.Value)),
			}, feesForLog(prepared.Fees)...)
			if sendErr != nil {
				m.logger.Warn("Send outcome unknown, waiting for a receipt on the same nonce",
					append(fields, zap.Error(sendErr))...)
			} else {
				m.logger.Info("Broadcast transaction", fields...)
			}
			return pending, nil
		}

		if ctx.Err() != nil {
			return nil, &TxManagerError{Kind: ErrSubmissionCancelled, Nonce: prepared.Nonce, Err: rejection}
		}
		if isNonceTooLow(rejection) {
			m.forgetNonce()
		}
		if attempt >= m.config.SubmissionMaxAttempts {
			return nil, &TxManagerError{Kind: ErrSubmission, Nonce: prepared.Nonce, Err: rejection}
		}
		m.metrics.SubmissionRetries.Inc()
		m.logger.Sugar().Warnw("Node rejected transaction, preparing again",
			zap.Uint64("nonce", prepared.Nonce),
			zap.Int("attempt", attempt),
			zap.Error(rejection),
		)
	}
}

// sendSigned sends signed until the node accepts or rejects it. Failures that leave the outcome
// unknown resend the same bytes, where "already known" or "nonce too low" means an earlier copy
// got through. A non-nil rejection proves nothing was broadcast. Otherwise the transaction may be
// in the pool and sendErr, if set, is the last unresolved failure.
func (m *SimpleTxManager) sendSigned(ctx context.Context, signed *SignedTransaction) (rejection error, sendErr error) {
	resent := false
	operation := func() (struct{}, error) {
		err := m.sendTransaction(ctx, signed)
		switch {
		case err == nil || isAlreadyKnown(err):
			return struct{}{}, nil
		case resent && isNonceTooLow(err):
			return struct{}{}, nil
		case isRejection(err):
			rejection = err
			return struct{}{}, backoff.Permanent(err)
		}
		resent = true
		m.logger.Sugar().Warnw("Send outcome unknown, resending the same transaction",
			zap.String("txHash", signed.Hash.Hex()),
			zap.Uint64("nonce", signed.Tx.Nonce()),
			zap.Error(err),
		)
		return struct{}{}, err
	}

	_, sendErr = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.config.ReceiptPollInterval)),
		backoff.WithMaxTries(uint(m.config.SubmissionMaxAttempts)),
	)
	if rejection != nil {
		return rejection, nil
	}
	return nil, sendErr
}

// prepareWithRetry retries transient estimation failures with exponential backoff.
// Reverts are returned at once.
func (m *SimpleTxManager) prepareWithRetry(ctx context.Context, intent *TransactionIntent) (*PreparedTransaction, error) {
	operation := func() (*PreparedTransaction, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, m.config.RPCTimeout)
		defer cancel()
		prepared, err := m.estimator.Prepare(attemptCtx, intent, m.sender)
		if err != nil {
			if errors.Is(err, gasEstimator.ErrExecutionReverted) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return prepared, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.EstimationInitialBackoff
	b.MaxInterval = m.config.EstimationMaxBackoff

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.config.EstimationMaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.metrics.EstimationRetries.Inc()
			m.logger.Sugar().Warnw("Estimation failed, retrying",
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
}

func (m *SimpleTxManager) sign(ctx context.Context, prepared *PreparedTransaction) (*SignedTransaction, error) {
	tx, err := m.signer.SignTransaction(ctx, prepared.ToTransaction(), prepared.ChainID)
	if err != nil {
		return nil, err
	}
	return newSignedTransaction(tx)
}

func (m *SimpleTxManager) sendTransaction(ctx context.Context, signed *SignedTransaction) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.RPCTimeout)
	defer cancel()
	return m.client.SendTransaction(ctx, signed.Tx)
}
