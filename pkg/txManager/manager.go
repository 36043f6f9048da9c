// Package txManager turns transaction intents into mined transactions.
//
// A SimpleTxManager assigns nonces, estimates gas and fees, signs, broadcasts and waits for the
// receipt, replacing the transaction with higher fees when it does not get mined in time. Nonce
// assignment is serialized per sender; confirmation waits run concurrently.
package txManager

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/Layr-Labs/txmgr-go/pkg/chainManager"
	"github.com/Layr-Labs/txmgr-go/pkg/gasEstimator"
	"github.com/Layr-Labs/txmgr-go/pkg/journal"
	"github.com/Layr-Labs/txmgr-go/pkg/metrics"
	"github.com/Layr-Labs/txmgr-go/pkg/senderLock"
	"github.com/Layr-Labs/txmgr-go/pkg/txSigner"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ITxManager is the interface contract writers depend on.
type ITxManager interface {
	// Submit blocks until intent is mined or a terminal error occurs.
	// A mined but reverted transaction is returned as a receipt with a failed status, not an error.
	Submit(ctx context.Context, intent *TransactionIntent) (*types.Receipt, error)

	// Send submits a transaction built with GetNoSendTxOpts. Nonce, gas and fees are assigned again.
	Send(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	// GetNoSendTxOpts returns transact opts for building transactions through contract bindings.
	GetNoSendTxOpts(ctx context.Context) (*bind.TransactOpts, error)

	// SetGasLimitMultiplier changes the gas buffer used by subsequent submissions.
	SetGasLimitMultiplier(m float64) error
}

// Journal persists pending submissions. journal.BoltJournal implements it.
type Journal interface {
	Save(record *journal.Record) error
	Delete(sender common.Address, nonce uint64) error
	MarkAbandoned(sender common.Address, nonce uint64, reason string) error
}

// Option customizes a SimpleTxManager.
type Option func(*SimpleTxManager)

// WithSenderLock replaces the default in-process lock, e.g. with a senderLock.RedisLock.
func WithSenderLock(lock senderLock.ISenderLock) Option {
	return func(m *SimpleTxManager) { m.lock = lock }
}

// WithJournal persists every pending submission.
func WithJournal(j Journal) Option {
	return func(m *SimpleTxManager) { m.journal = j }
}

// WithMetrics reports to the given collectors.
func WithMetrics(txMetrics *metrics.TxMetrics) Option {
	return func(m *SimpleTxManager) { m.metrics = txMetrics }
}

// SimpleTxManager implements ITxManager for a single signer on a single chain.
type SimpleTxManager struct {
	config    *Config
	client    chainManager.EthClientInterface
	signer    txSigner.ITransactionSigner
	estimator *gasEstimator.Estimator
	logger    *zap.Logger
	sender    common.Address

	lock        senderLock.ISenderLock
	journal     Journal
	metrics     *metrics.TxMetrics
	idempotency *idempotencyCache

	// nextNonce is the nonce after the last one this manager broadcast. Guarded by nonceMu and
	// only meaningful while haveNonce is set.
	nonceMu   sync.Mutex
	nextNonce uint64
	haveNonce bool

	pendingMu sync.Mutex
	pending   map[uint64]*PendingSubmission
}

var _ ITxManager = (*SimpleTxManager)(nil)

// NewSimpleTxManager creates a transaction manager.
//
// Parameters:
//   - cfg: Retry, wait and fee policy. Nil uses DefaultConfig
//   - client: Node client for the target chain
//   - signer: Signer whose address is the sender of every transaction
//   - logger: Logger for operational messages
//   - opts: Optional lock, journal and metrics
//
// Returns:
//   - *SimpleTxManager: The manager
//   - error: ErrInvalidConfig if cfg is invalid, or an error if the signer address is unavailable
func NewSimpleTxManager(
	cfg *Config,
	client chainManager.EthClientInterface,
	signer txSigner.ITransactionSigner,
	logger *zap.Logger,
	opts ...Option,
) (*SimpleTxManager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sender, err := signer.GetAddress()
	if err != nil {
		return nil, fmt.Errorf("failed to get signer address: %w", err)
	}
	estimator, err := gasEstimator.NewEstimator(client, cfg.Estimator, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	idempotency, err := newIdempotencyCache(cfg.IdempotencyCacheSize)
	if err != nil {
		return nil, err
	}

	m := &SimpleTxManager{
		config:      cfg,
		client:      client,
		signer:      signer,
		estimator:   estimator,
		logger:      logger,
		sender:      sender,
		idempotency: idempotency,
		pending:     make(map[uint64]*PendingSubmission),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.lock == nil {
		m.lock = senderLock.NewLocalLock()
	}
	if m.metrics == nil {
		m.metrics = metrics.NewTxMetrics(nil)
	}
	return m, nil
}

// Sender returns the address transactions are sent from.
func (m *SimpleTxManager) Sender() common.Address {
	return m.sender
}

// Submit prepares, signs and broadcasts intent, then waits for its receipt.
//
// Intents carrying an IdempotencyKey are broadcast at most once while the key is remembered:
// duplicates receive the first call's receipt or post-broadcast error. A duplicate arriving after
// the first caller cancelled its receipt wait waits for that same transaction.
func (m *SimpleTxManager) Submit(ctx context.Context, intent *TransactionIntent) (*types.Receipt, error) {
	if err := validateIntent(intent); err != nil {
		return nil, &TxManagerError{Kind: ErrInvalidIntent, Err: err}
	}
	if intent.IdempotencyKey == "" {
		return m.submit(ctx, intent)
	}

	receipt, cached, err := m.idempotency.do(ctx, intent.IdempotencyKey,
		func() (*types.Receipt, error) {
			return m.submit(ctx, intent)
		},
		func(cancelled *TxManagerError) (*types.Receipt, error) {
			return m.resume(ctx, cancelled)
		},
	)
	if cached {
		m.metrics.IdempotentDuplicates.Inc()
		m.logger.Sugar().Infow("Duplicate submission answered from idempotency cache",
			zap.String("idempotencyKey", intent.IdempotencyKey),
		)
	}
	return receipt, err
}

// Send submits the intent of a transaction built with GetNoSendTxOpts. Only the recipient,
// value and calldata are kept; nonce, gas limit and fees are assigned by the manager.
func (m *SimpleTxManager) Send(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, &TxManagerError{Kind: ErrInvalidIntent, Err: errors.New("nil transaction")}
	}
	return m.Submit(ctx, &TransactionIntent{
		To:    tx.To(),
		Value: tx.Value(),
		Data:  tx.Data(),
	})
}

// GetNoSendTxOpts returns signer-backed transact opts with NoSend set, for use with contract bindings.
func (m *SimpleTxManager) GetNoSendTxOpts(ctx context.Context) (*bind.TransactOpts, error) {
	chainCtx, cancel := context.WithTimeout(ctx, m.config.RPCTimeout)
	chainID, err := m.estimator.ChainID(chainCtx)
	cancel()
	if err != nil {
		return nil, err
	}
	opts, err := m.signer.GetNoSendTransactOpts(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to get no-send transact opts: %w", err)
	}
	return opts, nil
}

// SetGasLimitMultiplier changes the gas buffer for subsequent submissions. m must be >= 1.
func (m *SimpleTxManager) SetGasLimitMultiplier(multiplier float64) error {
	if err := m.estimator.SetGasLimitMultiplier(multiplier); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	m.logger.Sugar().Infow("Updated gas limit multiplier", zap.Float64("multiplier", multiplier))
	return nil
}

// PendingSubmissions returns a snapshot of broadcast submissions still awaiting a receipt, by nonce.
func (m *SimpleTxManager) PendingSubmissions() []*PendingSubmission {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	out := make([]*PendingSubmission, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out
}

func (m *SimpleTxManager) submit(ctx context.Context, intent *TransactionIntent) (*types.Receipt, error) {
	pending, err := m.broadcast(ctx, intent)
	if err != nil {
		if errors.Is(err, ErrSubmissionCancelled) {
			m.metrics.ObserveOutcome(metrics.OutcomeCancelled)
		} else {
			m.metrics.ObserveOutcome(metrics.OutcomeFailed)
		}
		return nil, err
	}
	return m.confirm(ctx, pending)
}

func validateIntent(intent *TransactionIntent) error {
	if intent == nil {
		return errors.New("nil intent")
	}
	if intent.Value != nil && intent.Value.Sign() < 0 {
		return fmt.Errorf("negative value %s", intent.Value)
	}
	if intent.To == nil && len(intent.Data) == 0 {
		return errors.New("contract creation without init code")
	}
	return nil
}

func (m *SimpleTxManager) trackPending(p *PendingSubmission) {
	m.pendingMu.Lock()
	m.pending[p.Nonce] = p
	m.pendingMu.Unlock()
	m.metrics.InFlight.Inc()
	m.saveJournal(p)
}

func (m *SimpleTxManager) untrackPending(p *PendingSubmission) {
	m.pendingMu.Lock()
	delete(m.pending, p.Nonce)
	m.pendingMu.Unlock()
	m.metrics.InFlight.Dec()
}

// updatePending applies fn to p under the pending lock so snapshots stay consistent.
func (m *SimpleTxManager) updatePending(p *PendingSubmission, fn func()) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	fn()
}

func (m *SimpleTxManager) saveJournal(p *PendingSubmission) {
	if m.journal == nil {
		return
	}
	m.pendingMu.Lock()
	record := p.toRecord()
	m.pendingMu.Unlock()
	if err := m.journal.Save(record); err != nil {
		m.logger.Sugar().Errorw("Failed to journal pending submission",
			zap.Uint64("nonce", p.Nonce),
			zap.Error(err),
		)
	}
}

func (m *SimpleTxManager) reserveNonce(remote uint64) uint64 {
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()
	if m.haveNonce && m.nextNonce > remote {
		return m.nextNonce
	}
	return remote
}

func (m *SimpleTxManager) advanceNonce(used uint64) {
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()
	if !m.haveNonce || used+1 > m.nextNonce {
		m.nextNonce = used + 1
		m.haveNonce = true
	}
}

// forgetNonce drops the local view so the node's pending nonce is used again.
func (m *SimpleTxManager) forgetNonce() {
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()
	m.haveNonce = false
}

func feesForLog(fees *gasEstimator.Fees) []zap.Field {
	if fees.IsDynamic() {
		return []zap.Field{
			zap.String("gasFeeCap", fees.GasFeeCap.String()),
			zap.String("gasTipCap", fees.GasTipCap.String()),
		}
	}
	return []zap.Field{zap.String("gasPrice", fees.GasPrice.String())}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
