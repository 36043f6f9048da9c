// Package gasEstimator turns a transaction intent into a prepared transaction by assigning
// the sender's next nonce, a buffered gas limit, fee parameters and the chain ID.
//
// Fees follow the EIP-1559 model whenever the latest header carries a base fee, and the
// legacy gas price model otherwise (or when legacy is forced through Config).
package gasEstimator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Layr-Labs/txmgr-go/pkg/chainManager"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	// ErrEstimation is returned when the node is unreachable or returns malformed nonce, fee or gas data.
	ErrEstimation = errors.New("gasEstimator: estimation failed")

	// ErrExecutionReverted is returned alongside ErrEstimation when gas estimation reverts.
	// Waiting does not make a reverting call succeed, so callers should not retry it.
	ErrExecutionReverted = errors.New("gasEstimator: execution reverted")

	// FallbackGasTipCap is used when the node does not implement eth_maxPriorityFeePerGas.
	FallbackGasTipCap = big.NewInt(15000000000)
)

const (
	DefaultGasLimitMultiplier = 1.2
	DefaultBaseFeeMultiplier  = 1.5
	DefaultGasPriceMultiplier = 1.2
)

// Config controls how fees and gas limits are derived.
type Config struct {
	// ChainID, when set, is used instead of querying the node.
	ChainID *big.Int

	// GasLimitMultiplier is the safety buffer applied to raw gas estimates. Must be >= 1.
	GasLimitMultiplier float64

	// BaseFeeMultiplier is applied to the latest base fee before the tip is added.
	BaseFeeMultiplier float64

	// GasPriceMultiplier is applied to the suggested legacy gas price.
	GasPriceMultiplier float64

	// GasTipCap, when set, is used as a fixed priority fee instead of the node's suggestion.
	GasTipCap *big.Int

	// MaxFeePerGas caps the fee cap (or legacy gas price). Nil means no ceiling.
	MaxFeePerGas *big.Int

	// ForceLegacy always uses legacy gas pricing, even on EIP-1559 chains.
	ForceLegacy bool

	// RequireDynamicFees fails estimation when the chain does not report a base fee.
	RequireDynamicFees bool
}

// DefaultConfig returns the documented default multipliers.
func DefaultConfig() *Config {
	return &Config{
		GasLimitMultiplier: DefaultGasLimitMultiplier,
		BaseFeeMultiplier:  DefaultBaseFeeMultiplier,
		GasPriceMultiplier: DefaultGasPriceMultiplier,
	}
}

// Validate checks the configuration for values that would produce unusable transactions.
func (c *Config) Validate() error {
	if c.GasLimitMultiplier < 1 {
		return fmt.Errorf("gas limit multiplier must be >= 1, got %v", c.GasLimitMultiplier)
	}
	if c.BaseFeeMultiplier < 1 {
		return fmt.Errorf("base fee multiplier must be >= 1, got %v", c.BaseFeeMultiplier)
	}
	if c.GasPriceMultiplier < 1 {
		return fmt.Errorf("gas price multiplier must be >= 1, got %v", c.GasPriceMultiplier)
	}
	if c.ForceLegacy && c.RequireDynamicFees {
		return errors.New("legacy fees and dynamic fees cannot both be forced")
	}
	if c.MaxFeePerGas != nil && c.MaxFeePerGas.Sign() <= 0 {
		return errors.New("max fee per gas must be positive")
	}
	return nil
}

// Estimator prepares transactions against a single chain.
type Estimator struct {
	client chainManager.EthClientInterface
	config *Config
	logger *zap.Logger

	gasLimitMultiplier atomic.Uint64 // float64 bits

	chainIDMu sync.Mutex
	chainID   *big.Int
}

// NewEstimator creates an Estimator. A nil config uses DefaultConfig.
func NewEstimator(client chainManager.EthClientInterface, cfg *Config, logger *zap.Logger) (*Estimator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Estimator{
		client:  client,
		config:  cfg,
		logger:  logger,
		chainID: copyBig(cfg.ChainID),
	}
	e.gasLimitMultiplier.Store(math.Float64bits(cfg.GasLimitMultiplier))
	return e, nil
}

// SetGasLimitMultiplier changes the gas buffer used by subsequent Prepare calls.
func (e *Estimator) SetGasLimitMultiplier(m float64) error {
	if math.IsNaN(m) || math.IsInf(m, 0) || m < 1 {
		return fmt.Errorf("gas limit multiplier must be a finite value >= 1, got %v", m)
	}
	e.gasLimitMultiplier.Store(math.Float64bits(m))
	return nil
}

// GasLimitMultiplier returns the gas buffer currently in effect.
func (e *Estimator) GasLimitMultiplier() float64 {
	return math.Float64frombits(e.gasLimitMultiplier.Load())
}

// MaxFeePerGas returns the configured fee ceiling, or nil.
func (e *Estimator) MaxFeePerGas() *big.Int {
	return e.config.MaxFeePerGas
}

// Prepare assigns the sender's pending nonce, a gas limit, fees and the chain ID to intent.
//
// Parameters:
//   - ctx: Context for the node queries
//   - intent: The transaction intent
//   - sender: The address that will sign the transaction
//
// Returns:
//   - *PreparedTransaction: The prepared, unsigned transaction
//   - error: ErrEstimation (and ErrExecutionReverted for reverts) on failure
func (e *Estimator) Prepare(ctx context.Context, intent *TransactionIntent, sender common.Address) (*PreparedTransaction, error) {
	chainID, err := e.ChainID(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := e.client.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get pending nonce: %w", ErrEstimation, err)
	}

	fees, err := e.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit := intent.GasLimit
	if gasLimit == 0 {
		gasLimit, err = e.EstimateGasLimit(ctx, intent, sender, fees)
		if err != nil {
			return nil, err
		}
	}

	return &PreparedTransaction{
		Intent:   intent,
		Sender:   sender,
		Nonce:    nonce,
		GasLimit: gasLimit,
		ChainID:  chainID,
		Fees:     fees,
	}, nil
}

// ChainID returns the configured chain ID, or queries the node once and caches the answer.
func (e *Estimator) ChainID(ctx context.Context) (*big.Int, error) {
	e.chainIDMu.Lock()
	defer e.chainIDMu.Unlock()
	if e.chainID != nil {
		return e.chainID, nil
	}
	id, err := e.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get chain ID: %w", ErrEstimation, err)
	}
	if id == nil || id.Sign() <= 0 {
		return nil, fmt.Errorf("%w: node returned invalid chain ID %v", ErrEstimation, id)
	}
	e.chainID = id
	return id, nil
}

// EstimateGasLimit simulates intent and returns the buffered gas limit.
func (e *Estimator) EstimateGasLimit(ctx context.Context, intent *TransactionIntent, sender common.Address, fees *Fees) (uint64, error) {
	msg := ethereum.CallMsg{
		From:  sender,
		To:    intent.To,
		Value: intent.Value,
		Data:  intent.Data,
	}
	if fees.IsDynamic() {
		msg.GasFeeCap = fees.GasFeeCap
		msg.GasTipCap = fees.GasTipCap
	} else {
		msg.GasPrice = fees.GasPrice
	}

	raw, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		if isExecutionReverted(err) {
			return 0, fmt.Errorf("%w: %w: %w", ErrEstimation, ErrExecutionReverted, err)
		}
		return 0, fmt.Errorf("%w: failed to estimate gas: %w", ErrEstimation, err)
	}
	if raw == 0 {
		return 0, fmt.Errorf("%w: node returned a zero gas estimate", ErrEstimation)
	}

	gasLimit := ApplyGasBuffer(raw, e.GasLimitMultiplier())
	e.logger.Sugar().Debugw("Estimated gas limit",
		zap.Uint64("rawGas", raw),
		zap.Uint64("gasLimit", gasLimit),
	)
	return gasLimit, nil
}

// SuggestFees returns fee parameters for a new transaction based on the latest header.
func (e *Estimator) SuggestFees(ctx context.Context) (*Fees, error) {
	if e.config.ForceLegacy {
		return e.suggestLegacyFees(ctx)
	}

	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get latest header: %w", ErrEstimation, err)
	}
	if header == nil {
		return nil, fmt.Errorf("%w: node returned no latest header", ErrEstimation)
	}
	if header.BaseFee == nil {
		if e.config.RequireDynamicFees {
			return nil, fmt.Errorf("%w: latest header has no base fee", ErrEstimation)
		}
		return e.suggestLegacyFees(ctx)
	}

	tip, err := e.suggestTip(ctx)
	if err != nil {
		return nil, err
	}
	// overestimate the base fee so the transaction survives a few full blocks
	feeCap := new(big.Int).Add(applyMultiplier(header.BaseFee, e.config.BaseFeeMultiplier), tip)
	if e.config.MaxFeePerGas != nil && feeCap.Cmp(e.config.MaxFeePerGas) > 0 {
		feeCap = new(big.Int).Set(e.config.MaxFeePerGas)
		tip = minBig(tip, feeCap)
	}

	return &Fees{GasFeeCap: feeCap, GasTipCap: tip}, nil
}

func (e *Estimator) suggestTip(ctx context.Context) (*big.Int, error) {
	if e.config.GasTipCap != nil {
		return new(big.Int).Set(e.config.GasTipCap), nil
	}
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrEstimation, ctx.Err())
		}
		// Not every backend implements eth_maxPriorityFeePerGas (hardhat, some providers).
		e.logger.Sugar().Debugw("cannot get gasTipCap, using fallback",
			zap.String("error", err.Error()),
		)
		return new(big.Int).Set(FallbackGasTipCap), nil
	}
	if tip == nil || tip.Sign() < 0 {
		return nil, fmt.Errorf("%w: node returned invalid tip %v", ErrEstimation, tip)
	}
	return tip, nil
}

func (e *Estimator) suggestLegacyFees(ctx context.Context) (*Fees, error) {
	price, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get gas price: %w", ErrEstimation, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: node returned invalid gas price %v", ErrEstimation, price)
	}
	price = applyMultiplier(price, e.config.GasPriceMultiplier)
	price = minBig(price, e.config.MaxFeePerGas)
	return &Fees{GasPrice: price}, nil
}

func isExecutionReverted(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
