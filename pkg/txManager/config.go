package txManager

import (
	"fmt"
	"time"

	"github.com/Layr-Labs/txmgr-go/pkg/gasEstimator"
)

// Config holds the retry and wait policy of a SimpleTxManager.
type Config struct {
	// Estimator configures gas limits and fees.
	Estimator *gasEstimator.Config

	// EstimationMaxAttempts bounds Prepare attempts per submission.
	EstimationMaxAttempts int
	// EstimationInitialBackoff and EstimationMaxBackoff shape the exponential backoff between attempts.
	EstimationInitialBackoff time.Duration
	EstimationMaxBackoff     time.Duration

	// SubmissionMaxAttempts bounds how often a rejected transaction is prepared and sent again.
	SubmissionMaxAttempts int

	// MaxReplacements bounds fee-bumped replacements before a submission is declared stuck.
	MaxReplacements int
	// FeeBumpPercent is the minimum fee increase of each replacement. Values below 10 are raised to 10.
	FeeBumpPercent uint64

	// ReceiptPollInterval is the delay between receipt queries.
	ReceiptPollInterval time.Duration
	// RPCTimeout bounds every node call: each estimation attempt, each send and each receipt or fee query.
	RPCTimeout time.Duration
	// ReceiptTimeout is how long one broadcast may go without a receipt before it is replaced.
	ReceiptTimeout time.Duration

	// IdempotencyCacheSize is the number of idempotency keys remembered.
	IdempotencyCacheSize int
}

// DefaultConfig returns the default policy.
func DefaultConfig() *Config {
	return &Config{
		Estimator:                gasEstimator.DefaultConfig(),
		EstimationMaxAttempts:    5,
		EstimationInitialBackoff: 500 * time.Millisecond,
		EstimationMaxBackoff:     10 * time.Second,
		SubmissionMaxAttempts:    3,
		MaxReplacements:          3,
		FeeBumpPercent:           20,
		ReceiptPollInterval:      2 * time.Second,
		RPCTimeout:               10 * time.Second,
		ReceiptTimeout:           2 * time.Minute,
		IdempotencyCacheSize:     1024,
	}
}

// Validate reports the first unusable value.
func (c *Config) Validate() error {
	if c.Estimator == nil {
		return fmt.Errorf("%w: estimator config is required", ErrInvalidConfig)
	}
	if err := c.Estimator.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch {
	case c.EstimationMaxAttempts < 1:
		return fmt.Errorf("%w: estimation max attempts must be >= 1", ErrInvalidConfig)
	case c.EstimationInitialBackoff <= 0 || c.EstimationMaxBackoff < c.EstimationInitialBackoff:
		return fmt.Errorf("%w: estimation backoff must be positive and max >= initial", ErrInvalidConfig)
	case c.SubmissionMaxAttempts < 1:
		return fmt.Errorf("%w: submission max attempts must be >= 1", ErrInvalidConfig)
	case c.MaxReplacements < 0:
		return fmt.Errorf("%w: max replacements must be >= 0", ErrInvalidConfig)
	case c.ReceiptPollInterval <= 0:
		return fmt.Errorf("%w: receipt poll interval must be positive", ErrInvalidConfig)
	case c.RPCTimeout <= 0:
		return fmt.Errorf("%w: rpc timeout must be positive", ErrInvalidConfig)
	case c.ReceiptTimeout < c.ReceiptPollInterval:
		return fmt.Errorf("%w: receipt timeout must be >= poll interval", ErrInvalidConfig)
	case c.IdempotencyCacheSize < 1:
		return fmt.Errorf("%w: idempotency cache size must be >= 1", ErrInvalidConfig)
	}
	return nil
}
