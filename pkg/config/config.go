// Package config loads txmgr settings from a YAML file and TXMGR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/Layr-Labs/txmgr-go/pkg/gasEstimator"
	"github.com/Layr-Labs/txmgr-go/pkg/senderLock"
	"github.com/Layr-Labs/txmgr-go/pkg/txManager"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TXMGR_CHAIN_RPC_URL.
const EnvPrefix = "TXMGR"

// Backends for the lock and queue sections.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
	BackendKafka = "kafka"
)

type Config struct {
	Chain   ChainConfig   `mapstructure:"chain"`
	Signer  SignerConfig  `mapstructure:"signer"`
	Gas     GasConfig     `mapstructure:"gas"`
	Manager ManagerConfig `mapstructure:"manager"`
	Lock    LockConfig    `mapstructure:"lock"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Journal JournalConfig `mapstructure:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Debug   bool          `mapstructure:"debug"`
}

type ChainConfig struct {
	RpcUrl string `mapstructure:"rpc_url"`
	// ChainID is checked against the node. Zero means whatever the node reports.
	ChainID uint64 `mapstructure:"chain_id"`
}

// SignerConfig selects a private key or an AWS KMS key. Exactly one must be set.
type SignerConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	KMSKeyID   string `mapstructure:"kms_key_id"`
	KMSRegion  string `mapstructure:"kms_region"`
}

// GasConfig amounts are decimal gwei strings, e.g. "1.5".
type GasConfig struct {
	GasLimitMultiplier float64 `mapstructure:"gas_limit_multiplier"`
	BaseFeeMultiplier  float64 `mapstructure:"base_fee_multiplier"`
	GasPriceMultiplier float64 `mapstructure:"gas_price_multiplier"`
	TipCapGwei         string  `mapstructure:"tip_cap_gwei"`
	MaxFeeGwei         string  `mapstructure:"max_fee_gwei"`
	ForceLegacy        bool    `mapstructure:"force_legacy"`
	RequireDynamicFees bool    `mapstructure:"require_dynamic_fees"`
}

type ManagerConfig struct {
	EstimationMaxAttempts    int           `mapstructure:"estimation_max_attempts"`
	EstimationInitialBackoff time.Duration `mapstructure:"estimation_initial_backoff"`
	EstimationMaxBackoff     time.Duration `mapstructure:"estimation_max_backoff"`
	SubmissionMaxAttempts    int           `mapstructure:"submission_max_attempts"`
	MaxReplacements          int           `mapstructure:"max_replacements"`
	FeeBumpPercent           uint64        `mapstructure:"fee_bump_percent"`
	ReceiptPollInterval      time.Duration `mapstructure:"receipt_poll_interval"`
	RPCTimeout               time.Duration `mapstructure:"rpc_timeout"`
	ReceiptTimeout           time.Duration `mapstructure:"receipt_timeout"`
	IdempotencyCacheSize     int           `mapstructure:"idempotency_cache_size"`
}

type LockConfig struct {
	// Backend is "local" for a single process or "redis" to share a sender across processes.
	Backend    string        `mapstructure:"backend"`
	Prefix     string        `mapstructure:"prefix"`
	TTL        time.Duration `mapstructure:"ttl"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
}

type QueueConfig struct {
	// Backend is "redis" or "kafka".
	Backend      string `mapstructure:"backend"`
	IntentTopic  string `mapstructure:"intent_topic"`
	OutcomeTopic string `mapstructure:"outcome_topic"`
	Group        string `mapstructure:"group"`
	ConsumerName string `mapstructure:"consumer_name"`
	Concurrency  int    `mapstructure:"concurrency"`
}

type JournalConfig struct {
	// Path of the bbolt file. Empty disables the journal.
	Path string `mapstructure:"path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads path (if not empty) and applies TXMGR_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	manager := txManager.DefaultConfig()

	v.SetDefault("chain.rpc_url", "http://localhost:8545")
	v.SetDefault("chain.chain_id", 0)

	v.SetDefault("signer.private_key", "")
	v.SetDefault("signer.kms_key_id", "")
	v.SetDefault("signer.kms_region", "us-east-1")

	v.SetDefault("gas.gas_limit_multiplier", gasEstimator.DefaultGasLimitMultiplier)
	v.SetDefault("gas.base_fee_multiplier", gasEstimator.DefaultBaseFeeMultiplier)
	v.SetDefault("gas.gas_price_multiplier", gasEstimator.DefaultGasPriceMultiplier)
	v.SetDefault("gas.tip_cap_gwei", "")
	v.SetDefault("gas.max_fee_gwei", "")
	v.SetDefault("gas.force_legacy", false)
	v.SetDefault("gas.require_dynamic_fees", false)

	v.SetDefault("manager.estimation_max_attempts", manager.EstimationMaxAttempts)
	v.SetDefault("manager.estimation_initial_backoff", manager.EstimationInitialBackoff)
	v.SetDefault("manager.estimation_max_backoff", manager.EstimationMaxBackoff)
	v.SetDefault("manager.submission_max_attempts", manager.SubmissionMaxAttempts)
	v.SetDefault("manager.max_replacements", manager.MaxReplacements)
	v.SetDefault("manager.fee_bump_percent", manager.FeeBumpPercent)
	v.SetDefault("manager.receipt_poll_interval", manager.ReceiptPollInterval)
	v.SetDefault("manager.rpc_timeout", manager.RPCTimeout)
	v.SetDefault("manager.receipt_timeout", manager.ReceiptTimeout)
	v.SetDefault("manager.idempotency_cache_size", manager.IdempotencyCacheSize)

	v.SetDefault("lock.backend", BackendLocal)
	v.SetDefault("lock.prefix", senderLock.DefaultRedisLockPrefix)
	v.SetDefault("lock.ttl", senderLock.DefaultRedisLockTTL)
	v.SetDefault("lock.retry_delay", senderLock.DefaultRedisLockRetryDelay)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "txmgr")

	v.SetDefault("queue.backend", BackendRedis)
	v.SetDefault("queue.intent_topic", "txmgr:intents")
	v.SetDefault("queue.outcome_topic", "txmgr:outcomes")
	v.SetDefault("queue.group", "txmgr")
	v.SetDefault("queue.consumer_name", "txmgr-1")
	v.SetDefault("queue.concurrency", 8)

	v.SetDefault("journal.path", "")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("debug", false)
}

// Validate checks the settings that cannot be checked by txManager.Config.Validate.
func (c *Config) Validate() error {
	if c.Chain.RpcUrl == "" {
		return errors.New("chain.rpc_url is required")
	}
	hasKey, hasKMS := c.Signer.PrivateKey != "", c.Signer.KMSKeyID != ""
	if hasKey == hasKMS {
		return errors.New("exactly one of signer.private_key and signer.kms_key_id must be set")
	}
	switch c.Lock.Backend {
	case BackendLocal, BackendRedis:
	default:
		return fmt.Errorf("unknown lock backend %q", c.Lock.Backend)
	}
	switch c.Queue.Backend {
	case BackendRedis, BackendKafka:
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	_, err := c.TxManagerConfig()
	return err
}

// TxManagerConfig converts the gas and manager sections.
func (c *Config) TxManagerConfig() (*txManager.Config, error) {
	tip, err := ParseGwei(c.Gas.TipCapGwei)
	if err != nil {
		return nil, fmt.Errorf("gas.tip_cap_gwei: %w", err)
	}
	maxFee, err := ParseGwei(c.Gas.MaxFeeGwei)
	if err != nil {
		return nil, fmt.Errorf("gas.max_fee_gwei: %w", err)
	}

	estimator := &gasEstimator.Config{
		GasLimitMultiplier: c.Gas.GasLimitMultiplier,
		BaseFeeMultiplier:  c.Gas.BaseFeeMultiplier,
		GasPriceMultiplier: c.Gas.GasPriceMultiplier,
		GasTipCap:          tip,
		MaxFeePerGas:       maxFee,
		ForceLegacy:        c.Gas.ForceLegacy,
		RequireDynamicFees: c.Gas.RequireDynamicFees,
	}
	if c.Chain.ChainID != 0 {
		estimator.ChainID = new(big.Int).SetUint64(c.Chain.ChainID)
	}

	cfg := &txManager.Config{
		Estimator:                estimator,
		EstimationMaxAttempts:    c.Manager.EstimationMaxAttempts,
		EstimationInitialBackoff: c.Manager.EstimationInitialBackoff,
		EstimationMaxBackoff:     c.Manager.EstimationMaxBackoff,
		SubmissionMaxAttempts:    c.Manager.SubmissionMaxAttempts,
		MaxReplacements:          c.Manager.MaxReplacements,
		FeeBumpPercent:           c.Manager.FeeBumpPercent,
		ReceiptPollInterval:      c.Manager.ReceiptPollInterval,
		RPCTimeout:               c.Manager.RPCTimeout,
		ReceiptTimeout:           c.Manager.ReceiptTimeout,
		IdempotencyCacheSize:     c.Manager.IdempotencyCacheSize,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RedisLockConfig converts the lock section.
func (c *Config) RedisLockConfig() senderLock.RedisLockConfig {
	return senderLock.RedisLockConfig{
		Prefix:     c.Lock.Prefix,
		TTL:        c.Lock.TTL,
		RetryDelay: c.Lock.RetryDelay,
	}
}

// ParseGwei parses a decimal gwei amount into wei. An empty string gives nil.
func ParseGwei(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid gwei amount %q: %w", s, err)
	}
	wei := d.Shift(9)
	if !wei.IsPositive() || !wei.IsInteger() {
		return nil, fmt.Errorf("gwei amount %q must be a positive whole number of wei", s)
	}
	return wei.BigInt(), nil
}
