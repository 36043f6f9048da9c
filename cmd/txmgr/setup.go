package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/Layr-Labs/txmgr-go/pkg/chainManager"
	"github.com/Layr-Labs/txmgr-go/pkg/config"
	"github.com/Layr-Labs/txmgr-go/pkg/journal"
	"github.com/Layr-Labs/txmgr-go/pkg/logger"
	"github.com/Layr-Labs/txmgr-go/pkg/metrics"
	"github.com/Layr-Labs/txmgr-go/pkg/senderLock"
	"github.com/Layr-Labs/txmgr-go/pkg/txManager"
	"github.com/Layr-Labs/txmgr-go/pkg/txSigner"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const configKey = "config"

// loadConfig reads the config file and environment, then lets global flags override them.
func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if c.IsSet("debug") {
		cfg.Debug = c.Bool("debug")
	}
	if v := c.String("rpc-url"); v != "" {
		cfg.Chain.RpcUrl = v
	}
	if v := c.Uint64("chain-id"); v != 0 {
		cfg.Chain.ChainID = v
	}
	if v := c.String("tx-private-key"); v != "" {
		cfg.Signer.PrivateKey = v
	}
	if v := c.String("tx-aws-kms-key-id"); v != "" {
		cfg.Signer.KMSKeyID = v
	}
	if v := c.String("tx-aws-region"); v != "" {
		cfg.Signer.KMSRegion = v
	}
	if v := c.String("journal"); v != "" {
		cfg.Journal.Path = v
	}

	// only commands that submit need a chain and a signer
	switch c.Args().First() {
	case "send", "s", "worker", "w":
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func getConfig(c *cli.Context) *config.Config {
	return c.App.Metadata[configKey].(*config.Config)
}

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.NewLogger(&logger.LoggerConfig{
		Debug: cfg.Debug,
	})
}

// setupChain registers the node with a chain manager, which checks the chain ID. Without a
// configured chain ID, whatever the node reports is used.
func setupChain(ctx context.Context, cfg *config.Config) (*chainManager.Chain, error) {
	cm := chainManager.NewChainManager()
	chainCfg := &chainManager.ChainConfig{ChainID: cfg.Chain.ChainID, RPCUrl: cfg.Chain.RpcUrl}

	if chainCfg.ChainID != 0 {
		if err := cm.AddChain(ctx, chainCfg); err != nil {
			return nil, err
		}
		return cm.GetChainForId(chainCfg.ChainID)
	}

	client, err := ethclient.DialContext(ctx, cfg.Chain.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC URL %s: %w", cfg.Chain.RpcUrl, err)
	}
	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query chain ID: %w", err)
	}
	chainCfg.ChainID = remote.Uint64()
	if err := cm.AddChainClient(ctx, chainCfg, client); err != nil {
		client.Close()
		return nil, err
	}
	return cm.GetChainForId(chainCfg.ChainID)
}

func closeChain(chain *chainManager.Chain) {
	if c, ok := chain.RPCClient.(interface{ Close() }); ok {
		c.Close()
	}
}

func setupTransactionSigner(ctx context.Context, cfg *config.Config) (txSigner.ITransactionSigner, error) {
	if cfg.Signer.PrivateKey != "" {
		return txSigner.NewPrivateKeySigner(cfg.Signer.PrivateKey)
	}
	if cfg.Signer.KMSKeyID != "" {
		return txSigner.NewAWSKMSSigner(ctx, cfg.Signer.KMSKeyID, cfg.Signer.KMSRegion)
	}
	return nil, errors.New("no transaction signing method configured")
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// txManagerSetup is everything a command needs to submit transactions. close releases it all.
type txManagerSetup struct {
	manager *txManager.SimpleTxManager
	metrics *metrics.TxMetrics
	close   func()
}

func setupTxManager(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, l *zap.Logger) (*txManagerSetup, error) {
	managerCfg, err := cfg.TxManagerConfig()
	if err != nil {
		return nil, err
	}
	chain, err := setupChain(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to setup chain: %w", err)
	}

	closers := []func(){func() { closeChain(chain) }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if managerCfg.Estimator.ChainID == nil {
		managerCfg.Estimator.ChainID = new(big.Int).SetUint64(chain.ChainID())
	}
	signer, err := setupTransactionSigner(ctx, cfg)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to setup transaction signer: %w", err)
	}

	txMetrics := metrics.NewTxMetrics(reg)
	opts := []txManager.Option{txManager.WithMetrics(txMetrics)}

	if cfg.Lock.Backend == config.BackendRedis {
		client := newRedisClient(cfg)
		closers = append(closers, func() { _ = client.Close() })
		opts = append(opts, txManager.WithSenderLock(senderLock.NewRedisLock(client, cfg.RedisLockConfig(), l)))
	}
	if cfg.Journal.Path != "" {
		j, err := journal.OpenBoltJournal(cfg.Journal.Path)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = j.Close() })
		opts = append(opts, txManager.WithJournal(j))
	}

	manager, err := txManager.NewSimpleTxManager(managerCfg, chain.RPCClient, signer, l, opts...)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to create transaction manager: %w", err)
	}
	l.Sugar().Infow("Transaction manager ready",
		zap.Uint64("chainId", chain.ChainID()),
		zap.String("sender", manager.Sender().Hex()),
		zap.String("lock", cfg.Lock.Backend),
	)
	return &txManagerSetup{manager: manager, metrics: txMetrics, close: closeAll}, nil
}
