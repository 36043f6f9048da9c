package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Layr-Labs/txmgr-go/pkg/config"
	"github.com/Layr-Labs/txmgr-go/pkg/intentQueue"
	"github.com/Layr-Labs/txmgr-go/pkg/journal"
	"github.com/Layr-Labs/txmgr-go/pkg/logger"
	"github.com/Layr-Labs/txmgr-go/pkg/util"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func sendAction(c *cli.Context) error {
	cfg := getConfig(c)
	l, err := setupLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	intent, err := (&intentQueue.IntentMessage{
		To:        c.String("to"),
		Value:     c.String("value"),
		ValueUnit: c.String("unit"),
		Data:      c.String("data"),
		GasLimit:  c.Uint64("gas-limit"),
	}).ToIntent()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	setup, err := setupTxManager(ctx, cfg, nil, l)
	if err != nil {
		return err
	}
	defer setup.close()

	receipt, err := setup.manager.Submit(ctx, intent)
	if err != nil {
		return fmt.Errorf("failed to submit transaction: %w", err)
	}

	status := "success"
	if receipt.Status == types.ReceiptStatusFailed {
		status = "reverted"
	}
	fmt.Printf("Transaction Hash: %s\n", receipt.TxHash.Hex())
	fmt.Printf("Block Number: %s\n", receipt.BlockNumber)
	fmt.Printf("Gas Used: %d\n", receipt.GasUsed)
	fmt.Printf("Status: %s\n", status)
	return nil
}

func workerAction(c *cli.Context) error {
	cfg := getConfig(c)
	if v := c.String("metrics-addr"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := c.Int("concurrency"); v != 0 {
		cfg.Queue.Concurrency = v
	}

	l, err := setupLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	setup, err := setupTxManager(ctx, cfg, reg, l)
	if err != nil {
		return err
	}
	defer setup.close()

	consumer, producer, err := setupQueue(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		_ = consumer.Close()
		_ = producer.Close()
	}()

	workerCfg := intentQueue.DefaultWorkerConfig(cfg.Queue.IntentTopic, cfg.Queue.OutcomeTopic)
	workerCfg.Concurrency = cfg.Queue.Concurrency
	worker, err := intentQueue.NewWorker(workerCfg, consumer, producer, setup.manager, l, setup.metrics)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		server := serveMetrics(cfg.Metrics.Addr, reg, l)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	err = worker.Run(ctx)
	l.Sugar().Infow("Worker stopped", zap.Error(err))
	return err
}

func setupQueue(cfg *config.Config, l *zap.Logger) (intentQueue.Consumer, intentQueue.Producer, error) {
	switch cfg.Queue.Backend {
	case config.BackendKafka:
		consumer, err := intentQueue.NewKafkaConsumer(&intentQueue.KafkaConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
		}, l)
		if err != nil {
			return nil, nil, err
		}
		return consumer, intentQueue.NewKafkaProducer(cfg.Kafka.Brokers), nil
	default:
		consumer, err := intentQueue.NewRedisConsumer(
			newRedisClient(cfg),
			intentQueue.DefaultRedisConsumerConfig(cfg.Queue.Group, cfg.Queue.ConsumerName),
			l,
		)
		if err != nil {
			return nil, nil, err
		}
		return consumer, intentQueue.NewRedisProducer(newRedisClient(cfg)), nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, l *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           logger.HttpLoggerMiddleware(mux, l),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		l.Sugar().Infow("Serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Sugar().Errorw("Metrics server failed", zap.Error(err))
		}
	}()
	return server
}

func pendingAction(c *cli.Context) error {
	cfg := getConfig(c)
	if cfg.Journal.Path == "" {
		return errors.New("no journal configured, set --journal or journal.path")
	}

	j, err := journal.OpenBoltJournal(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := j.List()
	if err != nil {
		return fmt.Errorf("failed to list journal: %w", err)
	}
	if c.Bool("abandoned") {
		records = util.Filter(records, func(r *journal.Record) bool { return r.Abandoned })
	}

	fmt.Printf("Pending Submissions: %d\n", len(records))
	lines := util.Map(records, func(r *journal.Record, i uint64) string {
		return formatRecord(r, i)
	})
	fmt.Print(strings.Join(lines, ""))
	return nil
}

func formatRecord(r *journal.Record, i uint64) string {
	var sb strings.Builder
	state := "in flight"
	if r.Abandoned {
		state = "abandoned: " + r.Reason
	}
	fmt.Fprintf(&sb, "  [%d] Sender: %s, Nonce: %d, Replacements: %d, Submitted: %s\n",
		i, r.Sender.Hex(), r.Nonce, r.Replacements, r.SubmittedAt.Format(time.RFC3339))
	fmt.Fprintf(&sb, "      Latest Hash: %s (%s)\n", r.LatestHash().Hex(), state)
	return sb.String()
}
