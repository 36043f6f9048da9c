package intentQueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Layr-Labs/txmgr-go/pkg/gasEstimator"
	"github.com/Layr-Labs/txmgr-go/pkg/metrics"
	"github.com/Layr-Labs/txmgr-go/pkg/txManager"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Submitter is the part of a transaction manager the worker needs.
type Submitter interface {
	Submit(ctx context.Context, intent *gasEstimator.TransactionIntent) (*types.Receipt, error)
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// IntentTopic is consumed for IntentMessage payloads.
	IntentTopic string
	// OutcomeTopic receives an OutcomeMessage per intent. Empty disables outcome publishing.
	OutcomeTopic string
	// Concurrency bounds the number of intents submitted at once.
	Concurrency int
	// PublishTimeout bounds publishing an outcome and acknowledging its intent.
	PublishTimeout time.Duration
}

// DefaultWorkerConfig returns a config for the given topics.
func DefaultWorkerConfig(intentTopic, outcomeTopic string) *WorkerConfig {
	return &WorkerConfig{
		IntentTopic:    intentTopic,
		OutcomeTopic:   outcomeTopic,
		Concurrency:    8,
		PublishTimeout: 5 * time.Second,
	}
}

// Worker submits queued intents and publishes their outcomes.
type Worker struct {
	config    *WorkerConfig
	consumer  Consumer
	producer  Producer
	submitter Submitter
	logger    *zap.Logger
	metrics   *metrics.TxMetrics
}

// NewWorker creates a worker. producer may be nil when cfg.OutcomeTopic is empty.
func NewWorker(
	cfg *WorkerConfig,
	consumer Consumer,
	producer Producer,
	submitter Submitter,
	logger *zap.Logger,
	txMetrics *metrics.TxMetrics,
) (*Worker, error) {
	if cfg == nil || cfg.IntentTopic == "" {
		return nil, errors.New("worker requires an intent topic")
	}
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("worker concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.OutcomeTopic != "" && producer == nil {
		return nil, errors.New("worker requires a producer to publish outcomes")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if txMetrics == nil {
		txMetrics = metrics.NewTxMetrics(nil)
	}
	return &Worker{
		config:    cfg,
		consumer:  consumer,
		producer:  producer,
		submitter: submitter,
		logger:    logger,
		metrics:   txMetrics,
	}, nil
}

// Run consumes intents until ctx is done, then waits for in-flight submissions to return.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(w.config.Concurrency)

	w.logger.Sugar().Infow("Starting intent worker",
		zap.String("intentTopic", w.config.IntentTopic),
		zap.String("outcomeTopic", w.config.OutcomeTopic),
		zap.Int("concurrency", w.config.Concurrency),
	)

	err := w.consumer.Subscribe(ctx, w.config.IntentTopic, func(ctx context.Context, msg *Message) error {
		// blocks while Concurrency submissions are running
		g.Go(func() error {
			w.handle(ctx, msg)
			return nil
		})
		return nil
	})
	_ = g.Wait()
	if err != nil {
		return fmt.Errorf("intent consumer stopped: %w", err)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg *Message) {
	intentMsg, err := DecodeIntentMessage(msg.Payload)
	var intent *gasEstimator.TransactionIntent
	if err == nil {
		if intentMsg.ID == "" {
			intentMsg.ID = msg.ID
		}
		intent, err = intentMsg.ToIntent()
	}
	id := msg.ID
	if intentMsg != nil && intentMsg.ID != "" {
		id = intentMsg.ID
	}

	var receipt *types.Receipt
	if err == nil {
		receipt, err = w.submitter.Submit(ctx, intent)
	}

	// nothing was broadcast, so the intent is left for redelivery
	if errors.Is(err, txManager.ErrSubmissionCancelled) {
		w.metrics.QueueMessagesConsumed.WithLabelValues("requeued").Inc()
		w.logger.Sugar().Infow("Leaving intent for redelivery", zap.String("id", id))
		return
	}

	outcome := NewOutcomeMessage(id, receipt, err)
	logFields := []zap.Field{
		zap.String("id", id),
		zap.String("status", outcome.Status),
		zap.String("txHash", outcome.TxHash),
	}
	if err != nil {
		w.logger.Warn("Intent failed", append(logFields, zap.Error(err))...)
	} else {
		w.logger.Info("Intent processed", logFields...)
	}

	// publish and ack even when ctx is done, so a broadcast intent is never submitted twice
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.PublishTimeout)
	defer cancel()
	if err := w.publish(pubCtx, outcome); err != nil {
		w.metrics.QueueMessagesConsumed.WithLabelValues("publish_failed").Inc()
		w.logger.Sugar().Errorw("Failed to publish outcome, intent stays unacknowledged",
			zap.String("id", id),
			zap.Error(err),
		)
		return
	}
	if err := msg.Ack(pubCtx); err != nil {
		w.logger.Sugar().Errorw("Failed to acknowledge intent", zap.String("id", id), zap.Error(err))
	}
	w.metrics.QueueMessagesConsumed.WithLabelValues(outcome.Status).Inc()
}

func (w *Worker) publish(ctx context.Context, outcome *OutcomeMessage) error {
	if w.config.OutcomeTopic == "" {
		return nil
	}
	payload, err := outcome.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	return w.producer.Publish(ctx, w.config.OutcomeTopic, outcome.ID, payload)
}
