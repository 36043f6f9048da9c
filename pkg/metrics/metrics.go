// Package metrics defines the prometheus collectors reported by the transaction manager.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "txmgr"

// Submission outcomes used as the "outcome" label.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeReverted  = "reverted"
	OutcomeStuck     = "stuck"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// TxMetrics holds the transaction manager collectors.
type TxMetrics struct {
	SubmissionsTotal      *prometheus.CounterVec
	ReplacementsTotal     prometheus.Counter
	EstimationRetries     prometheus.Counter
	SubmissionRetries     prometheus.Counter
	InFlight              prometheus.Gauge
	ConfirmationLatency   prometheus.Histogram
	IdempotentDuplicates  prometheus.Counter
	QueueMessagesConsumed *prometheus.CounterVec
}

// NewTxMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewTxMetrics(reg prometheus.Registerer) *TxMetrics {
	factory := promauto.With(reg)
	return &TxMetrics{
		SubmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Transactions submitted, by terminal outcome",
		}, []string{"outcome"}),
		ReplacementsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replacements_total",
			Help:      "Fee-bumped replacement transactions broadcast",
		}),
		EstimationRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimation_retries_total",
			Help:      "Failed nonce/fee/gas estimation attempts that were retried",
		}),
		SubmissionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submission_retries_total",
			Help:      "Node rejections that caused the transaction to be prepared again",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Broadcast transactions awaiting a receipt",
		}),
		ConfirmationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "confirmation_latency_seconds",
			Help:      "Time from first broadcast to receipt",
			Buckets:   []float64{1, 2, 5, 10, 15, 30, 60, 120, 300, 600},
		}),
		IdempotentDuplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_duplicates_total",
			Help:      "Submissions answered from the idempotency cache",
		}),
		QueueMessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "Intent queue messages handled, by result",
		}, []string{"result"}),
	}
}

// ObserveOutcome records a terminal submission outcome.
func (m *TxMetrics) ObserveOutcome(outcome string) {
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveConfirmation records the time between first broadcast and receipt.
func (m *TxMetrics) ObserveConfirmation(submittedAt time.Time) {
	m.ConfirmationLatency.Observe(time.Since(submittedAt).Seconds())
}
