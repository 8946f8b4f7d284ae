// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Transaction metrics
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
	InstructionErrors   *prometheus.CounterVec
	LockWait            prometheus.Histogram
	CommitConflicts     prometheus.Counter
	LastCommittedSlot   prometheus.Gauge
	AirdroppedLamports  prometheus.Counter

	// Sale metrics
	SaleEvents         *prometheus.CounterVec
	ActiveSales        prometheus.Gauge
	TokensSold         prometheus.Counter
	LamportsPaid       prometheus.Counter
	EventPublishErrors *prometheus.CounterVec

	// Subscriber metrics
	WSSubscribers prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	UptimeSeconds prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "token_sale"
	}

	return &Metrics{
		TransactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total number of transactions executed by outcome",
		}, []string{"status"}),
		TransactionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transaction_duration_seconds",
			Help:      "Transaction execution latency in seconds, lock wait included",
			Buckets:   prometheus.DefBuckets,
		}),
		InstructionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "instruction_errors_total",
			Help:      "Total number of failed instructions by program and error name",
		}, []string{"program", "error"}),
		LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for account locks",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		CommitConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "commit_conflicts_total",
			Help:      "Total number of commits rejected by a version conflict",
		}),
		LastCommittedSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "last_committed_slot",
			Help:      "Slot of the most recent committed transaction",
		}),
		AirdroppedLamports: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "airdropped_lamports_total",
			Help:      "Total lamports created by the faucet",
		}),

		SaleEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "events_total",
			Help:      "Total number of committed sale events by kind",
		}, []string{"kind"}),
		ActiveSales: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "active",
			Help:      "Sales initialized and not yet ended since process start",
		}),
		TokensSold: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "tokens_sold_total",
			Help:      "Total number of tokens purchased across all sales",
		}),
		LamportsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "lamports_paid_total",
			Help:      "Total lamports paid by buyers to sellers",
		}),
		EventPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sale",
			Name:      "event_publish_errors_total",
			Help:      "Total number of failed event deliveries by sink",
		}, []string{"sink"}),

		WSSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "ws_subscribers",
			Help:      "Current number of websocket event subscribers",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTransaction records a transaction outcome ("committed", "failed",
// "rejected") and its latency.
func RecordTransaction(status string, d time.Duration) {
	DefaultMetrics.TransactionsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.TransactionDuration.Observe(d.Seconds())
}

// RecordInstructionError records a failed instruction.
func RecordInstructionError(program, name string) {
	DefaultMetrics.InstructionErrors.WithLabelValues(program, name).Inc()
}

// RecordLockWait records time spent acquiring account locks.
func RecordLockWait(d time.Duration) {
	DefaultMetrics.LockWait.Observe(d.Seconds())
}

// RecordCommitConflict increments the commit conflict counter.
func RecordCommitConflict() {
	DefaultMetrics.CommitConflicts.Inc()
}

// UpdateLastCommittedSlot updates the last committed slot gauge.
func UpdateLastCommittedSlot(slot uint64) {
	DefaultMetrics.LastCommittedSlot.Set(float64(slot))
}

// RecordAirdrop records lamports created by the faucet.
func RecordAirdrop(lamports uint64) {
	DefaultMetrics.AirdroppedLamports.Add(float64(lamports))
}

// RecordSaleEvent records a committed sale event. tokens and lamports count
// toward the purchase totals when kind is a purchase.
func RecordSaleEvent(kind string, tokens, lamports uint64) {
	DefaultMetrics.SaleEvents.WithLabelValues(kind).Inc()
	switch kind {
	case "SALE_INITIALIZED":
		DefaultMetrics.ActiveSales.Inc()
	case "SALE_ENDED":
		DefaultMetrics.ActiveSales.Dec()
	case "TOKENS_PURCHASED":
		DefaultMetrics.TokensSold.Add(float64(tokens))
		DefaultMetrics.LamportsPaid.Add(float64(lamports))
	}
}

// RecordPublishError records a failed event delivery.
func RecordPublishError(sink string) {
	DefaultMetrics.EventPublishErrors.WithLabelValues(sink).Inc()
}

// UpdateSubscribers sets the websocket subscriber gauge.
func UpdateSubscribers(n int) {
	DefaultMetrics.WSSubscribers.Set(float64(n))
}

// RecordUptime adds d to the uptime counter.
func RecordUptime(d time.Duration) {
	DefaultMetrics.UptimeSeconds.Add(d.Seconds())
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
