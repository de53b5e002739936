// Package metrics exposes Prometheus instruments for the transactional core.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the core's counters and histograms.
type Metrics struct {
	// LockWait tracks time spent acquiring a store lock.
	// Labels: collection
	LockWait *prometheus.HistogramVec

	// LockTimeouts counts lock acquisitions that hit their deadline.
	// Labels: collection
	LockTimeouts *prometheus.CounterVec

	// BusyRejections counts operations rejected because the key queue was full.
	// Labels: collection
	BusyRejections *prometheus.CounterVec

	// MalformedDocuments counts reads that fell back to the default document.
	// Labels: collection
	MalformedDocuments *prometheus.CounterVec

	// LedgerTransactions counts appended cashier transactions.
	// Labels: session_type, type
	LedgerTransactions *prometheus.CounterVec

	// OrdersClosed counts successful order settlements.
	// Labels: outcome (cashier, room)
	OrdersClosed *prometheus.CounterVec

	// FiscalEnqueued counts fiscal pool entries.
	// Labels: origin
	FiscalEnqueued *prometheus.CounterVec

	// CollaboratorFailures counts failed best-effort side effects.
	// Labels: collaborator
	CollaboratorFailures *prometheus.CounterVec
}

// New registers every instrument on registry (the default registerer when nil).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		LockWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_lock_wait_seconds",
				Help:    "Time spent waiting for a store lock",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
			},
			[]string{"collection"},
		),
		LockTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_lock_timeouts_total",
				Help: "Total number of lock acquisitions that timed out",
			},
			[]string{"collection"},
		),
		BusyRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_busy_rejections_total",
				Help: "Total number of operations rejected because the lock queue was full",
			},
			[]string{"collection"},
		),
		MalformedDocuments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_malformed_documents_total",
				Help: "Total number of reads that returned the default for a malformed document",
			},
			[]string{"collection"},
		),
		LedgerTransactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashier_transactions_total",
				Help: "Total number of cashier transactions appended",
			},
			[]string{"session_type", "type"},
		),
		OrdersClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_closed_total",
				Help: "Total number of orders settled",
			},
			[]string{"outcome"},
		),
		FiscalEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fiscal_pool_enqueued_total",
				Help: "Total number of fiscal pool entries enqueued",
			},
			[]string{"origin"},
		),
		CollaboratorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collaborator_failures_total",
				Help: "Total number of failed best-effort collaborator calls",
			},
			[]string{"collaborator"},
		),
	}
}

// Collection maps a store key to its metric label ("orders/12" -> "orders").
func Collection(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}

func (m *Metrics) ObserveLockWait(key string, d time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.WithLabelValues(Collection(key)).Observe(d.Seconds())
}

func (m *Metrics) LockTimeout(key string) {
	if m == nil {
		return
	}
	m.LockTimeouts.WithLabelValues(Collection(key)).Inc()
}

func (m *Metrics) Busy(key string) {
	if m == nil {
		return
	}
	m.BusyRejections.WithLabelValues(Collection(key)).Inc()
}

func (m *Metrics) Malformed(key string) {
	if m == nil {
		return
	}
	m.MalformedDocuments.WithLabelValues(Collection(key)).Inc()
}

func (m *Metrics) Transaction(sessionType, txnType string) {
	if m == nil {
		return
	}
	m.LedgerTransactions.WithLabelValues(sessionType, txnType).Inc()
}

func (m *Metrics) OrderClosed(outcome string) {
	if m == nil {
		return
	}
	m.OrdersClosed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Fiscal(origin string) {
	if m == nil {
		return
	}
	m.FiscalEnqueued.WithLabelValues(origin).Inc()
}

func (m *Metrics) CollaboratorFailed(name string) {
	if m == nil {
		return
	}
	m.CollaboratorFailures.WithLabelValues(name).Inc()
}
