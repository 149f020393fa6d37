package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ledger engine's Prometheus collectors. All methods are
// safe on a nil *Metrics so that tests can omit it.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	Registry *prometheus.Registry

	ledgerEntries       *prometheus.CounterVec
	lockConflicts       *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	scheduledProcessed  *prometheus.CounterVec
	notificationsFailed *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
}

// NewMetrics registers every collector in a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		ledgerEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneygo_ledger_entries_total",
				Help: "Ledger entries that reached a terminal status.",
			},
			[]string{"type", "status"},
		),
		lockConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneygo_lock_conflicts_total",
				Help: "Units of work aborted by a lock conflict.",
			},
			[]string{"operation"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moneygo_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		scheduledProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneygo_scheduled_transfers_processed_total",
				Help: "Scheduled transfers processed by the poller.",
			},
			[]string{"outcome"},
		),
		notificationsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneygo_notifications_failed_total",
				Help: "Notification hook failures.",
			},
			[]string{"hook"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moneygo_http_requests_total",
				Help: "HTTP requests by status code.",
			},
			[]string{"code"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrLedgerEntry(entryType, status string) {
	if m == nil {
		return
	}
	m.ledgerEntries.WithLabelValues(entryType, status).Inc()
}

func (m *Metrics) IncrLockConflict(operation string) {
	if m == nil {
		return
	}
	m.lockConflicts.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncrScheduledProcessed(outcome string) {
	if m == nil {
		return
	}
	m.scheduledProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrNotificationFailure(hook string) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(hook).Inc()
}

func (m *Metrics) IncrHTTPRequest(code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(code).Inc()
}
