// Package metrics holds the Prometheus collectors shared by the sale server
// and the terminal agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ── server ──────────────────────────────────────────────────────────────

	SalesCommittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_sales_committed_total",
		Help: "Sales committed, by origin (online|offline)",
	}, []string{"origin"})

	SalesReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_sales_replayed_total",
		Help: "Sale submissions that matched an already committed offline id",
	})

	SalesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_sales_rejected_total",
		Help: "Sale submissions rejected, by reason",
	}, []string{"reason"})

	SalesPriceDriftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_sales_price_drift_total",
		Help: "Offline sales committed with a price that differs from the catalog",
	})

	CommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "possync_sale_commit_duration_seconds",
		Help:    "Duration of the sale commit transaction",
		Buckets: prometheus.DefBuckets,
	})

	StockAlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_stock_alerts_total",
		Help: "Low-stock alert jobs, by outcome (enqueued|processed|failed)",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "possync_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// ── terminal ────────────────────────────────────────────────────────────

	OfflineQueuePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "possync_offline_queue_pending",
		Help: "Offline sales waiting to be synced",
	})

	SyncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "possync_sync_records_total",
		Help: "Queued sales processed by the reconciler, by result (synced|rejected|failed)",
	}, []string{"result"})

	SyncPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "possync_sync_passes_total",
		Help: "Reconciliation passes executed",
	})

	TerminalOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "possync_terminal_online",
		Help: "1 when the sale server was reachable on the last probe",
	})
)
