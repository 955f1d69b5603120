// Package observability holds the ledger's Prometheus metrics and logger
// construction.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Adjustment results used as the "result" label.
const (
	ResultOK       = "ok"
	ResultReplayed = "replayed"
	ResultInvalid  = "invalid"
	ResultFailed   = "failed"
)

// ─── Ledger ─────────────────────────────────────────────────────────────────

// AdjustmentsTotal counts AdjustBalance calls by entry type and outcome.
var AdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Name:      "adjustments_total",
	Help:      "AdjustBalance calls by entry type and result.",
}, []string{"type", "result"})

// AdjustedAmountTotal sums committed points by direction (plus|minus).
var AdjustedAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Name:      "adjusted_amount_total",
	Help:      "Absolute points moved by committed adjustments.",
}, []string{"direction"})

// LockWaitSeconds measures time spent waiting for the per-user scope.
var LockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "points",
	Name:      "lock_wait_seconds",
	Help:      "Time AdjustBalance waited for the per-user lock.",
	Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// LedgerWriteFailures counts aborted units of work by failing stage.
var LedgerWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Name:      "ledger_write_failures_total",
	Help:      "Adjustments that did not commit, by stage.",
}, []string{"stage"})

// ChainBreaks counts inconsistencies found by chain verification.
var ChainBreaks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "points",
	Name:      "chain_breaks_total",
	Help:      "History chain inconsistencies detected by verification.",
})

// ─── Directory ──────────────────────────────────────────────────────────────

// DirectoryLookups counts display-name lookups by cache outcome (hit|miss|error).
var DirectoryLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Name:      "directory_lookups_total",
	Help:      "Username projection lookups by outcome.",
}, []string{"outcome"})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequestsTotal counts API requests by route pattern, method and status.
var HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "points",
	Name:      "http_requests_total",
	Help:      "HTTP requests by route, method and status code.",
}, []string{"route", "method", "status"})

// HTTPRequestDuration measures API latency by route pattern.
var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "points",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request latency by route.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})
