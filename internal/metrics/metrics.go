// Package metrics exposes Prometheus collectors for the till.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var ShiftsOpened = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "kassza",
	Subsystem: "shift",
	Name:      "opened_total",
	Help:      "Total shifts opened.",
})

var ShiftsClosed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "kassza",
	Subsystem: "shift",
	Name:      "closed_total",
	Help:      "Total shifts closed.",
})

// LastDiscrepancy is the signed discrepancy of the most recently closed shift, in forints.
var LastDiscrepancy = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "kassza",
	Subsystem: "shift",
	Name:      "last_discrepancy_huf",
	Help:      "Discrepancy of the last closed shift (positive surplus, negative shortfall).",
})

var OpenShifts = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "kassza",
	Subsystem: "shift",
	Name:      "open",
	Help:      "Number of shift documents currently open.",
})

var SalesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kassza",
	Subsystem: "sales",
	Name:      "recorded_total",
	Help:      "Total sales recorded by payment method.",
}, []string{"method"})

var SalesAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kassza",
	Subsystem: "sales",
	Name:      "amount_huf_total",
	Help:      "Total sales amount by payment method, in forints.",
}, []string{"method"})

var ExtraTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kassza",
	Subsystem: "extra",
	Name:      "transactions_total",
	Help:      "Total extra income and expense entries.",
}, []string{"type"})

var StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kassza",
	Subsystem: "store",
	Name:      "errors_total",
	Help:      "Persistence failures by operation.",
}, []string{"operation"})

var Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kassza",
	Subsystem: "store",
	Name:      "compensations_total",
	Help:      "Rollback writes issued after a partial failure, by outcome.",
}, []string{"outcome"})

var HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "kassza",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency by route pattern and status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// Forints converts an amount for gauges and counters.
func Forints(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
