package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	OrdersCommitted prometheus.Counter
	OrdersDuplicate prometheus.Counter
	OrdersRejected  prometheus.Counter

	CutsCompleted prometheus.Counter
	CutsFailed    prometheus.Counter
	CutLatencySec prometheus.Histogram
	CutsInFlight  prometheus.Gauge

	IdempotencyKeysSwept prometheus.Counter
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	ordersCommitted := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_orders_committed_total"})
	ordersDuplicate := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_orders_duplicate_total"})
	ordersRejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_orders_rejected_total"})

	cutsCompleted := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_cash_cuts_completed_total"})
	cutsFailed := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_cash_cuts_failed_total"})
	cutLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_cash_cut_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	cutsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{Name: "ledger_cash_cuts_in_flight"})

	keysSwept := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_idempotency_keys_swept_total"})

	r.MustRegister(ordersCommitted, ordersDuplicate, ordersRejected, cutsCompleted, cutsFailed, cutLatency, cutsInFlight, keysSwept)
	return &Registry{
		reg:                  r,
		OrdersCommitted:      ordersCommitted,
		OrdersDuplicate:      ordersDuplicate,
		OrdersRejected:       ordersRejected,
		CutsCompleted:        cutsCompleted,
		CutsFailed:           cutsFailed,
		CutLatencySec:        cutLatency,
		CutsInFlight:         cutsInFlight,
		IdempotencyKeysSwept: keysSwept,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
