package trade

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	LockAttempts    *prometheus.CounterVec
	LockLatency     *prometheus.HistogramVec
	Settlements     *prometheus.CounterVec
	Refunds         *prometheus.CounterVec
	ReleaseFailures *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		LockAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupbuy_lock_attempts_total",
				Help: "Lock order attempts by outcome.",
			},
			[]string{"result"},
		),
		LockLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "groupbuy_lock_latency_seconds",
				Help:    "Lock order latency in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupbuy_payment_callbacks_total",
				Help: "Payment success callbacks by outcome.",
			},
			[]string{"result"},
		),
		Refunds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupbuy_refunds_total",
				Help: "Refunds by strategy and outcome.",
			},
			[]string{"strategy", "result"},
		),
		ReleaseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "groupbuy_release_failures_total",
				Help: "Resource release operations that failed and await retry.",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		m.LockAttempts,
		m.LockLatency,
		m.Settlements,
		m.Refunds,
		m.ReleaseFailures,
	)
	return m
}
