package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	calculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tremor_calculations_total",
			Help: "Total number of loss calculations by terminal status.",
		},
		[]string{"status"},
	)

	calculationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tremor_calculation_duration_seconds",
			Help:    "End-to-end duration of completed loss calculations, in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	pollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tremor_engine_poll_cycles_total",
			Help: "Total number of status polls issued to the remote engine.",
		},
		[]string{"phase"},
	)
)

func init() {
	prometheus.MustRegister(calculationsTotal)
	prometheus.MustRegister(calculationDuration)
	prometheus.MustRegister(pollCyclesTotal)
}
