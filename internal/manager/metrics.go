package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelproxy",
			Subsystem: "manager",
			Name:      "loads_total",
			Help:      "Model loads by outcome (ready, error, timeout, discarded)",
		},
		[]string{"backend", "result"},
	)

	loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "modelproxy",
			Subsystem: "manager",
			Name:      "load_duration_seconds",
			Help:      "Duration of model loads in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"backend"},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelproxy",
			Subsystem: "manager",
			Name:      "generations_total",
			Help:      "Chat generations by outcome",
		},
		[]string{"result"},
	)

	handlesReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelproxy",
			Subsystem: "manager",
			Name:      "handles_released_total",
			Help:      "Model handles released back to the runtime",
		},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, loadDuration, generationsTotal, handlesReleasedTotal)
}
