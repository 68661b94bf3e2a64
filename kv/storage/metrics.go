package storage

import "github.com/prometheus/client_golang/prometheus"

var (
	applyCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "storage",
			Name:      "apply_total",
			Help:      "Counter of transactions applied to storage.",
		}, []string{"mode", "result"})

	applyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinytxn",
			Subsystem: "storage",
			Name:      "apply_duration_seconds",
			Help:      "Bucketed histogram of transaction apply duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"mode"})

	openContextGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinytxn",
			Subsystem: "storage",
			Name:      "open_cursor_contexts",
			Help:      "Number of cursor contexts not yet closed.",
		})
)

func init() {
	prometheus.MustRegister(applyCounter)
	prometheus.MustRegister(applyDuration)
	prometheus.MustRegister(openContextGauge)
}
