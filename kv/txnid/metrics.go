package txnid

import "github.com/prometheus/client_golang/prometheus"

var (
	watermarkGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinytxn",
			Subsystem: "txnid",
			Name:      "watermark",
			Help:      "Current transaction id watermarks.",
		}, []string{"type"})

	outOfOrderCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinytxn",
			Subsystem: "txnid",
			Name:      "out_of_order_total",
			Help:      "Counter of transactions reported above a gap in their watermark.",
		}, []string{"type"})

	healthGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tinytxn",
			Subsystem: "txnid",
			Name:      "healthy",
			Help:      "1 while the transaction id store accepts updates.",
		})
)

func init() {
	prometheus.MustRegister(watermarkGauge)
	prometheus.MustRegister(outOfOrderCounter)
	prometheus.MustRegister(healthGauge)
	healthGauge.Set(1)
}
