package stamper

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	records      prometheus.Counter
	retries      *prometheus.CounterVec
	batchLatency prometheus.Histogram
}

func initMetrics(register bool) *metrics {
	m := &metrics{
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "stamper",
			Name:      "records_total",
			Help:      "Total number of records stamped, published and committed",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "stamper",
			Name:      "retries_total",
			Help:      "Total number of retried stamper stages",
		}, []string{"stage"}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flakeid",
			Subsystem: "stamper",
			Name:      "batch_latency_seconds",
			Help:      "Latency of minting, publishing and committing a whole batch",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),
	}

	if register {
		prometheus.MustRegister(
			m.records,
			m.retries,
			m.batchLatency,
		)
	}
	return m
}

func (m *metrics) batchTimer() (stop func()) {
	timer := prometheus.NewTimer(m.batchLatency)
	stop = func() {
		timer.ObserveDuration()
	}
	return
}
