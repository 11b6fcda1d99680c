package idservice

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

const (
	kindClockRegression = "clock_regression"
	kindOutOfRange      = "timestamp_out_of_range"
	kindCanceled        = "canceled"
	kindOther           = "other"
)

type metrics struct {
	idsTotal     prometheus.Counter
	errorsTotal  *prometheus.CounterVec
	batchLatency prometheus.Histogram
	collectors   []prometheus.Collector
}

func initMetrics(gen *snowflake.Generator, register bool) *metrics {
	m := &metrics{
		idsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "generator",
			Name:      "ids_total",
			Help:      "Total number of IDs handed out by the service",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "generator",
			Name:      "errors_total",
			Help:      "Total number of failed mint calls by kind",
		}, []string{"kind"}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flakeid",
			Subsystem: "generator",
			Name:      "batch_latency_seconds",
			Help:      "Time to mint a batch of IDs",
			Buckets:   []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
	}

	m.collectors = []prometheus.Collector{
		m.idsTotal,
		m.errorsTotal,
		m.batchLatency,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "generator",
			Name:      "sequence_exhausted_total",
			Help:      "Times a millisecond ran out of sequence numbers and minting waited for the clock",
		}, func() float64 { return float64(gen.Stats().SequenceExhausted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "generator",
			Name:      "clock_regressions_total",
			Help:      "Times the wall clock was observed moving backwards",
		}, func() float64 { return float64(gen.Stats().ClockRegressions) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "flakeid",
			Subsystem: "generator",
			Name:      "node_id",
			Help:      "Node id encoded into every ID minted by this process",
		}, func() float64 { return float64(gen.NodeID()) }),
	}

	if register {
		prometheus.MustRegister(m.collectors...)
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
