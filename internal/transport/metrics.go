package transport

import "github.com/prometheus/client_golang/prometheus"

type tcpMetrics struct {
	requestLatency prometheus.Histogram
	errors         prometheus.Counter
}

func initTCPMetrics(register bool) *tcpMetrics {
	m := &tcpMetrics{
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "flakeid",
			Subsystem: "tcp",
			Name:      "request_latency_seconds",
			Help:      "Time to read a TCP request frame, mint and write the IDs",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "tcp",
			Name:      "errors_total",
			Help:      "Total number of errors while serving TCP connections",
		}),
	}

	if register {
		prometheus.MustRegister(
			m.requestLatency,
			m.errors,
		)
	}
	return m
}

func (m *tcpMetrics) incError() {
	m.errors.Inc()
}

type grpcMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func initGRPCMetrics(register bool) *grpcMetrics {
	m := &grpcMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flakeid",
			Subsystem: "grpc",
			Name:      "requests_total",
			Help:      "Total number of gRPC calls by method and status code",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flakeid",
			Subsystem: "grpc",
			Name:      "request_latency_seconds",
			Help:      "Latency of gRPC calls",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"method"}),
	}

	if register {
		prometheus.MustRegister(
			m.requests,
			m.latency,
		)
	}
	return m
}

type httpMetrics struct {
	requestDuration *prometheus.HistogramVec
}

func initHTTPMetrics(register bool) *httpMetrics {
	m := &httpMetrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flakeid",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	if register {
		prometheus.MustRegister(m.requestDuration)
	}
	return m
}
