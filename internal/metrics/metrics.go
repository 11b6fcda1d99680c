package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Server struct {
	addr   string
	srv    *http.Server
	logger *zap.Logger
}

// New serves the gatherer on /metrics and a liveness probe on /healthz.
func New(logger *zap.Logger, addr string, gatherer prometheus.Gatherer) (*Server, func(ctx context.Context) error) {
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		Handler:      handler(logger, gatherer),
	}

	server := &Server{
		addr:   addr,
		srv:    srv,
		logger: logger,
	}

	closer := func(ctx context.Context) error {
		logger.Info("Shutting down metrics server...")
		return srv.Shutdown(ctx)
	}

	return server, closer
}

func handler(logger *zap.Logger, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog:      zap.NewStdLog(logger),
		ErrorHandling: promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (m *Server) Start() {
	go func() {
		m.logger.Info("Metrics server started", zap.String("addr", m.addr))
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server error", zap.Error(err))
		}
	}()
}
