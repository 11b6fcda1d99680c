package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/idservice"
	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

type HTTPServer struct {
	cfg     *HTTPConfig
	metrics *httpMetrics
	srv     *http.Server
	logger  *zap.Logger
}

type idsResponse struct {
	IDs    []string `json:"ids"`
	NodeID int64    `json:"node_id"`
}

type decodeResponse struct {
	ID          string `json:"id"`
	TimestampMs int64  `json:"timestamp_ms"`
	Time        string `json:"time"`
	NodeID      int64  `json:"node_id"`
	Sequence    int64  `json:"sequence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHTTPServer(logger *zap.Logger, cfg *HTTPConfig, registerMetrics bool) *HTTPServer {
	return &HTTPServer{
		cfg:     cfg,
		metrics: initHTTPMetrics(registerMetrics),
		srv: &http.Server{
			Addr:         cfg.BindAddr,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

func (s *HTTPServer) Serve(ctx context.Context, svc idservice.Service) error {
	s.srv.Handler = s.router(svc)

	lis, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.String("addr", lis.Addr().String()))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Close(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down...")
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) router(svc idservice.Service) *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recovery, requestID, s.logging, s.observe)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "node_id": svc.NodeID()})
	}).Methods(http.MethodGet)

	r.HandleFunc("/v1/ids", s.handleNextIDs(svc)).Methods(http.MethodPost)
	r.HandleFunc("/v1/ids/{id}", s.handleDecode(svc)).Methods(http.MethodGet)

	return r
}

func (s *HTTPServer) handleNextIDs(svc idservice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count := 1
		if raw := r.URL.Query().Get("count"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "count must be an integer"})
				return
			}
			count = n
		}

		ids, err := svc.NextIDs(r.Context(), count)
		if err != nil {
			s.writeError(w, err)
			return
		}

		resp := idsResponse{IDs: make([]string, len(ids)), NodeID: svc.NodeID()}
		for i, id := range ids {
			resp.IDs[i] = strconv.FormatInt(id, 10)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *HTTPServer) handleDecode(svc idservice.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id must be a decimal int64"})
			return
		}

		p := svc.Decode(id)
		writeJSON(w, http.StatusOK, decodeResponse{
			ID:          strconv.FormatInt(p.ID, 10),
			TimestampMs: p.Timestamp,
			Time:        p.Time().Format(time.RFC3339Nano),
			NodeID:      p.NodeID,
			Sequence:    p.Sequence,
		})
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, idservice.ErrInvalidBatchSize):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, snowflake.ErrClockRegression):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("mint failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.requestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

// HeaderRequestID is echoed back, or generated when the client sent none.
const HeaderRequestID = "X-Request-ID"

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(HeaderRequestID, id)
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", r.Header.Get(HeaderRequestID)),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *HTTPServer) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in http handler", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
