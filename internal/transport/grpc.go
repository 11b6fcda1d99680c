package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/zhukov-alex/flakeid/internal/idservice"
	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

type GRPCServer struct {
	cfg     *GRPCConfig
	metrics *grpcMetrics
	logger  *zap.Logger
	server  *grpc.Server
}

func NewGRPCServer(logger *zap.Logger, cfg *GRPCConfig, registerMetrics bool) *GRPCServer {
	s := &GRPCServer{
		cfg:     cfg,
		metrics: initGRPCMetrics(registerMetrics),
		logger:  logger,
	}
	s.server = grpc.NewServer(
		grpc.ConnectionTimeout(cfg.ConnectionTimeout),
		grpc.ChainUnaryInterceptor(s.unaryMetrics),
		grpc.ChainStreamInterceptor(s.streamMetrics),
	)
	return s
}

func (s *GRPCServer) Serve(ctx context.Context, svc idservice.Service) error {
	lis, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}
	s.logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
	return s.serve(ctx, lis, svc)
}

func (s *GRPCServer) serve(ctx context.Context, lis net.Listener, svc idservice.Service) error {
	RegisterIDServiceServer(s.server, &idServer{
		svc:    svc,
		logger: s.logger,
	})

	go func() {
		<-ctx.Done()
		s.server.GracefulStop()
	}()

	err := s.server.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *GRPCServer) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("gRPC server shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("gRPC server shutdown timeout, stopping", zap.Error(ctx.Err()))
		s.server.Stop()
		return ctx.Err()
	}
}

func (s *GRPCServer) unaryMetrics(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.observe(info.FullMethod, start, err)
	return resp, err
}

func (s *GRPCServer) streamMetrics(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	err := handler(srv, ss)
	s.observe(info.FullMethod, start, err)
	return err
}

func (s *GRPCServer) observe(method string, start time.Time, err error) {
	s.metrics.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	s.metrics.requests.WithLabelValues(method, status.Code(err).String()).Inc()
}

type idServer struct {
	svc    idservice.Service
	logger *zap.Logger
}

func (i *idServer) NextID(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	id, err := i.svc.NextID(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int64(id), nil
}

// NextIDs mints the whole batch before streaming it, so a failure never
// leaves the client with a partial batch.
func (i *idServer) NextIDs(req *wrapperspb.UInt32Value, stream NextIDsStream) error {
	ids, err := i.svc.NextIDs(stream.Context(), int(req.GetValue()))
	if err != nil {
		return toStatus(err)
	}
	for _, id := range ids {
		if err := stream.Send(wrapperspb.Int64(id)); err != nil {
			i.logger.Error("stream send failed", zap.Error(err))
			return err
		}
	}
	return nil
}

func (i *idServer) Decode(_ context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	p := i.svc.Decode(req.GetValue())
	out, err := structpb.NewStruct(map[string]any{
		"id":           strconv.FormatInt(p.ID, 10),
		"timestamp_ms": p.Timestamp,
		"time":         p.Time().Format(time.RFC3339Nano),
		"node_id":      p.NodeID,
		"sequence":     p.Sequence,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, snowflake.ErrClockRegression):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, idservice.ErrInvalidBatchSize):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
