package idservice

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

// ErrInvalidBatchSize is returned by NextIDs for n outside [1, max_batch].
var ErrInvalidBatchSize = errors.New("invalid batch size")

// Service hands out IDs of a single generator to the transports.
type Service interface {
	NextID(ctx context.Context) (int64, error)
	NextIDs(ctx context.Context, n int) ([]int64, error)
	Decode(id int64) snowflake.Parts
	NodeID() int64
	MaxBatch() int
}

type ServiceImpl struct {
	gen      *snowflake.Generator
	maxBatch int
	metrics  *metrics
	logger   *zap.Logger
}

// New creates the service around gen, which the caller owns.
func New(logger *zap.Logger, cfg Config, gen *snowflake.Generator, registerMetrics bool) Service {
	return &ServiceImpl{
		gen:      gen,
		maxBatch: cfg.MaxBatch,
		metrics:  initMetrics(gen, registerMetrics),
		logger:   logger,
	}
}

func (s *ServiceImpl) NextID(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		s.observeError(err)
		return 0, err
	}
	id, err := s.gen.NextID()
	if err != nil {
		s.observeError(err)
		return 0, err
	}
	s.metrics.idsTotal.Inc()
	return id, nil
}

// NextIDs mints n IDs in increasing order. On error nothing is returned: the
// IDs minted before the failure are dropped.
func (s *ServiceImpl) NextIDs(ctx context.Context, n int) ([]int64, error) {
	if n <= 0 || n > s.maxBatch {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidBatchSize, n, s.maxBatch)
	}

	stop := s.metrics.batchTimer()
	defer stop()

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			s.observeError(err)
			return nil, err
		}
		id, err := s.gen.NextID()
		if err != nil {
			s.observeError(err)
			return nil, fmt.Errorf("mint id %d of %d: %w", i+1, n, err)
		}
		ids = append(ids, id)
	}
	s.metrics.idsTotal.Add(float64(n))
	return ids, nil
}

func (s *ServiceImpl) Decode(id int64) snowflake.Parts {
	return s.gen.Decode(id)
}

func (s *ServiceImpl) NodeID() int64 {
	return s.gen.NodeID()
}

func (s *ServiceImpl) MaxBatch() int {
	return s.maxBatch
}

func (s *ServiceImpl) observeError(err error) {
	var regression *snowflake.ClockRegressionError
	switch {
	case errors.As(err, &regression):
		s.metrics.errorsTotal.WithLabelValues(kindClockRegression).Inc()
		s.logger.Warn("clock moved backwards, refusing to mint",
			zap.Duration("backward", regression.Backward()),
			zap.Int64("last_ms", regression.Last),
			zap.Int64("now_ms", regression.Now),
		)
	case errors.Is(err, snowflake.ErrTimestampOutOfRange):
		s.metrics.errorsTotal.WithLabelValues(kindOutOfRange).Inc()
		s.logger.Error("timestamp outside the layout range", zap.Error(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.metrics.errorsTotal.WithLabelValues(kindCanceled).Inc()
	default:
		s.metrics.errorsTotal.WithLabelValues(kindOther).Inc()
		s.logger.Error("mint failed", zap.Error(err))
	}
}
