// Package stamper consumes records from a Kafka topic, assigns every record a
// fresh ID and republishes it to an output topic. Input offsets are committed
// only after the whole batch was acknowledged by the output, so a crash
// redelivers records instead of losing them.
package stamper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/idservice"
)

// HeaderSourceKey carries the original record key, which is replaced by the ID.
const HeaderSourceKey = "flakeid-source-key"

type Stamper struct {
	cfg       *Config
	reader    Reader
	output    Output
	inCh      chan kafka.Message
	metrics   *metrics
	stop      chan struct{}
	served    chan struct{}
	started   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
	logger    *zap.Logger
}

func New(logger *zap.Logger, cfg *Config, reader Reader, out Output, registerMetrics bool) *Stamper {
	return &Stamper{
		cfg:     cfg,
		reader:  reader,
		output:  out,
		inCh:    make(chan kafka.Message, cfg.InChannelSize),
		metrics: initMetrics(registerMetrics),
		stop:    make(chan struct{}),
		served:  make(chan struct{}),
		logger:  logger,
	}
}

// Serve runs the stamping pipeline until ctx is done or Close is called.
func (s *Stamper) Serve(ctx context.Context, svc idservice.Service) error {
	if s.cfg.BatchSize > svc.MaxBatch() {
		return fmt.Errorf("batch_size %d exceeds generator max_batch %d", s.cfg.BatchSize, svc.MaxBatch())
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("stamper already started")
	}
	defer close(s.served)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("stamper started",
		zap.String("input_topic", s.cfg.InputTopic),
		zap.String("output_topic", s.cfg.OutputTopic),
		zap.String("group_id", s.cfg.GroupID),
	)

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.fetchLoop(ctx) }()

	s.run(ctx, svc)
	s.wg.Wait()
	return nil
}

func (s *Stamper) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("stamper shutting down...")
		close(s.stop)

		if s.started.Load() {
			select {
			case <-s.served:
			case <-ctx.Done():
				err = ctx.Err()
				s.logger.Warn("stamper shutdown timeout", zap.Error(err))
			}
		}

		if cerr := s.reader.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close reader: %w", cerr))
		}
		if cerr := s.output.Close(ctx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close output: %w", cerr))
		}
		if err == nil {
			s.logger.Info("stamper shutdown complete")
		}
	})
	return err
}

func (s *Stamper) fetchLoop(ctx context.Context) {
	logger := s.logger.With(zap.String("method", "fetchLoop"))

	var retryDelay time.Duration
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retryDelay = nextBackoff(retryDelay, maxRetryDelay)
			s.metrics.retries.WithLabelValues("fetch").Inc()
			logger.Error("fetch failed", zap.Error(err), zap.Duration("retry_in", retryDelay))
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return
			}
		}
		retryDelay = 0

		select {
		case s.inCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Stamper) run(ctx context.Context, svc idservice.Service) {
	logger := s.logger.With(zap.String("method", "run"))

	tickerChan, ticker := makeTickerChan(s.cfg.FlushInterval)
	if ticker != nil {
		defer ticker.Stop()
	}

	batch := make([]kafka.Message, 0, s.cfg.BatchSize)
	for {
		select {
		case msg := <-s.inCh:
			batch = append(batch, msg)
			if len(batch) < s.cfg.BatchSize {
				continue
			}
		case <-tickerChan:
			if len(batch) == 0 {
				continue
			}
		case <-ctx.Done():
			if len(batch) > 0 {
				logger.Info("leaving uncommitted records for redelivery", zap.Int("count", len(batch)))
			}
			return
		}

		if err := s.flush(ctx, svc, batch); err != nil {
			logger.Info("flush interrupted", zap.Error(err), zap.Int("count", len(batch)))
			return
		}
		batch = batch[:0]
	}
}

// flush mints IDs for the batch once, then publishes and commits it. Each
// stage is retried with backoff so a republished batch keeps its IDs.
func (s *Stamper) flush(ctx context.Context, svc idservice.Service, batch []kafka.Message) error {
	stopTimer := s.metrics.batchTimer()

	var ids []int64
	err := s.retry(ctx, "mint", func() (err error) {
		ids, err = svc.NextIDs(ctx, len(batch))
		return err
	})
	if err != nil {
		return err
	}

	records := stampRecords(batch, ids)
	if err := s.retry(ctx, "publish", func() error {
		return s.output.SendBatch(ctx, records)
	}); err != nil {
		return err
	}

	if err := s.retry(ctx, "commit", func() error {
		return s.reader.CommitMessages(ctx, batch...)
	}); err != nil {
		return err
	}

	stopTimer()
	s.metrics.records.Add(float64(len(batch)))
	s.logger.Debug("batch stamped",
		zap.Int("count", len(batch)),
		zap.Int64("first_id", ids[0]),
		zap.Int64("last_id", ids[len(ids)-1]),
	)
	return nil
}

// retry calls fn until it succeeds or ctx is done.
func (s *Stamper) retry(ctx context.Context, stage string, fn func() error) error {
	var delay time.Duration
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay = nextBackoff(delay, maxRetryDelay)
		s.metrics.retries.WithLabelValues(stage).Inc()
		s.logger.Warn("stamper stage failed, retrying",
			zap.String("stage", stage),
			zap.Error(err),
			zap.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func stampRecords(batch []kafka.Message, ids []int64) []Record {
	records := make([]Record, len(batch))
	for i, msg := range batch {
		headers := make([]Header, 0, len(msg.Headers)+1)
		for _, h := range msg.Headers {
			headers = append(headers, Header{Key: h.Key, Value: h.Value})
		}
		if len(msg.Key) > 0 {
			headers = append(headers, Header{Key: HeaderSourceKey, Value: msg.Key})
		}
		records[i] = Record{
			ID:      ids[i],
			Value:   msg.Value,
			Headers: headers,
		}
	}
	return records
}

// FormatID renders an ID the way it appears in record keys and headers.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
