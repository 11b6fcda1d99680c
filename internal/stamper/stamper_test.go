package stamper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zhukov-alex/flakeid/internal/idservice"
	"github.com/zhukov-alex/flakeid/internal/mocks"
	"github.com/zhukov-alex/flakeid/internal/snowflake"
	"github.com/zhukov-alex/flakeid/internal/stamper"
)

func testConfig(batchSize int, flush time.Duration) *stamper.Config {
	return &stamper.Config{
		Enabled:       true,
		Brokers:       []string{"localhost:9092"},
		InputTopic:    "events",
		GroupID:       "flakeid",
		OutputTopic:   "events-stamped",
		Acks:          "1",
		BatchSize:     batchSize,
		FlushInterval: flush,
		InChannelSize: 16,
	}
}

func newIDService(t *testing.T, nodeID int64) idservice.Service {
	t.Helper()
	gen, err := snowflake.New(nodeID)
	require.NoError(t, err)
	return idservice.New(zaptest.NewLogger(t), idservice.Config{MaxBatch: 100}, gen, false)
}

// expectFetch serves msgs in order, then blocks until the fetch context ends.
func expectFetch(r *mocks.MockReader, msgs ...kafka.Message) {
	for _, m := range msgs {
		r.EXPECT().FetchMessage(gomock.Any()).Return(m, nil)
	}
	r.EXPECT().FetchMessage(gomock.Any()).DoAndReturn(func(ctx context.Context) (kafka.Message, error) {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}).AnyTimes()
}

func expectClose(r *mocks.MockReader, o *mocks.MockOutput) {
	r.EXPECT().Close().Return(nil)
	o.EXPECT().Close(gomock.Any()).Return(nil)
}

func serve(t *testing.T, s *stamper.Stamper, svc idservice.Service) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background(), svc) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		assert.NoError(t, s.Close(ctx))
		assert.NoError(t, <-errCh)
	})
}

func msg(offset int64, key, value string) kafka.Message {
	return kafka.Message{
		Topic:     "events",
		Partition: 0,
		Offset:    offset,
		Key:       []byte(key),
		Value:     []byte(value),
		Headers:   []kafka.Header{{Key: "trace", Value: []byte(value)}},
	}
}

func TestStamper_StampsPublishesAndCommits(t *testing.T) {
	ctrl := gomock.NewController(t)

	reader := mocks.NewMockReader(ctrl)
	out := mocks.NewMockOutput(ctrl)
	input := []kafka.Message{msg(0, "a", "one"), msg(1, "", "two"), msg(2, "c", "three")}

	var published []stamper.Record
	committed := make(chan []kafka.Message, 1)

	expectFetch(reader, input...)
	gomock.InOrder(
		out.EXPECT().SendBatch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, batch []stamper.Record) error {
			published = batch
			return nil
		}),
		reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msgs ...kafka.Message) error {
			committed <- msgs
			return nil
		}),
	)
	expectClose(reader, out)

	s := stamper.New(zaptest.NewLogger(t), testConfig(3, time.Hour), reader, out, false)
	serve(t, s, newIDService(t, 42))

	select {
	case msgs := <-committed:
		assert.Equal(t, input, msgs)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for commit")
	}

	require.Len(t, published, 3)
	for i, r := range published {
		assert.Equal(t, input[i].Value, r.Value)
		assert.Equal(t, int64(42), snowflake.ExtractNodeID(r.ID))
		assert.Equal(t, stamper.Header{Key: "trace", Value: input[i].Value}, r.Headers[0])
		if i > 0 {
			assert.Greater(t, r.ID, published[i-1].ID)
		}
	}
	assert.Equal(t, []stamper.Header{
		{Key: "trace", Value: []byte("one")},
		{Key: stamper.HeaderSourceKey, Value: []byte("a")},
	}, published[0].Headers)
	assert.Len(t, published[1].Headers, 1, "empty source key is not carried")
}

func TestStamper_FlushesPartialBatchOnInterval(t *testing.T) {
	ctrl := gomock.NewController(t)

	reader := mocks.NewMockReader(ctrl)
	out := mocks.NewMockOutput(ctrl)
	committed := make(chan int, 1)

	expectFetch(reader, msg(0, "k", "v1"), msg(1, "k", "v2"))
	out.EXPECT().SendBatch(gomock.Any(), gomock.Len(2)).Return(nil)
	reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, msgs ...kafka.Message) error {
		committed <- len(msgs)
		return nil
	})
	expectClose(reader, out)

	s := stamper.New(zaptest.NewLogger(t), testConfig(10, 20*time.Millisecond), reader, out, false)
	serve(t, s, newIDService(t, 1))

	select {
	case n := <-committed:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for interval flush")
	}
}

func TestStamper_RetryKeepsIDs(t *testing.T) {
	ctrl := gomock.NewController(t)

	reader := mocks.NewMockReader(ctrl)
	out := mocks.NewMockOutput(ctrl)
	committed := make(chan struct{})

	var mu sync.Mutex
	var attempts [][]stamper.Record

	expectFetch(reader, msg(0, "k", "v"))
	gomock.InOrder(
		out.EXPECT().SendBatch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, batch []stamper.Record) error {
			mu.Lock()
			attempts = append(attempts, batch)
			mu.Unlock()
			return errors.New("broker unavailable")
		}),
		out.EXPECT().SendBatch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, batch []stamper.Record) error {
			mu.Lock()
			attempts = append(attempts, batch)
			mu.Unlock()
			return nil
		}),
		reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, ...kafka.Message) error {
			close(committed)
			return nil
		}),
	)
	expectClose(reader, out)

	s := stamper.New(zaptest.NewLogger(t), testConfig(1, time.Hour), reader, out, false)
	serve(t, s, newIDService(t, 3))

	select {
	case <-committed:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for commit after retry")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, attempts, 2)
	assert.Equal(t, attempts[0][0].ID, attempts[1][0].ID)
}

func TestStamper_MintErrorDelaysCommit(t *testing.T) {
	ctrl := gomock.NewController(t)

	reader := mocks.NewMockReader(ctrl)
	out := mocks.NewMockOutput(ctrl)
	svc := mocks.NewMockService(ctrl)
	committed := make(chan struct{})

	svc.EXPECT().MaxBatch().Return(100).AnyTimes()
	expectFetch(reader, msg(0, "k", "a"), msg(1, "k", "b"))
	gomock.InOrder(
		svc.EXPECT().NextIDs(gomock.Any(), 2).Return(nil, &snowflake.ClockRegressionError{Last: 10, Now: 5}),
		svc.EXPECT().NextIDs(gomock.Any(), 2).Return([]int64{100, 101}, nil),
		out.EXPECT().SendBatch(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, batch []stamper.Record) error {
			assert.Equal(t, int64(100), batch[0].ID)
			assert.Equal(t, int64(101), batch[1].ID)
			return nil
		}),
		reader.EXPECT().CommitMessages(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, ...kafka.Message) error {
			close(committed)
			return nil
		}),
	)
	expectClose(reader, out)

	s := stamper.New(zaptest.NewLogger(t), testConfig(2, time.Hour), reader, out, false)
	serve(t, s, svc)

	select {
	case <-committed:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for commit after mint retry")
	}
}

func TestStamper_BatchSizeAboveMaxBatch(t *testing.T) {
	ctrl := gomock.NewController(t)

	reader := mocks.NewMockReader(ctrl)
	out := mocks.NewMockOutput(ctrl)
	svc := mocks.NewMockService(ctrl)
	svc.EXPECT().MaxBatch().Return(8).AnyTimes()

	s := stamper.New(zaptest.NewLogger(t), testConfig(9, time.Second), reader, out, false)
	err := s.Serve(context.Background(), svc)
	assert.ErrorContains(t, err, "exceeds generator max_batch")
}

func TestStamper_CloseWithoutServe(t *testing.T) {
	ctrl := gomock.NewController(t)

	reader := mocks.NewMockReader(ctrl)
	out := mocks.NewMockOutput(ctrl)
	reader.EXPECT().Close().Return(errors.New("boom"))
	out.EXPECT().Close(gomock.Any()).Return(nil)

	s := stamper.New(zaptest.NewLogger(t), testConfig(1, time.Second), reader, out, false)
	err := s.Close(context.Background())
	assert.ErrorContains(t, err, "close reader: boom")
	assert.NoError(t, s.Close(context.Background()), "second close is a no-op")
}
