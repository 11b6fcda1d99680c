package snowflake

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeClock struct {
	ms atomic.Int64
}

func newFakeClock(ms int64) *fakeClock {
	c := &fakeClock{}
	c.ms.Store(ms)
	return c
}

func (c *fakeClock) now() int64      { return c.ms.Load() }
func (c *fakeClock) set(ms int64)    { c.ms.Store(ms) }
func (c *fakeClock) advance(d int64) { c.ms.Add(d) }

func TestNew_NodeIDRange(t *testing.T) {
	tests := []struct {
		name    string
		nodeID  int64
		wantErr bool
	}{
		{name: "negative", nodeID: -1, wantErr: true},
		{name: "too large", nodeID: 1024, wantErr: true},
		{name: "lower bound", nodeID: 0},
		{name: "upper bound", nodeID: 1023},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g, err := New(tc.nodeID)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				assert.Nil(t, g)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.nodeID, g.NodeID())
		})
	}
}

func TestNew_Layout(t *testing.T) {
	_, err := New(1, WithLayout(Layout{TimestampBits: 0, NodeBits: 10, SequenceBits: 12}))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = New(1, WithLayout(Layout{TimestampBits: 42, NodeBits: 10, SequenceBits: 12}))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	wide := Layout{TimestampBits: 40, NodeBits: 14, SequenceBits: 9}
	g, err := New(16383, WithLayout(wide))
	require.NoError(t, err)
	assert.Equal(t, int64(16383), g.NodeID())
	assert.Equal(t, int64(511), wide.MaxSequence())

	_, err = New(16384, WithLayout(wide))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNew_NegativeEpoch(t *testing.T) {
	_, err := New(1, WithEpoch(time.UnixMilli(-1)))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNextID_RoundTrip(t *testing.T) {
	epoch := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	now := epoch.UnixMilli() + 12345
	clock := newFakeClock(now)

	g, err := New(42, WithEpoch(epoch), WithClock(clock.now))
	require.NoError(t, err)

	id, err := g.NextID()
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	assert.Equal(t, int64(42), g.ExtractNodeID(id))
	assert.Equal(t, int64(0), g.ExtractSequence(id))
	assert.Equal(t, now, g.ExtractTimestamp(id))

	parts := g.Decode(id)
	assert.Equal(t, Parts{ID: id, Timestamp: now, NodeID: 42, Sequence: 0}, parts)
	assert.Equal(t, time.UnixMilli(now).UTC(), parts.Time())
	assert.Equal(t, int64(12345)<<22|int64(42)<<12, id)
}

func TestNextID_SequenceWithinMillisecond(t *testing.T) {
	clock := newFakeClock(DefaultEpoch + 1000)
	g, err := New(7, WithClock(clock.now))
	require.NoError(t, err)

	var prev int64
	for i := int64(0); i < 10; i++ {
		id, err := g.NextID()
		require.NoError(t, err)
		assert.Equal(t, i, g.ExtractSequence(id))
		assert.Greater(t, id, prev)
		prev = id
	}

	clock.advance(1)
	id, err := g.NextID()
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.ExtractSequence(id), "sequence resets on a new millisecond")
	assert.Equal(t, DefaultEpoch+1001, g.ExtractTimestamp(id))
	assert.Greater(t, id, prev)
}

func TestNextID_SequenceRollover(t *testing.T) {
	start := DefaultEpoch + 5000
	clock := newFakeClock(start)
	g, err := New(3, WithClock(clock.now))
	require.NoError(t, err)

	var last int64
	for i := 0; i < 4096; i++ {
		last, err = g.NextID()
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4095), g.ExtractSequence(last))

	type result struct {
		id  int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := g.NextID()
		done <- result{id: id, err: err}
	}()

	select {
	case <-done:
		t.Fatal("4097th call returned before the clock advanced")
	case <-time.After(50 * time.Millisecond):
	}

	clock.set(start + 1)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, int64(0), g.ExtractSequence(res.id))
		assert.Equal(t, start+1, g.ExtractTimestamp(res.id))
		assert.Greater(t, res.id, last)
	case <-time.After(time.Second):
		t.Fatal("blocked call did not return after the clock advanced")
	}

	assert.Equal(t, uint64(1), g.Stats().SequenceExhausted)
	assert.Equal(t, uint64(4097), g.Stats().Generated)
}

func TestNextID_ClockRegression(t *testing.T) {
	start := DefaultEpoch + 10_000
	clock := newFakeClock(start)
	g, err := New(9, WithClock(clock.now))
	require.NoError(t, err)

	first, err := g.NextID()
	require.NoError(t, err)

	clock.set(start - 5)
	id, err := g.NextID()
	require.Error(t, err)
	assert.Zero(t, id)
	assert.ErrorIs(t, err, ErrClockRegression)

	var regression *ClockRegressionError
	require.True(t, errors.As(err, &regression))
	assert.Equal(t, start, regression.Last)
	assert.Equal(t, start-5, regression.Now)
	assert.Equal(t, 5*time.Millisecond, regression.Backward())
	assert.Contains(t, err.Error(), "5 ms")

	// state untouched: the next call in the same millisecond continues the sequence
	clock.set(start)
	next, err := g.NextID()
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.ExtractSequence(next))
	assert.Equal(t, start, g.ExtractTimestamp(next))
	assert.Greater(t, next, first)

	stats := g.Stats()
	assert.Equal(t, uint64(1), stats.ClockRegressions)
	assert.Equal(t, uint64(2), stats.Generated)
}

func TestNextID_TimestampOutOfRange(t *testing.T) {
	t.Run("before epoch", func(t *testing.T) {
		g, err := New(1, WithClock(func() int64 { return DefaultEpoch - 1 }))
		require.NoError(t, err)
		_, err = g.NextID()
		assert.ErrorIs(t, err, ErrTimestampOutOfRange)
	})

	t.Run("delta overflows layout", func(t *testing.T) {
		layout := Layout{TimestampBits: 10, NodeBits: 10, SequenceBits: 12}
		clock := newFakeClock(DefaultEpoch + 1023)
		g, err := New(1, WithLayout(layout), WithClock(clock.now))
		require.NoError(t, err)

		_, err = g.NextID()
		require.NoError(t, err)

		clock.set(DefaultEpoch + 1024)
		_, err = g.NextID()
		assert.ErrorIs(t, err, ErrTimestampOutOfRange)
	})
}

func TestNextID_MonotonicWallClock(t *testing.T) {
	g, err := New(11)
	require.NoError(t, err)

	var prev int64
	for i := 0; i < 20_000; i++ {
		id, err := g.NextID()
		require.NoError(t, err)
		require.Greater(t, id, prev)
		require.Equal(t, int64(11), g.ExtractNodeID(id))
		prev = id
	}
}

func TestNextID_ConcurrentCallers(t *testing.T) {
	const (
		workers = 100
		perWork = 1000
	)

	g, err := New(512)
	require.NoError(t, err)

	results := make([][]int64, workers)
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			ids := make([]int64, 0, perWork)
			for i := 0; i < perWork; i++ {
				id, err := g.NextID()
				if err != nil {
					return fmt.Errorf("worker %d: %w", w, err)
				}
				ids = append(ids, id)
			}
			results[w] = ids
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	seen := make(map[int64]struct{}, workers*perWork)
	for w, ids := range results {
		require.Len(t, ids, perWork)
		for i, id := range ids {
			if i > 0 {
				require.Greater(t, id, ids[i-1], "worker %d not increasing", w)
			}
			_, dup := seen[id]
			require.False(t, dup, "duplicate id %d", id)
			seen[id] = struct{}{}
		}
	}
	assert.Len(t, seen, workers*perWork)
	assert.Equal(t, uint64(workers*perWork), g.Stats().Generated)
}

func TestDefault_BuiltOnce(t *testing.T) {
	const callers = 64

	gens := make([]*Generator, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gens[i] = Default()
		}(i)
	}
	wg.Wait()

	for _, g := range gens {
		assert.Same(t, gens[0], g)
	}
	assert.LessOrEqual(t, gens[0].NodeID(), DefaultLayout.MaxNodeID())

	a, err := NextID()
	require.NoError(t, err)
	b, err := NextID()
	require.NoError(t, err)
	assert.Greater(t, b, a)
}
