// Package snowflake mints 64-bit Snowflake IDs: a millisecond timestamp
// relative to a custom epoch, a node id and a per-millisecond sequence.
//
// A Generator is safe for concurrent use. IDs from one Generator are strictly
// increasing; IDs from Generators with distinct node ids never collide.
package snowflake

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultEpoch is 2015-01-01T00:00:00Z in unix milliseconds.
const DefaultEpoch int64 = 1420070400000

type options struct {
	epoch  int64
	layout Layout
	clock  func() int64
}

type Option func(*options)

func WithEpoch(epoch time.Time) Option {
	return func(o *options) { o.epoch = epoch.UnixMilli() }
}

func WithLayout(layout Layout) Option {
	return func(o *options) { o.layout = layout }
}

// WithClock replaces the wall clock. now must return unix milliseconds.
func WithClock(now func() int64) Option {
	return func(o *options) { o.clock = now }
}

func systemClock() int64 {
	return time.Now().UnixMilli()
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		epoch:  DefaultEpoch,
		layout: DefaultLayout,
		clock:  systemClock,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.layout.Validate(); err != nil {
		return o, err
	}
	if o.epoch < 0 {
		return o, fmt.Errorf("%w: epoch must be >= 0, got %d", ErrInvalidConfiguration, o.epoch)
	}
	if o.clock == nil {
		return o, fmt.Errorf("%w: clock is nil", ErrInvalidConfiguration)
	}
	return o, nil
}

// Stats are cumulative counters of a Generator.
type Stats struct {
	Generated         uint64
	ClockRegressions  uint64
	SequenceExhausted uint64
}

type Generator struct {
	dec    Decoder
	nodeID int64
	clock  func() int64

	mu            sync.Mutex
	lastTimestamp int64
	sequence      int64

	generated   atomic.Uint64
	regressions atomic.Uint64
	exhausted   atomic.Uint64
}

// New returns a Generator for nodeID, which must lie in [0, layout.MaxNodeID()].
func New(nodeID int64, opts ...Option) (*Generator, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	if maxNode := o.layout.MaxNodeID(); nodeID < 0 || nodeID > maxNode {
		return nil, fmt.Errorf("%w: node id %d out of range [0, %d]", ErrInvalidConfiguration, nodeID, maxNode)
	}
	return newGenerator(nodeID, o), nil
}

// NewWithAutoNodeID derives the node id with AutoNodeID. It only fails on
// invalid options; without options it never fails.
func NewWithAutoNodeID(opts ...Option) (*Generator, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	nodeID, _ := AutoNodeID(o.layout)
	return newGenerator(nodeID, o), nil
}

func newGenerator(nodeID int64, o options) *Generator {
	return &Generator{
		dec:           Decoder{Layout: o.layout, Epoch: o.epoch},
		nodeID:        nodeID,
		clock:         o.clock,
		lastTimestamp: -1,
	}
}

// NextID mints the next ID.
//
// A clock reading earlier than the previous call fails with a
// *ClockRegressionError and leaves the generator untouched. When the sequence
// of the current millisecond is exhausted the call spins until the clock moves
// on.
func (g *Generator) NextID() (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if now < g.lastTimestamp {
		g.regressions.Add(1)
		return 0, &ClockRegressionError{Last: g.lastTimestamp, Now: now}
	}

	var sequence int64
	if now == g.lastTimestamp {
		sequence = (g.sequence + 1) & g.dec.Layout.MaxSequence()
		if sequence == 0 {
			g.exhausted.Add(1)
			now = g.waitNextMilli(g.lastTimestamp)
		}
	}

	delta := now - g.dec.Epoch
	if delta < 0 || delta > g.dec.Layout.maxDelta() {
		return 0, fmt.Errorf("%w: %d ms since epoch", ErrTimestampOutOfRange, delta)
	}

	g.lastTimestamp = now
	g.sequence = sequence
	g.generated.Add(1)

	return delta<<g.dec.Layout.timestampShift() |
		g.nodeID<<g.dec.Layout.nodeShift() |
		sequence, nil
}

// waitNextMilli busy-polls until the clock passes last. The exhaustion window
// is below a millisecond, a timer sleep would overshoot it.
func (g *Generator) waitNextMilli(last int64) int64 {
	now := g.clock()
	for now <= last {
		runtime.Gosched()
		now = g.clock()
	}
	return now
}

func (g *Generator) NodeID() int64 {
	return g.nodeID
}

func (g *Generator) Layout() Layout {
	return g.dec.Layout
}

// Epoch returns the custom epoch in unix milliseconds.
func (g *Generator) Epoch() int64 {
	return g.dec.Epoch
}

func (g *Generator) Decoder() Decoder {
	return g.dec
}

func (g *Generator) ExtractTimestamp(id int64) int64 { return g.dec.ExtractTimestamp(id) }
func (g *Generator) ExtractNodeID(id int64) int64    { return g.dec.ExtractNodeID(id) }
func (g *Generator) ExtractSequence(id int64) int64  { return g.dec.ExtractSequence(id) }
func (g *Generator) Decode(id int64) Parts           { return g.dec.Decode(id) }

func (g *Generator) Stats() Stats {
	return Stats{
		Generated:         g.generated.Load(),
		ClockRegressions:  g.regressions.Load(),
		SequenceExhausted: g.exhausted.Load(),
	}
}
