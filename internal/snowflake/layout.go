package snowflake

import "fmt"

// Layout describes how the 63 usable bits of an ID are split between the
// timestamp delta, the node id and the per-millisecond sequence.
type Layout struct {
	TimestampBits uint8
	NodeBits      uint8
	SequenceBits  uint8
}

// DefaultLayout is the classic 41/10/12 Snowflake split.
var DefaultLayout = Layout{
	TimestampBits: 41,
	NodeBits:      10,
	SequenceBits:  12,
}

func (l Layout) Validate() error {
	if l.TimestampBits == 0 || l.NodeBits == 0 || l.SequenceBits == 0 {
		return fmt.Errorf("%w: layout bits must be > 0 (got %d/%d/%d)",
			ErrInvalidConfiguration, l.TimestampBits, l.NodeBits, l.SequenceBits)
	}
	if total := int(l.TimestampBits) + int(l.NodeBits) + int(l.SequenceBits); total > 63 {
		return fmt.Errorf("%w: layout uses %d bits, at most 63 allowed", ErrInvalidConfiguration, total)
	}
	return nil
}

// IsZero reports whether no bit widths were set.
func (l Layout) IsZero() bool {
	return l == Layout{}
}

func (l Layout) MaxNodeID() int64 {
	return mask(l.NodeBits)
}

func (l Layout) MaxSequence() int64 {
	return mask(l.SequenceBits)
}

func (l Layout) maxDelta() int64 {
	return mask(l.TimestampBits)
}

func (l Layout) nodeShift() uint8 {
	return l.SequenceBits
}

func (l Layout) timestampShift() uint8 {
	return l.NodeBits + l.SequenceBits
}

func mask(bits uint8) int64 {
	return -1 ^ (-1 << bits)
}
