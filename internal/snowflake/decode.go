package snowflake

import "time"

// Decoder reverses the bit packing of a layout. Decoding never fails: a value
// that was not minted with the same layout and epoch decodes to meaningless
// but well-defined numbers.
type Decoder struct {
	Layout Layout
	Epoch  int64 // unix ms
}

// Parts is the decoded view of an ID.
type Parts struct {
	ID        int64
	Timestamp int64 // unix ms
	NodeID    int64
	Sequence  int64
}

func (p Parts) Time() time.Time {
	return time.UnixMilli(p.Timestamp).UTC()
}

var defaultDecoder = Decoder{Layout: DefaultLayout, Epoch: DefaultEpoch}

func NewDecoder(layout Layout, epoch time.Time) Decoder {
	return Decoder{Layout: layout, Epoch: epoch.UnixMilli()}
}

// ExtractTimestamp returns the unix millisecond timestamp the ID was minted at.
func (d Decoder) ExtractTimestamp(id int64) int64 {
	return (id >> d.Layout.timestampShift()) + d.Epoch
}

func (d Decoder) ExtractNodeID(id int64) int64 {
	return (id >> d.Layout.nodeShift()) & d.Layout.MaxNodeID()
}

func (d Decoder) ExtractSequence(id int64) int64 {
	return id & d.Layout.MaxSequence()
}

func (d Decoder) Decode(id int64) Parts {
	return Parts{
		ID:        id,
		Timestamp: d.ExtractTimestamp(id),
		NodeID:    d.ExtractNodeID(id),
		Sequence:  d.ExtractSequence(id),
	}
}

// ExtractTimestamp decodes with DefaultLayout and DefaultEpoch.
func ExtractTimestamp(id int64) int64 { return defaultDecoder.ExtractTimestamp(id) }

// ExtractNodeID decodes with DefaultLayout.
func ExtractNodeID(id int64) int64 { return defaultDecoder.ExtractNodeID(id) }

// ExtractSequence decodes with DefaultLayout.
func ExtractSequence(id int64) int64 { return defaultDecoder.ExtractSequence(id) }

// Decode decodes with DefaultLayout and DefaultEpoch.
func Decode(id int64) Parts { return defaultDecoder.Decode(id) }
