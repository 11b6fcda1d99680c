package stamper

import "context"

// HeaderID is the record header carrying the decimal ID assigned to a record.
const HeaderID = "flakeid"

type Header struct {
	Key   string
	Value []byte
}

// Record is an input record after it was stamped with ID.
type Record struct {
	ID      int64
	Value   []byte
	Headers []Header
}

type Output interface {
	SendBatch(ctx context.Context, batch []Record) error
	Close(ctx context.Context) error
}
