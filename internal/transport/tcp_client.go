package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

var (
	ErrUnavailable = errors.New("server unavailable")
	ErrRejected    = errors.New("request rejected")
)

// TCPClient speaks the TCPServer wire format. It is not safe for concurrent use.
type TCPClient struct {
	conn    net.Conn
	timeout time.Duration
}

func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*TCPClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewTCPClient(conn, timeout), nil
}

func NewTCPClient(conn net.Conn, timeout time.Duration) *TCPClient {
	return &TCPClient{conn: conn, timeout: timeout}
}

// NextIDs asks the server for n IDs.
func (c *TCPClient) NextIDs(n uint32) ([]int64, error) {
	if n == 0 || n > MaxFrameCount {
		return nil, fmt.Errorf("count must be in [1, %d]", MaxFrameCount)
	}

	var req [4]byte
	binary.LittleEndian.PutUint32(req[:], n)

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(req[:]); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	var status [1]byte
	if _, err := io.ReadFull(c.conn, status[:]); err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	switch status[0] {
	case StatusOK:
	case StatusUnavailable:
		return nil, ErrUnavailable
	case StatusRejected:
		return nil, ErrRejected
	default:
		return nil, fmt.Errorf("unexpected status 0x%02X", status[0])
	}

	body := make([]byte, 8*int(n))
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, fmt.Errorf("read ids: %w", err)
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(binary.LittleEndian.Uint64(body[8*i:]))
	}
	return ids, nil
}

func (c *TCPClient) Close() error {
	return c.conn.Close()
}
