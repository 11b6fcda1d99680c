package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhukov-alex/flakeid/internal/idservice"
	"github.com/zhukov-alex/flakeid/internal/snowflake"
)

// Wire format: the client sends a 4-byte little-endian count, the server
// answers with one status byte and, on StatusOK, count little-endian int64 IDs.
const (
	StatusOK          byte = 0x00
	StatusUnavailable byte = 0x01 // clock regression, retry later
	StatusRejected    byte = 0x02 // count above the service batch limit or other failure

	// MaxFrameCount caps the count field; larger frames close the connection.
	MaxFrameCount = 1 << 16
)

var countBufPool = sync.Pool{
	New: func() any { return make([]byte, 4) },
}

var replyBufPool = sync.Pool{
	New: func() any { return make([]byte, 1+8*1024) },
}

type TCPServer struct {
	cfg     *TCPConfig
	metrics *tcpMetrics
	wg      sync.WaitGroup
	logger  *zap.Logger

	// mu guards the fields below; Close may run before or during Serve.
	mu        sync.Mutex
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
	closeOnce sync.Once
}

func NewTCPServer(logger *zap.Logger, cfg *TCPConfig, registerMetrics bool) *TCPServer {
	return &TCPServer{
		cfg:     cfg,
		metrics: initTCPMetrics(registerMetrics),
		logger:  logger,
	}
}

// Serve returns nil right away when Close already ran.
func (s *TCPServer) Serve(ctx context.Context, svc idservice.Service) error {
	listener, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return listener.Close()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	connCtx := s.ctx
	s.mu.Unlock()

	sem := make(chan struct{}, s.cfg.MaxConnections)
	s.logger.Info("TCP server started", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || connCtx.Err() != nil {
				return nil
			}

			s.logger.Error("tcp accept failed", zap.Error(err))
			s.metrics.incError()
			continue
		}

		select {
		case sem <- struct{}{}:
			s.wg.Add(1)
			go func(c net.Conn) {
				defer func() {
					<-sem
					s.wg.Done()
				}()
				s.handleTCPConn(c, svc)
			}(conn)
		default:
			s.logger.Warn("too many connections - rejecting client")
			conn.Close()
		}
	}
}

func (s *TCPServer) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("TCPServer shutting down...")

		s.mu.Lock()
		s.closed = true
		if s.cancel != nil {
			s.cancel()
		}
		if s.listener != nil {
			err = s.listener.Close()
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("TCPServer shutdown complete")
		case <-ctx.Done():
			err = ctx.Err()
			s.logger.Warn("TCPServer shutdown timeout", zap.Error(err))
		}
	})
	return err
}

func (s *TCPServer) handleTCPConn(conn net.Conn, svc idservice.Service) {
	defer conn.Close()

	logger := s.logger.With(zap.String("method", "handleTCPConn"))

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("context canceled - closing connection")
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		countBuf := countBufPool.Get().([]byte)
		_, err := io.ReadFull(conn, countBuf)
		count := binary.LittleEndian.Uint32(countBuf)
		countBufPool.Put(countBuf)

		if err != nil {
			if os.IsTimeout(err) {
				logger.Warn("timeout reading request")
			} else if err != io.EOF {
				logger.Error("read request error", zap.Error(err))
			}
			if err != io.EOF {
				s.metrics.incError()
			}
			return
		}

		if count == 0 || count > MaxFrameCount {
			logger.Warn("invalid request count", zap.Uint32("count", count))
			s.metrics.incError()
			return
		}

		startRequest := time.Now()

		ids, err := svc.NextIDs(s.ctx, int(count))
		if err != nil {
			logger.Warn("mint failed", zap.Uint32("count", count), zap.Error(err))
			s.metrics.incError()
			if !s.writeReply(conn, []byte{statusFor(err)}) {
				return
			}
			continue
		}

		raw := replyBufPool.Get().([]byte)
		size := 1 + 8*len(ids)
		if cap(raw) < size {
			raw = make([]byte, size)
		}
		reply := raw[:size]
		reply[0] = StatusOK
		for i, id := range ids {
			binary.LittleEndian.PutUint64(reply[1+8*i:], uint64(id))
		}

		ok := s.writeReply(conn, reply)
		replyBufPool.Put(raw)
		if !ok {
			return
		}

		s.metrics.requestLatency.Observe(time.Since(startRequest).Seconds())
	}
}

func (s *TCPServer) writeReply(conn net.Conn, reply []byte) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(1 * time.Second))
	if _, err := conn.Write(reply); err != nil {
		s.logger.Error("failed to write reply", zap.Error(err))
		s.metrics.incError()
		return false
	}
	return true
}

func statusFor(err error) byte {
	if errors.Is(err, snowflake.ErrClockRegression) {
		return StatusUnavailable
	}
	return StatusRejected
}
