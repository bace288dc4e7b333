package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/triekv/triekv/internal/handler"
	"github.com/triekv/triekv/internal/metrics"
	"github.com/triekv/triekv/internal/protocol"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StoreServerConfig holds configuration for the TCP store server
type StoreServerConfig struct {
	Host              string
	Port              int
	MaxConnections    int
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxLineBytes      int
	RequestsPerSecond float64
	Burst             int
}

// StoreServer accepts TCP connections and serves the line protocol. Every
// connection runs in its own goroutine and shares one command handler.
type StoreServer struct {
	config   *StoreServerConfig
	handler  *handler.CommandHandler
	metrics  *metrics.Metrics
	logger   *zap.Logger
	listener net.Listener

	readyCh  chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	connWg   sync.WaitGroup

	mu        sync.Mutex
	isStarted bool
	conns     map[net.Conn]struct{}
}

// NewStoreServer creates a new store server. m may be nil.
func NewStoreServer(cfg *StoreServerConfig, h *handler.CommandHandler, m *metrics.Metrics, logger *zap.Logger) *StoreServer {
	return &StoreServer{
		config:  cfg,
		handler: h,
		metrics: m,
		logger:  logger.With(zap.String("component", "store_server")),
		readyCh: make(chan struct{}),
		quit:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds the configured address and runs the accept loop
func (s *StoreServer) ListenAndServe() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve runs the accept loop on lis. It blocks until Stop is called or the
// listener fails.
func (s *StoreServer) Serve(lis net.Listener) error {
	s.mu.Lock()
	if s.isStarted {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	s.listener = lis
	s.isStarted = true
	s.mu.Unlock()
	close(s.readyCh)

	s.logger.Info("Store server listening", zap.String("address", lis.Addr().String()))

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				s.logger.Info("Server shutting down, stopping accept loop")
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("Failed to accept connection", zap.Error(err))
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		if !s.track(conn) {
			s.reject(conn)
			continue
		}

		s.connWg.Add(1)
		go s.handleConnection(conn)
	}
}

// Ready is closed once the listener is bound
func (s *StoreServer) Ready() <-chan struct{} {
	return s.readyCh
}

// Addr returns the listener address, nil before Serve
func (s *StoreServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of open client connections
func (s *StoreServer) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// MaxConnections returns the configured connection limit
func (s *StoreServer) MaxConnections() int {
	return s.config.MaxConnections
}

// Stop stops accepting connections and lets in-flight commands finish.
// Idle connections are interrupted right away; connections still busy when
// ctx expires are closed forcibly.
func (s *StoreServer) Stop(ctx context.Context) error {
	s.quitOnce.Do(func() { close(s.quit) })

	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	// Wake readers blocked waiting for the next line.
	for conn := range s.conns {
		_ = conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.logger.Info("Waiting for active connections to drain")

	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All connections closed, store server stopped")
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		forced := len(s.conns)
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		<-done
		s.logger.Warn("Forced connections closed at shutdown", zap.Int("connections", forced))
		return fmt.Errorf("shutdown timed out, closed %d connections: %w", forced, ctx.Err())
	}
}

func (s *StoreServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config.MaxConnections > 0 && len(s.conns) >= s.config.MaxConnections {
		return false
	}
	s.conns[conn] = struct{}{}
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
	return true
}

func (s *StoreServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
}

// reject answers a connection over the limit and closes it
func (s *StoreServer) reject(conn net.Conn) {
	defer conn.Close()
	if s.metrics != nil {
		s.metrics.RecordRejectedConnection()
	}
	s.logger.Warn("Rejecting connection, server is full",
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.Int("max_connections", s.config.MaxConnections))

	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = io.WriteString(conn, protocol.ErrorPrefix+" server busy\n")
}

func (s *StoreServer) handleConnection(conn net.Conn) {
	defer s.connWg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	logger := s.logger.With(
		zap.String("conn_id", uuid.NewString()),
		zap.String("remote_addr", conn.RemoteAddr().String()))
	logger.Debug("Accepted new connection")

	scanner := bufio.NewScanner(conn)
	maxLine := s.config.MaxLineBytes
	if maxLine <= 0 {
		maxLine = bufio.MaxScanTokenSize
	}
	initial := 4096
	if maxLine < initial {
		initial = maxLine
	}
	scanner.Buffer(make([]byte, 0, initial), maxLine)
	writer := bufio.NewWriter(conn)

	var limiter *rate.Limiter
	if s.config.RequestsPerSecond > 0 {
		burst := s.config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		// The deadline is set before checking quit so that Stop, which closes
		// quit first, always has the last word on the deadline.
		if s.config.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		} else {
			_ = conn.SetReadDeadline(time.Time{})
		}
		select {
		case <-s.quit:
			return
		default:
		}

		if !scanner.Scan() {
			err := scanner.Err()
			switch {
			case err == nil, errors.Is(err, net.ErrClosed):
				logger.Debug("Connection closed by peer")
			case errors.Is(err, bufio.ErrTooLong):
				logger.Warn("Request line too long, closing connection", zap.Int("max_line_bytes", maxLine))
				_ = s.writeLine(conn, writer, protocol.ErrorPrefix+" request line too long")
				// Drain what is left of the line so the close is not a reset.
				_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
				_, _ = io.CopyN(io.Discard, conn, 1<<20)
			default:
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					logger.Debug("Connection idle, closing")
				} else {
					logger.Warn("Failed to read request, closing connection", zap.Error(err))
				}
			}
			return
		}
		line := scanner.Text()

		if limiter != nil && !limiter.Allow() {
			if s.metrics != nil {
				s.metrics.RecordRateLimited()
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		res := s.handler.Handle(ctx, line)
		if err := s.writeLine(conn, writer, res.Reply); err != nil {
			logger.Warn("Failed to write reply, closing connection", zap.Error(err))
			return
		}
		if res.Close {
			logger.Debug("Client requested exit")
			return
		}
	}
}

func (s *StoreServer) writeLine(conn net.Conn, w *bufio.Writer, line string) error {
	if s.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			return err
		}
	}
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	if err := w.WriteByte(protocol.Terminator); err != nil {
		return err
	}
	return w.Flush()
}
