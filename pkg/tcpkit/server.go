package tcpkit

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConnections        = 1
	defaultMaxPendingConnections = 10

	// acceptPollInterval is the grain with which the accept loop polls the
	// listening socket, and therefore the worst-case delay before the loop
	// notices Stop.
	acceptPollInterval = 250 * time.Millisecond

	// startupTimeout bounds how long Start waits for the accept loop to
	// reach its ready state.
	startupTimeout = time.Second
)

// ConnectionHandler is the per-connection callback dispatched by the server.
// It runs in its own goroutine and owns the connection until it returns; the
// server closes the connection afterwards. Handlers are expected to check
// Connection.IsActive (or IsParentRunning) periodically so that Server.Stop
// can complete.
type ConnectionHandler func(*Connection)

// ServerConfig contains the construction parameters of a Server.
type ServerConfig struct {
	// Port to listen on. 0 picks an ephemeral port (see Server.Port);
	// it may also be supplied later via StartOn. Negative ports are
	// rejected at start time.
	Port int

	// MaxConnections bounds the number of concurrently handled
	// connections. Must be at least 1; 0 means the default of 1.
	MaxConnections int

	// MaxPendingConnections is the listen(2) backlog. Must not be
	// negative; 0 means the default of 10.
	MaxPendingConnections int

	// Logger receives the server's structured log output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Server owns a listening TCP socket and dispatches one handler goroutine
// per accepted connection. A counting semaphore caps the number of
// concurrently handled connections at MaxConnections; when the cap is
// reached, further peers wait in the kernel backlog.
//
// A Server may be started and stopped repeatedly, but not started while
// already running.
type Server struct {
	config ServerConfig
	logger *slog.Logger

	// mu guards start/stop transitions, the handler and the listener.
	mu       sync.Mutex
	handler  ConnectionHandler
	listener net.Listener
	port     int

	// running is flipped by Start/Stop and read concurrently by the accept
	// loop and every server-side connection.
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	// sem is the admission-control semaphore: one slot per concurrently
	// handled connection, acquired before accept and released after the
	// handler returns.
	sem *semaphore.Weighted

	acceptWg  sync.WaitGroup
	connWg    sync.WaitGroup
	connCount atomic.Int64
}

// NewServer creates a server from cfg. It panics if MaxConnections or
// MaxPendingConnections violate their preconditions; these are programmer
// errors, not runtime conditions.
func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if cfg.MaxConnections < 1 {
		panic("tcpkit: MaxConnections cannot be less than 1")
	}
	if cfg.MaxPendingConnections == 0 {
		cfg.MaxPendingConnections = defaultMaxPendingConnections
	}
	if cfg.MaxPendingConnections < 0 {
		panic("tcpkit: MaxPendingConnections cannot be less than 0")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConnections)),
	}

	s.logger.Info("created TCP server",
		"maxConnections", cfg.MaxConnections,
		"maxPendingConnections", cfg.MaxPendingConnections)

	return s
}

// SetConnectionHandler registers the per-connection callback. It reports
// false if the server is currently running or a handler is already set: the
// handler is fixed for the server's lifetime.
func (s *Server) SetConnectionHandler(handler ConnectionHandler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() || s.handler != nil || handler == nil {
		return false
	}

	s.handler = handler
	return true
}

// Start starts the server on the configured port. See StartOn.
func (s *Server) Start() error {
	return s.StartOn(s.config.Port)
}

// StartOn creates the listening socket on the given port, spawns the accept
// loop and blocks until the loop signals readiness. Returns ErrServerRunning
// if the server is already started, ErrInvalidArgument for a negative port,
// ErrSocket/ErrBind when the listening socket cannot be set up, and
// ErrTimeout if the accept loop fails to come up within a second (the server
// is left stopped in that case).
func (s *Server) StartOn(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		s.logger.Error("failed to start: server is already running")
		return ErrServerRunning
	}

	if port < 0 {
		s.logger.Error("failed to start: invalid port", "port", port)
		return ErrInvalidArgument
	}

	listener, err := listenIPv4(port, s.config.MaxPendingConnections)
	if err != nil {
		s.logger.Error("failed to create listening socket", "port", port, "error", err)
		return err
	}

	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running.Store(true)

	ready := make(chan struct{})
	s.acceptWg.Add(1)
	go s.acceptLoop(ready)

	select {
	case <-ready:
	case <-time.After(startupTimeout):
		s.logger.Error("timeout waiting for accept loop startup")
		s.running.Store(false)
		s.cancel()
		s.acceptWg.Wait()
		s.listener = nil
		return ErrTimeout
	}

	s.logger.Info("TCP server started", "port", s.port)
	return nil
}

// Stop flips the running flag, then joins the accept loop and every
// outstanding handler goroutine before returning. How long that takes is
// bounded only by how promptly in-flight handlers observe the flag.
// Stopping a stopped server is a no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	s.logger.Info("stopping TCP server")
	s.running.Store(false)
	s.cancel()
	s.acceptWg.Wait()
	s.connWg.Wait()
	s.listener = nil
	s.logger.Info("TCP server stopped")
}

// IsRunning reports whether the server is currently started.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// Port returns the port the server is bound to. Useful after starting on
// port 0, which picks an ephemeral port. Returns 0 when the server has
// never been started.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Address returns the listen address of the server, or an empty string when
// it is not running.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ConnectionCount returns the number of currently handled connections.
func (s *Server) ConnectionCount() int64 {
	return s.connCount.Load()
}

// acceptLoop acquires an admission slot, then polls the listening socket
// until a peer connects, re-checking the running flag at every turn. The
// slot travels with the dispatched handler and is released when the handler
// returns; if the loop winds down while still holding it, it is returned
// here.
func (s *Server) acceptLoop(ready chan<- struct{}) {
	defer s.acceptWg.Done()
	defer s.listener.Close()

	close(ready)
	s.logger.Info("accept loop started")

	for s.running.Load() {
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			break
		}

		if !s.acceptOne() {
			s.sem.Release(1)
		}
	}

	s.logger.Info("accept loop stopped")
}

// acceptOne polls for an incoming connection and dispatches its handler.
// Reports whether the admission slot was handed off.
func (s *Server) acceptOne() bool {
	listener := s.listener.(*net.TCPListener)

	for s.running.Load() {
		listener.SetDeadline(time.Now().Add(acceptPollInterval))

		conn, err := listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return false
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.logger.Debug("incoming TCP connection", "remote", conn.RemoteAddr().String())
		s.dispatch(conn)
		return true
	}

	return false
}

// dispatch resolves the endpoints of the accepted socket and runs the
// handler in a fresh goroutine. The admission slot is released when the
// handler returns, no matter how — including a panicking handler.
func (s *Server) dispatch(conn net.Conn) {
	local := LocalEndpoint(conn)
	remote := RemoteEndpoint(conn.RemoteAddr())
	connection := newConnection(conn, local, remote, &s.running, s.logger)

	handler := s.handler
	s.connWg.Add(1)
	s.connCount.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("connection handler panicked", "panic", r)
			}
			connection.Close()
			s.connCount.Add(-1)
			s.sem.Release(1)
			s.connWg.Done()
		}()

		s.logger.Debug("connection handler started", "remoteIp", remote.IP)
		if handler != nil {
			handler(connection)
		}
		s.logger.Debug("connection handler finished", "remoteIp", remote.IP)
	}()
}
