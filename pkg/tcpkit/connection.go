package tcpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// pollInterval is the readiness-polling grain of Read and Write. It bounds
// how quickly a connection notices that its owning server has stopped, and
// it is the resolution with which read timeouts are honored.
const pollInterval = 100 * time.Millisecond

// Connection owns one established TCP socket. It offers timeout-bounded
// reads and writes of arbitrary size, looping over partial transfers until
// the requested amount is moved, the deadline expires or the peer goes away.
//
// Reads and writes issued by a single caller are strictly sequential; the
// connection itself runs no goroutines. A Connection is created already
// active and transitions to closed exactly once, never back.
//
// Server-side connections carry a reference to the server's running flag;
// handlers are expected to check IsActive or IsParentRunning periodically so
// that Server.Stop can complete.
type Connection struct {
	conn   net.Conn
	local  Endpoint
	remote Endpoint

	// parent is the owning server's running flag, nil for client-side
	// connections.
	parent *atomic.Bool

	closed    atomic.Bool
	closeOnce sync.Once

	logger *slog.Logger
}

func newConnection(conn net.Conn, local, remote Endpoint, parent *atomic.Bool, logger *slog.Logger) *Connection {
	c := &Connection{
		conn:   conn,
		local:  local,
		remote: remote,
		parent: parent,
		logger: logger,
	}

	c.logger.Info("created TCP connection", "remoteIp", remote.IP, "remotePort", remote.Port)
	if remote.Name != "" {
		c.logger.Info("remote endpoint name resolved", "remoteName", remote.Name)
	}

	return c
}

// IsParentRunning reports whether the owning server is still running. It is
// always true for client-side connections, which have no parent.
func (c *Connection) IsParentRunning() bool {
	return c.parent == nil || c.parent.Load()
}

// IsActive reports whether the connection can still be used: the socket has
// not been closed and the owning server, if any, is still running.
func (c *Connection) IsActive() bool {
	return !c.closed.Load() && c.IsParentRunning()
}

// LocalEndpoint returns the endpoint of the local side of the connection.
func (c *Connection) LocalEndpoint() Endpoint {
	return c.local
}

// RemoteEndpoint returns the endpoint of the remote side of the connection.
func (c *Connection) RemoteEndpoint() Endpoint {
	return c.remote
}

// Read blocks until exactly size bytes have been received, the timeout
// expires or the connection becomes inactive, whichever comes first.
// A timeout of zero or less means wait forever.
//
// On ErrTimeout the connection stays open and the bytes received so far are
// returned alongside the error. Every other error closes the connection:
// ErrRemoteDisconnected when the peer shut down gracefully,
// ErrConnectionNotActive when the connection was already dead or the owning
// server stopped mid-call, or a wrapped platform error on a fatal fault.
func (c *Connection) Read(size int, timeout time.Duration) ([]byte, error) {
	return c.read(size, timeout, true)
}

// ReadUpTo blocks until at least one byte is available, then returns
// whatever a single receive produced, capped at size bytes. Timeout and
// error semantics match Read. Useful for callers that relay a byte stream
// without knowing message sizes in advance.
func (c *Connection) ReadUpTo(size int, timeout time.Duration) ([]byte, error) {
	return c.read(size, timeout, false)
}

func (c *Connection) read(size int, timeout time.Duration, exact bool) ([]byte, error) {
	if size < 0 {
		return nil, ErrInvalidArgument
	}

	if !c.IsActive() {
		c.logger.Error("read on inactive connection")
		c.Close()
		return nil, ErrConnectionNotActive
	}

	if size == 0 {
		return []byte{}, nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	buf := make([]byte, size)
	got := 0

	for c.IsParentRunning() {
		wait := pollInterval
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				c.logger.Debug("read timeout", "timeout", timeout, "received", got)
				return buf[:got], ErrTimeout
			}
			if left < wait {
				wait = left
			}
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			c.Close()
			return buf[:got], ErrConnectionNotActive
		}

		n, err := c.conn.Read(buf[got:])
		if n > 0 {
			got += n
			c.logger.Debug("read bytes", "count", n, "total", got)
			if got == size || !exact {
				return buf[:got], nil
			}
		}
		if err == nil {
			continue
		}

		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			// Poll tick elapsed without data; re-check the running flag
			// and the overall deadline.
		case errors.Is(err, io.EOF):
			c.logger.Info("remote endpoint disconnected, closing connection")
			c.Close()
			return buf[:got], ErrRemoteDisconnected
		case errors.Is(err, net.ErrClosed):
			c.Close()
			return buf[:got], ErrConnectionNotActive
		default:
			c.logger.Error("read failed, closing connection", "error", err)
			c.Close()
			return buf[:got], fmt.Errorf("read: %w", err)
		}
	}

	c.Close()
	return buf[:got], ErrConnectionNotActive
}

// Write blocks until all of p has been sent or a fatal condition occurs,
// looping over partial sends. Writing an empty slice is a no-op success.
//
// A send that transfers zero bytes on a live socket returns
// ErrWriteNoProgress. Fatal errors close the connection; transient
// conditions are retried internally and never surface.
func (c *Connection) Write(p []byte) error {
	if !c.IsActive() {
		c.logger.Error("write on inactive connection")
		c.Close()
		return ErrConnectionNotActive
	}

	written := 0
	for written < len(p) {
		if !c.IsParentRunning() {
			c.Close()
			return ErrConnectionNotActive
		}

		if err := c.conn.SetWriteDeadline(time.Now().Add(pollInterval)); err != nil {
			c.Close()
			return ErrConnectionNotActive
		}

		n, err := c.conn.Write(p[written:])
		written += n
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				c.Close()
				return ErrConnectionNotActive
			default:
				c.logger.Error("write failed, closing connection", "error", err)
				c.Close()
				return fmt.Errorf("write: %w", err)
			}
		}
		if n == 0 {
			c.logger.Warn("write made no progress")
			return ErrWriteNoProgress
		}
		c.logger.Debug("wrote bytes", "count", n, "total", written)
	}

	return nil
}

// Close releases the underlying socket. It is idempotent: every call after
// the first has no effect. Once closed, the connection never becomes active
// again.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.logger.Info("closing TCP connection", "remoteIp", c.remote.IP, "remotePort", c.remote.Port)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("error closing socket", "error", err)
		}
	})
}
