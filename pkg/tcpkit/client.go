package tcpkit

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const defaultConnectTimeout = 10 * time.Second

// ClientConfig contains the construction parameters of a Client.
type ClientConfig struct {
	// Address of the server: an IPv4 literal or a hostname. May be left
	// empty and supplied to ConnectTo instead.
	Address string

	// Port of the server. May be left zero and supplied to ConnectTo.
	Port int

	// ConnectTimeout bounds connection establishment.
	// If 0, a default of 10 seconds is used.
	ConnectTimeout time.Duration

	// Logger receives the client's structured log output.
	// If nil, logging is disabled.
	Logger *slog.Logger
}

// Client owns at most one outbound Connection and forwards reads and writes
// to it with state guards. It performs no automatic reconnection: once the
// connection dies, the caller decides whether to Connect again.
type Client struct {
	config ClientConfig
	logger *slog.Logger

	mu      sync.Mutex
	conn    *Connection
	running atomic.Bool
}

// NewClient creates a client from cfg. The client does not connect yet;
// call Connect or ConnectTo.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	c := &Client{
		config: cfg,
		logger: cfg.Logger,
	}

	c.logger.Info("created TCP client", "serverAddress", cfg.Address, "serverPort", cfg.Port)
	return c
}

// Connect establishes a connection to the configured address and port.
// See ConnectTo.
func (c *Client) Connect() error {
	return c.ConnectTo(c.config.Address, c.config.Port)
}

// ConnectTo resolves address, establishes a TCP connection to it and wraps
// it in a Connection. Returns ErrClientRunning if the client is already
// connected, ErrInvalidArgument when the address cannot be resolved to an
// IPv4 address or the port is out of range, and ErrConnect when the dial
// itself fails.
func (c *Client) ConnectTo(address string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		c.logger.Error("failed to connect: client is already connected")
		return ErrClientRunning
	}

	if port < 0 || port > 65535 {
		c.logger.Error("failed to connect: invalid port", "port", port)
		return ErrInvalidArgument
	}

	ip := AddressToIP(address)
	if ip == "" {
		c.logger.Error("failed to resolve address", "address", address)
		return ErrInvalidArgument
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	netConn, err := dialer.Dial("tcp4", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		c.logger.Error("failed to connect to server", "ip", ip, "port", port, "error", err)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	local := LocalEndpoint(netConn)
	remote := RemoteEndpoint(netConn.RemoteAddr())
	c.conn = newConnection(netConn, local, remote, nil, c.logger)
	c.running.Store(true)

	c.logger.Info("connected to server", "ip", ip, "port", port)
	return nil
}

// Disconnect closes the connection if one is present. Safe to call when not
// connected, and safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return
	}

	c.running.Store(false)
	c.conn.Close()
	c.conn = nil
	c.logger.Info("disconnected from server")
}

// IsConnected reports whether the client currently holds a connection.
func (c *Client) IsConnected() bool {
	return c.running.Load()
}

// Read forwards to Connection.Read on the current connection. Returns
// ErrClientDisconnected when the client is not connected.
func (c *Client) Read(size int, timeout time.Duration) ([]byte, error) {
	conn := c.connection()
	if conn == nil {
		return nil, ErrClientDisconnected
	}

	return conn.Read(size, timeout)
}

// ReadUpTo forwards to Connection.ReadUpTo on the current connection.
// Returns ErrClientDisconnected when the client is not connected.
func (c *Client) ReadUpTo(size int, timeout time.Duration) ([]byte, error) {
	conn := c.connection()
	if conn == nil {
		return nil, ErrClientDisconnected
	}

	return conn.ReadUpTo(size, timeout)
}

// Write forwards to Connection.Write on the current connection. Returns
// ErrClientDisconnected when the client is not connected.
func (c *Client) Write(p []byte) error {
	conn := c.connection()
	if conn == nil {
		return ErrClientDisconnected
	}

	return conn.Write(p)
}

// LocalEndpoint returns the local endpoint of the current connection, or an
// empty Endpoint when not connected.
func (c *Client) LocalEndpoint() Endpoint {
	conn := c.connection()
	if conn == nil {
		return Endpoint{}
	}

	return conn.LocalEndpoint()
}

// RemoteEndpoint returns the remote endpoint of the current connection, or
// an empty Endpoint when not connected.
func (c *Client) RemoteEndpoint() Endpoint {
	conn := c.connection()
	if conn == nil {
		return Endpoint{}
	}

	return conn.RemoteEndpoint()
}

// connection snapshots the current connection without holding the lock
// across I/O, so that Disconnect stays callable while a read is in flight.
func (c *Client) connection() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running.Load() {
		return nil
	}
	return c.conn
}
