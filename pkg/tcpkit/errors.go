package tcpkit

import "errors"

var (
	// ErrInvalidArgument is returned when an operation receives a bad port,
	// an unresolvable address or a negative read size.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSocket is returned when the listening socket cannot be created.
	ErrSocket = errors.New("failed to create socket")

	// ErrBind is returned when the listening socket cannot be bound to its port.
	ErrBind = errors.New("failed to bind socket")

	// ErrConnect is returned when an outbound connection attempt fails.
	ErrConnect = errors.New("failed to connect")

	// ErrServerRunning is returned by Server.Start when the server is already running.
	ErrServerRunning = errors.New("server already running")

	// ErrClientRunning is returned by Client.Connect when the client is already connected.
	ErrClientRunning = errors.New("client already connected")

	// ErrClientDisconnected is returned by Client operations that require an
	// established connection.
	ErrClientDisconnected = errors.New("client not connected")

	// ErrConnectionNotActive is returned by Connection operations once the
	// connection has been closed or its owning server has stopped.
	ErrConnectionNotActive = errors.New("connection not active")

	// ErrTimeout is returned when an operation makes no progress within its
	// deadline. The connection stays open.
	ErrTimeout = errors.New("operation timed out")

	// ErrRemoteDisconnected is returned exactly once when the peer closes its
	// side of the connection gracefully.
	ErrRemoteDisconnected = errors.New("remote endpoint disconnected")

	// ErrWriteNoProgress is returned when a send call transfers zero bytes on
	// a live socket.
	ErrWriteNoProgress = errors.New("write made no progress")
)
