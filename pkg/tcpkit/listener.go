package tcpkit

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenIPv4 creates an AF_INET listening socket bound to the wildcard
// address on the given port, with an explicit accept backlog. The socket is
// handed over to the runtime network poller, so the returned listener
// behaves like any other *net.TCPListener.
//
// net.Listen offers no control over the listen(2) backlog, which is why the
// socket is assembled by hand here.
func listenIPv4(port, backlog int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}
	unix.CloseOnExec(fd)

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}

	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrBind, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}

	// The fd must be non-blocking before the runtime poller adopts it.
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}

	file := os.NewFile(uintptr(fd), "tcpkit-listener")
	listener, err := net.FileListener(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSocket, err)
	}

	return listener, nil
}
