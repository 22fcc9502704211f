package tcpkit

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// echoHandler relays everything it reads back to the peer until the
// connection dies or the server stops.
func echoHandler(conn *Connection) {
	for conn.IsActive() {
		data, err := conn.ReadUpTo(4096, 250*time.Millisecond)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			return
		}
		if err := conn.Write(data); err != nil {
			return
		}
	}
}

func startEchoServer(t *testing.T, maxConnections int) *Server {
	t.Helper()

	server := NewServer(ServerConfig{
		MaxConnections: maxConnections,
		Logger:         testLogger(),
	})
	if !server.SetConnectionHandler(echoHandler) {
		t.Fatal("Failed to set connection handler")
	}
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Stop)

	return server
}

// TestServerStartStop verifies repeated start/stop cycles and idempotent stop.
func TestServerStartStop(t *testing.T) {
	server := NewServer(ServerConfig{
		MaxConnections: 10,
		Logger:         testLogger(),
	})

	for i := 0; i < 3; i++ {
		if server.IsRunning() {
			t.Fatal("Server should not be running before start")
		}

		if err := server.Start(); err != nil {
			t.Fatalf("Failed to start server: %v", err)
		}
		if !server.IsRunning() {
			t.Fatal("Server should be running after start")
		}
		if server.Port() == 0 {
			t.Fatal("Server should report its bound port")
		}

		server.Stop()
		if server.IsRunning() {
			t.Fatal("Server should not be running after stop")
		}

		// Stopping again must be a no-op.
		server.Stop()
		if server.IsRunning() {
			t.Fatal("Server should stay stopped after second stop")
		}
	}
}

func TestServerDoubleStart(t *testing.T) {
	server := NewServer(ServerConfig{Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	if err := server.Start(); !errors.Is(err, ErrServerRunning) {
		t.Errorf("Expected ErrServerRunning, got %v", err)
	}
	if !server.IsRunning() {
		t.Error("Server should still be running after rejected start")
	}
}

func TestServerInvalidPort(t *testing.T) {
	server := NewServer(ServerConfig{Logger: testLogger()})

	if err := server.StartOn(-50000); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got %v", err)
	}
	if server.IsRunning() {
		t.Error("Server should not be running after rejected start")
	}
}

func TestServerConnectionHandlerRegistration(t *testing.T) {
	server := NewServer(ServerConfig{Logger: testLogger()})

	if !server.SetConnectionHandler(echoHandler) {
		t.Fatal("First handler registration should succeed")
	}
	if server.SetConnectionHandler(echoHandler) {
		t.Error("Second handler registration should fail")
	}

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	if server.SetConnectionHandler(echoHandler) {
		t.Error("Handler registration should fail while the server is running")
	}
}

func TestServerInvalidConfiguration(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for negative MaxConnections")
		}
	}()

	NewServer(ServerConfig{MaxConnections: -1})
}

// TestServerEcho verifies a simple request/response round trip against a
// raw client socket.
func TestServerEcho(t *testing.T) {
	server := startEchoServer(t, 10)

	conn, err := net.Dial("tcp4", fmt.Sprintf("127.0.0.1:%d", server.Port()))
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	defer conn.Close()

	payload := []byte("Hello, server!")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	received := make([]byte, len(payload))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(conn, received); err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if !bytes.Equal(received, payload) {
		t.Errorf("Expected %q, got %q", payload, received)
	}
}

// TestServerEchoRoundTripSizes runs the echo round trip through the tcpkit
// Client for payloads from empty up to well beyond the socket buffers.
func TestServerEchoRoundTripSizes(t *testing.T) {
	server := startEchoServer(t, 4)

	for _, size := range []int{0, 1, 4096, 900000} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i % 253)
		}

		client := NewClient(ClientConfig{Logger: testLogger()})
		if err := client.ConnectTo("127.0.0.1", server.Port()); err != nil {
			t.Fatalf("size %d: failed to connect: %v", size, err)
		}

		writeErr := make(chan error, 1)
		go func() {
			writeErr <- client.Write(payload)
		}()

		received, err := client.Read(size, 20*time.Second)
		if err != nil {
			t.Fatalf("size %d: read failed: %v", size, err)
		}
		if err := <-writeErr; err != nil {
			t.Fatalf("size %d: write failed: %v", size, err)
		}
		if !bytes.Equal(received, payload) {
			t.Errorf("size %d: echoed data does not match", size)
		}

		client.Disconnect()
	}
}

// TestServerAdmissionBound verifies that a burst of connection attempts
// never results in more than MaxConnections concurrently running handlers.
func TestServerAdmissionBound(t *testing.T) {
	const maxConnections = 2
	const burst = 5

	var active, maxActive atomic.Int64
	release := make(chan struct{})

	server := NewServer(ServerConfig{
		MaxConnections: maxConnections,
		Logger:         testLogger(),
	})
	server.SetConnectionHandler(func(conn *Connection) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()
	defer close(release)

	for i := 0; i < burst; i++ {
		conn, err := net.Dial("tcp4", fmt.Sprintf("127.0.0.1:%d", server.Port()))
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		defer conn.Close()
	}

	waitFor(t, 2*time.Second, func() bool {
		return active.Load() == maxConnections
	}, "Handlers did not reach the admission limit")

	// Give the accept loop a chance to overshoot if it were going to.
	time.Sleep(500 * time.Millisecond)

	if got := maxActive.Load(); got > maxConnections {
		t.Errorf("Expected at most %d concurrent handlers, saw %d", maxConnections, got)
	}
	if got := server.ConnectionCount(); got > maxConnections {
		t.Errorf("Expected at most %d tracked connections, got %d", maxConnections, got)
	}
}

// TestServerStopJoinsHandlers verifies that Stop returns only after
// cooperative handlers have observed the shutdown and exited.
func TestServerStopJoinsHandlers(t *testing.T) {
	started := make(chan struct{}, 1)

	server := NewServer(ServerConfig{
		MaxConnections: 10,
		Logger:         testLogger(),
	})
	server.SetConnectionHandler(func(conn *Connection) {
		started <- struct{}{}
		for conn.IsParentRunning() {
			time.Sleep(20 * time.Millisecond)
		}
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	conn, err := net.Dial("tcp4", fmt.Sprintf("127.0.0.1:%d", server.Port()))
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for handler to start")
	}

	server.Stop()

	if server.ConnectionCount() != 0 {
		t.Errorf("Expected 0 connections after stop, got %d", server.ConnectionCount())
	}
	if server.IsRunning() {
		t.Error("Server should not be running after stop")
	}
}

// TestServerHandlerPanic verifies that a panicking handler neither kills
// the server nor leaks its admission slot.
func TestServerHandlerPanic(t *testing.T) {
	server := NewServer(ServerConfig{
		MaxConnections: 1,
		Logger:         testLogger(),
	})
	server.SetConnectionHandler(func(conn *Connection) {
		if _, err := conn.Read(1, 2*time.Second); err != nil {
			return
		}
		panic("handler failure")
	})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp4", fmt.Sprintf("127.0.0.1:%d", server.Port()))
		if err != nil {
			t.Fatalf("Failed to connect: %v", err)
		}
		if _, err := conn.Write([]byte("x")); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}

		waitFor(t, 2*time.Second, func() bool {
			return server.ConnectionCount() == 0
		}, "Connection was not cleaned up after handler panic")
		conn.Close()
	}

	if !server.IsRunning() {
		t.Error("Server should survive a panicking handler")
	}
}
