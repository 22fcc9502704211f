// Package tcpkit provides a small TCP server/client/connection library with
// bounded-concurrency connection handling, timeout-bounded partial I/O and
// cooperative shutdown.
//
// Main components:
//
//   - Server — owns the listening socket, caps concurrently handled
//     connections with a counting semaphore and dispatches one goroutine per
//     accepted connection.
//   - Connection — owns one established socket; exposes exact-size reads and
//     complete writes that loop over partial transfers, bounded by timeouts.
//   - Client — wraps zero or one outbound Connection with state guards.
//   - Endpoint — descriptive record of one side of a connection (IP, port,
//     optional reverse-DNS name).
//
// All blocking calls poll in short intervals rather than blocking
// indefinitely, so a server shutdown is observed by in-flight reads and
// writes within one polling interval. Shutdown is cooperative: handlers are
// expected to check Connection.IsActive and return; nothing is interrupted
// forcibly.
//
// All fallible operations report outcomes as error values (matched with
// errors.Is); the library never panics at runtime. The only exception is
// NewServer, which panics on invalid configuration — a programmer error.
//
// Server usage:
//
//	server := tcpkit.NewServer(tcpkit.ServerConfig{
//	    Port:           8080,
//	    MaxConnections: 100,
//	    Logger:         logger,
//	})
//	server.SetConnectionHandler(func(conn *tcpkit.Connection) {
//	    for conn.IsActive() {
//	        data, err := conn.ReadUpTo(4096, time.Second)
//	        if errors.Is(err, tcpkit.ErrTimeout) {
//	            continue
//	        }
//	        if err != nil {
//	            return
//	        }
//	        if err := conn.Write(data); err != nil {
//	            return
//	        }
//	    }
//	})
//	if err := server.Start(); err != nil {
//	    log.Fatal(err)
//	}
//	// ...
//	server.Stop() // joins the accept loop and all handlers
//
// Client usage:
//
//	client := tcpkit.NewClient(tcpkit.ClientConfig{Address: "localhost", Port: 8080})
//	if err := client.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect()
//
//	if err := client.Write([]byte("ping")); err != nil {
//	    log.Fatal(err)
//	}
//	reply, err := client.Read(4, 5*time.Second)
//
// Logging goes through an injected *slog.Logger and is disabled by default.
package tcpkit
