package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/tcpkit/pkg/tcpkit"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		port       int
		maxConn    int
		maxPending int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a TCP echo server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			server := tcpkit.NewServer(tcpkit.ServerConfig{
				Port:                  port,
				MaxConnections:        maxConn,
				MaxPendingConnections: maxPending,
				Logger:                logger,
			})
			server.SetConnectionHandler(echo)

			if err := server.Start(); err != nil {
				return fmt.Errorf("starting server: %w", err)
			}
			fmt.Printf("Echo server listening on %s\n", server.Address())

			// Block until SIGINT/SIGTERM, then shut down cooperatively.
			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			sig := <-signals
			logger.Info("received signal, shutting down", "signal", sig.String())

			server.Stop()
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on (0 = ephemeral)")
	cmd.Flags().IntVar(&maxConn, "max-conn", 100, "maximum concurrent connections")
	cmd.Flags().IntVar(&maxPending, "max-pending", 10, "listen backlog size")
	return cmd
}

// echo relays every byte it receives back to the peer until the connection
// dies or the server stops.
func echo(conn *tcpkit.Connection) {
	for conn.IsActive() {
		data, err := conn.ReadUpTo(4096, time.Second)
		if errors.Is(err, tcpkit.ErrTimeout) {
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
