package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var verboseFlag bool

// NewRootCmd builds the tcpkit command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tcpkit",
		Short: "TCP echo utilities built on the tcpkit library",
	}

	root.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(),
		newSendCmd(),
	)
	return root
}

// newLogger builds the slog logger shared by all subcommands.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verboseFlag {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
