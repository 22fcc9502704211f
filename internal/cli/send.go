package cli

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/example/tcpkit/pkg/tcpkit"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	var (
		toFlag   string
		dataFlag string
		waitFlag time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a payload to host:port and print the echoed reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, portStr, err := net.SplitHostPort(toFlag)
			if err != nil {
				return fmt.Errorf("bad --to: %w", err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("bad --to port: %w", err)
			}

			client := tcpkit.NewClient(tcpkit.ClientConfig{Logger: newLogger()})
			if err := client.ConnectTo(host, port); err != nil {
				return err
			}
			defer client.Disconnect()

			payload := []byte(dataFlag)
			if err := client.Write(payload); err != nil {
				return err
			}

			reply, err := client.Read(len(payload), waitFlag)
			if err != nil {
				return err
			}
			fmt.Println(string(reply))
			return nil
		},
	}

	cmd.Flags().StringVar(&toFlag, "to", "", "target host:port (required)")
	cmd.Flags().StringVar(&dataFlag, "data", "ping", "payload to send")
	cmd.Flags().DurationVar(&waitFlag, "wait", 5*time.Second, "how long to wait for the reply")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
