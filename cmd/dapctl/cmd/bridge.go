package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cherrylink/dapfw/pkg/serialbridge"
	"github.com/spf13/cobra"
)

var (
	bridgeHostPath string
	bridgeAuxPath  string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Run the auxiliary UART bridge between two serial ports",
	Long: `bridge opens two termios serial ports (via goserial) and shuttles bytes
between them in both directions, the dev-harness stand-in for the probe's
CDC-ACM auxiliary UART function. Runs until interrupted.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeHostPath, "host", "", "host-facing serial device (required)")
	bridgeCmd.Flags().StringVar(&bridgeAuxPath, "aux", "", "target-facing serial device (required)")
	bridgeCmd.MarkFlagRequired("host")
	bridgeCmd.MarkFlagRequired("aux")
}

func runBridge(cobraCmd *cobra.Command, args []string) error {
	host, err := serialbridge.OpenHostPort(bridgeHostPath, 100*time.Millisecond)
	if err != nil {
		return err
	}
	defer host.Close()

	aux, err := serialbridge.OpenHostPort(bridgeAuxPath, 100*time.Millisecond)
	if err != nil {
		return err
	}
	defer aux.Close()

	b := serialbridge.New(host, aux)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Printf("bridging %s <-> %s (Ctrl-C to stop)\n", bridgeHostPath, bridgeAuxPath)
	err = b.Run(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
