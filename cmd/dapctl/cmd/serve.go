package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cherrylink/dapfw/pkg/dap"
	"github.com/cherrylink/dapfw/pkg/pin"
	"github.com/cherrylink/dapfw/pkg/platform"
	"github.com/cherrylink/dapfw/pkg/usbio"
	"github.com/spf13/cobra"
)

var serveDuration time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatcher against the built-in target simulator",
	Long: `serve wires up the request dispatcher, a pin.Sim target simulator, and the
usbio Rx/Worker/Tx pipeline behind a LoopbackTransport, then runs a short
Connect/Info/Disconnect handshake against it — a smoke test for the core
without any real USB or debug hardware attached.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().DurationVar(&serveDuration, "for", 2*time.Second, "upper bound on how long the pipeline runs; it stops once the handshake completes")
}

func bootEpoch() uint32 {
	return uint32(time.Now().UnixMicro())
}

func monotonicMicros(epoch uint32) func() uint32 {
	return func() uint32 {
		return uint32(time.Now().UnixMicro()) - epoch
	}
}

func runServe(cobraCmd *cobra.Command, args []string) error {
	sim := pin.NewSim()
	epoch := bootEpoch()
	d := dap.New(sim, platform.NewFake(), monotonicMicros(epoch))

	lb := usbio.NewLoopbackTransport()
	runner := usbio.NewRunner(lb, d)

	ctx, cancel := context.WithTimeout(context.Background(), serveDuration)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	exchange := func(label string, req []byte) {
		lb.Send(req)
		resp := lb.Recv()
		fmt.Printf("%-18s req=% X resp=% X\n", label, req, resp)
	}

	exchange("Connect(SWD)", []byte{dap.CmdConnect, dap.PortSWD})
	exchange("Info(FwVersion)", []byte{dap.CmdInfo, dap.InfoFirmwareVersion})
	exchange("Info(Capabilities)", []byte{dap.CmdInfo, dap.InfoCapabilities})
	exchange("Disconnect", []byte{dap.CmdDisconnect})

	cancel()
	lb.Close()
	if err := <-runErr; err != nil &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
