package cmd

import (
	"fmt"
	"os"

	"github.com/cherrylink/dapfw/pkg/pin"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "dapctl",
	Short: "Dev/bring-up CLI for the CMSIS-DAP probe core",
	Long: `dapctl exercises the probe core from a development host: it can run the
in-process dispatcher against a built-in target simulator, talk to a real
CMSIS-DAP device for differential testing, walk a JTAG chain, or run the
auxiliary UART bridge.

Examples:
  dapctl serve                         # smoke-test the dispatcher against the built-in simulator
  dapctl probe --vid 0x2e8a --pid 0x000c  # talk to a real CMSIS-DAP device
  dapctl chain --ir 4,5                # scan a real device's JTAG chain IDCODEs
  dapctl bridge --host /dev/ttyUSB0 --aux /dev/ttyUSB1`,
	Version: "0.1.0",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	// Registers periph.io's host drivers (sysfs GPIO, FTDI, ...) up front so
	// any subcommand that builds a pin.Periph bring-up backend can open
	// GPIO/SPI handles by name without a separate init step. A host with no
	// supported drivers (e.g. a CI container) is not fatal here — only a
	// later Periph pin lookup would be.
	if err := pin.InitHost(); err != nil && verbose {
		fmt.Fprintf(os.Stderr, "dapctl: periph host init: %v\n", err)
	}
}
