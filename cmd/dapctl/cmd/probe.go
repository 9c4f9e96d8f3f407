package cmd

import (
	"fmt"

	"github.com/cherrylink/dapfw/pkg/dap"
	"github.com/cherrylink/dapfw/pkg/usbio"
	"github.com/spf13/cobra"
)

var (
	probeVID uint16
	probePID uint16
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Exercise a real CMSIS-DAP device for differential testing",
	Long: `probe opens a real CMSIS-DAP device over USB (via gousb) and runs the same
Connect/Info handshake "serve" runs against the in-process simulator, so the
two can be diffed by hand against a physical adapter during bring-up.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().Uint16Var(&probeVID, "vid", 0x2E8A, "USB vendor ID")
	probeCmd.Flags().Uint16Var(&probePID, "pid", 0x000C, "USB product ID")
}

func runProbe(cobraCmd *cobra.Command, args []string) error {
	c, err := usbio.OpenClient(probeVID, probePID)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer c.Close()

	exchange := func(label string, req []byte) error {
		resp, err := c.WriteRead(req)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		fmt.Printf("%-18s req=% X resp=% X\n", label, req, resp)
		return nil
	}

	steps := []struct {
		label string
		req   []byte
	}{
		{"Connect(SWD)", []byte{dap.CmdConnect, dap.PortSWD}},
		{"Info(FwVersion)", []byte{dap.CmdInfo, dap.InfoFirmwareVersion}},
		{"Info(Capabilities)", []byte{dap.CmdInfo, dap.InfoCapabilities}},
		{"Disconnect", []byte{dap.CmdDisconnect}},
	}
	for _, s := range steps {
		if err := exchange(s.label, s.req); err != nil {
			return err
		}
	}
	return nil
}
