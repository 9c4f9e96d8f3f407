package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cherrylink/dapfw/pkg/dap"
	"github.com/cherrylink/dapfw/pkg/usbio"
	"github.com/spf13/cobra"
)

var (
	chainIR  string
	chainVID uint16
	chainPID uint16
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Configure and scan a JTAG chain's IDCODEs on a real device",
	Long: `chain sends JTAG_Configure with the given per-device IR lengths, then issues
JTAG_IDCODE against each chain position in turn, printing the discovered
IDCODEs.

Examples:
  dapctl chain --ir 4,5           # two devices, IR lengths 4 and 5`,
	RunE: runChain,
}

func init() {
	rootCmd.AddCommand(chainCmd)
	chainCmd.Flags().StringVar(&chainIR, "ir", "", "comma-separated IR lengths, one per device (required)")
	chainCmd.Flags().Uint16Var(&chainVID, "vid", 0x2E8A, "USB vendor ID")
	chainCmd.Flags().Uint16Var(&chainPID, "pid", 0x000C, "USB product ID")
	chainCmd.MarkFlagRequired("ir")
}

func parseIRLengths(s string) ([]uint8, error) {
	fields := strings.Split(s, ",")
	lengths := make([]uint8, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(strings.TrimSpace(f), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid IR length %q: %w", f, err)
		}
		lengths = append(lengths, uint8(n))
	}
	return lengths, nil
}

func runChain(cobraCmd *cobra.Command, args []string) error {
	lengths, err := parseIRLengths(chainIR)
	if err != nil {
		return err
	}

	c, err := usbio.OpenClient(chainVID, chainPID)
	if err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	defer c.Close()

	if _, err := c.WriteRead([]byte{dap.CmdConnect, dap.PortJTAG}); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	configReq := append([]byte{dap.CmdJTAGConfigure, uint8(len(lengths))}, lengths...)
	if _, err := c.WriteRead(configReq); err != nil {
		return fmt.Errorf("JTAG_Configure: %w", err)
	}

	for i := range lengths {
		resp, err := c.WriteRead([]byte{dap.CmdJTAGIDCODE, uint8(i)})
		if err != nil {
			return fmt.Errorf("JTAG_IDCODE[%d]: %w", i, err)
		}
		if len(resp) < 6 || resp[1] != dap.DAPOK {
			fmt.Printf("device %d: IDCODE read failed (%#v)\n", i, resp)
			continue
		}
		id := uint32(resp[2]) | uint32(resp[3])<<8 | uint32(resp[4])<<16 | uint32(resp[5])<<24
		fmt.Printf("device %d: IDCODE=0x%08X\n", i, id)
	}
	return nil
}
