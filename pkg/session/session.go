// Package session holds the process-wide debug-probe state shared by every
// command handler: the selected wire port, transfer configuration, SWD/JTAG
// line settings, and the scan-chain descriptor.
package session

// Port names the currently selected wire protocol.
type Port uint8

const (
	Disabled Port = iota
	SWD
	JTAG
)

// TransferConfig is carried across every DAP_Transfer / DAP_TransferBlock
// call until the host changes it with TransferConfigure.
type TransferConfig struct {
	IdleCycles uint8
	RetryCount uint16
	MatchRetry uint16
	MatchMask  uint32
}

// SWDConfig is the session's current SWD line configuration.
type SWDConfig struct {
	Turnaround      uint8 // clock cycles, [1,4]
	DataPhaseAlways bool
}

// Chain describes a configured JTAG scan chain. IRBefore/IRAfter are
// derived cumulative bit counts: IRBefore[i]+IRLength[i]+IRAfter[i] is
// constant across all i (invariant #2 of the data model).
type Chain struct {
	Count         uint8
	SelectedIndex uint8
	IRLength      []uint8
	IRBefore      []uint16
	IRAfter       []uint16
}

// Configure derives IRBefore/IRAfter from a list of per-device IR lengths,
// in chain order (device at TDO has index 0).
func (c *Chain) Configure(irLengths []uint8) {
	n := len(irLengths)
	c.Count = uint8(n)
	c.SelectedIndex = 0
	c.IRLength = append([]uint8(nil), irLengths...)
	c.IRBefore = make([]uint16, n)
	c.IRAfter = make([]uint16, n)

	total := uint16(0)
	for _, l := range irLengths {
		total += uint16(l)
	}
	before := uint16(0)
	for i, l := range irLengths {
		c.IRBefore[i] = before
		before += uint16(l)
		c.IRAfter[i] = total - before
	}
}

// State is the process-wide session. It is mutated exclusively by the
// dispatcher's worker; no other goroutine touches it (the cross-goroutine
// abort flag is dap.Dispatcher.Abort, not a State field).
type State struct {
	Port     Port
	SpeedKHz uint32

	Transfer TransferConfig
	SWD      SWDConfig
	Chain    Chain

	// PinsNeedReconfig is set after raw pin-manipulation commands (SWJ_Pins)
	// that may have left pin modes inconsistent, and cleared when Connect or
	// Disconnect reinitializes the port. The wire engines do not read it, so
	// no pin configuration is reapplied on its account.
	PinsNeedReconfig bool
}

// New returns a State with the reference firmware's boot-time defaults.
func New() *State {
	return &State{
		Port:             SWD,
		SpeedKHz:         1000,
		PinsNeedReconfig: true,
		Transfer: TransferConfig{
			IdleCycles: 0,
			RetryCount: 100,
		},
		SWD: SWDConfig{
			Turnaround:      1,
			DataPhaseAlways: false,
		},
	}
}
