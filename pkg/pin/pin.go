// Package pin abstracts the probe's debug pins and its optional SPI
// accelerator behind a small, side-effect-scoped contract so the SWD and
// JTAG engines never touch hardware registers directly.
package pin

import "fmt"

// Pin names a logical debug-connector signal. SWDIO and TMS are the same
// physical wire in SWD vs. JTAG mode, but the driver exposes the output
// drive and the input sense halves separately because the probe's pin cell
// wires them to different GPIO cells.
type Pin uint8

const (
	TCK      Pin = iota // shared with JTAG TCK
	TDI                 // JTAG data in; unused in SWD
	TDO                 // JTAG data out; unused in SWD
	SWDIOOut            // SWDIO/TMS output-drive half
	SWDIOIn             // SWDIO/TMS input-sense half
	NRESET
	NTRST
)

func (p Pin) String() string {
	switch p {
	case TCK:
		return "TCK"
	case TDI:
		return "TDI"
	case TDO:
		return "TDO"
	case SWDIOOut:
		return "SWDIO_OUT"
	case SWDIOIn:
		return "SWDIO_IN"
	case NRESET:
		return "nRESET"
	case NTRST:
		return "nTRST"
	default:
		return fmt.Sprintf("Pin(%d)", uint8(p))
	}
}

// Mode selects how a pin cell is wired. Alt hands TCK and, depending on
// protocol, SWDIOOut (a byte-aligned SWD sequence) or TDI (a byte-aligned
// JTAG DR segment) to the SPI accelerator for a burst.
type Mode uint8

const (
	Out Mode = iota
	In
	Alt
)

// Level is a single-bit logic level.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Driver is the hardware contract the SWD and JTAG engines drive. Every
// method is O(1) and touches only the named pin; SetMode is the only call
// that may change anything other than a single bit's level, and even then it
// only reconfigures the one named pin.
//
// ConfigureSPI sets the accelerator's clock divisor, as resolved by
// clock.Resolve, before any SPIBurst call in the transaction.
//
// SPIBurst sends the 8 bits of out LSB-first at the last-configured divisor
// and returns the 8 bits sampled on the opposite edge. The caller must
// already have put TCK (and TDI for JTAG, or SWDIOOut for SWD) into Alt
// mode before calling it, and must restore the pins' normal modes
// afterwards.
type Driver interface {
	SetMode(p Pin, m Mode) error
	Write(p Pin, level Level) error
	Read(p Pin) (Level, error)
	ConfigureSPI(prescaler uint16) error
	SPIBurst(out byte) (byte, error)
}

// ErrUnsupportedMode is returned by drivers that don't implement a requested
// combination of pin and mode (e.g. Alt on a pin with no SPI routing).
type ErrUnsupportedMode struct {
	Pin  Pin
	Mode Mode
}

func (e ErrUnsupportedMode) Error() string {
	return fmt.Sprintf("pin: %s does not support mode %d", e.Pin, e.Mode)
}
