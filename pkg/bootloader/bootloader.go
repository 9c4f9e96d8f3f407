// Package bootloader implements the reference vendor command set shared
// between the CMSIS-DAP core and the in-field firmware updater: arming the
// update sentinel and requesting the reset that hands control to it. The
// updater's own framing and state machine live entirely outside this
// repository's scope; this package only touches the escape hatch.
package bootloader

import "github.com/cherrylink/dapfw/pkg/platform"

// Vendor sub-command IDs within the dispatcher's 0x80..0x9F vendor range.
const (
	ArmUpdateFlag     uint8 = 0x00
	ResetToBootloader uint8 = 0x01
)

const (
	dapOK    = 0x00
	dapError = 0xFF
)

// Handle implements the reference vendor handler. It returns handled=false
// for sub-commands outside the reference set so the dispatcher can report
// the boundary-case ERROR-with-zero-length-response behavior itself.
func Handle(sub uint8, p platform.Platform) (ack uint8, handled bool) {
	switch sub {
	case ArmUpdateFlag:
		p.WriteBackup(platform.BootloaderSentinel)
		return dapOK, true
	case ResetToBootloader:
		if p.ReadBackup() != platform.BootloaderSentinel {
			return dapError, true
		}
		p.Reset()
		return dapOK, true
	default:
		return 0, false
	}
}
