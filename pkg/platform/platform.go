// Package platform is the narrow collaborator interface for board-level
// concerns the protocol core never implements itself: battery-backed
// storage for the bootloader sentinel, and a system reset. Board bring-up,
// clocks, and LEDs are out of scope; only the two primitives the vendor
// command range needs are modeled here.
package platform

// BootloaderSentinel is the backup-register value that tells the next boot
// to jump to the firmware updater instead of the application.
const BootloaderSentinel uint16 = 0xB007

// Platform is implemented once per board. Reset never returns on real
// hardware; the Fake implementation below records the call instead so tests
// can assert on it.
type Platform interface {
	WriteBackup(value uint16)
	ReadBackup() uint16
	Reset()
}

// Fake is an in-memory Platform for tests and the dev-harness server.
type Fake struct {
	backup     uint16
	ResetCount int
}

// NewFake returns a Fake platform with a zeroed backup register.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) WriteBackup(value uint16) { f.backup = value }
func (f *Fake) ReadBackup() uint16       { return f.backup }
func (f *Fake) Reset()                   { f.ResetCount++ }
