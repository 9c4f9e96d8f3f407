// Package dap implements the CMSIS-DAP request dispatcher: it parses
// incoming command packets, invokes per-command handlers against session
// state and the wire engines, and writes responses.
package dap

// Command IDs, a closed enumerated set.
const (
	CmdInfo              = 0x00
	CmdHostStatus        = 0x01
	CmdConnect           = 0x02
	CmdDisconnect        = 0x03
	CmdTransferConfigure = 0x04
	CmdTransfer          = 0x05
	CmdTransferBlock     = 0x06
	CmdTransferAbort     = 0x07
	CmdWriteABORT        = 0x08
	CmdDelay             = 0x09
	CmdResetTarget       = 0x0A
	CmdSWJPins           = 0x10
	CmdSWJClock          = 0x11
	CmdSWJSequence       = 0x12
	CmdSWDConfigure      = 0x13
	CmdJTAGSequence      = 0x14
	CmdJTAGConfigure     = 0x15
	CmdJTAGIDCODE        = 0x16
	CmdSWDSequence       = 0x1D
	CmdExecuteCommands   = 0x7F
	CmdVendorFirst       = 0x80
	CmdVendorLast        = 0x9F
	CmdInvalid           = 0xFF
)

// DAP_Info IDs.
const (
	InfoVendor          = 0x01
	InfoProduct         = 0x02
	InfoSerialNumber    = 0x03
	InfoFirmwareVersion = 0x04
	InfoDeviceVendor    = 0x05
	InfoDeviceName      = 0x06
	InfoCapabilities    = 0xF0
	InfoTimestampClock  = 0xF1
	InfoPacketSize      = 0xFF
	InfoPacketCount     = 0xFE
)

// DAP_HostStatus status IDs.
const (
	StatusConnected = 0x00
	StatusRunning   = 0x01
)

// DAP_Connect port selectors.
const (
	PortAutoDetect = 0x00
	PortDisabled   = 0x00
	PortSWD        = 0x01
	PortJTAG       = 0x02
)

// General ACK byte values shared by the simple (non-Transfer) commands.
const (
	DAPOK    = 0x00
	DAPError = 0xFF
)

// PacketSize is the probe's CMSIS-DAP USB transfer size. The reference
// firmware runs full-speed (64 bytes); high-speed (512) devices would set
// this at build time, but the protocol core itself only ever treats it
// symbolically.
const PacketSize = 64

// PacketCount is the number of outstanding request buffers the Transport
// layer's pool holds, echoed verbatim by DAP_Info.
const PacketCount = 4

// FirmwareVersion is returned by DAP_Info(FirmwareVersion) as a
// NUL-terminated ASCII string.
const FirmwareVersion = "2.1.0"
