package dap

import (
	"testing"

	"github.com/cherrylink/dapfw/pkg/pin"
	"github.com/cherrylink/dapfw/pkg/platform"
	"github.com/cherrylink/dapfw/pkg/transfer"
)

func newTestDispatcher() (*Dispatcher, *pin.Sim) {
	sim := pin.NewSim()
	return New(sim, platform.NewFake(), nil), sim
}

func TestSWDSequenceScenario(t *testing.T) {
	d, sim := newTestDispatcher()

	req := []byte{CmdSWDSequence, 0x01, 0x17, 0xAA, 0xAA, 0xAA}
	resp := d.Dispatch(req)

	want := []byte{CmdSWDSequence, DAPOK}
	if len(resp) != len(want) || resp[0] != want[0] || resp[1] != want[1] {
		t.Fatalf("resp = %#v, want %#v", resp, want)
	}
	// 23 bits = 2 whole bytes through the SPI accelerator, plus a 7-bit
	// bit-banged tail (3 Writes per bit: SWDIOOut, TCK low, TCK high).
	payload := []byte{0xAA, 0xAA, 0xAA}
	if len(sim.SPIBursts) != 2 || sim.SPIBursts[0] != payload[0] || sim.SPIBursts[1] != payload[1] {
		t.Fatalf("SPIBursts = %#v, want %#v", sim.SPIBursts, payload[:2])
	}
	var swdioLevels []pin.Level
	for _, w := range sim.Writes {
		if w.Pin == pin.SWDIOOut {
			swdioLevels = append(swdioLevels, w.Level)
		}
	}
	if len(swdioLevels) != 7 {
		t.Fatalf("got %d tail SWDIO writes, want 7", len(swdioLevels))
	}
	for i, lvl := range swdioLevels {
		bit := 16 + i
		want := payload[bit/8]>>uint(bit%8)&1 != 0
		if bool(lvl) != want {
			t.Fatalf("tail bit %d = %v, want %v", i, lvl, want)
		}
	}
}

func TestExecuteCommandsBatching(t *testing.T) {
	d, _ := newTestDispatcher()
	req := []byte{CmdExecuteCommands, 0x02, CmdInfo, InfoVendor, CmdInfo, InfoProduct}
	resp := d.Dispatch(req)

	want := []byte{CmdExecuteCommands, 0x02, CmdInfo, 0x00, CmdInfo, 0x00}
	if len(resp) != len(want) {
		t.Fatalf("resp = %#v, want %#v", resp, want)
	}
	for i := range want {
		if resp[i] != want[i] {
			t.Fatalf("resp[%d] = %#x, want %#x", i, resp[i], want[i])
		}
	}
}

func TestExecuteCommandsZeroCount(t *testing.T) {
	d, _ := newTestDispatcher()
	resp := d.Dispatch([]byte{CmdExecuteCommands, 0x00})
	want := []byte{CmdExecuteCommands, 0x00}
	if len(resp) != 2 || resp[0] != want[0] || resp[1] != want[1] {
		t.Fatalf("resp = %#v, want %#v", resp, want)
	}
}

func TestInfoPacketSizeInvariantUnderClockChange(t *testing.T) {
	d, _ := newTestDispatcher()

	clockReq := make([]byte, 6)
	clockReq[0] = CmdSWJClock
	clockReq[1] = 0x00
	clockReq[2] = 0x00
	clockReq[3] = 0x20
	clockReq[4] = 0x00
	d.Dispatch(clockReq)

	resp := d.Dispatch([]byte{CmdInfo, InfoPacketSize})
	if len(resp) != 4 {
		t.Fatalf("resp = %#v, want 4 bytes", resp)
	}
	got := uint16(resp[2]) | uint16(resp[3])<<8
	if got != PacketSize {
		t.Fatalf("packet size = %d, want %d", got, PacketSize)
	}
}

func TestConnectDisconnectConnectRoundTrip(t *testing.T) {
	d, _ := newTestDispatcher()
	d.Dispatch([]byte{CmdConnect, PortSWD})
	first := d.Session.SWD
	d.Dispatch([]byte{CmdDisconnect})
	d.Dispatch([]byte{CmdConnect, PortSWD})
	if d.Session.SWD != first {
		t.Fatalf("SWD config drifted across connect/disconnect/connect: %+v vs %+v", d.Session.SWD, first)
	}
}

func TestUnknownCommandReturnsInvalid(t *testing.T) {
	d, _ := newTestDispatcher()
	resp := d.Dispatch([]byte{0x7A})
	if len(resp) != 1 || resp[0] != CmdInvalid {
		t.Fatalf("resp = %#v, want [Invalid]", resp)
	}
}

func TestVendorUnimplementedSubCommandIsZeroLength(t *testing.T) {
	d, _ := newTestDispatcher()
	// CmdVendorFirst+2 has no reference handler (only Vendor0/Vendor1 are
	// wired to the bootloader escape hatch). Unlike an unknown top-level
	// command, this falls through with the echoed ID and no payload instead
	// of Invalid, and does not stop the batch.
	resp := d.Dispatch([]byte{CmdVendorFirst + 2})
	if len(resp) != 1 || resp[0] != CmdVendorFirst+2 {
		t.Fatalf("resp = %#v, want [CmdVendorFirst+2]", resp)
	}
}

func TestVendorUnimplementedSubCommandDoesNotStopBatch(t *testing.T) {
	d, _ := newTestDispatcher()
	req := []byte{CmdExecuteCommands, 0x02, CmdVendorFirst + 2, CmdInfo, InfoPacketSize}
	resp := d.Dispatch(req)
	want := []byte{CmdExecuteCommands, 0x02, CmdVendorFirst + 2, CmdInfo, 0x02, 0x40, 0x00}
	if len(resp) != len(want) {
		t.Fatalf("resp = %#v, want %#v", resp, want)
	}
	for i := range want {
		if resp[i] != want[i] {
			t.Fatalf("resp[%d] = %#x, want %#x", i, resp[i], want[i])
		}
	}
}

func TestVendorArmUpdateFlagSucceeds(t *testing.T) {
	d, _ := newTestDispatcher()
	resp := d.Dispatch([]byte{CmdVendorFirst})
	if len(resp) != 2 || resp[0] != CmdVendorFirst || resp[1] != DAPOK {
		t.Fatalf("resp = %#v, want [Vendor0, OK]", resp)
	}
}

// alwaysOKDriver answers every SWDIO sense with bits that decode to ACK=OK
// and a fixed, parity-correct data word, letting a Transfer command run
// end-to-end through the dispatcher without hand-timing a bit queue.
type alwaysOKDriver struct {
	data  uint32
	bits  []bool
	modes map[pin.Pin]pin.Mode
}

func newAlwaysOKDriver(data uint32) *alwaysOKDriver {
	var bits []bool
	bits = append(bits, true, false, false) // ACK=OK (0b001), LSB-first
	for i := 0; i < 32; i++ {
		bits = append(bits, data>>uint(i)&1 != 0)
	}
	bits = append(bits, parity32Bit(data))
	return &alwaysOKDriver{data: data, bits: bits, modes: make(map[pin.Pin]pin.Mode)}
}

func parity32Bit(v uint32) bool {
	p := v
	p ^= p >> 16
	p ^= p >> 8
	p ^= p >> 4
	p ^= p >> 2
	p ^= p >> 1
	return p&1 != 0
}

func (a *alwaysOKDriver) SetMode(p pin.Pin, m pin.Mode) error {
	a.modes[p] = m
	return nil
}

func (a *alwaysOKDriver) Write(p pin.Pin, level pin.Level) error { return nil }

func (a *alwaysOKDriver) Read(p pin.Pin) (pin.Level, error) {
	if p != pin.SWDIOIn || len(a.bits) == 0 {
		return pin.Low, nil
	}
	b := a.bits[0]
	a.bits = a.bits[1:]
	// Recycle the same scripted transaction for every subsequent read, so a
	// batch with more than one wire transaction (e.g. the RDBUFF drain)
	// keeps seeing a well-formed OK response.
	a.bits = append(a.bits, b)
	return pin.Level(b), nil
}

func (a *alwaysOKDriver) ConfigureSPI(prescaler uint16) error { return nil }

func (a *alwaysOKDriver) SPIBurst(out byte) (byte, error) { return 0, nil }

func TestTransferRecoversAfterAbort(t *testing.T) {
	drv := newAlwaysOKDriver(0xCAFEBABE)
	d := New(drv, platform.NewFake(), nil)

	// Simulate a TransferAbort having landed before this request, the way
	// usbio.Runner's rxLoop would set it out-of-band.
	d.Abort.Store(true)

	// A single DP write (APnDP=0, RnW=0): no posted-read drain, so the
	// response shape is just [id, Executed, LastAck].
	req := []byte{CmdTransfer, 0x00, 0x01, 0x00, 0xEF, 0xBE, 0xAD, 0xDE}
	resp := d.Dispatch(req)

	want := []byte{CmdTransfer, 0x01, transfer.AckOK}
	if len(resp) != len(want) || resp[0] != want[0] || resp[1] != want[1] || resp[2] != want[2] {
		t.Fatalf("resp = %#v, want %#v (a fully executed transfer despite a stale abort)", resp, want)
	}
	if d.Abort.Load() {
		t.Fatalf("Abort still set after handleTransfer; a later TransferAbort would be stuck forever")
	}
}

func TestTransferBlockRecoversAfterAbort(t *testing.T) {
	drv := newAlwaysOKDriver(0xCAFEBABE)
	d := New(drv, platform.NewFake(), nil)
	d.Abort.Store(true)

	// A single-word DP write block (RnW=0): response is [id, CountCompleted
	// (u16), LastAck], no read data.
	req := []byte{CmdTransferBlock, 0x00, 0x01, 0x00, 0x00, 0xEF, 0xBE, 0xAD, 0xDE}
	resp := d.Dispatch(req)

	if len(resp) != 1+2+1 {
		t.Fatalf("resp = %#v, want a fully executed transfer block despite a stale abort", resp)
	}
	if resp[0] != CmdTransferBlock {
		t.Fatalf("resp[0] = %#x, want CmdTransferBlock echo", resp[0])
	}
	countCompleted := uint16(resp[1]) | uint16(resp[2])<<8
	if countCompleted != 1 {
		t.Fatalf("CountCompleted = %d, want 1", countCompleted)
	}
	if resp[3] != transfer.AckOK {
		t.Fatalf("LastAck = %#x, want OK", resp[3])
	}
	if d.Abort.Load() {
		t.Fatalf("Abort still set after handleTransferBlock")
	}
}

func TestTransferPostedAPReadScenario(t *testing.T) {
	drv := newAlwaysOKDriver(0xCAFEBABE)
	d := New(drv, platform.NewFake(), nil)

	req := []byte{CmdTransfer, 0x00, 0x01, 0x03 /* APnDP|RnW */}
	resp := d.Dispatch(req)

	if len(resp) != 1+2+4 {
		t.Fatalf("resp len = %d, want 7: %#v", len(resp), resp)
	}
	if resp[0] != CmdTransfer || resp[1] != 0x01 /* executed count */ {
		t.Fatalf("resp header = %#v", resp[:2])
	}
}
