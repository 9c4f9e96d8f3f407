package dap

import (
	"github.com/cherrylink/dapfw/pkg/bootloader"
	"github.com/cherrylink/dapfw/pkg/clock"
	"github.com/cherrylink/dapfw/pkg/pin"
	"github.com/cherrylink/dapfw/pkg/session"
	"github.com/cherrylink/dapfw/pkg/transfer"
)

func (d *Dispatcher) handleInfo(c *cursor) bool {
	id, ok := c.takeByte()
	if !ok {
		return false
	}
	switch id {
	case InfoFirmwareVersion:
		s := FirmwareVersion + "\x00"
		return c.putByte(uint8(len(s))) && c.putBytes([]byte(s))
	case InfoCapabilities:
		caps := uint8(1<<0 | 1<<1 | 1<<4) // SWD, JTAG, atomic commands
		if d.Now != nil {
			caps |= 1 << 5
		}
		return c.putByte(1) && c.putByte(caps)
	case InfoTimestampClock:
		if d.Now == nil {
			return c.putByte(0)
		}
		return c.putByte(4) && c.putU32(1000000)
	case InfoPacketSize:
		return c.putByte(2) && c.putU16(PacketSize)
	case InfoPacketCount:
		return c.putByte(1) && c.putByte(PacketCount)
	case InfoVendor, InfoProduct, InfoSerialNumber, InfoDeviceVendor, InfoDeviceName:
		return c.putByte(0)
	default:
		return c.putByte(0)
	}
}

func (d *Dispatcher) handleHostStatus(c *cursor) bool {
	status, ok := c.takeByte()
	if !ok {
		return false
	}
	if _, ok := c.takeByte(); !ok { // LED on/off byte; no LED collaborator in scope
		return false
	}
	switch status {
	case StatusConnected, StatusRunning:
		return c.putByte(DAPOK)
	default:
		return c.putByte(DAPError)
	}
}

func (d *Dispatcher) portInit(port session.Port) {
	d.Session.Port = port
	d.Session.PinsNeedReconfig = false
	switch port {
	case session.SWD:
		d.swdEngine.Configure(swdConfigFrom(d.Session))
	case session.JTAG:
		d.jtagEngine.Configure(jtagConfigFrom(d.Session))
		d.jtagWire.engine.ResetIRCache()
	}
	d.reconfigureOrchestrator()
}

func (d *Dispatcher) handleConnect(c *cursor) bool {
	port, ok := c.takeByte()
	if !ok {
		return false
	}
	if port == PortAutoDetect {
		port = PortSWD
	}
	switch port {
	case PortSWD:
		d.portInit(session.SWD)
	case PortJTAG:
		d.portInit(session.JTAG)
	default:
		port = PortDisabled
		d.portInit(session.Disabled)
	}
	return c.putByte(port)
}

func (d *Dispatcher) handleDisconnect(c *cursor) bool {
	d.portInit(session.Disabled)
	return c.putByte(DAPOK)
}

func (d *Dispatcher) handleTransferConfigure(c *cursor) bool {
	idle, ok := c.takeByte()
	if !ok {
		return false
	}
	retry, ok := c.takeU16()
	if !ok {
		return false
	}
	matchRetry, ok := c.takeU16()
	if !ok {
		return false
	}
	d.Session.Transfer.IdleCycles = idle
	// REDESIGN FLAG: clamp rather than the original's inverted max(), which
	// let a retry count below 255 fall back to 255 instead of being honored.
	d.Session.Transfer.RetryCount = minU16(retry, 65535)
	d.Session.Transfer.MatchRetry = minU16(matchRetry, 65535)
	d.swdEngine.Configure(swdConfigFrom(d.Session))
	d.jtagEngine.Configure(jtagConfigFrom(d.Session))
	d.reconfigureOrchestrator()
	return c.putByte(DAPOK)
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

func (d *Dispatcher) handleTransfer(c *cursor) bool {
	dapIndex, ok := c.takeByte()
	if !ok {
		return false
	}
	count, ok := c.takeByte()
	if !ok {
		return false
	}
	if int(dapIndex) < len(d.Session.Chain.IRLength) {
		d.Session.Chain.SelectedIndex = dapIndex
	}

	records, consumed := transfer.ParseRecords(c.req[c.reqPos:], int(count))
	c.reqPos += consumed

	// A prior TransferAbort only cancels the batch it interrupted; clear it
	// here so this worker-owned flag doesn't also cancel this new one.
	d.Abort.Store(false)
	res := d.orch.Transfer(records, &d.Abort)

	if !c.putByte(res.Executed) || !c.putByte(res.LastAck) {
		return false
	}
	for _, o := range res.Outcomes {
		if o.HaveData {
			if !c.putU32(o.Data) {
				return false
			}
		}
		if o.HaveTimestamp {
			if !c.putU32(o.Timestamp) {
				return false
			}
		}
	}
	return true
}

func (d *Dispatcher) handleTransferBlock(c *cursor) bool {
	dapIndex, ok := c.takeByte()
	if !ok {
		return false
	}
	count, ok := c.takeU16()
	if !ok {
		return false
	}
	nibble, ok := c.takeByte()
	if !ok {
		return false
	}
	if int(dapIndex) < len(d.Session.Chain.IRLength) {
		d.Session.Chain.SelectedIndex = dapIndex
	}

	var writeData []uint32
	rnw := nibble&transfer.FlagRnW != 0
	if !rnw {
		writeData = make([]uint32, count)
		for i := range writeData {
			v, ok := c.takeU32()
			if !ok {
				return false
			}
			writeData[i] = v
		}
	}

	// Same reset as handleTransfer: a stale abort from a previous batch must
	// not also cancel this one.
	d.Abort.Store(false)
	res := d.orch.TransferBlock(nibble, writeData, count, &d.Abort)

	if !c.putU16(res.CountCompleted) || !c.putByte(res.LastAck) {
		return false
	}
	for _, v := range res.ReadData {
		if !c.putU32(v) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) handleWriteABORT(c *cursor) bool {
	index, ok := c.takeByte()
	if !ok {
		return false
	}
	value, ok := c.takeU32()
	if !ok {
		return false
	}
	if d.Session.Port == session.JTAG {
		// Over JTAG the ABORT register has its own instruction (0x8).
		if int(index) >= len(d.Session.Chain.IRLength) {
			return c.putByte(DAPError)
		}
		d.Session.Chain.SelectedIndex = index
		pos := d.jtagWire.position()
		d.jtagEngine.IR(0x8, int(pos.IRLength), int(pos.IRBefore), int(pos.IRAfter))
		d.jtagWire.engine.ResetIRCache()
		d.jtagEngine.DR(0, value, int(pos.DevicesBefore), int(pos.DevicesAfter))
		return c.putByte(DAPOK)
	}
	if d.orch.WriteABORT(value) != transfer.AckOK {
		return c.putByte(DAPError)
	}
	return c.putByte(DAPOK)
}

func (d *Dispatcher) handleDelay(c *cursor) bool {
	us, ok := c.takeU16()
	if !ok {
		return false
	}
	d.delayMicros(uint32(us))
	return c.putByte(DAPOK)
}

func (d *Dispatcher) handleResetTarget(c *cursor) bool {
	return c.putByte(DAPOK) && c.putByte(0)
}

func (d *Dispatcher) handleSWJClock(c *cursor) bool {
	hz, ok := c.takeU32()
	if !ok {
		return false
	}
	khz := hz / 1000
	if khz == 0 {
		khz = 1000
	}
	d.Session.SpeedKHz = khz
	d.swdEngine.SetProfile(clock.Resolve(clock.SWD, khz))
	d.jtagEngine.SetProfile(clock.Resolve(clock.JTAG, khz))
	return c.putByte(DAPOK)
}

func (d *Dispatcher) handleSWJSequence(c *cursor) bool {
	bitLenByte, ok := c.takeByte()
	if !ok {
		return false
	}
	bitLen := int(bitLenByte)
	if bitLen == 0 {
		bitLen = 256
	}

	switch d.Session.Port {
	case session.SWD:
		nbytes := (bitLen + 7) / 8
		payload, ok := c.takeBytes(nbytes)
		if !ok {
			return false
		}
		d.swdEngine.SequenceOut(payload, bitLen)
		return c.putByte(DAPOK)
	case session.JTAG:
		if bitLen > 64 {
			bitLen = 64
		}
		nbytes := (bitLen + 7) / 8
		tms, ok := c.takeBytes(nbytes)
		if !ok {
			return false
		}
		tdi := make([]byte, nbytes)
		for i := range tdi {
			tdi[i] = 0xFF
		}
		d.jtagEngine.Raw(tms, tdi, bitLen)
		return c.putByte(DAPOK)
	default:
		nbytes := (bitLen + 7) / 8
		c.takeBytes(nbytes)
		return c.putByte(DAPError)
	}
}

func (d *Dispatcher) handleSWDConfigure(c *cursor) bool {
	cfg, ok := c.takeByte()
	if !ok {
		return false
	}
	d.Session.SWD.Turnaround = (cfg & 0x3) + 1
	d.Session.SWD.DataPhaseAlways = cfg&0x4 != 0
	d.swdEngine.Configure(swdConfigFrom(d.Session))
	return c.putByte(DAPOK)
}

func (d *Dispatcher) handleSWDSequence(c *cursor) bool {
	n, ok := c.takeByte()
	if !ok {
		return false
	}
	if !c.putByte(DAPOK) {
		return false
	}
	for i := uint8(0); i < n; i++ {
		ctrl, ok := c.takeByte()
		if !ok {
			return false
		}
		dirIn := ctrl&0x80 != 0
		bits := int(ctrl & 0x3F)
		if bits == 0 {
			bits = 64
		}
		nbytes := (bits + 7) / 8
		if dirIn {
			data := d.swdEngine.SequenceIn(bits)
			if !c.putBytes(data) {
				return false
			}
		} else {
			payload, ok := c.takeBytes(nbytes)
			if !ok {
				return false
			}
			d.swdEngine.SequenceOut(payload, bits)
		}
	}
	return true
}

func (d *Dispatcher) handleJTAGSequence(c *cursor) bool {
	n, ok := c.takeByte()
	if !ok {
		return false
	}
	if !c.putByte(DAPOK) {
		return false
	}
	for i := uint8(0); i < n; i++ {
		ctrl, ok := c.takeByte()
		if !ok {
			return false
		}
		tmsLevel := ctrl&0x40 != 0
		captureTDO := ctrl&0x80 != 0
		bits := int(ctrl & 0x3F)
		if bits == 0 {
			bits = 64
		}
		nbytes := (bits + 7) / 8
		tdiBytes, ok := c.takeBytes(nbytes)
		if !ok {
			return false
		}
		tmsBytes := make([]byte, nbytes)
		if tmsLevel {
			for i := range tmsBytes {
				tmsBytes[i] = 0xFF
			}
		}
		tdo := d.jtagEngine.Raw(tmsBytes, tdiBytes, bits)
		if captureTDO {
			if !c.putBytes(tdo) {
				return false
			}
		}
	}
	return true
}

func (d *Dispatcher) handleJTAGConfigure(c *cursor) bool {
	count, ok := c.takeByte()
	if !ok {
		return false
	}
	irLengths := make([]uint8, count)
	for i := range irLengths {
		l, ok := c.takeByte()
		if !ok {
			return false
		}
		irLengths[i] = l
	}
	d.Session.Chain.Configure(irLengths)
	d.jtagWire.engine.ResetIRCache()
	if !c.putByte(count) {
		return false
	}
	for _, l := range irLengths {
		if !c.putByte(l) {
			return false
		}
	}
	return true
}

// jtagIDCODEInstr is the standard JTAG IDCODE instruction, present in every
// ARM TAP's instruction set.
const jtagIDCODEInstr = 0xE

func (d *Dispatcher) handleJTAGIDCODE(c *cursor) bool {
	index, ok := c.takeByte()
	if !ok {
		return false
	}
	if int(index) >= len(d.Session.Chain.IRLength) {
		return c.putByte(DAPError)
	}
	d.Session.Chain.SelectedIndex = index
	pos := d.jtagWire.position()
	d.jtagEngine.IR(jtagIDCODEInstr, int(pos.IRLength), int(pos.IRBefore), int(pos.IRAfter))
	d.jtagWire.engine.ResetIRCache()
	_, id := d.jtagEngine.DR(0, 0, int(pos.DevicesBefore), int(pos.DevicesAfter))
	return c.putByte(DAPOK) && c.putU32(id)
}

// handleSWJPins implements the raw pin-state command: drive the selected
// pins to the requested levels and report the resulting pin state. The
// delay_us field is consumed but not waited on. Only the logical pins this
// repo models (TCK/SWCLK, SWDIO/TMS, nRESET) are driven and reported; the
// TDI, TDO and nTRST bits are ignored on input and always read back as 0.
func (d *Dispatcher) handleSWJPins(c *cursor) bool {
	value, ok := c.takeByte()
	if !ok {
		return false
	}
	selectByte, ok := c.takeByte()
	if !ok {
		return false
	}
	if _, ok := c.takeU32(); !ok { // delay_us; no hardware settle loop in this port
		return false
	}

	apply := func(bit uint8, p pin.Pin) {
		if selectByte&(1<<bit) == 0 {
			return
		}
		d.Pins.SetMode(p, pin.Out)
		d.Pins.Write(p, pin.Level(value&(1<<bit) != 0))
	}
	apply(0, pin.TCK)
	apply(1, pin.SWDIOOut)
	apply(4, pin.NRESET)

	d.Session.PinsNeedReconfig = true

	var out uint8
	if lvl, _ := d.Pins.Read(pin.TCK); lvl {
		out |= 1 << 0
	}
	if lvl, _ := d.Pins.Read(pin.SWDIOOut); lvl {
		out |= 1 << 1
	}
	if lvl, _ := d.Pins.Read(pin.NRESET); lvl {
		out |= 1 << 4
	}
	return c.putByte(out)
}

// handleVendor routes a vendor sub-command to the reference bootloader
// escape hatch. An unimplemented sub-ID falls through with zero response
// bytes beyond the already-echoed ID, matching the original firmware's
// vendor dispatch; it does not engage the unknown-command Invalid/stop-batch
// path, so a later command in the same ExecuteCommands batch still runs.
func (d *Dispatcher) handleVendor(c *cursor, id uint8) bool {
	sub := id - CmdVendorFirst
	ack, handled := bootloader.Handle(sub, d.Platform)
	if !handled {
		return true
	}
	return c.putByte(ack)
}
