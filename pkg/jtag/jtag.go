// Package jtag drives JTAG IR/DR scans over a chain tracked by pkg/tap:
// state walks, before/after bypass padding, and the byte-swapped 3-bit ACK
// convention CMSIS-DAP expects from DR scans.
package jtag

import (
	"github.com/cherrylink/dapfw/pkg/clock"
	"github.com/cherrylink/dapfw/pkg/pin"
	"github.com/cherrylink/dapfw/pkg/tap"
)

// ACK codes, matching pkg/swd's so callers can treat both engines
// uniformly.
const (
	AckOK       = 0x01
	AckWait     = 0x02
	AckFault    = 0x04
	AckNoAck    = 0x07
	AckError    = 0x08
	AckMismatch = 0x10
)

// Config is the session's current JTAG wire configuration.
type Config struct {
	IdleCycles uint8
	RetryLimit uint16
}

// Engine is a line-level JTAG driver, not reentrant, mirroring the
// single-Worker-thread contract of pkg/swd.Engine.
type Engine struct {
	drv     pin.Driver
	cfg     Config
	profile clock.Profile
	tm      *tap.Machine

	// currentIR tracks which DPACC/APACC instruction is loaded, so Access
	// only re-issues an IR scan when the access kind actually changes.
	currentIR   uint8
	haveCurrent bool
}

// ARM debug-port IR instructions used to select the access register a DR
// scan talks to.
const (
	irAPACC uint8 = 0xB
	irDPACC uint8 = 0xA
)

// ChainPosition is the bit/device geometry a DR or IR scan needs to thread
// through every other device on the chain: IR bit offsets for instruction
// scans, and device counts (1 bypass bit each) for data scans.
type ChainPosition struct {
	IRLength      uint8
	IRBefore      uint16
	IRAfter       uint16
	DevicesBefore uint8
	DevicesAfter  uint8
}

// New constructs an Engine over drv, starting the tracked TAP state at
// Test-Logic-Reset.
func New(drv pin.Driver, cfg Config, profile clock.Profile) *Engine {
	return &Engine{drv: drv, cfg: cfg, profile: profile, tm: tap.New()}
}

// Configure replaces the idle/retry configuration, as driven by Connect and
// TransferConfigure.
func (e *Engine) Configure(cfg Config) { e.cfg = cfg }

// SetProfile replaces the clock profile, as driven by SWJ_Clock.
func (e *Engine) SetProfile(p clock.Profile) { e.profile = p }

// State reports the TAP state the engine believes the chain is in.
func (e *Engine) State() tap.State { return e.tm.State() }

func (e *Engine) delay() {
	if e.profile.Variant == clock.Slow && e.profile.Delay != nil {
		e.profile.Delay()
	}
}

// clockBit drives one TMS/TDI pair and samples TDO, without touching the
// tracked TAP state — callers update e.tm themselves so GoTo always agrees
// with what was actually driven.
func (e *Engine) clockBit(tms, tdi bool) bool {
	e.drv.Write(pin.SWDIOOut, pin.Level(tms))
	e.drv.Write(pin.TDI, pin.Level(tdi))
	e.drv.Write(pin.TCK, pin.Low)
	e.delay()
	tdo, _ := e.drv.Read(pin.TDO)
	e.drv.Write(pin.TCK, pin.High)
	e.delay()
	return bool(tdo)
}

func (e *Engine) driveWalk(bits []bool) {
	for _, tms := range bits {
		e.clockBit(tms, true)
	}
}

// Raw drives bitLen bits of tms/tdi (LSB-first packed little-endian) without
// moving through IR/DR scans, for SWJ_Sequence-style raw JTAG sequences. It
// tracks TAP state transitions as it goes and, since a raw sequence may
// load any instruction, resets the IR cache.
func (e *Engine) Raw(tmsBits, tdiBits []byte, bitLen int) []byte {
	e.ResetIRCache()
	tdo := make([]byte, (bitLen+7)/8)
	for i := 0; i < bitLen; i++ {
		byteIdx, bitIdx := i/8, uint(i%8)
		tms := tmsBits[byteIdx]>>bitIdx&1 != 0
		tdi := tdiBits[byteIdx]>>bitIdx&1 != 0
		if e.clockBit(tms, tdi) {
			tdo[byteIdx] |= 1 << bitIdx
		}
		e.tm.Clock(tms)
	}
	return tdo
}

func (e *Engine) goTo(target tap.State) {
	bits, err := e.tm.GoTo(target)
	if err != nil {
		return
	}
	e.driveWalk(bits)
}

// IR walks to Shift-IR, shifts before bypass-fill ones, irLength bits of
// value LSB-first, after bypass-fill ones, exits, and lands in
// Run-Test/Idle.
func (e *Engine) IR(value uint32, irLength, before, after int) {
	e.goTo(tap.ShiftIR)

	total := before + irLength + after
	for i := 0; i < total; i++ {
		var tdi bool
		switch {
		case i < before:
			tdi = true
		case i < before+irLength:
			tdi = value>>uint(i-before)&1 != 0
		default:
			tdi = true
		}
		tms := i == total-1
		e.clockBit(tms, tdi)
		e.tm.Clock(tms)
	}

	e.goTo(tap.RunTestIdle)
}

// byteSwapAck reverses the low two bits of a 3-bit ACK, matching the wire
// order CMSIS-DAP expects versus the order the chain naturally shifts it in.
func byteSwapAck(raw uint8) uint8 {
	return (raw & 4) | ((raw & 2) >> 1) | ((raw & 1) << 1)
}

// trySPIAlt parks TCK and TDI in Alt mode for an SPI burst, leaving both
// untouched (restored to Out) if either pin refuses.
func (e *Engine) trySPIAlt() bool {
	if e.drv.SetMode(pin.TCK, pin.Alt) != nil {
		return false
	}
	if e.drv.SetMode(pin.TDI, pin.Alt) != nil {
		e.drv.SetMode(pin.TCK, pin.Out)
		return false
	}
	return true
}

// dr performs one DR scan attempt: walk to Shift-DR, shift before zero bits,
// the 3-bit AP/DP request LSB-first (capturing the ACK), 32 data bits, after
// zero bits, exit, then idle_cycles Run-Test/Idle cycles.
//
// The data phase's byte-aligned middle segment is clocked through the SPI
// accelerator when one is wired: TMS stays low for the whole burst, which
// never moves the tracked Shift-DR state (a self-loop), so no e.tm.Clock
// call is needed for those bits. The final bit of the scan must carry
// tms=true to exit Shift-DR, so the last data byte only goes through SPI
// when at least one more bit (an after-padding bit) follows it; otherwise
// it's bit-banged so that last bit can carry the exit.
func (e *Engine) dr(request uint8, data uint32, before, after int) (ack uint8, tdo uint32) {
	e.goTo(tap.ShiftDR)

	total := before + 3 + 32 + after
	dataStart := before + 3
	var ackRaw uint8
	var tdoWord uint32

	i := 0
	for ; i < dataStart; i++ {
		var tdi bool
		if i >= before {
			tdi = request>>uint(i-before)&1 != 0
		}
		tms := i == total-1
		out := e.clockBit(tms, tdi)
		e.tm.Clock(tms)
		if i >= before && out {
			ackRaw |= 1 << uint(i-before)
		}
	}

	spiBytes := 3
	if after > 0 {
		spiBytes = 4
	}
	if e.drv.ConfigureSPI(e.profile.Prescaler) != nil || !e.trySPIAlt() {
		spiBytes = 0
	}
	if spiBytes > 0 {
		e.drv.Write(pin.SWDIOOut, pin.Low)
		for b := 0; b < spiBytes; b++ {
			in, _ := e.drv.SPIBurst(byte(data >> uint(b*8)))
			tdoWord |= uint32(in) << uint(b*8)
		}
		e.drv.SetMode(pin.TCK, pin.Out)
		e.drv.SetMode(pin.TDI, pin.Out)
		i = dataStart + spiBytes*8
	}

	for ; i < total; i++ {
		var tdi bool
		if i < dataStart+32 {
			tdi = data>>uint(i-dataStart)&1 != 0
		}
		tms := i == total-1
		out := e.clockBit(tms, tdi)
		e.tm.Clock(tms)
		if i < dataStart+32 && out {
			tdoWord |= 1 << uint(i-dataStart)
		}
	}

	e.goTo(tap.RunTestIdle)
	for i := uint8(0); i < e.cfg.IdleCycles; i++ {
		e.clockBit(false, true)
		e.tm.Clock(false)
	}

	return byteSwapAck(ackRaw), tdoWord
}

// DR performs a DR scan, retrying the whole transaction on ACK=WAIT up to
// cfg.RetryLimit times.
func (e *Engine) DR(request uint8, data uint32, before, after int) (ack uint8, tdo uint32) {
	for attempt := uint16(0); ; attempt++ {
		a, t := e.dr(request, data, before, after)
		if a == AckWait && attempt < e.cfg.RetryLimit {
			continue
		}
		return a, t
	}
}

// selectAccess loads DPACC or APACC into the chain's selected device IR,
// skipping the scan entirely if that instruction is already loaded.
func (e *Engine) selectAccess(apnDP bool, pos ChainPosition) {
	want := irDPACC
	if apnDP {
		want = irAPACC
	}
	if e.haveCurrent && e.currentIR == want {
		return
	}
	e.IR(uint32(want), int(pos.IRLength), int(pos.IRBefore), int(pos.IRAfter))
	e.currentIR = want
	e.haveCurrent = true
}

// Access performs one AP or DP transfer record through the configured
// scan-chain position: nibble carries APnDP|RnW|A2|A3 exactly as pkg/swd's
// Read/Write take it. It switches the loaded IR only when the access kind
// (AP vs. DP) changes from the previous call.
func (e *Engine) Access(nibble uint8, data uint32, pos ChainPosition) (ack uint8, tdo uint32) {
	e.selectAccess(nibble&0x01 != 0, pos)
	req3 := (nibble >> 1) & 0x7
	return e.DR(req3, data, int(pos.DevicesBefore), int(pos.DevicesAfter))
}

// ResetIRCache forces the next Access call to reload the IR regardless of
// what it last loaded, used after any raw IR/DR scan that may have
// disturbed the chain's instruction register out of band.
func (e *Engine) ResetIRCache() { e.haveCurrent = false }
