// Package swd drives the ARM Serial Wire Debug line protocol: 8-bit request
// headers, turnaround, 3-bit ACK, and 32-bit payloads with parity.
package swd

import (
	"github.com/cherrylink/dapfw/pkg/clock"
	"github.com/cherrylink/dapfw/pkg/pin"
)

// ACK codes, as clocked on the wire and as echoed into a Transfer response.
const (
	AckOK       = 0x01
	AckWait     = 0x02
	AckFault    = 0x04
	AckNoAck    = 0x07
	AckError    = 0x08
	AckMismatch = 0x10
)

// Request-nibble bits, matching the low four bits of a CMSIS-DAP transfer
// record's flag byte (APnDP=0x01, RnW=0x02, A2=0x04, A3=0x08).
const (
	APnDP = 0x01
	RnW   = 0x02
	A2    = 0x04
	A3    = 0x08
)

// Config is the session's current SWD wire configuration.
type Config struct {
	IdleCycles      uint8
	Turnaround      uint8 // clock cycles, valid range [1,4]
	DataPhaseAlways bool
	RetryLimit      uint16
}

// Engine is a line-level SWD driver. It is not reentrant: exactly one
// goroutine may call into it at a time, matching the single-Worker-thread
// contract the protocol core assumes.
type Engine struct {
	drv     pin.Driver
	cfg     Config
	profile clock.Profile

	// Now, if set, samples a free-running monotonic counter. It is called on
	// every OK transaction, at the end of the ACK phase for reads and the end
	// of the data phase for writes; the orchestrator keeps the sample only
	// for records that requested a timestamp.
	Now func() uint32
}

// New constructs an Engine over drv with the given configuration and clock
// profile. Both can be changed later with Configure and SetProfile.
func New(drv pin.Driver, cfg Config, profile clock.Profile) *Engine {
	return &Engine{drv: drv, cfg: cfg, profile: profile}
}

// Configure replaces the turnaround/idle/retry configuration, as driven by
// SWD_Configure and TransferConfigure.
func (e *Engine) Configure(cfg Config) { e.cfg = cfg }

// SetProfile replaces the clock profile, as driven by SWJ_Clock.
func (e *Engine) SetProfile(p clock.Profile) { e.profile = p }

func (e *Engine) delay() {
	if e.profile.Delay != nil && e.profile.Variant == clock.Slow {
		e.profile.Delay()
	}
}

func (e *Engine) cycleLow() {
	e.drv.Write(pin.TCK, pin.Low)
	e.delay()
}

func (e *Engine) cycleHigh() {
	e.drv.Write(pin.TCK, pin.High)
	e.delay()
}

// idleCycle clocks once with no line drive change, used for turnaround and
// idle padding.
func (e *Engine) idleCycle() {
	e.cycleLow()
	e.cycleHigh()
}

// driveBit writes one bit on SWDIO (host-to-target direction) and clocks it.
func (e *Engine) driveBit(level pin.Level) {
	e.drv.Write(pin.SWDIOOut, level)
	e.cycleLow()
	e.cycleHigh()
}

// senseBit clocks once and samples SWDIO (target-to-host direction).
func (e *Engine) senseBit() pin.Level {
	e.cycleLow()
	lvl, _ := e.drv.Read(pin.SWDIOIn)
	e.cycleHigh()
	return lvl
}

func parity4(nibble uint8) uint8 {
	p := nibble
	p ^= p >> 2
	p ^= p >> 1
	return p & 1
}

func parity32(data uint32) uint8 {
	p := data
	p ^= p >> 16
	p ^= p >> 8
	p ^= p >> 4
	p ^= p >> 2
	p ^= p >> 1
	return uint8(p & 1)
}

// toOutput parks SWDIO as a push-pull output.
func (e *Engine) toOutput() {
	e.drv.SetMode(pin.SWDIOOut, pin.Out)
}

// toInput releases SWDIO to high-impedance input.
func (e *Engine) toInput() {
	e.drv.SetMode(pin.SWDIOOut, pin.In)
}

// header builds the 8-bit SWD request word for the given request nibble
// (APnDP|RnW|A2|A3 in the low 4 bits): start(1) | nibble(4) | parity(1) |
// stop(0) | park(1), LSB-first on the wire.
func header(nibble uint8) [8]bool {
	p := parity4(nibble)
	word := uint8(1) | (nibble << 1 & 0x1E) | (p << 5) | (1 << 7)
	var bits [8]bool
	for i := 0; i < 8; i++ {
		bits[i] = (word>>uint(i))&1 != 0
	}
	return bits
}

// SequenceOut drives bitLen bits from data (LSB-first, packed little-endian)
// onto SWDIO. Whole bytes are clocked through the SPI accelerator, at the
// prescaler the current clock profile resolved to, when the driver has one
// wired; the sub-byte tail, if any, is always bit-banged.
func (e *Engine) SequenceOut(data []byte, bitLen int) {
	e.toOutput()
	wholeBytes := e.spiOutBytes(data[:bitLen/8])
	for i := wholeBytes * 8; i < bitLen; i++ {
		byteIdx, bitIdx := i/8, uint(i%8)
		lvl := pin.Level(data[byteIdx]>>bitIdx&1 != 0)
		e.driveBit(lvl)
	}
}

// spiOutBytes drives whole through the SPI accelerator and returns the
// number of bytes it actually burst, 0 if no accelerator is available.
func (e *Engine) spiOutBytes(whole []byte) int {
	if len(whole) == 0 || e.drv.ConfigureSPI(e.profile.Prescaler) != nil {
		return 0
	}
	if e.drv.SetMode(pin.TCK, pin.Alt) != nil {
		return 0
	}
	e.drv.SetMode(pin.SWDIOOut, pin.Alt)
	for _, b := range whole {
		e.drv.SPIBurst(b)
	}
	e.drv.SetMode(pin.TCK, pin.Out)
	e.toOutput()
	return len(whole)
}

// SequenceIn clocks in bitLen bits from SWDIO, LSB-first, packed
// little-endian. Whole bytes are clocked through the SPI accelerator when
// one is wired; the sub-byte tail, if any, is always bit-banged.
func (e *Engine) SequenceIn(bitLen int) []byte {
	e.toInput()
	out := make([]byte, (bitLen+7)/8)
	wholeBytes := e.spiInBytes(out[:bitLen/8])
	for i := wholeBytes * 8; i < bitLen; i++ {
		if e.senseBit() {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// spiInBytes fills whole by sensing it through the SPI accelerator and
// returns the number of bytes it actually sensed, 0 if no accelerator is
// available.
func (e *Engine) spiInBytes(whole []byte) int {
	if len(whole) == 0 || e.drv.ConfigureSPI(e.profile.Prescaler) != nil {
		return 0
	}
	if e.drv.SetMode(pin.TCK, pin.Alt) != nil {
		return 0
	}
	for i := range whole {
		b, _ := e.drv.SPIBurst(0xFF)
		whole[i] = b
	}
	e.drv.SetMode(pin.TCK, pin.Out)
	e.toInput()
	return len(whole)
}

// Read performs a full SWD read transaction for the given request nibble,
// retrying on WAIT up to cfg.RetryLimit times.
func (e *Engine) Read(nibble uint8) (ack uint8, data uint32, timestamp uint32, haveTimestamp bool) {
	for attempt := uint16(0); ; attempt++ {
		a, d, ts, have := e.readOnce(nibble)
		if a == AckWait && attempt < e.cfg.RetryLimit {
			continue
		}
		return a, d, ts, have
	}
}

func (e *Engine) readOnce(nibble uint8) (ack uint8, data uint32, timestamp uint32, haveTimestamp bool) {
	e.toOutput()
	for _, b := range header(nibble) {
		e.driveBit(pin.Level(b))
	}

	e.toInput()
	for i := uint8(0); i < e.cfg.Turnaround; i++ {
		e.idleCycle()
	}

	var raw uint8
	raw |= boolBit(e.senseBit(), 0)
	raw |= boolBit(e.senseBit(), 1)
	raw |= boolBit(e.senseBit(), 2)

	switch raw {
	case AckOK:
		if e.Now != nil {
			timestamp = e.Now()
			haveTimestamp = true
		}
		var bytes [4]byte
		for i := 0; i < 32; i++ {
			if e.senseBit() {
				bytes[i/8] |= 1 << uint(i%8)
			}
		}
		data = uint32(bytes[0]) | uint32(bytes[1])<<8 | uint32(bytes[2])<<16 | uint32(bytes[3])<<24
		parityBit := e.senseBit()
		for i := uint8(0); i < e.cfg.Turnaround+e.cfg.IdleCycles; i++ {
			e.idleCycle()
		}
		if (parityBit != pin.Level(false)) != (parity32(data) != 0) {
			return AckOK | AckMismatch, data, timestamp, haveTimestamp
		}
		return AckOK, data, timestamp, haveTimestamp

	case AckWait, AckFault:
		if e.cfg.DataPhaseAlways {
			for i := 0; i < 33; i++ {
				e.idleCycle()
			}
			for i := uint8(0); i < e.cfg.Turnaround; i++ {
				e.idleCycle()
			}
		} else {
			for i := uint8(0); i < e.cfg.Turnaround; i++ {
				e.idleCycle()
			}
		}
		return raw, 0, 0, false

	default:
		for i := 0; i < 33; i++ {
			e.idleCycle()
		}
		return AckError | raw, 0, 0, false
	}
}

// Write performs a full SWD write transaction, retrying on WAIT up to
// cfg.RetryLimit times.
func (e *Engine) Write(nibble uint8, data uint32) (ack uint8, timestamp uint32, haveTimestamp bool) {
	for attempt := uint16(0); ; attempt++ {
		a, ts, have := e.writeOnce(nibble, data)
		if a == AckWait && attempt < e.cfg.RetryLimit {
			continue
		}
		return a, ts, have
	}
}

func (e *Engine) writeOnce(nibble uint8, data uint32) (ack uint8, timestamp uint32, haveTimestamp bool) {
	e.toOutput()
	for _, b := range header(nibble) {
		e.driveBit(pin.Level(b))
	}

	e.toInput()
	for i := uint8(0); i < e.cfg.Turnaround; i++ {
		e.idleCycle()
	}

	var raw uint8
	raw |= boolBit(e.senseBit(), 0)
	raw |= boolBit(e.senseBit(), 1)
	raw |= boolBit(e.senseBit(), 2)

	switch raw {
	case AckOK:
		for i := uint8(0); i < e.cfg.Turnaround; i++ {
			e.idleCycle()
		}
		e.toOutput()
		p := parity32(data)
		for i := 0; i < 32; i++ {
			e.driveBit(pin.Level(data>>uint(i)&1 != 0))
		}
		e.driveBit(pin.Level(p != 0))
		if e.Now != nil {
			timestamp = e.Now()
			haveTimestamp = true
		}
		for i := uint8(0); i < e.cfg.IdleCycles; i++ {
			e.idleCycle()
		}
		return AckOK, timestamp, haveTimestamp

	case AckWait, AckFault:
		if e.cfg.DataPhaseAlways {
			for i := uint8(0); i < e.cfg.Turnaround; i++ {
				e.idleCycle()
			}
			e.toOutput()
			for i := 0; i < 33; i++ {
				e.driveBit(pin.Low)
			}
		} else {
			for i := uint8(0); i < e.cfg.Turnaround; i++ {
				e.idleCycle()
			}
		}
		return raw, 0, false

	default:
		for i := 0; i < 33; i++ {
			e.idleCycle()
		}
		return AckError | raw, 0, false
	}
}

func boolBit(l pin.Level, shift uint) uint8 {
	if l {
		return 1 << shift
	}
	return 0
}
