package dap

import (
	"sync/atomic"
	"time"

	"github.com/cherrylink/dapfw/pkg/clock"
	"github.com/cherrylink/dapfw/pkg/jtag"
	"github.com/cherrylink/dapfw/pkg/pin"
	"github.com/cherrylink/dapfw/pkg/platform"
	"github.com/cherrylink/dapfw/pkg/session"
	"github.com/cherrylink/dapfw/pkg/swd"
	"github.com/cherrylink/dapfw/pkg/transfer"
)

// Dispatcher parses incoming CMSIS-DAP packets and drives session state and
// the wire engines. It is not reentrant: exactly one goroutine (the
// Transport worker) may call Dispatch at a time.
type Dispatcher struct {
	Session  *session.State
	Pins     pin.Driver
	Platform platform.Platform
	Now      func() uint32 // monotonic microsecond counter; nil disables timestamps

	swdEngine  *swd.Engine
	jtagEngine *jtag.Engine
	jtagWire   *jtagWireAdapter
	orch       *transfer.Orchestrator

	// Abort is set by the Transport layer's Rx path the instant a
	// TransferAbort datagram arrives, and read by in-flight Transfer /
	// TransferBlock loops. It is the only state any thread but the worker
	// touches.
	Abort atomic.Bool
}

// New constructs a Dispatcher with boot-time session defaults and both wire
// engines initialized against pins.
func New(pins pin.Driver, plat platform.Platform, now func() uint32) *Dispatcher {
	s := session.New()
	d := &Dispatcher{Session: s, Pins: pins, Platform: plat, Now: now}

	d.swdEngine = swd.New(pins, swdConfigFrom(s), clock.Resolve(clock.SWD, s.SpeedKHz))
	d.jtagEngine = jtag.New(pins, jtagConfigFrom(s), clock.Resolve(clock.JTAG, s.SpeedKHz))
	if now != nil {
		d.swdEngine.Now = now
	}
	d.jtagWire = &jtagWireAdapter{engine: d.jtagEngine, chain: &s.Chain}
	d.reconfigureOrchestrator()
	return d
}

func swdConfigFrom(s *session.State) swd.Config {
	return swd.Config{
		IdleCycles:      s.Transfer.IdleCycles,
		Turnaround:      s.SWD.Turnaround,
		DataPhaseAlways: s.SWD.DataPhaseAlways,
		RetryLimit:      s.Transfer.RetryCount,
	}
}

func jtagConfigFrom(s *session.State) jtag.Config {
	return jtag.Config{
		IdleCycles: s.Transfer.IdleCycles,
		RetryLimit: s.Transfer.RetryCount,
	}
}

// reconfigureOrchestrator rebuilds the orchestrator's wire-engine binding
// after a port switch or a TransferConfigure change.
func (d *Dispatcher) reconfigureOrchestrator() {
	cfg := transfer.Config{
		MatchRetry: d.Session.Transfer.MatchRetry,
		MatchMask:  d.Session.Transfer.MatchMask,
	}
	switch d.Session.Port {
	case session.JTAG:
		d.orch = transfer.New(d.jtagWire, cfg)
	default:
		d.orch = transfer.New(d.swdEngine, cfg)
	}
}

// jtagWireAdapter satisfies transfer.Engine over pkg/jtag.Engine.Access,
// resolving the chain position from whichever device is currently selected.
type jtagWireAdapter struct {
	engine *jtag.Engine
	chain  *session.Chain
}

func (a *jtagWireAdapter) position() jtag.ChainPosition {
	idx := int(a.chain.SelectedIndex)
	if idx >= len(a.chain.IRLength) {
		return jtag.ChainPosition{}
	}
	return jtag.ChainPosition{
		IRLength:      a.chain.IRLength[idx],
		IRBefore:      a.chain.IRBefore[idx],
		IRAfter:       a.chain.IRAfter[idx],
		DevicesBefore: uint8(idx),
		DevicesAfter:  a.chain.Count - 1 - uint8(idx),
	}
}

func (a *jtagWireAdapter) Read(nibble uint8) (ack uint8, data uint32, ts uint32, haveTS bool) {
	ack, data = a.engine.Access(nibble, 0, a.position())
	return ack, data, 0, false
}

func (a *jtagWireAdapter) Write(nibble uint8, data uint32) (ack uint8, ts uint32, haveTS bool) {
	ack, _ = a.engine.Access(nibble, data, a.position())
	return ack, 0, false
}

// cursor tracks the request/response read/write positions threaded through
// every per-command handler, replacing the original firmware's
// shared-struct cross-calls with an explicit value.
type cursor struct {
	req     []byte
	reqPos  int
	resp    []byte
	respPos int
}

func (c *cursor) remaining() int { return len(c.req) - c.reqPos }

func (c *cursor) takeByte() (uint8, bool) {
	if c.reqPos >= len(c.req) {
		return 0, false
	}
	b := c.req[c.reqPos]
	c.reqPos++
	return b, true
}

func (c *cursor) takeBytes(n int) ([]byte, bool) {
	if c.reqPos+n > len(c.req) {
		return nil, false
	}
	b := c.req[c.reqPos : c.reqPos+n]
	c.reqPos += n
	return b, true
}

func (c *cursor) takeU16() (uint16, bool) {
	b, ok := c.takeBytes(2)
	if !ok {
		return 0, false
	}
	return uint16(b[0]) | uint16(b[1])<<8, true
}

func (c *cursor) takeU32() (uint32, bool) {
	b, ok := c.takeBytes(4)
	if !ok {
		return 0, false
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func (c *cursor) putByte(v uint8) bool {
	if c.respPos >= len(c.resp) {
		return false
	}
	c.resp[c.respPos] = v
	c.respPos++
	return true
}

func (c *cursor) putBytes(b []byte) bool {
	if c.respPos+len(b) > len(c.resp) {
		return false
	}
	copy(c.resp[c.respPos:], b)
	c.respPos += len(b)
	return true
}

func (c *cursor) putU16(v uint16) bool {
	return c.putBytes([]byte{byte(v), byte(v >> 8)})
}

func (c *cursor) putU32(v uint32) bool {
	return c.putBytes([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// Dispatch processes one inbound packet and returns the response packet,
// matching control flow to spec: one response per request, except when the
// first byte is ExecuteCommands.
func (d *Dispatcher) Dispatch(req []byte) []byte {
	resp := make([]byte, 0, PacketSize)
	resp = resp[:cap(resp)]
	c := &cursor{req: req, resp: resp}

	if len(req) == 0 {
		return nil
	}

	if req[0] == CmdExecuteCommands {
		c.reqPos = 1
		n, ok := c.takeByte()
		c.respPos = 0
		c.putByte(CmdExecuteCommands)
		c.putByte(n)
		if !ok {
			return c.resp[:c.respPos]
		}
		for i := uint8(0); i < n; i++ {
			if !d.dispatchOne(c) {
				break
			}
		}
		return c.resp[:c.respPos]
	}

	d.dispatchOne(c)
	return c.resp[:c.respPos]
}

// dispatchOne parses and handles exactly one command from c.req at
// c.reqPos, writing its response at c.respPos. It returns false when the
// batch (ExecuteCommands or otherwise) should stop: unknown command,
// malformed length, or response overflow.
func (d *Dispatcher) dispatchOne(c *cursor) bool {
	id, ok := c.takeByte()
	if !ok {
		return false
	}

	idPos := c.respPos
	if !c.putByte(id) {
		return false
	}

	var handled bool
	switch {
	case id == CmdInfo:
		handled = d.handleInfo(c)
	case id == CmdHostStatus:
		handled = d.handleHostStatus(c)
	case id == CmdConnect:
		handled = d.handleConnect(c)
	case id == CmdDisconnect:
		handled = d.handleDisconnect(c)
	case id == CmdTransferConfigure:
		handled = d.handleTransferConfigure(c)
	case id == CmdTransfer:
		handled = d.handleTransfer(c)
	case id == CmdTransferBlock:
		handled = d.handleTransferBlock(c)
	case id == CmdWriteABORT:
		handled = d.handleWriteABORT(c)
	case id == CmdDelay:
		handled = d.handleDelay(c)
	case id == CmdResetTarget:
		handled = d.handleResetTarget(c)
	case id == CmdSWJClock:
		handled = d.handleSWJClock(c)
	case id == CmdSWJSequence:
		handled = d.handleSWJSequence(c)
	case id == CmdSWDConfigure:
		handled = d.handleSWDConfigure(c)
	case id == CmdSWDSequence:
		handled = d.handleSWDSequence(c)
	case id == CmdJTAGSequence:
		handled = d.handleJTAGSequence(c)
	case id == CmdJTAGConfigure:
		handled = d.handleJTAGConfigure(c)
	case id == CmdJTAGIDCODE:
		handled = d.handleJTAGIDCODE(c)
	case id == CmdSWJPins:
		handled = d.handleSWJPins(c)
	case id >= CmdVendorFirst && id <= CmdVendorLast:
		handled = d.handleVendor(c, id)
	default:
		handled = false
	}

	if !handled {
		c.resp[idPos] = CmdInvalid
		c.respPos = idPos + 1
		return false
	}
	return true
}

func (d *Dispatcher) delayMicros(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}
