package pin

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
)

// errNoSPI is returned by ConfigureSPI/SPIBurst when no SPI port was wired,
// so a caller without an accelerator falls back to bit-bang sequencing.
var errNoSPI = errors.New("pin: no SPI port configured")

// InitHost registers every periph.io host driver (sysfs GPIO, FTDI, etc.)
// so a caller can open gpio.PinIO/spi.PortCloser handles by name before
// constructing a Periph. It must be called once per process, before any
// periph.io lookup, matching _examples/periph-host's own Init() wrapper.
func InitHost() error {
	_, err := host.Init()
	return err
}

// Periph is a Driver backed by periph.io GPIO pins and an optional SPI port,
// for probes running as a Go binary on an embedded-Linux host with the debug
// connector wired to its GPIO header — the periph.io/x/host bring-up story
// used throughout _examples/periph-host for FTDI- and sysfs-backed pins.
type Periph struct {
	gpios map[Pin]gpio.PinIO
	alt   map[Pin]bool // pins current parked in Alt (routed to spiConn)

	spiPort   spi.PortCloser
	spiConn   spi.Conn
	coreClock physic.Frequency // undivided SPI peripheral input clock
	spiFreq   physic.Frequency // coreClock/prescaler, as last set by ConfigureSPI
	spiMode   spi.Mode
}

// NewPeriph wires a Periph driver from the supplied logical-pin-to-GPIO
// mapping and an optional SPI port used for SPIBurst. gpios must contain at
// least SWDIOOut/SWDIOIn (for SWD) or TDI/TDO (for JTAG); TCK is required by
// both. coreClock is the SPI peripheral's undivided input clock, matching
// the reference firmware's SWD/JTAG SPI blocks (144MHz and 72MHz
// respectively on the CH32F205) against which clock.Profile.Prescaler
// divides. spiPort may be nil, in which case SPIBurst always fails with
// errNoSPI and callers must fall back to bit-bang sequencing.
func NewPeriph(gpios map[Pin]gpio.PinIO, spiPort spi.PortCloser, coreClock physic.Frequency) *Periph {
	return &Periph{
		gpios:     gpios,
		alt:       make(map[Pin]bool),
		spiPort:   spiPort,
		coreClock: coreClock,
		spiFreq:   coreClock,
		spiMode:   spi.Mode0,
	}
}

// ConfigureSPI sets the accelerator's clock divisor for subsequent SPIBurst
// calls, as resolved by clock.Resolve for the current line-rate request. It
// forces a reconnect at the new frequency the next time the port is needed.
func (p *Periph) ConfigureSPI(prescaler uint16) error {
	if p.spiPort == nil {
		return errNoSPI
	}
	if prescaler == 0 {
		prescaler = 1
	}
	freq := p.coreClock / physic.Frequency(prescaler)
	if freq == p.spiFreq && p.spiConn != nil {
		return nil
	}
	p.spiFreq = freq
	p.spiConn = nil
	return nil
}

func (p *Periph) pin(pn Pin) (gpio.PinIO, error) {
	g, ok := p.gpios[pn]
	if !ok {
		return nil, fmt.Errorf("pin: %s not wired to a GPIO", pn)
	}
	return g, nil
}

// SetMode implements Driver.
func (p *Periph) SetMode(pn Pin, m Mode) error {
	g, err := p.pin(pn)
	if err != nil {
		return err
	}
	switch m {
	case Out:
		delete(p.alt, pn)
		return g.Out(gpio.Low)
	case In:
		delete(p.alt, pn)
		return g.In(gpio.PullNoChange, gpio.NoEdge)
	case Alt:
		if p.spiPort == nil {
			return ErrUnsupportedMode{Pin: pn, Mode: m}
		}
		if pn != TCK && pn != TDI && pn != SWDIOOut {
			return ErrUnsupportedMode{Pin: pn, Mode: m}
		}
		p.alt[pn] = true
		return p.ensureConn()
	default:
		return fmt.Errorf("pin: unknown mode %d", m)
	}
}

func (p *Periph) ensureConn() error {
	if p.spiConn != nil {
		return nil
	}
	conn, err := p.spiPort.Connect(p.spiFreq, p.spiMode|spi.LSBFirst, 8)
	if err != nil {
		return fmt.Errorf("pin: spi connect: %w", err)
	}
	p.spiConn = conn
	return nil
}

// Write implements Driver.
func (p *Periph) Write(pn Pin, level Level) error {
	g, err := p.pin(pn)
	if err != nil {
		return err
	}
	return g.Out(gpio.Level(level))
}

// Read implements Driver.
func (p *Periph) Read(pn Pin) (Level, error) {
	g, err := p.pin(pn)
	if err != nil {
		return Low, err
	}
	return Level(g.Read()), nil
}

// SPIBurst implements Driver.
func (p *Periph) SPIBurst(out byte) (byte, error) {
	if p.spiPort == nil {
		return 0, errNoSPI
	}
	if p.spiConn == nil {
		if err := p.ensureConn(); err != nil {
			return 0, err
		}
	}
	in := make([]byte, 1)
	if err := p.spiConn.Tx([]byte{out}, in); err != nil {
		return 0, fmt.Errorf("pin: spi burst: %w", err)
	}
	return in[0], nil
}
