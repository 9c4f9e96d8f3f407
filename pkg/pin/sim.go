package pin

// Sim is an in-memory Driver used by engine tests and by the dev-harness
// target simulator. It keeps the last mode set on each pin and records every
// level write, in order, so tests can assert on wire activity (e.g. how many
// times TCK toggled).
type Sim struct {
	modes  map[Pin]Mode
	levels map[Pin]Level

	TCKToggles int
	Writes     []SimWrite

	// SPIResponder, if set, is consulted by SPIBurst to produce the byte
	// clocked in on the opposite phase; it defaults to echoing zero.
	SPIResponder func(out byte) byte
	SPIBursts    []byte

	// SPIPrescaler records the last value passed to ConfigureSPI, so tests
	// can assert the resolved clock.Profile actually reached the driver.
	SPIPrescaler uint16
}

// SimWrite records one call to Write, in order.
type SimWrite struct {
	Pin   Pin
	Level Level
}

// NewSim returns a Sim driver with every pin defaulting to In/Low.
func NewSim() *Sim {
	return &Sim{
		modes:  make(map[Pin]Mode),
		levels: make(map[Pin]Level),
	}
}

// SetMode implements Driver.
func (s *Sim) SetMode(p Pin, m Mode) error {
	s.modes[p] = m
	return nil
}

// ModeOf reports the last mode set for p (In, by default).
func (s *Sim) ModeOf(p Pin) Mode {
	return s.modes[p]
}

// Write implements Driver.
func (s *Sim) Write(p Pin, level Level) error {
	if p == TCK {
		s.TCKToggles++
	}
	s.levels[p] = level
	s.Writes = append(s.Writes, SimWrite{Pin: p, Level: level})
	return nil
}

// Read implements Driver.
func (s *Sim) Read(p Pin) (Level, error) {
	return s.levels[p], nil
}

// Poke sets a pin's sensed level without going through Write, simulating an
// external driver (the target) changing the wire.
func (s *Sim) Poke(p Pin, level Level) {
	s.levels[p] = level
}

// ConfigureSPI implements Driver.
func (s *Sim) ConfigureSPI(prescaler uint16) error {
	s.SPIPrescaler = prescaler
	return nil
}

// SPIBurst implements Driver. It counts as 16 TCK toggles, matching the 8
// clock cycles (two edges each) a real accelerator burst drives, the same
// count Write gives a bit-banged byte.
func (s *Sim) SPIBurst(out byte) (byte, error) {
	s.TCKToggles += 16
	s.SPIBursts = append(s.SPIBursts, out)
	if s.SPIResponder != nil {
		return s.SPIResponder(out), nil
	}
	return 0, nil
}
