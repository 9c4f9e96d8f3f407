// Package clock maps a requested line frequency to a concrete drive profile:
// an SPI prescaler for byte-aligned bursts, an inter-edge delay for bit-bang
// fallback, and a Quick/Slow loop variant selection.
package clock

import "periph.io/x/conn/v3/physic"

// Protocol selects which threshold table and Quick/Slow cutoff applies.
type Protocol uint8

const (
	SWD Protocol = iota
	JTAG
)

// Variant names which bit-bang loop body a Profile should drive: Quick omits
// per-half-period delays (the loop body alone already burns roughly one
// half-period at the target's top clock), Slow inserts them on both edges to
// hold the duty cycle near 50% at lower rates.
type Variant uint8

const (
	Quick Variant = iota
	Slow
)

// Delay is called at named bit-bang phase boundaries. NopDelay performs no
// work; spinDelay(n) busy-waits n deliberately unoptimised short spins.
type Delay func()

// NopDelay never sleeps. It is the delay used at the top of each table, where
// the loop body's own instruction count already fills the half-period.
func NopDelay() {}

// row is one entry of the descending-speed lookup table.
type row struct {
	khz       uint32
	prescaler uint16
	delay     Delay
}

// table is ordered fastest-first; Resolve picks the first row whose khz is
// at or below the request, falling back to the slowest row otherwise.
var table = [...]row{
	{khz: 10000, prescaler: 1, delay: NopDelay},
	{khz: 6000, prescaler: 2, delay: NopDelay},
	{khz: 4000, prescaler: 3, delay: NopDelay},
	{khz: 2000, prescaler: 6, delay: spinDelay(1)},
	{khz: 1000, prescaler: 12, delay: spinDelay(2)},
	{khz: 500, prescaler: 24, delay: spinDelay(4)},
	{khz: 125, prescaler: 96, delay: spinDelay(16)},
}

// spinDelay returns a Delay that busy-waits approximately n short spins. The
// spin body is a volatile-equivalent loop rather than a calibrated timer: at
// the speeds where it is selected, a few tens of nanoseconds of slack either
// way does not move the line clock outside the spec's ±10% band.
func spinDelay(n int) Delay {
	return func() {
		for i := 0; i < n; i++ {
			spinOnce()
		}
	}
}

//go:noinline
func spinOnce() {}

// Profile is the resolved drive configuration for one requested frequency.
type Profile struct {
	Requested physic.Frequency
	Prescaler uint16
	Delay     Delay
	Variant   Variant
}

// quickThreshold returns the kHz at or above which a protocol uses the Quick
// loop variant (spec.md §4.2: 6000 for SWD, 3000 for JTAG).
func quickThreshold(p Protocol) uint32 {
	if p == JTAG {
		return 3000
	}
	return 6000
}

// Resolve picks the drive profile for a requested frequency in kHz.
func Resolve(p Protocol, khz uint32) Profile {
	chosen := table[len(table)-1]
	for _, r := range table {
		if r.khz <= khz {
			chosen = r
			break
		}
	}

	variant := Slow
	if khz >= quickThreshold(p) {
		variant = Quick
	}

	return Profile{
		Requested: physic.Frequency(khz) * physic.KiloHertz,
		Prescaler: chosen.prescaler,
		Delay:     chosen.delay,
		Variant:   variant,
	}
}
