package serialbridge

import (
	"fmt"
	"time"

	serial "github.com/daedaluz/goserial"
)

// OpenHostPort opens path as a raw termios serial port for use as a Bridge's
// Host side, the dev-harness stand-in for the probe's CDC-ACM endpoint.
func OpenHostPort(path string, readTimeout time.Duration) (*serial.Port, error) {
	opts := serial.NewOptions().SetReadTimeout(readTimeout)
	p, err := serial.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("serialbridge: open %s: %w", path, err)
	}
	if err := p.MakeRaw(); err != nil {
		p.Close()
		return nil, fmt.Errorf("serialbridge: make raw %s: %w", path, err)
	}
	return p, nil
}
