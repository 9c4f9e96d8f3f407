// Package serialbridge implements the out-of-scope CDC-ACM SerialBridge
// collaborator: four goroutines and two ring buffers shuttling bytes between
// the host-visible UART and its on-chip peer, sharing no state with the
// DAP core beyond the USB device object.
package serialbridge

import (
	"context"
	"io"
)

// Bridge pumps bytes in both directions between Host and Aux until ctx is
// canceled or either side returns an error.
type Bridge struct {
	Host io.ReadWriter
	Aux  io.ReadWriter

	hostToAux *ring
	auxToHost *ring
}

// New builds a Bridge with a fixed-size ring buffer per direction.
func New(host, aux io.ReadWriter) *Bridge {
	return &Bridge{
		Host:      host,
		Aux:       aux,
		hostToAux: newRing(256),
		auxToHost: newRing(256),
	}
}

// Run starts the four pump goroutines (read-into-ring and drain-from-ring,
// one pair per direction) and blocks until ctx is canceled or a hard I/O
// error is observed, at which point both rings are closed to unwind the
// remaining goroutines.
func (b *Bridge) Run(ctx context.Context) error {
	errc := make(chan error, 4)

	go b.copyLoop(b.hostToAux, b.Host, errc)
	go b.drainLoop(b.hostToAux, b.Aux, errc)
	go b.copyLoop(b.auxToHost, b.Aux, errc)
	go b.drainLoop(b.auxToHost, b.Host, errc)

	select {
	case <-ctx.Done():
		b.hostToAux.Close()
		b.auxToHost.Close()
		return ctx.Err()
	case err := <-errc:
		b.hostToAux.Close()
		b.auxToHost.Close()
		return err
	}
}

func (b *Bridge) copyLoop(rb *ring, src io.Reader, errc chan<- error) {
	buf := make([]byte, 64)
	for {
		n, err := src.Read(buf)
		if err != nil {
			reportErr(errc, err)
			rb.Close()
			return
		}
		if n == 0 {
			continue
		}
		if _, err := rb.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (b *Bridge) drainLoop(rb *ring, dst io.Writer, errc chan<- error) {
	buf := make([]byte, 64)
	for {
		n, err := rb.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		if _, err := dst.Write(buf[:n]); err != nil {
			reportErr(errc, err)
			return
		}
	}
}

func reportErr(errc chan<- error, err error) {
	select {
	case errc <- err:
	default:
	}
}
