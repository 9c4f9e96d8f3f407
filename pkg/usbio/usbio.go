// Package usbio implements the three-thread scheduling model as three
// goroutines connected by buffered channels: rxLoop, worker, and txLoop.
// Session state and the wire engines are touched only by worker; rxLoop and
// txLoop only ever block on Transport.
package usbio

import (
	"context"
	"fmt"

	"github.com/cherrylink/dapfw/pkg/dap"
)

// Transport is the out-of-scope USB collaborator: a vendor-specific bulk
// OUT/IN endpoint pair. Read blocks until one inbound packet has arrived;
// Write blocks until the outbound packet has been accepted by the host.
type Transport interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// Runner wires a Transport to a dap.Dispatcher using a fixed-count buffer
// pool and two mailbox channels, matching spec's RxThread/WorkerThread/
// TxThread handoff.
type Runner struct {
	Transport  Transport
	Dispatcher *dap.Dispatcher
	PacketSize int

	work chan []byte
	tx   chan []byte
	free chan []byte
}

// NewRunner builds a Runner with dap.PacketCount buffers in its free pool,
// matching the firmware's fixed-size object pool.
func NewRunner(t Transport, d *dap.Dispatcher) *Runner {
	r := &Runner{
		Transport:  t,
		Dispatcher: d,
		PacketSize: dap.PacketSize,
		work:       make(chan []byte, dap.PacketCount),
		tx:         make(chan []byte, dap.PacketCount),
		free:       make(chan []byte, dap.PacketCount),
	}
	for i := 0; i < dap.PacketCount; i++ {
		r.free <- make([]byte, r.PacketSize)
	}
	return r
}

// Run starts the three loops and blocks until ctx is canceled or one of the
// loops reports a transport error. The first error observed is returned;
// a canceled context with no transport error returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	errc := make(chan error, 3)
	go r.rxLoop(ctx, errc)
	go r.worker(ctx, errc)
	go r.txLoop(ctx, errc)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	select {
	case err := <-errc:
		return err
	default:
		return ctx.Err()
	}
}

// rxLoop takes a buffer off the free pool, blocks on Transport.Read, and
// either sets the abort flag (TransferAbort packets are never enqueued) or
// hands the filled buffer to worker via the work mailbox.
func (r *Runner) rxLoop(ctx context.Context, errc chan<- error) {
	for {
		var buf []byte
		select {
		case buf = <-r.free:
		case <-ctx.Done():
			return
		}

		n, err := r.Transport.Read(buf)
		if err != nil {
			r.reportErr(errc, fmt.Errorf("usbio: rx read: %w", err))
			r.free <- buf
			return
		}
		if n == 0 {
			r.free <- buf
			continue
		}

		if buf[0] == dap.CmdTransferAbort {
			r.Dispatcher.Abort.Store(true)
			r.free <- buf
			continue
		}

		select {
		case r.work <- buf[:n]:
		case <-ctx.Done():
			return
		}
	}
}

// worker drains the work mailbox, calls Dispatch synchronously (which may
// spin in wire-level bit-bang delays but never blocks on an IPC primitive),
// returns the request buffer to the pool, and posts the response to tx.
func (r *Runner) worker(ctx context.Context, errc chan<- error) {
	for {
		select {
		case req, ok := <-r.work:
			if !ok {
				return
			}
			resp := r.Dispatcher.Dispatch(req)
			r.free <- req[:cap(req)]
			select {
			case r.tx <- resp:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// txLoop drains the tx mailbox and issues the USB IN write, following with
// a zero-length packet when the previous write filled exactly PacketSize
// bytes (the host's bulk-transfer termination rule).
func (r *Runner) txLoop(ctx context.Context, errc chan<- error) {
	for {
		select {
		case resp, ok := <-r.tx:
			if !ok {
				return
			}
			if _, err := r.Transport.Write(resp); err != nil {
				r.reportErr(errc, fmt.Errorf("usbio: tx write: %w", err))
				return
			}
			if len(resp) == r.PacketSize {
				r.Transport.Write(nil)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) reportErr(errc chan<- error, err error) {
	select {
	case errc <- err:
	default:
	}
}
