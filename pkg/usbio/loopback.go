package usbio

import "io"

// LoopbackTransport is an in-process Transport double for tests: Send
// enqueues a request packet as the host would, and Recv drains the next
// response packet written by txLoop.
type LoopbackTransport struct {
	in  chan []byte
	out chan []byte
}

// NewLoopbackTransport returns a LoopbackTransport with room for a few
// packets in flight in each direction.
func NewLoopbackTransport() *LoopbackTransport {
	return &LoopbackTransport{
		in:  make(chan []byte, 8),
		out: make(chan []byte, 8),
	}
}

// Send queues req as the next packet Read will hand to rxLoop.
func (l *LoopbackTransport) Send(req []byte) {
	cp := append([]byte(nil), req...)
	l.in <- cp
}

// Recv blocks for the next packet written by txLoop, including the
// zero-length termination packet when one was issued.
func (l *LoopbackTransport) Recv() []byte {
	return <-l.out
}

// Close unblocks a pending Read with io.EOF, stopping rxLoop.
func (l *LoopbackTransport) Close() {
	close(l.in)
}

func (l *LoopbackTransport) Read(buf []byte) (int, error) {
	data, ok := <-l.in
	if !ok {
		return 0, io.EOF
	}
	return copy(buf, data), nil
}

func (l *LoopbackTransport) Write(buf []byte) (int, error) {
	cp := append([]byte(nil), buf...)
	l.out <- cp
	return len(buf), nil
}
