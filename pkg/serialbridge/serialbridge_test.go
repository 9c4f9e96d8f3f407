package serialbridge

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

// pipeEnd implements io.ReadWriter over a pair of in-memory pipes so tests
// can script exactly what each side of the Bridge sees.
type pipeEnd struct {
	r io.Reader
	w io.Writer
}

func (p pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }

func TestRingWriteReadRoundTrip(t *testing.T) {
	rb := newRing(4)
	go func() {
		rb.Write([]byte("hello"))
	}()

	got := make([]byte, 0, 5)
	buf := make([]byte, 2)
	for len(got) < 5 {
		n, err := rb.Read(buf)
		if err != nil {
			t.Fatalf("Read error: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestRingCloseUnblocksRead(t *testing.T) {
	rb := newRing(4)
	done := make(chan error, 1)
	go func() {
		_, err := rb.Read(make([]byte, 1))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	rb.Close()

	select {
	case err := <-done:
		if err != io.EOF {
			t.Fatalf("err = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestBridgeShuttlesBothDirections(t *testing.T) {
	// Each side of the Bridge is mocked as two independent unidirectional
	// pipes: one the bridge reads from (the test plays the external
	// writer) and one the bridge writes to (the test plays the external
	// reader). This avoids wiring the bridge's own read/write pair back
	// into itself.
	hostIn, testWritesToHost := io.Pipe()
	testReadsFromHost, hostOut := io.Pipe()
	auxIn, testWritesToAux := io.Pipe()
	testReadsFromAux, auxOut := io.Pipe()

	b := New(pipeEnd{r: hostIn, w: hostOut}, pipeEnd{r: auxIn, w: auxOut})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	go testWritesToHost.Write([]byte("to-aux"))
	got := make([]byte, 6)
	if _, err := io.ReadFull(testReadsFromAux, got); err != nil {
		t.Fatalf("aux side read: %v", err)
	}
	if !bytes.Equal(got, []byte("to-aux")) {
		t.Fatalf("aux got %q, want %q", got, "to-aux")
	}

	go testWritesToAux.Write([]byte("to-host"))
	got2 := make([]byte, 7)
	if _, err := io.ReadFull(testReadsFromHost, got2); err != nil {
		t.Fatalf("host side read: %v", err)
	}
	if !bytes.Equal(got2, []byte("to-host")) {
		t.Fatalf("host got %q, want %q", got2, "to-host")
	}
}
