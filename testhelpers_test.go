package spear

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/lfedgeai/SPEAR/internal/wire"
)

// pipeConn is a thin net.Pipe() wrapper so call sites read as (client, host).
func pipeConn() (net.Conn, net.Conn) {
	return net.Pipe()
}

// fakeHost drives the opposite end of a net.Pipe() (or real TCP) connection
// as if it were the host process: raw frame read/write plus envelope
// encode/decode, used by every test in this package to avoid a live host.
type fakeHost struct {
	t    *testing.T
	conn net.Conn
}

func newFakeHost(t *testing.T, conn net.Conn) *fakeHost {
	return &fakeHost{t: t, conn: conn}
}

func (h *fakeHost) readSecret() uint64 {
	h.t.Helper()
	var buf [8]byte
	if _, err := io.ReadFull(h.conn, buf[:]); err != nil {
		h.t.Fatalf("read secret: %v", err)
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func (h *fakeHost) writeFrame(payload []byte) {
	h.t.Helper()
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := h.conn.Write(hdr[:]); err != nil {
		h.t.Fatalf("write frame header: %v", err)
	}
	if len(payload) > 0 {
		if _, err := h.conn.Write(payload); err != nil {
			h.t.Fatalf("write frame body: %v", err)
		}
	}
}

// readFrame blocks until a full frame arrives; returns (nil, true) for the
// zero-length terminator.
func (h *fakeHost) readFrame() ([]byte, bool) {
	h.t.Helper()
	var hdr [8]byte
	if _, err := io.ReadFull(h.conn, hdr[:]); err != nil {
		h.t.Fatalf("read frame header: %v", err)
	}
	n := binary.LittleEndian.Uint64(hdr[:])
	if n == 0 {
		return nil, true
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(h.conn, body); err != nil {
		h.t.Fatalf("read frame body: %v", err)
	}
	return body, false
}

func (h *fakeHost) writeEnvelope(env *wire.Envelope) {
	h.t.Helper()
	data, err := wire.Encode(env)
	if err != nil {
		h.t.Fatalf("encode envelope: %v", err)
	}
	h.writeFrame(data)
}

// readEnvelope reads the next frame and decodes it as an envelope. Fails the
// test if a terminator arrives instead.
func (h *fakeHost) readEnvelope() *wire.Envelope {
	h.t.Helper()
	body, term := h.readFrame()
	if term {
		h.t.Fatalf("readEnvelope: got terminator frame")
	}
	env, err := wire.Decode(body)
	if err != nil {
		h.t.Fatalf("decode envelope: %v", err)
	}
	return env
}

// newPipeRuntime wires a Runtime over an in-memory net.Pipe(), returning the
// runtime (not yet running its dispatch loop) and the host-side fakeHost.
// Callers must invoke rt.startWithConn then drive rt.Run() themselves, or
// use newRunningPipeRuntime below.
func newPipeRuntime(t *testing.T, opts ...Option) (*Runtime, *fakeHost) {
	t.Helper()
	client, host := net.Pipe()
	rt := New(opts...)
	rt.startWithConn(client)
	return rt, newFakeHost(t, host)
}

// newRunningPipeRuntime additionally starts rt.Run() in a background
// goroutine and returns a channel that receives its result.
func newRunningPipeRuntime(t *testing.T, opts ...Option) (*Runtime, *fakeHost, <-chan error) {
	t.Helper()
	rt, host := newPipeRuntime(t, opts...)
	done := make(chan error, 1)
	go func() { done <- rt.Run() }()
	return rt, host, done
}

// tryReadFrame attempts to read one frame within timeout, returning ok=false
// on timeout instead of failing the test. Used to assert the *absence* of a
// frame (e.g. no terminator while requests are still inflight).
func (h *fakeHost) tryReadFrame(timeout time.Duration) (body []byte, term bool, ok bool) {
	h.t.Helper()
	_ = h.conn.SetReadDeadline(time.Now().Add(timeout))
	defer h.conn.SetReadDeadline(time.Time{})

	var hdr [8]byte
	if _, err := io.ReadFull(h.conn, hdr[:]); err != nil {
		return nil, false, false
	}
	n := binary.LittleEndian.Uint64(hdr[:])
	if n == 0 {
		return nil, true, true
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(h.conn, buf[:]); err != nil {
		return nil, false, false
	}
	return buf, false, true
}

func waitErr(t *testing.T, done <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for Run to return")
		return nil
	}
}
