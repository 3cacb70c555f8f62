package spear

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/sagernet/sing/common/bufio"

	"github.com/lfedgeai/SPEAR/internal/wire"
)

// transport owns the single TCP connection: handshake, length-prefixed
// framing, and the sender/receiver goroutines. Only the sender writes the
// socket and only the receiver reads it, matching spec.md §5.
type transport struct {
	conn net.Conn
	log  *zerolog.Logger

	sendCh chan []byte
	doneCh chan struct{} // closed once sender has written the terminator
	stopCh chan struct{}

	inbound chan *wire.Envelope // decoded envelopes, receiver -> dispatcher

	closeOnce sync.Once
	connOnce  sync.Once
	fatalErr  atomic.Value // error
}

// closeConn closes the underlying socket. Idempotent; safe to call after
// closeForced (which already closed it).
func (t *transport) closeConn() {
	t.connOnce.Do(func() {
		t.conn.Close()
	})
}

func dialTransport(addr string, secret uint64, queueSize int, log *zerolog.Logger) (*transport, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "spear: dial host")
	}
	var secretBuf [8]byte
	binary.LittleEndian.PutUint64(secretBuf[:], secret)
	if _, err := conn.Write(secretBuf[:]); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "spear: handshake write")
	}
	return newTransport(conn, queueSize, log), nil
}

// newTransport wraps an already-handshaken connection. Split out from
// dialTransport so tests can drive the framing/dispatch layers over an
// in-memory net.Pipe() without a real TCP handshake.
func newTransport(conn net.Conn, queueSize int, log *zerolog.Logger) *transport {
	return &transport{
		conn:    conn,
		log:     log,
		sendCh:  make(chan []byte, queueSize),
		doneCh:  make(chan struct{}),
		stopCh:  make(chan struct{}),
		inbound: make(chan *wire.Envelope, queueSize),
	}
}

// enqueue publishes a frame's envelope bytes on the send queue. Blocks once
// the queue is full (spec.md §5 backpressure).
func (t *transport) enqueue(payload []byte) error {
	select {
	case t.sendCh <- payload:
		return nil
	case <-t.stopCh:
		return ErrClosed
	}
}

func (t *transport) recordFatal(err error) {
	t.fatalErr.CompareAndSwap(nil, err)
}

func (t *transport) err() error {
	if v := t.fatalErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// closeGraceful requests the sender drain remaining frames and write a
// zero-length terminator before returning, per spec.md §4.6.
func (t *transport) closeGraceful() {
	t.closeOnce.Do(func() {
		close(t.stopCh)
		// Unblock a receiver parked in a blocking read so it observes
		// stopCh instead of waiting indefinitely for the peer to close
		// its half of the connection.
		_ = t.conn.SetReadDeadline(time.Now())
	})
}

// closeForced tears down the connection immediately, used for protocol
// violations (spec.md §7) where no drain is appropriate.
func (t *transport) closeForced(err error) {
	t.recordFatal(err)
	t.closeOnce.Do(func() {
		close(t.stopCh)
	})
	t.closeConn()
}

// senderLoop is the single writer over the socket. It is kept asleep on
// sendCh/stopCh; on stop it drains whatever is already queued, then writes
// a zero-length frame terminator.
func (t *transport) senderLoop() {
	defer close(t.doneCh)

	bw, vectorised := bufio.CreateVectorisedWriter(t.conn)
	var hdrBuf [8]byte
	vec := make([][]byte, 2)

	write := func(payload []byte) error {
		binary.LittleEndian.PutUint64(hdrBuf[:], uint64(len(payload)))
		if vectorised {
			vec[0] = hdrBuf[:]
			vec[1] = payload
			_, err := bufio.WriteVectorised(bw, vec)
			return err
		}
		if _, err := t.conn.Write(hdrBuf[:]); err != nil {
			return err
		}
		if len(payload) == 0 {
			return nil
		}
		_, err := t.conn.Write(payload)
		return err
	}

	for {
		select {
		case payload := <-t.sendCh:
			if err := write(payload); err != nil {
				t.recordFatal(errors.Wrap(err, "spear: frame write"))
				return
			}
		case <-t.stopCh:
			for {
				select {
				case payload := <-t.sendCh:
					if err := write(payload); err != nil {
						t.recordFatal(errors.Wrap(err, "spear: frame write"))
						return
					}
					continue
				default:
				}
				break
			}
			if err := write(nil); err != nil {
				t.recordFatal(errors.Wrap(err, "spear: terminator write"))
			}
			return
		}
	}
}

// receiverLoop is the single reader over the socket. Frames are decoded
// into envelopes and handed to the dispatcher's inbound channel; a
// zero-length frame or socket close ends the loop.
func (t *transport) receiverLoop() {
	defer close(t.inbound)

	var lenBuf [8]byte
	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		if _, err := io.ReadFull(t.conn, lenBuf[:]); err != nil {
			select {
			case <-t.stopCh:
				return
			default:
			}
			// Any read failure reaching here was not triggered by our own
			// stop request, so the peer went away without sending the
			// protocol-level zero-length terminator: treat it as an
			// unexpected close (spec.md §7 "socket unexpectedly closed").
			t.closeForced(errors.Wrap(err, "spear: frame length read"))
			return
		}
		length := binary.LittleEndian.Uint64(lenBuf[:])
		if length == 0 {
			// graceful end-of-stream marker from the peer
			t.closeGraceful()
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(t.conn, body); err != nil {
			t.closeForced(errors.Wrap(err, "spear: frame body read"))
			return
		}
		env, err := wire.Decode(body)
		if err != nil {
			t.closeForced(errors.Wrap(err, "spear: envelope decode"))
			return
		}
		select {
		case t.inbound <- env:
		case <-t.stopCh:
			return
		}
	}
}

