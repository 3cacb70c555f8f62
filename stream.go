package spear

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lfedgeai/SPEAR/internal/wire"
)

// Stream is a handle to a logical, host-assigned channel multiplexed over
// the single transport. It is returned by CreateStream and is only valid
// until CloseStream is called on it or an inbound event with Final=true is
// delivered for it.
type Stream struct {
	id uint32
	rt *Runtime
}

// ID returns the host-assigned stream id.
func (s *Stream) ID() uint32 { return s.id }

// SendRaw sends a RawData event on this stream.
func (s *Stream) SendRaw(data []byte, final bool) error {
	return s.rt.sendStreamData(s.id, wire.VariantRaw, "", 0, 0, data, final)
}

// SendOperation sends an OperationEvent on this stream.
func (s *Stream) SendOperation(name string, op OperationType, data []byte, final bool) error {
	return s.rt.sendStreamData(s.id, wire.VariantOperation, name, op, 0, data, final)
}

// SendNotification sends a NotificationEvent on this stream.
func (s *Stream) SendNotification(name string, typ NotificationEventType, data []byte, final bool) error {
	return s.rt.sendStreamData(s.id, wire.VariantNotification, name, 0, typ, data, final)
}

// Close closes the stream: it asks the host to tear it down, then
// unregisters the local handler and sequence counter.
func (s *Stream) Close() error {
	return s.rt.CloseStream(s.id)
}

// streamState tracks the monotonic outbound sequence counter for one
// locally-known stream.
type streamState struct {
	seq uint32 // next sequence_id to hand out, incremented atomically
}

// streamManager owns the per-stream sequence counters. Handler registration
// itself lives in registry.streamHands so delivery lookup stays in one
// place.
type streamManager struct {
	mu    sync.Mutex
	state map[uint32]*streamState
}

func newStreamManager() *streamManager {
	return &streamManager{state: make(map[uint32]*streamState)}
}

func (m *streamManager) add(streamID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[streamID] = &streamState{}
}

func (m *streamManager) remove(streamID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, streamID)
}

func (m *streamManager) nextSeq(streamID uint32) (uint32, bool) {
	m.mu.Lock()
	st, ok := m.state[streamID]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	return atomic.AddUint32(&st.seq, 1) - 1, true
}

// newStreamRequestID generates a random, positive 31-bit request id for a
// StreamCtrl request, mirroring the original SDK's
// uuid.uuid4().int & 0x7FFFFFFF.
func newStreamRequestID() uint32 {
	for {
		id := uuid.New()
		var v uint32
		for _, b := range id[:4] {
			v = v<<8 | uint32(b)
		}
		if v &= 0x7FFFFFFF; v != 0 {
			return v
		}
	}
}

// CreateStream asks the host to allocate a new logical stream of the given
// class, registers handler against the returned stream id, and returns a
// Stream handle. handler is invoked for every inbound StreamData signal
// targeting this stream (raw, operation, or notification) until the stream
// is closed; an inbound Final=true event is delivered to it but does not
// unregister it.
func (rt *Runtime) CreateStream(className string, handler StreamSignalFunc) (*Stream, error) {
	reqID := newStreamRequestID()
	payload := wire.EncodeStreamControlRequest(&wire.StreamControlRequest{
		Op: wire.StreamCtrlNew, RequestID: reqID, ClassName: className,
	})
	raw, err := rt.disp.execRequest(wire.MethodStreamCtrl, payload)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeStreamControlResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.RequestID != reqID {
		return nil, ErrStreamCtrlMismatch
	}
	if resp.StreamID == 0 {
		return nil, ErrReservedStreamID
	}

	rt.streams.add(resp.StreamID)
	rt.reg.RegisterStreamHandler(resp.StreamID, handler)
	return &Stream{id: resp.StreamID, rt: rt}, nil
}

// CloseStream asks the host to tear down stream_id, then unregisters its
// local handler and sequence counter.
func (rt *Runtime) CloseStream(streamID uint32) error {
	if streamID == SysIOStreamID {
		return ErrReservedStreamID
	}
	reqID := newStreamRequestID()
	payload := wire.EncodeStreamControlRequest(&wire.StreamControlRequest{
		Op: wire.StreamCtrlClose, RequestID: reqID, StreamID: streamID,
	})
	raw, err := rt.disp.execRequest(wire.MethodStreamCtrl, payload)
	if err != nil {
		return err
	}
	resp, err := wire.DecodeStreamControlResponse(raw)
	if err != nil {
		return err
	}
	if resp.StreamID != streamID || resp.RequestID != reqID {
		return ErrStreamCtrlMismatch
	}
	rt.reg.UnregisterStreamHandler(streamID)
	rt.streams.remove(streamID)
	return nil
}

// sendStreamData builds and enqueues one outbound StreamData signal,
// consuming the next value of the stream's monotonic sequence counter.
func (rt *Runtime) sendStreamData(streamID uint32, variant wire.StreamVariant, name string, op wire.OperationType, notify wire.NotificationEventType, data []byte, final bool) error {
	if streamID == SysIOStreamID {
		return ErrReservedStreamID
	}
	seq, ok := rt.streams.nextSeq(streamID)
	if !ok {
		return ErrStreamCtrlMismatch
	}
	sd := &wire.StreamData{
		StreamID: streamID, SequenceID: seq, Final: final, Variant: variant,
	}
	switch variant {
	case wire.VariantRaw:
		sd.RawBytes = data
	case wire.VariantOperation:
		sd.Name = name
		sd.Op = op
		sd.EventBytes = data
	case wire.VariantNotification:
		sd.Name = name
		sd.NotifyType = notify
		sd.EventBytes = data
	}
	payload := wire.EncodeStreamData(sd)
	env := &wire.Envelope{Kind: wire.KindSignal, Signal: &wire.SignalMsg{
		Method: wire.SignalStreamData, Payload: payload,
	}}
	frame, err := wire.Encode(env)
	if err != nil {
		return err
	}
	return rt.transport.enqueue(frame)
}
