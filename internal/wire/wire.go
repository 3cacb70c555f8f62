// Package wire implements the outer envelope codec for the host-agent
// transport protocol: encode/decode of Request, Response and Signal
// envelopes, and of the StreamData signal payload nested inside a Signal.
//
// The schema is external and stable — field order and wire size are fixed
// and must interoperate bit-for-bit with the host. Encoding uses a fixed,
// hand-rolled little-endian binary layout via encoding/binary, the same
// primitive the smux session framing uses for its own headers, rather than
// a general-purpose serializer: the envelope has no recursive structure, and
// its few optional fields (a Response's message and payload) are carried
// behind a flags byte.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Method enumerates the request methods carried by a Request envelope.
type Method uint8

const (
	MethodToolInvoke Method = iota
	MethodCustom
	MethodTransform
	MethodInput
	MethodSpeak
	MethodRecord
	MethodStreamCtrl
)

func (m Method) String() string {
	switch m {
	case MethodToolInvoke:
		return "ToolInvoke"
	case MethodCustom:
		return "Custom"
	case MethodTransform:
		return "Transform"
	case MethodInput:
		return "Input"
	case MethodSpeak:
		return "Speak"
	case MethodRecord:
		return "Record"
	case MethodStreamCtrl:
		return "StreamCtrl"
	default:
		return fmt.Sprintf("Method(%d)", uint8(m))
	}
}

// Signal enumerates the asynchronous, unpaired messages exchanged by either
// side.
type Signal uint8

const (
	SignalTerminate Signal = iota
	SignalStreamData
)

func (s Signal) String() string {
	switch s {
	case SignalTerminate:
		return "Terminate"
	case SignalStreamData:
		return "StreamData"
	default:
		return fmt.Sprintf("Signal(%d)", uint8(s))
	}
}

// OperationType enumerates the kinds of OperationEvent carried by a
// StreamData signal.
type OperationType uint8

const (
	OpCreate OperationType = iota
	OpAppend
	OpClose
)

// NotificationEventType enumerates the kinds of NotificationEvent carried
// by a StreamData signal.
type NotificationEventType uint8

const (
	NotifyCreated NotificationEventType = iota
	NotifyConfigured
	NotifyUpdated
	NotifyCompleted
	NotifyError
)

// StreamVariant discriminates the inner payload of a StreamData signal.
type StreamVariant uint8

const (
	VariantRaw StreamVariant = iota
	VariantOperation
	VariantNotification
)

// ErrUnknownEnvelope is returned when a frame's discriminant does not match
// any known envelope variant.
var ErrUnknownEnvelope = errors.New("wire: unknown envelope discriminant")

// ErrTruncated is returned when a frame ends before a required field.
var ErrTruncated = errors.New("wire: truncated frame")

// EnvelopeKind discriminates the three envelope variants.
type EnvelopeKind uint8

const (
	KindRequest EnvelopeKind = iota
	KindResponse
	KindSignal
)

// Envelope is the outermost wire record: exactly one of Request, Response
// or Signal is populated, selected by Kind.
type Envelope struct {
	Kind     EnvelopeKind
	Request  *Request
	Response *Response
	Signal   *SignalMsg
}

// Request is a Request envelope: id is assigned monotonically by the
// sender, method selects how the peer should interpret payload.
type Request struct {
	ID      uint32
	Method  Method
	Payload []byte
}

// Response pairs with a prior Request by ID. Code 0 means success; Message
// and Payload are both optional.
type Response struct {
	ID      uint32
	Code    int32
	Message string
	Payload []byte

	HasMessage bool
	HasPayload bool
}

// SignalMsg is a one-way, unpaired message.
type SignalMsg struct {
	Method  Signal
	Payload []byte
}

// StreamData is the decoded payload of a Signal{Method: StreamData}.
type StreamData struct {
	StreamID   uint32
	SequenceID uint32
	Final      bool
	Variant    StreamVariant

	// Raw
	RawBytes []byte

	// Operation / Notification
	Name       string
	Op         OperationType
	NotifyType NotificationEventType
	EventBytes []byte
}

// Encode serializes an envelope to its wire form.
func Encode(e *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	switch e.Kind {
	case KindRequest:
		buf.WriteByte(byte(KindRequest))
		req := e.Request
		writeU32(&buf, req.ID)
		buf.WriteByte(byte(req.Method))
		writeBytes32(&buf, req.Payload)
	case KindResponse:
		buf.WriteByte(byte(KindResponse))
		resp := e.Response
		writeU32(&buf, resp.ID)
		writeI32(&buf, resp.Code)
		var flags byte
		if resp.HasMessage {
			flags |= 0x1
		}
		if resp.HasPayload {
			flags |= 0x2
		}
		buf.WriteByte(flags)
		if resp.HasMessage {
			writeString16(&buf, resp.Message)
		}
		if resp.HasPayload {
			writeBytes32(&buf, resp.Payload)
		}
	case KindSignal:
		buf.WriteByte(byte(KindSignal))
		sig := e.Signal
		buf.WriteByte(byte(sig.Method))
		writeBytes32(&buf, sig.Payload)
	default:
		return nil, ErrUnknownEnvelope
	}
	return buf.Bytes(), nil
}

// Decode parses an envelope from its wire form.
func Decode(data []byte) (*Envelope, error) {
	r := bytes.NewReader(data)
	tag, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrTruncated, "envelope tag")
	}
	switch EnvelopeKind(tag) {
	case KindRequest:
		id, err := readU32(r)
		if err != nil {
			return nil, errors.Wrap(err, "request id")
		}
		methodByte, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrTruncated, "request method")
		}
		payload, err := readBytes32(r)
		if err != nil {
			return nil, errors.Wrap(err, "request payload")
		}
		return &Envelope{Kind: KindRequest, Request: &Request{
			ID: id, Method: Method(methodByte), Payload: payload,
		}}, nil
	case KindResponse:
		id, err := readU32(r)
		if err != nil {
			return nil, errors.Wrap(err, "response id")
		}
		code, err := readI32(r)
		if err != nil {
			return nil, errors.Wrap(err, "response code")
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrTruncated, "response flags")
		}
		resp := &Response{ID: id, Code: code}
		if flags&0x1 != 0 {
			resp.HasMessage = true
			resp.Message, err = readString16(r)
			if err != nil {
				return nil, errors.Wrap(err, "response message")
			}
		}
		if flags&0x2 != 0 {
			resp.HasPayload = true
			resp.Payload, err = readBytes32(r)
			if err != nil {
				return nil, errors.Wrap(err, "response payload")
			}
		}
		return &Envelope{Kind: KindResponse, Response: resp}, nil
	case KindSignal:
		methodByte, err := r.ReadByte()
		if err != nil {
			return nil, errors.Wrap(ErrTruncated, "signal method")
		}
		payload, err := readBytes32(r)
		if err != nil {
			return nil, errors.Wrap(err, "signal payload")
		}
		return &Envelope{Kind: KindSignal, Signal: &SignalMsg{
			Method: Signal(methodByte), Payload: payload,
		}}, nil
	default:
		return nil, ErrUnknownEnvelope
	}
}

// EncodeStreamData serializes a StreamData payload (the contents of a
// StreamData signal's Payload field).
func EncodeStreamData(sd *StreamData) []byte {
	var buf bytes.Buffer
	writeU32(&buf, sd.StreamID)
	writeU32(&buf, sd.SequenceID)
	if sd.Final {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.WriteByte(byte(sd.Variant))
	switch sd.Variant {
	case VariantRaw:
		writeBytes32(&buf, sd.RawBytes)
	case VariantOperation:
		writeString16(&buf, sd.Name)
		buf.WriteByte(byte(sd.Op))
		writeBytes32(&buf, sd.EventBytes)
	case VariantNotification:
		writeString16(&buf, sd.Name)
		buf.WriteByte(byte(sd.NotifyType))
		writeBytes32(&buf, sd.EventBytes)
	}
	return buf.Bytes()
}

// DecodeStreamData parses a StreamData payload.
func DecodeStreamData(data []byte) (*StreamData, error) {
	r := bytes.NewReader(data)
	streamID, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(err, "stream_id")
	}
	seqID, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(err, "sequence_id")
	}
	finalByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrTruncated, "final")
	}
	variantByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrTruncated, "variant")
	}
	sd := &StreamData{
		StreamID:   streamID,
		SequenceID: seqID,
		Final:      finalByte != 0,
		Variant:    StreamVariant(variantByte),
	}
	switch sd.Variant {
	case VariantRaw:
		sd.RawBytes, err = readBytes32(r)
		if err != nil {
			return nil, errors.Wrap(err, "raw bytes")
		}
	case VariantOperation:
		sd.Name, err = readString16(r)
		if err != nil {
			return nil, errors.Wrap(err, "operation name")
		}
		opByte, err2 := r.ReadByte()
		if err2 != nil {
			return nil, errors.Wrap(ErrTruncated, "operation op")
		}
		sd.Op = OperationType(opByte)
		sd.EventBytes, err = readBytes32(r)
		if err != nil {
			return nil, errors.Wrap(err, "operation bytes")
		}
	case VariantNotification:
		sd.Name, err = readString16(r)
		if err != nil {
			return nil, errors.Wrap(err, "notification name")
		}
		typeByte, err2 := r.ReadByte()
		if err2 != nil {
			return nil, errors.Wrap(ErrTruncated, "notification type")
		}
		sd.NotifyType = NotificationEventType(typeByte)
		sd.EventBytes, err = readBytes32(r)
		if err != nil {
			return nil, errors.Wrap(err, "notification bytes")
		}
	default:
		return nil, errors.New("wire: unknown stream data variant")
	}
	return sd, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeI32(buf *bytes.Buffer, v int32) {
	writeU32(buf, uint32(v))
}

func writeBytes32(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString16(buf *bytes.Buffer, s string) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(len(s)))
	buf.Write(tmp[:])
	buf.WriteString(s)
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, ErrTruncated
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readI32(r *bytes.Reader) (int32, error) {
	v, err := readU32(r)
	return int32(v), err
}

func readBytes32(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, ErrTruncated
	}
	return b, nil
}

func readString16(r *bytes.Reader) (string, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return "", ErrTruncated
	}
	n := binary.LittleEndian.Uint16(tmp[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrTruncated
	}
	return string(b), nil
}

func putU16(b []byte, v uint16)   { binary.LittleEndian.PutUint16(b, v) }
func getU16(b []byte) uint16      { return binary.LittleEndian.Uint16(b) }
func ioReadFull(r io.Reader, b []byte) (int, error) { return io.ReadFull(r, b) }
