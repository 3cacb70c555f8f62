package wire

import (
	"bytes"

	"github.com/pkg/errors"
)

// RequestInfoKind discriminates the two CustomRequest.request_info shapes.
type RequestInfoKind uint8

const (
	RequestInfoNormal RequestInfoKind = iota
	RequestInfoStream
)

// CustomRequest is the payload of a Request{Method: Custom}.
type CustomRequest struct {
	MethodStr string
	InfoKind  RequestInfoKind

	// RequestInfoNormal
	ParamsStr string

	// RequestInfoStream: opaque, the streaming request_info shape is not
	// defined by this runtime (see spec Open Questions); carried verbatim.
	RawInfo []byte
}

// CustomResponse is the payload of the Response to a Custom request.
type CustomResponse struct {
	Data []byte
}

// ToolParam is one (key, value) pair of a ToolInvocationRequest.
type ToolParam struct {
	Key   string
	Value string
}

// ToolInvocationRequest is the payload of a Request{Method: ToolInvoke}.
type ToolInvocationRequest struct {
	ToolID uint32
	Params []ToolParam
}

// ToolInvocationResponse is the payload of the Response to a tool
// invocation.
type ToolInvocationResponse struct {
	Result string
}

// StreamControlOp discriminates StreamControlRequest.Op.
type StreamControlOp uint8

const (
	StreamCtrlNew StreamControlOp = iota
	StreamCtrlClose
)

// StreamControlRequest is the payload of a Request{Method: StreamCtrl}.
type StreamControlRequest struct {
	Op        StreamControlOp
	RequestID uint32
	ClassName string // New only
	StreamID  uint32 // Close only
}

// StreamControlResponse is the payload of the Response to a StreamCtrl
// request.
type StreamControlResponse struct {
	RequestID uint32
	StreamID  uint32
}

func EncodeCustomRequest(c *CustomRequest) []byte {
	var buf bytes.Buffer
	writeString16(&buf, c.MethodStr)
	buf.WriteByte(byte(c.InfoKind))
	switch c.InfoKind {
	case RequestInfoNormal:
		writeBytes32(&buf, []byte(c.ParamsStr))
	case RequestInfoStream:
		writeBytes32(&buf, c.RawInfo)
	}
	return buf.Bytes()
}

func DecodeCustomRequest(data []byte) (*CustomRequest, error) {
	r := bytes.NewReader(data)
	methodStr, err := readString16(r)
	if err != nil {
		return nil, errors.Wrap(err, "method_str")
	}
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrTruncated, "info kind")
	}
	c := &CustomRequest{MethodStr: methodStr, InfoKind: RequestInfoKind(kindByte)}
	switch c.InfoKind {
	case RequestInfoNormal:
		b, err := readBytes32(r)
		if err != nil {
			return nil, errors.Wrap(err, "params_str")
		}
		c.ParamsStr = string(b)
	case RequestInfoStream:
		c.RawInfo, err = readBytes32(r)
		if err != nil {
			return nil, errors.Wrap(err, "raw info")
		}
	default:
		return nil, errors.New("wire: unknown request_info kind")
	}
	return c, nil
}

func EncodeCustomResponse(c *CustomResponse) []byte {
	var buf bytes.Buffer
	writeBytes32(&buf, c.Data)
	return buf.Bytes()
}

func DecodeCustomResponse(data []byte) (*CustomResponse, error) {
	r := bytes.NewReader(data)
	b, err := readBytes32(r)
	if err != nil {
		return nil, errors.Wrap(err, "data")
	}
	return &CustomResponse{Data: b}, nil
}

func EncodeToolInvocationRequest(t *ToolInvocationRequest) []byte {
	var buf bytes.Buffer
	writeU32(&buf, t.ToolID)
	var cnt [2]byte
	putU16(cnt[:], uint16(len(t.Params)))
	buf.Write(cnt[:])
	for _, p := range t.Params {
		writeString16(&buf, p.Key)
		writeString16(&buf, p.Value)
	}
	return buf.Bytes()
}

func DecodeToolInvocationRequest(data []byte) (*ToolInvocationRequest, error) {
	r := bytes.NewReader(data)
	toolID, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(err, "tool_id")
	}
	var cnt [2]byte
	if _, err := ioReadFull(r, cnt[:]); err != nil {
		return nil, errors.Wrap(ErrTruncated, "params count")
	}
	n := getU16(cnt[:])
	params := make([]ToolParam, 0, n)
	for i := uint16(0); i < n; i++ {
		k, err := readString16(r)
		if err != nil {
			return nil, errors.Wrap(err, "param key")
		}
		v, err := readString16(r)
		if err != nil {
			return nil, errors.Wrap(err, "param value")
		}
		params = append(params, ToolParam{Key: k, Value: v})
	}
	return &ToolInvocationRequest{ToolID: toolID, Params: params}, nil
}

func EncodeToolInvocationResponse(t *ToolInvocationResponse) []byte {
	var buf bytes.Buffer
	writeBytes32(&buf, []byte(t.Result))
	return buf.Bytes()
}

func DecodeToolInvocationResponse(data []byte) (*ToolInvocationResponse, error) {
	r := bytes.NewReader(data)
	b, err := readBytes32(r)
	if err != nil {
		return nil, errors.Wrap(err, "result")
	}
	return &ToolInvocationResponse{Result: string(b)}, nil
}

func EncodeStreamControlRequest(s *StreamControlRequest) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(s.Op))
	writeU32(&buf, s.RequestID)
	switch s.Op {
	case StreamCtrlNew:
		writeString16(&buf, s.ClassName)
	case StreamCtrlClose:
		writeU32(&buf, s.StreamID)
	}
	return buf.Bytes()
}

func DecodeStreamControlRequest(data []byte) (*StreamControlRequest, error) {
	r := bytes.NewReader(data)
	opByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(ErrTruncated, "op")
	}
	reqID, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(err, "request_id")
	}
	s := &StreamControlRequest{Op: StreamControlOp(opByte), RequestID: reqID}
	switch s.Op {
	case StreamCtrlNew:
		s.ClassName, err = readString16(r)
		if err != nil {
			return nil, errors.Wrap(err, "class_name")
		}
	case StreamCtrlClose:
		s.StreamID, err = readU32(r)
		if err != nil {
			return nil, errors.Wrap(err, "stream_id")
		}
	default:
		return nil, errors.New("wire: unknown stream control op")
	}
	return s, nil
}

func EncodeStreamControlResponse(s *StreamControlResponse) []byte {
	var buf bytes.Buffer
	writeU32(&buf, s.RequestID)
	writeU32(&buf, s.StreamID)
	return buf.Bytes()
}

func DecodeStreamControlResponse(data []byte) (*StreamControlResponse, error) {
	r := bytes.NewReader(data)
	reqID, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(err, "request_id")
	}
	streamID, err := readU32(r)
	if err != nil {
		return nil, errors.Wrap(err, "stream_id")
	}
	return &StreamControlResponse{RequestID: reqID, StreamID: streamID}, nil
}
