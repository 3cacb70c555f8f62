package spear

import "github.com/pkg/errors"

// JSON-RPC-style response codes carried in TransportResponse.code.
const (
	CodeOK              int32 = 0
	CodeTooManyRequests int32 = -32000
	CodeMethodNotFound  int32 = -32601
	CodeInternalError   int32 = -32603
)

var (
	// ErrClosed is returned by operations attempted after the runtime has
	// stopped.
	ErrClosed = errors.New("spear: runtime closed")
	// ErrMethodRegistered is returned by RegisterMethod for a name already
	// in use.
	ErrMethodRegistered = errors.New("spear: method already registered")
	// ErrToolRegistered is returned by RegisterTool for a tool id already
	// in use.
	ErrToolRegistered = errors.New("spear: tool id already registered")
	// ErrReservedStreamID is returned when a caller attempts to create,
	// close or send on SysIOStreamID.
	ErrReservedStreamID = errors.New("spear: stream id 0 is reserved for the session stream")
	// ErrProtocolViolation is returned to callers of Run when the peer
	// sent a request or signal with an unknown method, or a malformed
	// inner payload. A frame that does not decode as an envelope at all
	// surfaces the wrapped decode error instead.
	ErrProtocolViolation = errors.New("spear: protocol violation")
	// ErrStreamCtrlMismatch is raised to the caller of CreateStream/
	// CloseStream when the host's reply does not echo the expected
	// request_id/stream_id.
	ErrStreamCtrlMismatch = errors.New("spear: stream control reply mismatch")
)

// RequestError is the error ExecRequest returns when the peer responded
// with a non-zero code. It preserves the code so callers can distinguish
// capacity rejection from method-not-found from internal errors.
type RequestError struct {
	Code    int32
	Message string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return errorCodeName(e.Code)
	}
	return e.Message
}

func errorCodeName(code int32) string {
	switch code {
	case CodeTooManyRequests:
		return "too many requests"
	case CodeMethodNotFound:
		return "method not found"
	case CodeInternalError:
		return "internal error"
	default:
		return "request failed"
	}
}
