package spear

// RequestContext is the context passed to a Custom method handler.
type RequestContext struct {
	payload string
}

// Payload returns the params_str carried by the NormalRequestInfo.
func (c *RequestContext) Payload() string { return c.payload }

// StreamRequestContext is the context delivered to a stream handler for an
// OperationEvent or NotificationEvent.
type StreamRequestContext struct {
	StreamID   uint32
	SequenceID uint32
	Final      bool
	Name       string
	Data       []byte

	// IsNotification is true when the context came from a
	// NotificationEvent (NotifyType is then meaningful) and false when it
	// came from an OperationEvent (Op is then meaningful). The same handler
	// receives both kinds.
	IsNotification bool
	Op             uint8
	NotifyType     uint8
}

// RawStreamRequestContext is the context delivered to a stream handler for
// a RawData event.
type RawStreamRequestContext struct {
	StreamID   uint32
	SequenceID uint32
	Final      bool
	Data       []byte
}
