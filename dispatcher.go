package spear

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lfedgeai/SPEAR/internal/wire"
)

// pendingRequest is an outbound request awaiting its paired response.
type pendingRequest struct {
	sentAt time.Time
	cb     func(*wire.Response)
}

// dispatcher consumes decoded envelopes from the transport's inbound
// channel and takes exactly one action per envelope: route an inbound
// Request to a handler, complete a pending outbound Request on a matching
// Response, or fan a Signal out to its handlers. Custom/tool handlers run
// in their own goroutine; stream and StreamData signal handlers are called
// synchronously on the dispatch goroutine.
type dispatcher struct {
	t   *transport
	reg *registry
	rt  *Runtime // back-reference for stream delivery and inflight/shutdown hooks

	pendingMu sync.Mutex
	pending   map[uint32]*pendingRequest
	nextReqID uint32 // monotonic, process-local

	inflight    int32
	maxInflight int32

	wg sync.WaitGroup
}

func newDispatcher(t *transport, reg *registry, rt *Runtime, maxInflight int) *dispatcher {
	return &dispatcher{
		t:           t,
		reg:         reg,
		rt:          rt,
		pending:     make(map[uint32]*pendingRequest),
		maxInflight: int32(maxInflight),
	}
}

// run is the dispatch loop; it returns once the transport's inbound
// channel is closed (receiver exited) or the runtime is stopping.
func (d *dispatcher) run() {
	for env := range d.t.inbound {
		d.handle(env)
	}
	// Transport is gone: release every still-pending outbound request with
	// a transport error so exec_request callers unblock (spec.md §4.1
	// "Failures: ... drain pending requests with a transport-error
	// response").
	d.drainPendingWithError()
}

func (d *dispatcher) handle(env *wire.Envelope) {
	switch env.Kind {
	case wire.KindRequest:
		d.handleRequest(env.Request)
	case wire.KindResponse:
		d.handleResponse(env.Response)
	case wire.KindSignal:
		d.handleSignal(env.Signal)
	default:
		d.t.closeForced(ErrProtocolViolation)
	}
}

func (d *dispatcher) handleRequest(req *wire.Request) {
	switch req.Method {
	case wire.MethodToolInvoke:
		d.handleToolInvoke(req)
	case wire.MethodCustom:
		d.handleCustom(req)
	default:
		d.rt.log().Error().Stringer("method", req.Method).Msg("spear: invalid inbound request method")
		d.t.closeForced(ErrProtocolViolation)
	}
}

func (d *dispatcher) handleToolInvoke(req *wire.Request) {
	inv, err := wire.DecodeToolInvocationRequest(req.Payload)
	if err != nil {
		d.rt.log().Error().Err(err).Msg("spear: malformed ToolInvocationRequest")
		d.t.closeForced(ErrProtocolViolation)
		return
	}
	fn, ok := d.reg.lookupTool(inv.ToolID)
	if !ok {
		d.sendError(req.ID, CodeInternalError, "tool id does not exist")
		return
	}
	params := make(map[string]string, len(inv.Params))
	for _, p := range inv.Params {
		params[p.Key] = p.Value
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		result, err := func() (res string, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicToErr(r)
				}
			}()
			return fn(params)
		}()
		if err != nil {
			d.sendError(req.ID, CodeInternalError, err.Error())
			return
		}
		payload := wire.EncodeToolInvocationResponse(&wire.ToolInvocationResponse{Result: result})
		d.sendResponse(req.ID, CodeOK, "", payload, false, true)
	}()
}

func (d *dispatcher) handleCustom(req *wire.Request) {
	custom, err := wire.DecodeCustomRequest(req.Payload)
	if err != nil {
		d.rt.log().Error().Err(err).Msg("spear: malformed CustomRequest")
		d.t.closeForced(ErrProtocolViolation)
		return
	}
	entry, ok := d.reg.lookupMethod(custom.MethodStr)
	if !ok {
		d.sendError(req.ID, CodeMethodNotFound, "Method not found")
		return
	}
	if custom.InfoKind == wire.RequestInfoNormal {
		if entry.inStream || entry.outStream {
			d.sendError(req.ID, CodeMethodNotFound, "invalid request type")
			return
		}
	} else {
		// Streaming request_info shape is opaque pass-through (see
		// SPEC_FULL.md); a handler not flagged for streaming must not
		// receive it.
		if !entry.inStream && !entry.outStream {
			d.sendError(req.ID, CodeMethodNotFound, "invalid request type")
			return
		}
	}

	if !d.acquireInflight() {
		d.sendError(req.ID, CodeTooManyRequests, "Too many requests")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.releaseInflight()
		ctx := &RequestContext{payload: custom.ParamsStr}
		result, err := func() (res []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = panicToErr(r)
				}
			}()
			return entry.fn(ctx)
		}()
		if err != nil {
			d.sendError(req.ID, CodeInternalError, err.Error())
			return
		}
		payload := wire.EncodeCustomResponse(&wire.CustomResponse{Data: result})
		d.sendResponse(req.ID, CodeOK, "", payload, false, true)
	}()
}

// acquireInflight enforces the inflight cap: spec.md §3's
// MAX_INFLIGHT_REQUESTS, tunable for tests via Config.MaxInflight.
func (d *dispatcher) acquireInflight() bool {
	for {
		cur := atomic.LoadInt32(&d.inflight)
		if cur >= d.maxInflight {
			return false
		}
		if atomic.CompareAndSwapInt32(&d.inflight, cur, cur+1) {
			return true
		}
	}
}

func (d *dispatcher) releaseInflight() {
	atomic.AddInt32(&d.inflight, -1)
}

func (d *dispatcher) inflightCount() int32 {
	return atomic.LoadInt32(&d.inflight)
}

func (d *dispatcher) handleResponse(resp *wire.Response) {
	d.pendingMu.Lock()
	p, ok := d.pending[resp.ID]
	if ok {
		delete(d.pending, resp.ID)
	}
	d.pendingMu.Unlock()
	if !ok {
		d.rt.log().Warn().Uint32("id", resp.ID).Msg("spear: response for unknown request id")
		return
	}
	p.cb(resp)
}

func (d *dispatcher) handleSignal(sig *wire.SignalMsg) {
	switch sig.Method {
	case wire.SignalTerminate:
		d.rt.log().Info().Msg("spear: received Terminate signal")
		d.rt.initiateShutdown()
	case wire.SignalStreamData:
		sd, err := wire.DecodeStreamData(sig.Payload)
		if err != nil {
			d.rt.log().Error().Err(err).Msg("spear: malformed StreamData signal")
			d.t.closeForced(ErrProtocolViolation)
			return
		}
		d.deliverStreamData(sd)
	default:
		d.rt.log().Error().Stringer("signal", sig.Method).Msg("spear: invalid signal method")
		d.t.closeForced(ErrProtocolViolation)
	}
}

func (d *dispatcher) deliverStreamData(sd *wire.StreamData) {
	defer func() {
		if r := recover(); r != nil {
			d.rt.log().Error().Interface("panic", r).Msg("spear: stream handler panicked")
		}
	}()

	if fn, ok := d.reg.lookupStreamHandler(sd.StreamID); ok {
		fn(streamDataToContext(sd))
		return
	}
	for _, fn := range d.reg.signalHandlers(uint8(wire.SignalStreamData)) {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.rt.log().Error().Interface("panic", r).Msg("spear: signal handler panicked")
				}
			}()
			fn(streamDataToContext(sd))
		}()
	}
}

func streamDataToContext(sd *wire.StreamData) interface{} {
	switch sd.Variant {
	case wire.VariantRaw:
		return &RawStreamRequestContext{
			StreamID: sd.StreamID, SequenceID: sd.SequenceID,
			Final: sd.Final, Data: sd.RawBytes,
		}
	case wire.VariantOperation:
		return &StreamRequestContext{
			StreamID: sd.StreamID, SequenceID: sd.SequenceID,
			Final: sd.Final, Name: sd.Name, Data: sd.EventBytes, Op: uint8(sd.Op),
		}
	default: // VariantNotification
		return &StreamRequestContext{
			StreamID: sd.StreamID, SequenceID: sd.SequenceID,
			Final: sd.Final, Name: sd.Name, Data: sd.EventBytes,
			IsNotification: true, NotifyType: uint8(sd.NotifyType),
		}
	}
}

// sendRequest allocates the next outbound request id, registers cb against
// it, and enqueues the framed Request.
func (d *dispatcher) sendRequest(method wire.Method, payload []byte, cb func(*wire.Response)) (uint32, error) {
	id := atomic.AddUint32(&d.nextReqID, 1) - 1
	d.pendingMu.Lock()
	d.pending[id] = &pendingRequest{sentAt: time.Now(), cb: cb}
	d.pendingMu.Unlock()

	env := &wire.Envelope{Kind: wire.KindRequest, Request: &wire.Request{
		ID: id, Method: method, Payload: payload,
	}}
	data, err := wire.Encode(env)
	if err != nil {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
		return 0, err
	}
	if err := d.t.enqueue(data); err != nil {
		d.pendingMu.Lock()
		delete(d.pending, id)
		d.pendingMu.Unlock()
		return 0, err
	}
	return id, nil
}

// execRequest is the synchronous convenience over sendRequest: it blocks
// the caller until the paired response arrives, surfacing a non-zero code
// as a *RequestError.
func (d *dispatcher) execRequest(method wire.Method, payload []byte) ([]byte, error) {
	respCh := make(chan *wire.Response, 1)
	_, err := d.sendRequest(method, payload, func(r *wire.Response) {
		respCh <- r
	})
	if err != nil {
		return nil, err
	}
	resp := <-respCh
	if resp.Code != CodeOK {
		return nil, &RequestError{Code: resp.Code, Message: resp.Message}
	}
	return resp.Payload, nil
}

func (d *dispatcher) sendResponse(id uint32, code int32, message string, payload []byte, hasMessage, hasPayload bool) {
	resp := &wire.Response{ID: id, Code: code, HasMessage: hasMessage, HasPayload: hasPayload}
	if hasMessage {
		resp.Message = message
	}
	if hasPayload {
		resp.Payload = payload
	}
	env := &wire.Envelope{Kind: wire.KindResponse, Response: resp}
	data, err := wire.Encode(env)
	if err != nil {
		d.rt.log().Error().Err(err).Msg("spear: failed to encode response")
		return
	}
	if err := d.t.enqueue(data); err != nil {
		d.rt.log().Debug().Err(err).Msg("spear: failed to enqueue response, runtime closing")
	}
}

func (d *dispatcher) sendError(id uint32, code int32, message string) {
	d.sendResponse(id, code, message, nil, true, false)
}

// drainPendingWithError releases every still-pending outbound request with
// a transport error, used on fatal transport failure and on shutdown.
func (d *dispatcher) drainPendingWithError() {
	d.pendingMu.Lock()
	pending := d.pending
	d.pending = make(map[uint32]*pendingRequest)
	d.pendingMu.Unlock()

	for _, p := range pending {
		p.cb(&wire.Response{Code: CodeInternalError, Message: "spear: transport closed"})
	}
}

func panicToErr(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &RequestError{Code: CodeInternalError, Message: toString(r)}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return "panic in handler"
}
