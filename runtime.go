package spear

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lfedgeai/SPEAR/internal/wire"
)

// Runtime is a workload's connection to its controlling host: the
// transport, the dispatcher, the handler registry, and the stream layer.
// Exactly one Runtime exists per process in normal use (see Run/the
// package-level convenience functions for the singleton), but nothing
// prevents constructing several for testing.
type Runtime struct {
	cfg       *Config
	transport *transport
	disp      *dispatcher
	reg       *registry
	streams   *streamManager

	stopOnce sync.Once
	stopping int32

	runDone chan struct{}
	runErr  atomic.Value
}

// New constructs a Runtime without connecting. Call Start to perform the
// handshake and bring up the I/O goroutines, then Run to enter the
// dispatch loop (or use the combined Run-style helpers below).
func New(opts ...Option) *Runtime {
	cfg := newConfig(opts...)
	return &Runtime{
		cfg:     cfg,
		reg:     newRegistry(),
		streams: newStreamManager(),
		runDone: make(chan struct{}),
	}
}

func (rt *Runtime) log() *zerolog.Logger { return rt.cfg.Logger }

// RegisterMethod registers the handler for Custom requests named method.
// inStream/outStream must match how the host will address this method: a
// handler flagged for streaming must not be invoked for a normal request
// and vice versa (spec.md §4.3).
func (rt *Runtime) RegisterMethod(method string, fn MethodFunc, inStream, outStream bool) error {
	return rt.reg.RegisterMethod(method, fn, inStream, outStream)
}

// UnregisterMethod removes a method handler.
func (rt *Runtime) UnregisterMethod(method string) { rt.reg.UnregisterMethod(method) }

// RegisterTool registers the handler for ToolInvoke requests carrying the
// given internal tool id. Re-registering an id already in use returns
// ErrToolRegistered.
func (rt *Runtime) RegisterTool(id uint32, fn ToolFunc) error {
	return rt.reg.RegisterTool(id, fn)
}

// UnregisterTool removes a tool handler.
func (rt *Runtime) UnregisterTool(id uint32) { rt.reg.UnregisterTool(id) }

// RegisterSignalHandler appends a handler for inbound StreamData signals
// that have no per-stream handler registered (see RegisterStreamHandler).
// Handlers run in registration order.
func (rt *Runtime) RegisterSignalHandler(fn StreamSignalFunc) {
	rt.reg.RegisterSignalHandler(uint8(wire.SignalStreamData), fn)
}

// RegisterStreamHandler registers the exclusive handler for a given
// stream id. Used directly only when a stream id is already known;
// CreateStream registers this automatically for streams it creates.
// SysIOStreamID is rejected with ErrReservedStreamID.
func (rt *Runtime) RegisterStreamHandler(streamID uint32, fn StreamSignalFunc) error {
	if streamID == SysIOStreamID {
		return ErrReservedStreamID
	}
	rt.reg.RegisterStreamHandler(streamID, fn)
	return nil
}

// UnregisterStreamHandler removes the handler for a stream id.
func (rt *Runtime) UnregisterStreamHandler(streamID uint32) {
	rt.reg.UnregisterStreamHandler(streamID)
}

// ExecRequest sends an outbound Request of the given method and payload
// and blocks until the paired Response arrives, returning its payload. A
// non-zero response code surfaces as a *RequestError.
func (rt *Runtime) ExecRequest(method Method, payload []byte) ([]byte, error) {
	return rt.disp.execRequest(method, payload)
}

// InflightCount returns the number of currently-executing inbound Custom
// request handlers.
func (rt *Runtime) InflightCount() int32 { return rt.disp.inflightCount() }

// PendingRequestAge returns how long a still-outstanding outbound request
// has been waiting for its response, and whether it is still pending.
func (rt *Runtime) PendingRequestAge(id uint32) (time.Duration, bool) {
	rt.disp.pendingMu.Lock()
	defer rt.disp.pendingMu.Unlock()
	p, ok := rt.disp.pending[id]
	if !ok {
		return 0, false
	}
	return time.Since(p.sentAt), true
}

// Start performs the handshake against SERVICE_ADDR/SECRET (or the values
// given via WithServiceAddr/WithSecret) and brings up the sender and
// receiver goroutines. It does not block; call Run to enter the dispatch
// loop.
func (rt *Runtime) Start() error {
	if err := rt.cfg.resolveFromEnv(); err != nil {
		return err
	}
	rt.log().Info().Str("addr", rt.cfg.ServiceAddr).Msg("spear: connecting to host")
	t, err := dialTransport(rt.cfg.ServiceAddr, rt.cfg.Secret, rt.cfg.SendQueueSize, rt.log())
	if err != nil {
		return err
	}
	rt.bind(t)
	return nil
}

// startWithConn wires an already-connected net.Conn into the runtime,
// skipping the handshake and SERVICE_ADDR/SECRET resolution. Used by tests
// to drive the runtime over net.Pipe().
func (rt *Runtime) startWithConn(conn net.Conn) {
	rt.bind(newTransport(conn, rt.cfg.SendQueueSize, rt.log()))
}

func (rt *Runtime) bind(t *transport) {
	rt.transport = t
	rt.disp = newDispatcher(t, rt.reg, rt, rt.cfg.MaxInflight)

	go t.senderLoop()
	go t.receiverLoop()
}

// Run enters the dispatch loop and blocks until the connection is
// terminated (Terminate signal, explicit Stop, or an unrecoverable
// transport error). It returns nil on graceful shutdown and the triggering
// error otherwise.
func (rt *Runtime) Run() error {
	rt.disp.run()
	<-rt.transport.doneCh
	rt.transport.closeConn()
	if err := rt.transport.err(); err != nil {
		rt.runErr.Store(err)
		close(rt.runDone)
		return err
	}
	close(rt.runDone)
	return nil
}

// Err returns the error that ended Run, or nil on graceful shutdown.
func (rt *Runtime) Err() error {
	if v := rt.runErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Done returns a channel closed once Run has returned.
func (rt *Runtime) Done() <-chan struct{} { return rt.runDone }

// Stop requests a graceful shutdown: a drainer waits for the inflight
// Custom-request count to reach zero, then the sender drains its queue and
// writes the zero-length terminator, and the receiver/dispatcher return.
// Safe to call multiple times and from any goroutine.
func (rt *Runtime) Stop() {
	rt.initiateShutdown()
}

func (rt *Runtime) initiateShutdown() {
	if !atomic.CompareAndSwapInt32(&rt.stopping, 0, 1) {
		return
	}
	go func() {
		for rt.disp.inflightCount() > 0 {
			time.Sleep(time.Millisecond)
		}
		rt.transport.closeGraceful()
	}()
}

// ---- package-level singleton convenience, mirroring the original SDK's
// module-level global_agent(). ----

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
)

// Default returns the lazily-constructed process-wide Runtime used by the
// package-level convenience functions below.
func Default() *Runtime {
	defaultOnce.Do(func() {
		defaultRT = New()
	})
	return defaultRT
}

// Run constructs the default Runtime (if needed), starts it, and blocks in
// its dispatch loop. Equivalent to the original SDK's HostAgent().run().
func Run(opts ...Option) error {
	defaultOnce.Do(func() {
		defaultRT = New(opts...)
	})
	if err := defaultRT.Start(); err != nil {
		return err
	}
	return defaultRT.Run()
}

// RegisterMethod registers a handler on the default Runtime.
func RegisterMethod(method string, fn MethodFunc, inStream, outStream bool) error {
	return Default().RegisterMethod(method, fn, inStream, outStream)
}

// RegisterTool registers a tool handler on the default Runtime.
func RegisterTool(id uint32, fn ToolFunc) error { return Default().RegisterTool(id, fn) }

// RegisterSignalHandler registers a StreamData handler on the default
// Runtime.
func RegisterSignalHandler(fn StreamSignalFunc) { Default().RegisterSignalHandler(fn) }

// ExecRequest sends a request via the default Runtime.
func ExecRequest(method Method, payload []byte) ([]byte, error) {
	return Default().ExecRequest(method, payload)
}

// CreateStream creates a stream via the default Runtime.
func CreateStream(className string, handler StreamSignalFunc) (*Stream, error) {
	return Default().CreateStream(className, handler)
}

// Stop stops the default Runtime.
func Stop() { Default().Stop() }
