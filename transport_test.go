package spear

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lfedgeai/SPEAR/internal/wire"
)

func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// TestFrameIntegrity covers property 1 (spec.md §8): every envelope written
// on one side of the transport arrives, with its kind, in order on the
// other, followed by the zero-length terminator after a graceful close.
func TestFrameIntegrity(t *testing.T) {
	clientConn, hostConn := net.Pipe()
	tr := newTransport(clientConn, 8, quietLogger())
	go tr.senderLoop()
	go tr.receiverLoop()
	host := newFakeHost(t, hostConn)

	envs := []*wire.Envelope{
		{Kind: wire.KindRequest, Request: &wire.Request{ID: 1, Method: wire.MethodCustom, Payload: []byte("a")}},
		{Kind: wire.KindResponse, Response: &wire.Response{ID: 1, Code: 0}},
		{Kind: wire.KindSignal, Signal: &wire.SignalMsg{Method: wire.SignalTerminate}},
	}

	for _, env := range envs {
		data, err := wire.Encode(env)
		require.NoError(t, err)
		require.NoError(t, tr.enqueue(data))
	}
	for _, want := range envs {
		got := host.readEnvelope()
		require.Equal(t, want.Kind, got.Kind)
	}

	tr.closeGraceful()
	_, term := host.readFrame()
	require.True(t, term, "expected zero-length terminator after graceful close")
	<-tr.doneCh
}

func TestTransportGracefulCloseDrainsQueue(t *testing.T) {
	clientConn, hostConn := net.Pipe()
	tr := newTransport(clientConn, 8, quietLogger())
	go tr.senderLoop()
	go tr.receiverLoop()
	host := newFakeHost(t, hostConn)

	// Queue a frame, then immediately request shutdown: the sender must
	// still flush the already-queued frame before writing the terminator.
	env := &wire.Envelope{Kind: wire.KindSignal, Signal: &wire.SignalMsg{Method: wire.SignalTerminate}}
	data, err := wire.Encode(env)
	require.NoError(t, err)
	require.NoError(t, tr.enqueue(data))
	tr.closeGraceful()

	got := host.readEnvelope()
	require.Equal(t, wire.KindSignal, got.Kind)
	_, term := host.readFrame()
	require.True(t, term)
	<-tr.doneCh
	require.NoError(t, tr.err())
}

func TestTransportForcedCloseOnUnexpectedDisconnect(t *testing.T) {
	clientConn, hostConn := net.Pipe()
	tr := newTransport(clientConn, 8, quietLogger())
	go tr.senderLoop()
	recvDone := make(chan struct{})
	go func() {
		tr.receiverLoop()
		close(recvDone)
	}()

	// Peer disconnects without sending the zero-length terminator.
	hostConn.Close()

	select {
	case <-recvDone:
	case <-time.After(2 * time.Second):
		t.Fatal("receiverLoop did not return after peer closed")
	}
	require.Error(t, tr.err())

	select {
	case <-tr.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("senderLoop never observed stopCh after forced close")
	}
}

func TestDialTransportHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptDone := make(chan uint64, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptDone <- 0
			return
		}
		host := newFakeHost(t, conn)
		acceptDone <- host.readSecret()
	}()

	tr, err := dialTransport(ln.Addr().String(), 0xDEADBEEF, 8, quietLogger())
	require.NoError(t, err)
	defer tr.closeConn()

	select {
	case secret := <-acceptDone:
		require.Equal(t, uint64(0xDEADBEEF), secret)
	case <-time.After(2 * time.Second):
		t.Fatal("host never observed handshake secret")
	}
}
