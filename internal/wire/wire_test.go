package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripRequest(t *testing.T) {
	env := &Envelope{Kind: KindRequest, Request: &Request{
		ID: 7, Method: MethodCustom, Payload: []byte("hello"),
	}}
	data, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, KindRequest, got.Kind)
	require.Equal(t, env.Request, got.Request)
}

func TestEnvelopeRoundTripResponse(t *testing.T) {
	cases := []*Response{
		{ID: 1, Code: 0},
		{ID: 2, Code: -32601, Message: "Method not found", HasMessage: true},
		{ID: 3, Code: 0, Payload: []byte("data"), HasPayload: true},
		{ID: 4, Code: -32603, Message: "boom", HasMessage: true, Payload: []byte{1, 2, 3}, HasPayload: true},
	}
	for _, resp := range cases {
		env := &Envelope{Kind: KindResponse, Response: resp}
		data, err := Encode(env)
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, resp, got.Response)
	}
}

func TestEnvelopeRoundTripSignal(t *testing.T) {
	env := &Envelope{Kind: KindSignal, Signal: &SignalMsg{
		Method: SignalTerminate, Payload: nil,
	}}
	data, err := Encode(env)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, env.Signal.Method, got.Signal.Method)
	require.Empty(t, got.Signal.Payload)
}

func TestDecodeUnknownEnvelopeKind(t *testing.T) {
	_, err := Decode([]byte{0xFF})
	require.ErrorIs(t, err, ErrUnknownEnvelope)
}

func TestDecodeTruncatedFrame(t *testing.T) {
	_, err := Decode([]byte{byte(KindRequest), 0x01})
	require.Error(t, err)
}

func TestStreamDataRoundTripRaw(t *testing.T) {
	sd := &StreamData{StreamID: 5, SequenceID: 2, Final: true, Variant: VariantRaw, RawBytes: []byte("audio")}
	data := EncodeStreamData(sd)
	got, err := DecodeStreamData(data)
	require.NoError(t, err)
	require.Equal(t, sd, got)
}

func TestStreamDataRoundTripOperation(t *testing.T) {
	sd := &StreamData{
		StreamID: 5, SequenceID: 0, Final: false, Variant: VariantOperation,
		Name: "rt-asr", Op: OpAppend, EventBytes: []byte{0xDE, 0xAD},
	}
	data := EncodeStreamData(sd)
	got, err := DecodeStreamData(data)
	require.NoError(t, err)
	require.Equal(t, sd, got)
}

func TestStreamDataRoundTripNotification(t *testing.T) {
	sd := &StreamData{
		StreamID: 9, SequenceID: 4, Final: true, Variant: VariantNotification,
		Name: "rt-asr", NotifyType: NotifyCompleted, EventBytes: nil,
	}
	data := EncodeStreamData(sd)
	got, err := DecodeStreamData(data)
	require.NoError(t, err)
	require.Equal(t, sd, got)
}

func TestStreamDataZeroAndMaxPayloads(t *testing.T) {
	sd := &StreamData{StreamID: 1, SequenceID: 0, Variant: VariantRaw, RawBytes: []byte{}}
	data := EncodeStreamData(sd)
	got, err := DecodeStreamData(data)
	require.NoError(t, err)
	require.Empty(t, got.RawBytes)

	big := make([]byte, 1<<20+1)
	sd2 := &StreamData{StreamID: 1, Variant: VariantRaw, RawBytes: big}
	data2 := EncodeStreamData(sd2)
	got2, err := DecodeStreamData(data2)
	require.NoError(t, err)
	require.Equal(t, big, got2.RawBytes)
}

func TestCustomRequestRoundTrip(t *testing.T) {
	c := &CustomRequest{MethodStr: "echo", InfoKind: RequestInfoNormal, ParamsStr: "hello"}
	data := EncodeCustomRequest(c)
	got, err := DecodeCustomRequest(data)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestToolInvocationRoundTrip(t *testing.T) {
	req := &ToolInvocationRequest{ToolID: 42, Params: []ToolParam{{Key: "a", Value: "123"}, {Key: "b", Value: "456"}}}
	data := EncodeToolInvocationRequest(req)
	got, err := DecodeToolInvocationRequest(data)
	require.NoError(t, err)
	require.Equal(t, req, got)

	resp := &ToolInvocationResponse{Result: "579"}
	rdata := EncodeToolInvocationResponse(resp)
	rgot, err := DecodeToolInvocationResponse(rdata)
	require.NoError(t, err)
	require.Equal(t, resp, rgot)
}

func TestStreamControlRoundTrip(t *testing.T) {
	req := &StreamControlRequest{Op: StreamCtrlNew, RequestID: 123, ClassName: "rt-asr"}
	data := EncodeStreamControlRequest(req)
	got, err := DecodeStreamControlRequest(data)
	require.NoError(t, err)
	require.Equal(t, req, got)

	closeReq := &StreamControlRequest{Op: StreamCtrlClose, RequestID: 124, StreamID: 5}
	cdata := EncodeStreamControlRequest(closeReq)
	cgot, err := DecodeStreamControlRequest(cdata)
	require.NoError(t, err)
	require.Equal(t, closeReq, cgot)

	resp := &StreamControlResponse{RequestID: 123, StreamID: 5}
	rdata := EncodeStreamControlResponse(resp)
	rgot, err := DecodeStreamControlResponse(rdata)
	require.NoError(t, err)
	require.Equal(t, resp, rgot)
}
