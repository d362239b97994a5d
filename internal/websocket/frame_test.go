package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJoinStreamFrame(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"type":"join_stream","payload":{"streamId":42,"token":"abc"}}`))
	require.NoError(t, err)
	assert.Equal(t, FrameJoinStream, frame.Type)

	var payload JoinStreamPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, StreamID(42), payload.StreamID)
	assert.Equal(t, "abc", payload.Token)
}

func TestParseJoinStreamFrameStringStreamID(t *testing.T) {
	// Clients send streamId as either a number or a numeric string
	frame, err := ParseFrame([]byte(`{"type":"join_stream","payload":{"streamId":"42","token":"abc"}}`))
	require.NoError(t, err)

	var payload JoinStreamPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, StreamID(42), payload.StreamID)
}

func TestStreamIDRejectsGarbage(t *testing.T) {
	var payload JoinStreamPayload
	err := json.Unmarshal([]byte(`{"streamId":"abc","token":"t"}`), &payload)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"streamId":0,"token":"t"}`), &payload)
	assert.Error(t, err, "stream ids are positive")
}

func TestParseSendMessageFrame(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"type":"send_message","payload":{"content":"hello"}}`))
	require.NoError(t, err)
	assert.Equal(t, FrameSendMessage, frame.Type)
}

func TestParseFrameRejectsUnknownType(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":"shrug","payload":{}}`))
	assert.Error(t, err)
}

func TestParseFrameRejectsOutboundTypes(t *testing.T) {
	// A client must not be able to inject server frames
	for _, frameType := range []FrameType{FrameJoinSuccess, FrameNewMessage, FrameMessageBlocked, FrameDeleteMessage, FrameError} {
		_, err := ParseFrame([]byte(`{"type":"` + string(frameType) + `","payload":{}}`))
		assert.Error(t, err, "type %s must be rejected", frameType)
	}
}

func TestParseFrameRejectsMalformedJSON(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestEncodeErrorShape(t *testing.T) {
	data := EncodeError("Not authorized")

	var decoded struct {
		Type    FrameType `json:"type"`
		Payload string    `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, FrameError, decoded.Type)
	assert.Equal(t, "Not authorized", decoded.Payload)
}

func TestEncodeFrameJoinSuccess(t *testing.T) {
	data, err := EncodeFrame(FrameJoinSuccess, JoinSuccessPayload{StreamID: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"join_success","payload":{"streamId":42}}`, string(data))
}
