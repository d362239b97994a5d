package websocket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FrameType represents the type of a chat protocol frame using a custom enum
// type so the session state machine can dispatch on a closed set of tags.
type FrameType string

const (
	// Inbound frames (client -> server)
	FrameJoinStream  FrameType = "join_stream"
	FrameSendMessage FrameType = "send_message"

	// Outbound frames (server -> client)
	FrameJoinSuccess    FrameType = "join_success"
	FrameNewMessage     FrameType = "new_message"
	FrameMessageBlocked FrameType = "message_blocked"
	FrameDeleteMessage  FrameType = "delete_message"
	FrameError          FrameType = "error"
)

// String returns the string representation of the FrameType.
func (ft FrameType) String() string {
	return string(ft)
}

// IsInbound checks if the FrameType is one a client is allowed to send.
func (ft FrameType) IsInbound() bool {
	switch ft {
	case FrameJoinStream, FrameSendMessage:
		return true
	default:
		return false
	}
}

// Frame is the wire envelope for every protocol message.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// StreamID accepts both JSON numbers and numeric strings, since clients send
// either form in join requests.
type StreamID uint

func (s *StreamID) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid stream id %q", raw)
	}
	*s = StreamID(id)
	return nil
}

// JoinStreamPayload carries the stream to join and the caller's auth token.
type JoinStreamPayload struct {
	StreamID StreamID `json:"streamId"`
	Token    string   `json:"token"`
}

// SendMessagePayload carries the chat text to moderate, persist and fan out.
type SendMessagePayload struct {
	Content string `json:"content"`
}

// JoinSuccessPayload acknowledges a successful join.
type JoinSuccessPayload struct {
	StreamID uint `json:"streamId"`
}

// MessageBlockedPayload is sent only to the author of a blocked message.
type MessageBlockedPayload struct {
	Reason string `json:"reason"`
}

// DeleteMessagePayload notifies viewers that a message was removed.
type DeleteMessagePayload struct {
	MessageID uint `json:"messageId"`
}

// ParseFrame decodes an inbound frame and rejects unknown or outbound-only
// tags, so a malformed client cannot drive the session into server frames.
func ParseFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if !frame.Type.IsInbound() {
		return nil, fmt.Errorf("unknown frame type %q", frame.Type)
	}
	return &frame, nil
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(raw, dst)
}

// EncodeFrame marshals an outbound frame envelope.
func EncodeFrame(frameType FrameType, payload any) ([]byte, error) {
	data, err := json.Marshal(struct {
		Type    FrameType `json:"type"`
		Payload any       `json:"payload"`
	}{Type: frameType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", frameType, err)
	}
	return data, nil
}

// EncodeError builds an error frame with a plain string payload. Marshaling a
// string cannot fail, so the result is returned directly.
func EncodeError(message string) []byte {
	data, _ := EncodeFrame(FrameError, message)
	return data
}
