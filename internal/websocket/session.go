package websocket

import (
	"context"
	"log/slog"
	"sync"

	"streamguard/internal/moderation"
	"streamguard/internal/models"
)

// SessionState tracks where a connection is in its lifecycle.
type SessionState int

const (
	StateUnjoined SessionState = iota
	StateJoined
	StateClosed
)

// TokenVerifier authenticates join requests. The auth service owns token
// issuance; the chat core only verifies.
type TokenVerifier interface {
	VerifyToken(token string) (uint, error)
}

// MessageSender runs the moderate -> persist -> broadcast pipeline for one
// chat message. The returned decision tells the session whether to answer the
// author with a message_blocked frame instead of relying on the fan-out.
type MessageSender interface {
	SendMessage(ctx context.Context, authorID, streamID uint, content string) (*models.ChatMessage, moderation.Decision, error)
}

// Session is the per-connection protocol state machine. Frames arrive one at
// a time from the connection's read pump, so a sender's messages are
// moderated and broadcast strictly in send order; concurrency happens across
// connections, never within one.
//
// A session joins at most one stream and does so exactly once; switching
// streams requires a new connection.
type Session struct {
	conn     Conn
	registry StreamRegistry
	verifier TokenVerifier
	sender   MessageSender
	log      *slog.Logger

	mu       sync.Mutex
	state    SessionState
	streamID uint
	userID   uint
}

func NewSession(conn Conn, registry StreamRegistry, verifier TokenVerifier, sender MessageSender, log *slog.Logger) *Session {
	return &Session{
		conn:     conn,
		registry: registry,
		verifier: verifier,
		sender:   sender,
		log:      log,
		state:    StateUnjoined,
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleFrame processes one inbound frame. Every per-message error is
// contained to this connection: the worst outcome is an error frame to the
// originating peer, never a corrupted registry or another session's state.
func (s *Session) HandleFrame(ctx context.Context, data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		s.log.Debug("Rejecting unparseable frame", "error", err)
		s.sendError("Invalid message format")
		return
	}

	switch frame.Type {
	case FrameJoinStream:
		s.handleJoin(frame)
	case FrameSendMessage:
		s.handleSend(ctx, frame)
	}
}

func (s *Session) handleJoin(frame *Frame) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateClosed {
		return
	}
	if state == StateJoined {
		s.sendError("Already joined a stream")
		return
	}

	var payload JoinStreamPayload
	if err := unmarshalPayload(frame.Payload, &payload); err != nil || payload.StreamID == 0 || payload.Token == "" {
		// An absent streamId decodes to zero without ever hitting the
		// field's own validation, so the zero check happens here too.
		s.sendError("Invalid message format")
		return
	}

	userID, err := s.verifier.VerifyToken(payload.Token)
	if err != nil {
		s.log.Debug("Join rejected", "streamID", payload.StreamID, "error", err)
		s.sendError("Invalid token")
		return
	}

	streamID := uint(payload.StreamID)
	s.registry.Join(streamID, s.conn)

	s.mu.Lock()
	s.state = StateJoined
	s.streamID = streamID
	s.userID = userID
	s.mu.Unlock()

	s.log.Info("User joined stream", "userID", userID, "streamID", streamID)
	s.send(FrameJoinSuccess, JoinSuccessPayload{StreamID: streamID})
}

func (s *Session) handleSend(ctx context.Context, frame *Frame) {
	s.mu.Lock()
	state, streamID, userID := s.state, s.streamID, s.userID
	s.mu.Unlock()

	if state != StateJoined {
		s.sendError("Not authorized")
		return
	}

	var payload SendMessagePayload
	if err := unmarshalPayload(frame.Payload, &payload); err != nil || payload.Content == "" {
		s.sendError("Invalid message format")
		return
	}

	// The pipeline suspends on the moderation round trip and the insert;
	// neither holds any registry lock, so other connections keep flowing.
	msg, decision, err := s.sender.SendMessage(ctx, userID, streamID, payload.Content)
	if err != nil {
		s.log.Error("Failed to send message", "userID", userID, "streamID", streamID, "error", err)
		s.sendError("Failed to send message")
		return
	}

	if decision.IsToxic {
		// The author alone learns the message was blocked; the stored
		// flagged copy stays available for moderator audit.
		s.send(FrameMessageBlocked, MessageBlockedPayload{Reason: decision.Reason})
		return
	}

	s.log.Debug("Message broadcast", "messageID", msg.ID, "streamID", streamID)
}

// Close tears the session down exactly once: registry removal if joined, then
// the terminal state. Safe to call from any goroutine and idempotent, which
// covers duplicate close events from abrupt network failures.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	joined := s.state == StateJoined
	streamID, userID := s.streamID, s.userID
	s.state = StateClosed
	s.mu.Unlock()

	if joined {
		s.registry.Leave(streamID, s.conn)
		s.log.Info("User left stream", "userID", userID, "streamID", streamID)
	}
}

func (s *Session) send(frameType FrameType, payload any) {
	data, err := EncodeFrame(frameType, payload)
	if err != nil {
		s.log.Error("Failed to encode frame", "type", frameType, "error", err)
		return
	}
	if err := s.conn.Send(data); err != nil {
		s.log.Debug("Dropping frame for closed connection", "type", frameType, "error", err)
	}
}

func (s *Session) sendError(message string) {
	if err := s.conn.Send(EncodeError(message)); err != nil {
		s.log.Debug("Dropping error frame for closed connection", "error", err)
	}
}
