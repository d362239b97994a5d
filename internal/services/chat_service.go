package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"streamguard/internal/moderation"
	"streamguard/internal/models"
	"streamguard/internal/websocket"

	"gorm.io/gorm"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotAllowed      = errors.New("not allowed to modify this message")
)

const defaultHistoryLimit = 50

// MessageRepository is the persistence contract the chat service needs.
// *postgres.MessageRepository implements it; tests use fakes.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	FindByID(ctx context.Context, id uint) (*models.Message, error)
	ListByStream(ctx context.Context, streamID uint, limit int) ([]*models.Message, error)
	SoftDelete(ctx context.Context, id uint) error
	CreateReport(ctx context.Context, report *models.Report) error
	Stats(ctx context.Context) (*models.ChatStats, error)
}

// AuditProducer receives flagged messages for the moderation review pipeline.
type AuditProducer interface {
	PublishFlagged(ctx context.Context, msg *models.ChatMessage, reason string) error
}

// ChatService runs the moderate -> persist -> broadcast pipeline shared by
// the websocket sessions and the HTTP chat endpoints.
type ChatService struct {
	repo        MessageRepository
	analyzer    moderation.Analyzer
	broadcaster websocket.Broadcaster
	audit       AuditProducer // nil when Kafka is not configured
}

func NewChatService(repo MessageRepository, analyzer moderation.Analyzer, broadcaster websocket.Broadcaster, audit AuditProducer) *ChatService {
	return &ChatService{
		repo:        repo,
		analyzer:    analyzer,
		broadcaster: broadcaster,
		audit:       audit,
	}
}

// SendMessage moderates content, persists it with the verdict folded into the
// flagged bit, and fans a clean message out to the stream's live viewers.
// Toxic messages are stored but never broadcast; the caller decides how to
// inform the author. A persistence failure means the message is not delivered
// at all.
func (s *ChatService) SendMessage(ctx context.Context, authorID, streamID uint, content string) (*models.ChatMessage, moderation.Decision, error) {
	decision := s.analyzer.Analyze(ctx, content)

	msg := &models.Message{
		Content:   content,
		AuthorID:  authorID,
		StreamID:  streamID,
		IsFlagged: decision.IsToxic,
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, decision, fmt.Errorf("persist message: %w", err)
	}

	stored := msg.ToChatMessage()

	if decision.IsToxic {
		s.publishAudit(ctx, stored, decision.Reason)
		return stored, decision, nil
	}

	payload, err := websocket.EncodeFrame(websocket.FrameNewMessage, stored)
	if err != nil {
		return nil, decision, err
	}
	s.broadcaster.Broadcast(streamID, payload)

	return stored, decision, nil
}

// DeleteMessage soft-deletes a message when the requester is its author or
// the stream owner, then notifies live viewers out of band.
func (s *ChatService) DeleteMessage(ctx context.Context, messageID, requesterID uint) error {
	msg, err := s.repo.FindByID(ctx, messageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}

	isAuthor := msg.AuthorID == requesterID
	isStreamOwner := msg.Stream.UserID == requesterID
	if !isAuthor && !isStreamOwner {
		return ErrNotAllowed
	}

	if err := s.repo.SoftDelete(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	payload, err := websocket.EncodeFrame(websocket.FrameDeleteMessage, websocket.DeleteMessagePayload{MessageID: messageID})
	if err != nil {
		return err
	}
	s.broadcaster.Broadcast(msg.StreamID, payload)

	return nil
}

// ReportMessage records a viewer report against a message.
func (s *ChatService) ReportMessage(ctx context.Context, messageID, reporterID uint, reason string) error {
	if _, err := s.repo.FindByID(ctx, messageID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return fmt.Errorf("load message: %w", err)
	}

	report := &models.Report{
		Reason:     reason,
		ReporterID: reporterID,
		MessageID:  messageID,
	}
	if err := s.repo.CreateReport(ctx, report); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// ListMessages returns the recent visible history for a stream.
func (s *ChatService) ListMessages(ctx context.Context, streamID uint) ([]*models.ChatMessage, error) {
	msgs, err := s.repo.ListByStream(ctx, streamID, defaultHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	out := make([]*models.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, msg.ToChatMessage())
	}
	return out, nil
}

// Stats returns chat-wide moderation counters.
func (s *ChatService) Stats(ctx context.Context) (*models.ChatStats, error) {
	return s.repo.Stats(ctx)
}

// Analyze exposes the moderation verdict directly, for the analyze endpoint.
func (s *ChatService) Analyze(ctx context.Context, content string) moderation.Decision {
	return s.analyzer.Analyze(ctx, content)
}

func (s *ChatService) publishAudit(ctx context.Context, msg *models.ChatMessage, reason string) {
	if s.audit == nil {
		return
	}
	// Audit delivery is best effort; the flagged row in the store is the
	// source of truth.
	if err := s.audit.PublishFlagged(ctx, msg, reason); err != nil {
		slog.Error("Failed to publish flagged message audit event", "messageID", msg.ID, "error", err)
	}
}
