package postgres

import (
	"context"

	"streamguard/internal/models"

	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db}
}

// Create persists a message and reloads it with the author preloaded, so the
// caller gets the canonical broadcast shape in one call.
func (r *MessageRepository) Create(ctx context.Context, msg *models.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Preload("Author").First(msg, "id = ?", msg.ID).Error
}

func (r *MessageRepository) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Preload("Author").
		Preload("Stream").
		First(&msg, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByStream returns up to limit visible messages for a stream, oldest
// first. Deleted and flagged messages are hidden from viewers by default.
func (r *MessageRepository) ListByStream(ctx context.Context, streamID uint, limit int) ([]*models.Message, error) {
	var msgs []*models.Message
	err := r.db.WithContext(ctx).
		Where("stream_id = ? AND is_deleted = ? AND is_flagged = ?", streamID, false, false).
		Order("created_at").
		Limit(limit).
		Preload("Author").
		Find(&msgs).Error
	return msgs, err
}

// SoftDelete hides a message without destroying the row, keeping the audit
// trail intact.
func (r *MessageRepository) SoftDelete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Update("is_deleted", true).Error
}

func (r *MessageRepository) CreateReport(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// Stats aggregates chat-wide counters for the moderation dashboard.
func (r *MessageRepository) Stats(ctx context.Context) (*models.ChatStats, error) {
	var stats models.ChatStats

	if err := r.db.WithContext(ctx).Model(&models.Message{}).Count(&stats.TotalMessages).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("is_flagged = ?", true).Count(&stats.FlaggedMessages).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&models.Report{}).Count(&stats.TotalReports).Error; err != nil {
		return nil, err
	}

	return &stats, nil
}
