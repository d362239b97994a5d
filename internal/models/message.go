package models

import (
	"time"

	"gorm.io/gorm"
)

/** --------------------ENTITIES-------------------- */

// User holds the author fields the chat layer needs. Account management
// (registration, passwords, profiles) lives in a separate service; this table
// is only read to resolve message authors.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Username  string         `gorm:"uniqueIndex;not null" json:"username"`
	AvatarURL string         `json:"avatarUrl"`
	CreatedAt time.Time      `json:"createdAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Stream is referenced for ownership checks on message deletion. Stream
// lifecycle (create/start/end) is managed by the stream service.
type Stream struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"userId"`
	Title     string    `json:"title"`
	IsLive    bool      `gorm:"default:false" json:"isLive"`
	CreatedAt time.Time `json:"createdAt"`

	User User `gorm:"foreignKey:UserID;references:ID" json:"-"`
}

// Message is a persisted chat message. Toxic messages are stored with
// IsFlagged set instead of being discarded, so moderators can audit them.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Content   string    `gorm:"not null" json:"content"`
	AuthorID  uint      `gorm:"not null;index" json:"authorId"`
	StreamID  uint      `gorm:"not null;index" json:"streamId"`
	IsFlagged bool      `gorm:"default:false;index" json:"isFlagged"`
	IsDeleted bool      `gorm:"default:false" json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`

	Author User   `gorm:"foreignKey:AuthorID;references:ID" json:"author"`
	Stream Stream `gorm:"foreignKey:StreamID;references:ID" json:"-"`
}

// Report is a viewer report against a message.
type Report struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Reason     string    `gorm:"not null" json:"reason"`
	ReporterID uint      `gorm:"not null;index" json:"reporterId"`
	MessageID  uint      `gorm:"not null;index" json:"messageId"`
	CreatedAt  time.Time `json:"createdAt"`
}

/** -------------------- DTOs -------------------- */

// Author is the public author shape embedded in broadcast messages.
type Author struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

// ChatMessage is the canonical stored/broadcast message shape.
type ChatMessage struct {
	ID        uint      `json:"id"`
	Content   string    `json:"content"`
	AuthorID  uint      `json:"authorId"`
	StreamID  uint      `json:"streamId"`
	CreatedAt time.Time `json:"createdAt"`
	IsFlagged bool      `json:"isFlagged"`
	Author    Author    `json:"author"`
}

// ToChatMessage converts the entity (with Author preloaded) into the wire DTO.
func (m *Message) ToChatMessage() *ChatMessage {
	return &ChatMessage{
		ID:        m.ID,
		Content:   m.Content,
		AuthorID:  m.AuthorID,
		StreamID:  m.StreamID,
		CreatedAt: m.CreatedAt,
		IsFlagged: m.IsFlagged,
		Author: Author{
			ID:        m.Author.ID,
			Username:  m.Author.Username,
			AvatarURL: m.Author.AvatarURL,
		},
	}
}

// Request
type SendMessageRequest struct {
	Content  string `json:"content" binding:"required"`
	StreamID uint   `json:"streamId" binding:"required"`
}

type ReportMessageRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type AnalyzeRequest struct {
	Message string `json:"message" binding:"required"`
}

// Response
type ChatStats struct {
	TotalMessages   int64 `json:"totalMessages"`
	FlaggedMessages int64 `json:"flaggedMessages"`
	TotalReports    int64 `json:"totalReports"`
}
