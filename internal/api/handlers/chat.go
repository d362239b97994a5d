package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"streamguard/internal/models"
	"streamguard/internal/services"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *services.ChatService
}

func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// GetMessages returns the recent visible history for a stream.
// GET /streams/:streamId/messages
func (h *ChatHandler) GetMessages(c *gin.Context) {
	streamID, err := parseUintParam(c, "streamId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid streamId"})
		return
	}

	messages, err := h.chatService.ListMessages(c.Request.Context(), streamID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Server error"})
		return
	}

	c.JSON(http.StatusOK, messages)
}

// SendMessage is the HTTP send path for clients without a live websocket
// (e.g. mobile). The message still goes through moderation; a toxic verdict
// is surfaced as a 400 with the AI's reason instead of a message_blocked
// frame.
// POST /messages
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "content and streamId required"})
		return
	}

	authorID := c.GetUint("user_id")
	stored, decision, err := h.chatService.SendMessage(c.Request.Context(), authorID, req.StreamID, req.Content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Server error"})
		return
	}

	if decision.IsToxic {
		c.JSON(http.StatusBadRequest, gin.H{"detail": decision.Reason})
		return
	}

	c.JSON(http.StatusCreated, stored)
}

// DeleteMessage soft-deletes a message and notifies live viewers.
// DELETE /messages/:messageId
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid messageId"})
		return
	}

	requesterID := c.GetUint("user_id")
	err = h.chatService.DeleteMessage(c.Request.Context(), messageID, requesterID)
	switch {
	case errors.Is(err, services.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Message not found"})
	case errors.Is(err, services.ErrNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"detail": "You cannot delete this message"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Server error"})
	default:
		c.Status(http.StatusNoContent)
	}
}

// ReportMessage records a viewer report.
// POST /messages/:messageId/report
func (h *ChatHandler) ReportMessage(c *gin.Context) {
	messageID, err := parseUintParam(c, "messageId")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid messageId"})
		return
	}

	var req models.ReportMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Reason is required"})
		return
	}

	reporterID := c.GetUint("user_id")
	err = h.chatService.ReportMessage(c.Request.Context(), messageID, reporterID, req.Reason)
	switch {
	case errors.Is(err, services.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "Message not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Server error"})
	default:
		c.JSON(http.StatusCreated, gin.H{"detail": "Report submitted"})
	}
}

// GetStats returns chat-wide moderation counters.
// GET /chat/stats
func (h *ChatHandler) GetStats(c *gin.Context) {
	stats, err := h.chatService.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Server error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Analyze runs the moderation verdict on an arbitrary message body.
// POST /analyze
func (h *ChatHandler) Analyze(c *gin.Context) {
	var req models.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No message provided"})
		return
	}

	decision := h.chatService.Analyze(c.Request.Context(), req.Message)
	c.JSON(http.StatusOK, decision)
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}
