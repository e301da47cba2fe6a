// Chat HTTP handlers - local API consumed by the UI layer
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/visabuddy/companion/pkg/api"
	"github.com/visabuddy/companion/pkg/models"
	"github.com/visabuddy/companion/pkg/service"
)

// ChatHandler exposes the chat store to the UI.
type ChatHandler struct {
	store  *service.ChatStore
	logger *slog.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(store *service.ChatStore, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat/send", h.Send)
	r.POST("/chat/retry", h.Retry)
	r.POST("/chat/abort", h.Abort)
	r.GET("/chat/state", h.State)

	conversations := r.Group("/conversations")
	{
		conversations.GET("/:key/messages", h.GetMessages)
		conversations.DELETE("/:key", h.ClearHistory)
	}

	r.POST("/messages/:id/feedback", h.Feedback)
}

// Send handles a user message. The response always carries the optimistic
// message; a failed delivery leaves it visible with status error plus the
// store's error string, so the UI never loses the turn.
// POST /api/chat/send
func (h *ChatHandler) Send(c *gin.Context) {
	var req models.ChatSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	msg, err := h.store.Send(c.Request.Context(), req.ApplicationID, req.Content)
	switch {
	case errors.Is(err, service.ErrEmptyMessage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message content is required"})
		return
	case errors.Is(err, api.ErrAuthExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": h.store.Err()})
		return
	}

	conv, _ := h.store.ConversationSnapshot(req.ApplicationID)
	c.JSON(http.StatusOK, gin.H{
		"message":      msg,
		"conversation": conv,
		"error":        h.store.Err(),
	})
}

// Retry re-sends a failed message as a new one.
// POST /api/chat/retry
func (h *ChatHandler) Retry(c *gin.Context) {
	var req models.ChatRetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	msg, err := h.store.Retry(c.Request.Context(), req.ApplicationID, req.MessageID)
	switch {
	case errors.Is(err, service.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "No failed message with that id"})
		return
	case errors.Is(err, api.ErrAuthExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": h.store.Err()})
		return
	}

	conv, _ := h.store.ConversationSnapshot(req.ApplicationID)
	c.JSON(http.StatusOK, gin.H{
		"message":      msg,
		"conversation": conv,
		"error":        h.store.Err(),
	})
}

// Abort cancels the in-flight sends for a conversation.
// POST /api/chat/abort
func (h *ChatHandler) Abort(c *gin.Context) {
	var req models.ChatAbortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	h.store.AbortSend(req.ApplicationID)
	c.Status(http.StatusNoContent)
}

// State returns the store-level error string and active session pointer.
// GET /api/chat/state
func (h *ChatHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"error":              h.store.Err(),
		"current_session_id": h.store.CurrentSessionID(),
	})
}

// GetMessages returns the conversation for a key, refreshing it from the
// backend first unless refresh=false. A failed refresh still returns the
// locally held state; the UI inspects the error field.
// GET /api/conversations/:key/messages?limit=50&offset=0&refresh=true
func (h *ChatHandler) GetMessages(c *gin.Context) {
	key := c.Param("key")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	if c.DefaultQuery("refresh", "true") != "false" {
		if err := h.store.LoadHistory(c.Request.Context(), key, limit, offset); err != nil {
			h.logger.Warn("history refresh failed", "key", key, "error", err)
		}
	}

	conv, ok := h.store.ConversationSnapshot(key)
	if !ok {
		conv = models.Conversation{Key: key, Messages: []models.Message{}, Limit: limit, Offset: offset}
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"error":        h.store.Err(),
	})
}

// ClearHistory drops the local and cached conversation for a key.
// DELETE /api/conversations/:key
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	h.store.ClearHistory(c.Param("key"))
	c.Status(http.StatusNoContent)
}

// Feedback records a thumbs up/down rating. Accepted immediately; delivery
// is fire-and-forget.
// POST /api/messages/:id/feedback
func (h *ChatHandler) Feedback(c *gin.Context) {
	var req models.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if err := h.store.SendFeedback(c.Param("id"), req.Rating); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Rating must be thumbs_up or thumbs_down"})
		return
	}
	c.Status(http.StatusAccepted)
}
