// Session HTTP handlers - list, details, rename, delete
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

// SessionHandler exposes session management to the UI.
type SessionHandler struct {
	store  *service.ChatStore
	logger *slog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(store *service.ChatStore, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		store:  store,
		logger: logger,
	}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.List)
		sessions.GET("/:id", h.Details)
		sessions.PUT("/:id/title", h.Rename)
		sessions.DELETE("/:id", h.Delete)
	}
}

// List refreshes and returns the session list.
// GET /api/sessions?limit=50&offset=0
func (h *SessionHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, err := h.store.LoadSessions(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":           sessions,
		"current_session_id": h.store.CurrentSessionID(),
	})
}

// Details returns the messages of one session and marks it active.
// GET /api/sessions/:id
func (h *SessionHandler) Details(c *gin.Context) {
	messages, err := h.store.LoadSessionDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// Rename changes a session title.
// PUT /api/sessions/:id/title
func (h *SessionHandler) Rename(c *gin.Context) {
	var req models.RenameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if err := h.store.RenameSession(c.Request.Context(), c.Param("id"), req.Title); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session renamed"})
}

// Delete removes a session.
// DELETE /api/sessions/:id
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.store.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) respondError(c *gin.Context, err error) {
	if errors.Is(err, api.ErrAuthExpired) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": h.store.Err()})
		return
	}
	h.logger.Warn("session operation failed", "error", err)
	c.JSON(http.StatusBadGateway, gin.H{"error": h.store.Err()})
}
