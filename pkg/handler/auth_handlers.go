// Auth HTTP handlers - session token management for the local API
package handler

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/visabuddy/companion/pkg/api"
	"github.com/visabuddy/companion/pkg/service"
)

// AuthHandler installs and clears the backend session token. The UI obtains
// the token from the account service and hands it to the companion; the
// companion never sees credentials.
type AuthHandler struct {
	client    *api.Client
	store     *service.ChatStore
	logger    *slog.Logger
	tokenFile string
}

// NewAuthHandler creates an auth handler. tokenFile may be empty, in which
// case the token lives in memory only.
func NewAuthHandler(client *api.Client, store *service.ChatStore, logger *slog.Logger, tokenFile string) *AuthHandler {
	return &AuthHandler{
		client:    client,
		store:     store,
		logger:    logger,
		tokenFile: tokenFile,
	}
}

// RegisterRoutes registers auth routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.GET("/status", h.Status)
	}
}

// LoadPersistedToken installs a previously saved token at startup.
func (h *AuthHandler) LoadPersistedToken() {
	if h.tokenFile == "" {
		return
	}
	b, err := os.ReadFile(h.tokenFile)
	if err != nil {
		if !os.IsNotExist(err) {
			h.logger.Warn("failed to read token file", "path", h.tokenFile, "error", err)
		}
		return
	}
	if token := strings.TrimSpace(string(b)); token != "" {
		h.client.SetToken(token)
	}
}

// Login installs a session token for subsequent backend calls.
// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Token is required"})
		return
	}

	h.client.SetToken(strings.TrimSpace(req.Token))
	h.persistToken(strings.TrimSpace(req.Token))
	c.JSON(http.StatusOK, gin.H{"authenticated": h.client.Authenticated()})
}

// Logout clears the token and tears down the store.
// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	h.client.ClearToken()
	h.persistToken("")
	h.store.Reset()
	c.Status(http.StatusNoContent)
}

// Status reports whether a usable session exists.
// GET /api/auth/status
func (h *AuthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"authenticated": h.client.Authenticated()})
}

func (h *AuthHandler) persistToken(token string) {
	if h.tokenFile == "" {
		return
	}
	if token == "" {
		if err := os.Remove(h.tokenFile); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("failed to remove token file", "path", h.tokenFile, "error", err)
		}
		return
	}
	if err := os.MkdirAll(filepath.Dir(h.tokenFile), 0o700); err != nil {
		h.logger.Warn("failed to create token dir", "path", h.tokenFile, "error", err)
		return
	}
	if err := os.WriteFile(h.tokenFile, []byte(token), 0o600); err != nil {
		h.logger.Warn("failed to persist token", "path", h.tokenFile, "error", err)
	}
}
