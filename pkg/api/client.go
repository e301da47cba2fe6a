// HTTP client for the remote VisaBuddy backend.
//
// The wire format is owned by the backend; this client decodes only the
// fields the companion needs and maps transport failures onto a small error
// taxonomy (auth-expired, bad-response, generic).
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"resty.dev/v3"

	"github.com/visabuddy/companion/pkg/models"
)

var (
	// ErrAuthExpired means the session token is missing, expired or rejected.
	// The store surfaces it with a re-login hint; the view stays usable.
	ErrAuthExpired = errors.New("session expired, please sign in again")

	// ErrBadResponse means the backend reported success but the payload lacks
	// the expected content.
	ErrBadResponse = errors.New("unexpected response from assistant service")
)

// Client talks to the VisaBuddy backend API.
type Client struct {
	client *resty.Client
	logger *slog.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a backend client. baseURL is the backend root, e.g.
// "https://api.visabuddy.example".
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	c := &Client{logger: logger}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)

	client.AddRequestMiddleware(func(_ *resty.Client, r *resty.Request) error {
		if token := c.Token(); token != "" {
			r.SetHeader("Authorization", "Bearer "+token)
		}
		return nil
	})
	client.AddResponseMiddleware(func(_ *resty.Client, r *resty.Response) error {
		c.logger.Debug("backend request",
			"method", r.Request.Method,
			"url", r.Request.URL,
			"status", r.StatusCode(),
			"duration", r.Duration())
		return nil
	})

	c.client = client
	return c
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.client.Close()
}

// SetToken installs the session token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the session token (logout).
func (c *Client) ClearToken() {
	c.SetToken("")
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Authenticated reports whether a usable session exists. JWT tokens are
// checked for expiry locally (claims only, no signature verification; the
// backend remains the authority). Opaque tokens count as valid while present.
func (c *Client) Authenticated() bool {
	token := c.Token()
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		// Not a JWT; treat as an opaque token.
		return true
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return claims.ExpiresAt.After(time.Now())
}

// Health probes the backend health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.client.R().
		SetContext(ctx).
		Get("/health")
	if err != nil {
		return fmt.Errorf("backend health check: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("backend health check: status %d", resp.StatusCode())
	}
	return nil
}

// GetHistory fetches the server's paginated view of a conversation. For the
// general conversation the application_id parameter is omitted.
func (c *Client) GetHistory(ctx context.Context, key string, limit, offset int) (*models.HistoryResponse, error) {
	var out models.HistoryResponse
	var apiErr models.APIError

	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("offset", strconv.Itoa(offset)).
		SetResult(&out).
		SetError(&apiErr)
	if key != "" && key != models.GeneralConversationKey {
		req.SetQueryParam("application_id", key)
	}

	resp, err := req.Get("/api/chat/history")
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(resp, &apiErr)
	}
	return &out, nil
}

// SendMessage posts a user message and returns the assistant reply.
func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.SendMessageResponse, error) {
	var out models.SendMessageResponse
	var apiErr models.APIError

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/chat")
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(resp, &apiErr)
	}
	if out.Message == "" {
		return nil, ErrBadResponse
	}
	return &out, nil
}

// GetSessions lists chat sessions.
func (c *Client) GetSessions(ctx context.Context, limit, offset int) ([]models.Session, error) {
	var out models.SessionsResponse
	var apiErr models.APIError

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("offset", strconv.Itoa(offset)).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/chat/sessions")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(resp, &apiErr)
	}
	return out.Sessions, nil
}

// GetSessionDetails returns the messages of one session.
func (c *Client) GetSessionDetails(ctx context.Context, id string) ([]models.Message, error) {
	var out models.SessionDetailsResponse
	var apiErr models.APIError

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/chat/sessions/{id}")
	if err != nil {
		return nil, fmt.Errorf("fetch session details: %w", err)
	}
	if resp.IsError() {
		return nil, c.errorFromResponse(resp, &apiErr)
	}
	return out.Messages, nil
}

// RenameSession changes a session title.
func (c *Client) RenameSession(ctx context.Context, id, title string) error {
	var apiErr models.APIError

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetBody(models.RenameSessionRequest{Title: title}).
		SetError(&apiErr).
		Put("/api/chat/sessions/{id}")
	if err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	if resp.IsError() {
		return c.errorFromResponse(resp, &apiErr)
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	var apiErr models.APIError

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetError(&apiErr).
		Delete("/api/chat/sessions/{id}")
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if resp.IsError() {
		return c.errorFromResponse(resp, &apiErr)
	}
	return nil
}

// AddMessageFeedback records a thumbs up/down rating for a message.
func (c *Client) AddMessageFeedback(ctx context.Context, messageID, rating string) error {
	var apiErr models.APIError

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", messageID).
		SetBody(models.FeedbackRequest{Rating: rating}).
		SetError(&apiErr).
		Post("/api/chat/messages/{id}/feedback")
	if err != nil {
		return fmt.Errorf("send feedback: %w", err)
	}
	if resp.IsError() {
		return c.errorFromResponse(resp, &apiErr)
	}
	return nil
}

func (c *Client) errorFromResponse(resp *resty.Response, apiErr *models.APIError) error {
	status := resp.StatusCode()
	if status == 401 || status == 403 {
		return ErrAuthExpired
	}
	if apiErr != nil && apiErr.Error != nil && apiErr.Error.Message != "" {
		return fmt.Errorf("backend error %s: %s", apiErr.Error.Code, apiErr.Error.Message)
	}
	return fmt.Errorf("backend request failed: status %d", status)
}
