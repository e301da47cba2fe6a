// Shared chat types for the store, the local API and the backend client.
package models

import (
	"time"

	"github.com/visabuddy/companion/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Message instead of db.Message

type Conversation = db.Conversation
type Message = db.Message
type StringList = db.StringList

// ========== Constant aliases from db package ==========

// Message roles
const (
	RoleUser      = db.RoleUser
	RoleAssistant = db.RoleAssistant
)

// Message status constants
const (
	MessageStatusSending = db.MessageStatusSending
	MessageStatusSent    = db.MessageStatusSent
	MessageStatusError   = db.MessageStatusError
)

const GeneralConversationKey = db.GeneralConversationKey

// ========== Backend wire types ==========

// HistoryEntry is one prior turn sent to the backend for model context.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SendMessageRequest is the payload for the backend chat endpoint.
type SendMessageRequest struct {
	Content       string         `json:"content"`
	ApplicationID string         `json:"application_id,omitempty"`
	History       []HistoryEntry `json:"conversation_history,omitempty"`
}

// SendMessageResponse is the successful response from the backend chat
// endpoint. ID is the server-issued id of the assistant message.
type SendMessageResponse struct {
	ID         string   `json:"id"`
	Message    string   `json:"message"`
	Sources    []string `json:"sources,omitempty"`
	Model      string   `json:"model,omitempty"`
	TokensUsed int      `json:"tokens_used,omitempty"`
}

// HistoryResponse is the backend's paginated view of a conversation.
type HistoryResponse struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

// APIError is the backend error envelope: {success:false, error:{code,message}}.
type APIError struct {
	Success bool            `json:"success"`
	Error   *APIErrorDetail `json:"error,omitempty"`
}

type APIErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Session is a named, persisted grouping of a conversation's messages.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SessionsResponse is the backend's session listing.
type SessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}

// SessionDetailsResponse carries one session and its messages.
type SessionDetailsResponse struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
}

// Message feedback ratings
const (
	FeedbackThumbsUp   = "thumbs_up"
	FeedbackThumbsDown = "thumbs_down"
)

// FeedbackRequest is the payload for message feedback.
type FeedbackRequest struct {
	Rating string `json:"rating"`
}

// ========== Local API types (UI facing) ==========

// ChatSendRequest is the UI's request to send a message.
type ChatSendRequest struct {
	Content       string `json:"content"`
	ApplicationID string `json:"application_id,omitempty"`
}

// ChatRetryRequest retries a failed message by id.
type ChatRetryRequest struct {
	ApplicationID string `json:"application_id,omitempty"`
	MessageID     string `json:"message_id"`
}

// ChatAbortRequest aborts the in-flight send for a conversation.
type ChatAbortRequest struct {
	ApplicationID string `json:"application_id,omitempty"`
}

// RenameSessionRequest renames a session.
type RenameSessionRequest struct {
	Title string `json:"title"`
}
