// Database models for cached chat messages
package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Message represents a single chat message as held in memory and mirrored in
// the local cache. One Message.ID = one message visible to the user.
//
// Locally authored messages carry a temporary client-generated ID and
// LocalSeq until the backend acknowledges them; fetched messages carry the
// server-issued ID and LocalSeq 0.
//
// The cache key is (ConversationKey, ID): a server-issued message id may
// legitimately appear under more than one conversation key.
type Message struct {
	ID              string `json:"id" gorm:"primaryKey;size:64"`
	ConversationKey string `json:"conversation_key,omitempty" gorm:"primaryKey;size:64"`

	// Core fields
	Role    string `json:"role" gorm:"size:20;not null"` // user, assistant
	Content string `json:"content" gorm:"type:text"`

	// Sources cited by the assistant (document names from the backend RAG)
	Sources StringList `json:"sources,omitempty" gorm:"type:text"` // JSON

	// Status and metadata
	Status     string `json:"status" gorm:"size:20;default:'sent'"` // sending, sent, error
	Model      string `json:"model,omitempty" gorm:"size:100"`
	TokensUsed int    `json:"tokens_used,omitempty"`

	// LocalSeq is a monotonic per-store sequence number assigned to optimistic
	// entries. It breaks CreatedAt ties so rendering order is deterministic
	// even when two sends land on the same clock tick.
	LocalSeq int64 `json:"local_seq,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (*Message) TableName() string {
	return "cached_messages"
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message status
const (
	MessageStatusSending = "sending"
	MessageStatusSent    = "sent"
	MessageStatusError   = "error"
)

// Settled reports whether the server has acknowledged this message. Settled
// local entries are superseded by the server list on merge; pending ones
// (sending or error) are retained until the server echoes their id.
func (m *Message) Settled() bool {
	return m.Status == MessageStatusSent
}

// Before reports whether m sorts before other in a conversation: ascending
// CreatedAt, ties broken by LocalSeq, then by ID for full determinism.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	if m.LocalSeq != other.LocalSeq {
		return m.LocalSeq < other.LocalSeq
	}
	return m.ID < other.ID
}

// StringList is a slice of strings stored as JSON in the database.
type StringList []string

// Value implements driver.Valuer for database storage
func (s StringList) Value() (driver.Value, error) {
	if len(s) == 0 {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database retrieval
func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}
