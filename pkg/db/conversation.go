// Database models for cached chat conversations
package db

import "time"

// GeneralConversationKey groups messages that are not tied to a specific visa
// application.
const GeneralConversationKey = "general"

// CacheSchemaVersion is bumped whenever the cached representation changes.
// Rows written under an older version are discarded on load; the cache is
// never authoritative, so dropping it only costs a refetch.
const CacheSchemaVersion = 2

// Conversation represents a chat conversation keyed by a visa application id
// (or the "general" sentinel). Messages are stored in a separate table and
// loaded into the Messages field when reading the cache.
type Conversation struct {
	Key          string    `json:"key" gorm:"primaryKey;size:64"`
	Total        int       `json:"total"`
	Limit        int       `json:"limit"`
	Offset       int       `json:"offset"`
	CacheVersion int       `json:"-" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Loaded from the cached_messages table, ascending by CreatedAt.
	Messages []Message `json:"messages" gorm:"-"`
}

func (Conversation) TableName() string {
	return "cached_conversations"
}
