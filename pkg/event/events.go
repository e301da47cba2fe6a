package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	ConversationUpdated  = "conversation.updated"
	ConversationCleared  = "conversation.cleared"
	MessageStatusChanged = "message.statusChanged"
	SessionsChanged      = "session.listChanged"
	SessionRenamed       = "session.renamed"
	SessionDeleted       = "session.deleted"
	StoreError           = "store.error"
	StoreReset           = "store.reset"
)

// ============================================================================
// Conversation Events
// ============================================================================

// ConversationUpdatedEvent is emitted whenever the message list of a
// conversation changes (optimistic insert, merge, reply append).
type ConversationUpdatedEvent struct {
	Key string `json:"key"`
}

func (e ConversationUpdatedEvent) EventName() string { return ConversationUpdated }

// ConversationClearedEvent is emitted when a conversation's history is cleared.
type ConversationClearedEvent struct {
	Key string `json:"key"`
}

func (e ConversationClearedEvent) EventName() string { return ConversationCleared }

// MessageStatusChangedEvent is emitted when a message moves from sending to
// sent or error.
type MessageStatusChangedEvent struct {
	Key       string `json:"key"`
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (e MessageStatusChangedEvent) EventName() string { return MessageStatusChanged }

// ============================================================================
// Session Events
// ============================================================================

// SessionsChangedEvent is emitted when the session list is reloaded.
type SessionsChangedEvent struct{}

func (e SessionsChangedEvent) EventName() string { return SessionsChanged }

// SessionRenamedEvent is emitted when a session title changes.
type SessionRenamedEvent struct {
	SessionID string `json:"session_id"`
}

func (e SessionRenamedEvent) EventName() string { return SessionRenamed }

// SessionDeletedEvent is emitted when a session is deleted.
type SessionDeletedEvent struct {
	SessionID string `json:"session_id"`
}

func (e SessionDeletedEvent) EventName() string { return SessionDeleted }

// ============================================================================
// Store Events
// ============================================================================

// StoreErrorEvent is emitted when a store operation fails; Message is the
// single human-readable error also held in the store state.
type StoreErrorEvent struct {
	Message string `json:"message"`
}

func (e StoreErrorEvent) EventName() string { return StoreError }

// StoreResetEvent is emitted when the store is torn down at logout.
type StoreResetEvent struct{}

func (e StoreResetEvent) EventName() string { return StoreReset }
