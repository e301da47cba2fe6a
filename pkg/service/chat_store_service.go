// Chat store service - keeps the local view of AI conversations consistent
// with the remote VisaBuddy backend under concurrent optimistic and fetched
// updates.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/visabuddy/companion/pkg/api"
	"github.com/visabuddy/companion/pkg/event"
	"github.com/visabuddy/companion/pkg/models"
)

var (
	ErrEmptyMessage    = errors.New("message content is empty")
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidRating   = errors.New("invalid feedback rating")
)

// User-facing error strings held in the store state. The UI renders these
// verbatim.
const (
	errMsgAuthExpired = "Your session has expired. Please sign in again."
	errMsgGeneric     = "Something went wrong talking to the assistant. Please try again."
)

const (
	defaultHistoryLimit = 50
	maxHistoryContext   = 20
	feedbackTimeout     = 10 * time.Second
)

// Backend is the remote API surface the store depends on.
type Backend interface {
	Authenticated() bool
	GetHistory(ctx context.Context, key string, limit, offset int) (*models.HistoryResponse, error)
	SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.SendMessageResponse, error)
	GetSessions(ctx context.Context, limit, offset int) ([]models.Session, error)
	GetSessionDetails(ctx context.Context, id string) ([]models.Message, error)
	RenameSession(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error
	AddMessageFeedback(ctx context.Context, messageID, rating string) error
}

// ConversationCache persists conversations for offline continuity. It is
// never authoritative; a successful fetch always supersedes it.
type ConversationCache interface {
	LoadConversation(key string) (*models.Conversation, error)
	SaveConversation(conv *models.Conversation) error
	DeleteConversation(key string) error
	Keys() ([]string, error)
}

// ChatStore owns all conversation state. It is constructed explicitly with
// its dependencies (no package-level singleton) so tests can run isolated
// instances; Reset tears it down at logout.
//
// Updates are applied as whole-object replacements under the mutex, so
// concurrent readers never observe a partially merged conversation.
type ChatStore struct {
	backend Backend
	cache   ConversationCache
	emitter *event.Emitter
	logger  *slog.Logger
	now     func() time.Time

	// Monotonic sequence for temporary message ids.
	seq atomic.Int64

	mu               sync.RWMutex
	conversations    map[string]*models.Conversation
	sessions         []models.Session
	currentSessionID string
	lastErr          string

	// In-flight sends per conversation key, cancelable via AbortSend.
	inflightMu sync.Mutex
	inflight   map[string]map[int64]context.CancelFunc
}

// ChatStoreOption customizes a ChatStore.
type ChatStoreOption func(*ChatStore)

// WithClock overrides the store clock (tests).
func WithClock(now func() time.Time) ChatStoreOption {
	return func(s *ChatStore) { s.now = now }
}

// NewChatStore creates a chat store. cache may be nil, in which case nothing
// is persisted locally.
func NewChatStore(backend Backend, cache ConversationCache, emitter *event.Emitter, logger *slog.Logger, opts ...ChatStoreOption) *ChatStore {
	s := &ChatStore{
		backend:       backend,
		cache:         cache,
		emitter:       emitter,
		logger:        logger,
		now:           time.Now,
		conversations: make(map[string]*models.Conversation),
		inflight:      make(map[string]map[int64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ========== State Accessors ==========

// ConversationSnapshot returns a copy of the conversation for key, if any.
func (s *ChatStore) ConversationSnapshot(key string) (models.Conversation, bool) {
	key = normalizeKey(key)

	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[key]
	if !ok {
		return models.Conversation{}, false
	}
	return copyConversation(conv), true
}

// Err returns the single human-readable error from the last failed operation,
// empty when the last operation succeeded.
func (s *ChatStore) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Sessions returns a copy of the loaded session list.
func (s *ChatStore) Sessions() []models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// CurrentSessionID returns the active session id, empty if none.
func (s *ChatStore) CurrentSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSessionID
}

// ========== Local Append (Optimistic Insert) ==========

// LocalAppend inserts msg at the end of the conversation for key and bumps
// the total. It performs no network I/O and is idempotent: a message whose id
// is already present is not inserted twice.
func (s *ChatStore) LocalAppend(key string, msg models.Message) {
	key = normalizeKey(key)

	s.mu.Lock()
	inserted := s.appendLocked(key, msg)
	s.mu.Unlock()

	if inserted {
		s.persist(key)
		s.emitter.Emit(event.ConversationUpdatedEvent{Key: key})
	}
}

// NewLocalMessage builds an optimistic user message with a temporary id and
// status sending. The id embeds a monotonic sequence number so concurrent
// sends on the same clock tick never collide.
func (s *ChatStore) NewLocalMessage(key, content string) models.Message {
	seq := s.seq.Add(1)
	return models.Message{
		ID:              fmt.Sprintf("local-%d-%s", seq, uuid.NewString()),
		ConversationKey: normalizeKey(key),
		Role:            models.RoleUser,
		Content:         content,
		Status:          models.MessageStatusSending,
		LocalSeq:        seq,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}
}

// appendLocked inserts msg if its id is not present yet. Caller holds mu.
func (s *ChatStore) appendLocked(key string, msg models.Message) bool {
	conv := s.getOrCreateLocked(key)
	for i := range conv.Messages {
		if conv.Messages[i].ID == msg.ID {
			s.logger.Debug("skipping duplicate message append", "key", key, "id", msg.ID)
			return false
		}
	}
	msg.ConversationKey = key
	conv.Messages = append(conv.Messages, msg)
	conv.Total++
	conv.UpdatedAt = s.now()
	return true
}

// ========== Send Protocol ==========

// Send runs the full send protocol: auth guard, optimistic insert, backend
// call, status transition and reply append. It returns the optimistic user
// message so callers can track it by id.
//
// Failures never remove the optimistic message; it stays visible with status
// error until the user retries or clears history.
func (s *ChatStore) Send(ctx context.Context, key, content string) (models.Message, error) {
	key = normalizeKey(key)
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}

	if !s.backend.Authenticated() {
		s.setErr(errMsgAuthExpired)
		return models.Message{}, api.ErrAuthExpired
	}

	// Snapshot prior history for model context before inserting the new turn.
	history := s.historyContext(key)

	msg := s.NewLocalMessage(key, content)
	s.LocalAppend(key, msg)

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.trackInflight(key, msg.LocalSeq, cancel)
	defer s.untrackInflight(key, msg.LocalSeq)

	resp, err := s.backend.SendMessage(sendCtx, models.SendMessageRequest{
		Content:       content,
		ApplicationID: applicationID(key),
		History:       history,
	})
	if err != nil {
		s.markStatus(key, msg.ID, models.MessageStatusError)
		// Keep the returned copy in step with the stored one.
		msg.Status = models.MessageStatusError
		msg.UpdatedAt = s.now()
		if errors.Is(err, context.Canceled) {
			// Deliberate abort; not surfaced as a store error.
			s.logger.Info("send aborted", "key", key, "id", msg.ID)
		} else {
			s.setErr(classifyError(err))
			s.logger.Warn("send failed", "key", key, "id", msg.ID, "error", err)
		}
		return msg, err
	}

	s.markStatus(key, msg.ID, models.MessageStatusSent)
	msg.Status = models.MessageStatusSent
	msg.UpdatedAt = s.now()

	reply := models.Message{
		ID:              resp.ID,
		ConversationKey: key,
		Role:            models.RoleAssistant,
		Content:         resp.Message,
		Sources:         models.StringList(resp.Sources),
		Status:          models.MessageStatusSent,
		Model:           resp.Model,
		TokensUsed:      resp.TokensUsed,
		CreatedAt:       s.now(),
		UpdatedAt:       s.now(),
	}
	// Duplicate delivery of the same assistant id is skipped inside
	// LocalAppend.
	s.LocalAppend(key, reply)

	s.setErr("")
	return msg, nil
}

// Retry re-sends the content of a failed message as a new optimistic message
// with a fresh temporary id. The failed message is left in place as audit
// history of the failed attempt.
func (s *ChatStore) Retry(ctx context.Context, key, messageID string) (models.Message, error) {
	key = normalizeKey(key)

	s.mu.RLock()
	var content string
	found := false
	if conv, ok := s.conversations[key]; ok {
		for i := range conv.Messages {
			m := &conv.Messages[i]
			if m.ID == messageID && m.Status == models.MessageStatusError && m.Role == models.RoleUser {
				content = m.Content
				found = true
				break
			}
		}
	}
	s.mu.RUnlock()

	if !found {
		return models.Message{}, ErrMessageNotFound
	}
	return s.Send(ctx, key, content)
}

// AbortSend cancels every in-flight send for key. Messages already appended
// stay; the aborted optimistic entries transition to status error and can be
// retried.
func (s *ChatStore) AbortSend(key string) {
	key = normalizeKey(key)

	s.inflightMu.Lock()
	cancels := s.inflight[key]
	delete(s.inflight, key)
	s.inflightMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (s *ChatStore) trackInflight(key string, seq int64, cancel context.CancelFunc) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	m := s.inflight[key]
	if m == nil {
		m = make(map[int64]context.CancelFunc)
		s.inflight[key] = m
	}
	m[seq] = cancel
}

func (s *ChatStore) untrackInflight(key string, seq int64) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if m := s.inflight[key]; m != nil {
		delete(m, seq)
		if len(m) == 0 {
			delete(s.inflight, key)
		}
	}
}

// ========== Remote Fetch & Merge ==========

// LoadHistory fetches the server's view of the conversation for key and
// merges it with locally held optimistic state. On failure the prior
// conversation state is left intact.
func (s *ChatStore) LoadHistory(ctx context.Context, key string, limit, offset int) error {
	key = normalizeKey(key)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	resp, err := s.backend.GetHistory(ctx, key, limit, offset)
	if err != nil {
		s.setErr(classifyError(err))
		return err
	}

	fetched := make([]models.Message, len(resp.Messages))
	for i, m := range resp.Messages {
		m.ConversationKey = key
		m.Status = models.MessageStatusSent
		m.LocalSeq = 0
		fetched[i] = m
	}

	s.mu.Lock()
	var local []models.Message
	if conv, ok := s.conversations[key]; ok {
		local = conv.Messages
	}
	merged := mergeMessages(local, fetched)
	s.conversations[key] = &models.Conversation{
		Key:       key,
		Messages:  merged,
		Total:     len(merged),
		Limit:     limit,
		Offset:    offset,
		CreatedAt: s.now(),
		UpdatedAt: s.now(),
	}
	s.lastErr = ""
	s.mu.Unlock()

	s.persist(key)
	s.emitter.Emit(event.ConversationUpdatedEvent{Key: key})
	return nil
}

// ClearHistory drops the local and cached state for key.
func (s *ChatStore) ClearHistory(key string) {
	key = normalizeKey(key)

	s.mu.Lock()
	delete(s.conversations, key)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteConversation(key); err != nil {
			s.logger.Warn("failed to clear cached conversation", "key", key, "error", err)
		}
	}
	s.emitter.Emit(event.ConversationClearedEvent{Key: key})
}

// ========== Startup / Teardown ==========

// Restore loads cached conversations and then tries to refresh them from the
// backend within timeout. When the backend is slow or unreachable, startup
// proceeds with the cached state; the cache is superseded by the next
// successful fetch.
func (s *ChatStore) Restore(ctx context.Context, timeout time.Duration) {
	keys := s.restoreFromCache()

	refreshCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if len(keys) == 0 {
		keys = []string{models.GeneralConversationKey}
	}
	for _, key := range keys {
		if err := s.LoadHistory(refreshCtx, key, defaultHistoryLimit, 0); err != nil {
			s.logger.Warn("startup refresh failed, keeping cached state", "key", key, "error", err)
			return
		}
	}
	if _, err := s.LoadSessions(refreshCtx, defaultHistoryLimit, 0); err != nil {
		s.logger.Warn("startup session load failed", "error", err)
	}
}

func (s *ChatStore) restoreFromCache() []string {
	if s.cache == nil {
		return nil
	}
	keys, err := s.cache.Keys()
	if err != nil {
		s.logger.Warn("failed to list cached conversations", "error", err)
		return nil
	}

	for _, key := range keys {
		conv, err := s.cache.LoadConversation(key)
		if err != nil || conv == nil {
			if err != nil {
				s.logger.Warn("failed to load cached conversation", "key", key, "error", err)
			}
			continue
		}
		s.mu.Lock()
		s.conversations[key] = conv
		s.mu.Unlock()
		s.emitter.Emit(event.ConversationUpdatedEvent{Key: key})
	}
	return keys
}

// Reset tears the store down at logout: cancels in-flight sends and clears
// all in-memory state. Cached conversations are kept for the next login of
// the same account; callers wanting a clean slate use ClearHistory first.
func (s *ChatStore) Reset() {
	s.inflightMu.Lock()
	for key, m := range s.inflight {
		for _, cancel := range m {
			cancel()
		}
		delete(s.inflight, key)
	}
	s.inflightMu.Unlock()

	s.mu.Lock()
	s.conversations = make(map[string]*models.Conversation)
	s.sessions = nil
	s.currentSessionID = ""
	s.lastErr = ""
	s.mu.Unlock()

	s.emitter.Emit(event.StoreResetEvent{})
}

// ========== Message Feedback ==========

// SendFeedback records a thumbs up/down rating for a message. Fire and
// forget: delivery failures are logged, never surfaced.
func (s *ChatStore) SendFeedback(messageID, rating string) error {
	if rating != models.FeedbackThumbsUp && rating != models.FeedbackThumbsDown {
		return ErrInvalidRating
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), feedbackTimeout)
		defer cancel()
		if err := s.backend.AddMessageFeedback(ctx, messageID, rating); err != nil {
			s.logger.Warn("message feedback failed", "message_id", messageID, "error", err)
		}
	}()
	return nil
}

// ========== Internals ==========

func (s *ChatStore) getOrCreateLocked(key string) *models.Conversation {
	conv, ok := s.conversations[key]
	if !ok {
		conv = &models.Conversation{
			Key:       key,
			Limit:     defaultHistoryLimit,
			CreatedAt: s.now(),
			UpdatedAt: s.now(),
		}
		s.conversations[key] = conv
	}
	return conv
}

// markStatus transitions a message to status and emits the change.
func (s *ChatStore) markStatus(key, messageID, status string) {
	s.mu.Lock()
	changed := false
	if conv, ok := s.conversations[key]; ok {
		for i := range conv.Messages {
			if conv.Messages[i].ID == messageID {
				if conv.Messages[i].Status != status {
					conv.Messages[i].Status = status
					conv.Messages[i].UpdatedAt = s.now()
					changed = true
				}
				break
			}
		}
	}
	s.mu.Unlock()

	if changed {
		s.persist(key)
		s.emitter.Emit(event.MessageStatusChangedEvent{Key: key, MessageID: messageID, Status: status})
	}
}

func (s *ChatStore) setErr(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
	if msg != "" {
		s.emitter.Emit(event.StoreErrorEvent{Message: msg})
	}
}

// historyContext returns the settled prior turns for key, capped to the most
// recent maxHistoryContext entries.
func (s *ChatStore) historyContext(key string) []models.HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[key]
	if !ok {
		return nil
	}
	var entries []models.HistoryEntry
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if !m.Settled() {
			continue
		}
		entries = append(entries, models.HistoryEntry{Role: m.Role, Content: m.Content})
	}
	if len(entries) > maxHistoryContext {
		entries = entries[len(entries)-maxHistoryContext:]
	}
	return entries
}

// persist writes the current snapshot of key to the cache, logging failures
// only; the cache is best-effort.
func (s *ChatStore) persist(key string) {
	if s.cache == nil {
		return
	}

	s.mu.RLock()
	conv, ok := s.conversations[key]
	var snapshot models.Conversation
	if ok {
		snapshot = copyConversation(conv)
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	if err := s.cache.SaveConversation(&snapshot); err != nil {
		s.logger.Warn("failed to persist conversation cache", "key", key, "error", err)
	}
}

func copyConversation(conv *models.Conversation) models.Conversation {
	out := *conv
	out.Messages = make([]models.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return out
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return models.GeneralConversationKey
	}
	return key
}

// applicationID maps a conversation key back to the backend parameter; the
// general sentinel sends none.
func applicationID(key string) string {
	if key == models.GeneralConversationKey {
		return ""
	}
	return key
}

// classifyError maps a backend failure to the user-facing error string.
func classifyError(err error) string {
	if errors.Is(err, api.ErrAuthExpired) {
		return errMsgAuthExpired
	}
	return errMsgGeneric
}
