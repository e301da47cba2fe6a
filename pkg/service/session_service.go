// Session management - CRUD proxies to the backend plus the local
// current-session pointer.
package service

import (
	"context"
	"strings"

	"github.com/visabuddy/companion/pkg/event"
	"github.com/visabuddy/companion/pkg/models"
)

// LoadSessions refreshes the session list from the backend.
func (s *ChatStore) LoadSessions(ctx context.Context, limit, offset int) ([]models.Session, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	sessions, err := s.backend.GetSessions(ctx, limit, offset)
	if err != nil {
		s.setErr(classifyError(err))
		return nil, err
	}

	s.mu.Lock()
	s.sessions = sessions
	// Drop a dangling pointer if the active session disappeared server-side.
	if s.currentSessionID != "" && !containsSession(sessions, s.currentSessionID) {
		s.currentSessionID = ""
	}
	s.lastErr = ""
	s.mu.Unlock()

	s.emitter.Emit(event.SessionsChangedEvent{})
	return s.Sessions(), nil
}

// LoadSessionDetails fetches the messages of a session and marks it active.
func (s *ChatStore) LoadSessionDetails(ctx context.Context, id string) ([]models.Message, error) {
	messages, err := s.backend.GetSessionDetails(ctx, id)
	if err != nil {
		s.setErr(classifyError(err))
		return nil, err
	}

	s.mu.Lock()
	s.currentSessionID = id
	s.lastErr = ""
	s.mu.Unlock()

	return messages, nil
}

// RenameSession changes a session title on the backend and in the local list.
func (s *ChatStore) RenameSession(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if err := s.backend.RenameSession(ctx, id, title); err != nil {
		s.setErr(classifyError(err))
		return err
	}

	s.mu.Lock()
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			s.sessions[i].Title = title
			break
		}
	}
	s.lastErr = ""
	s.mu.Unlock()

	s.emitter.Emit(event.SessionRenamedEvent{SessionID: id})
	return nil
}

// DeleteSession removes a session. Deleting the active session clears the
// current-session pointer, so the list and the pointer never reference a
// deleted id.
func (s *ChatStore) DeleteSession(ctx context.Context, id string) error {
	if err := s.backend.DeleteSession(ctx, id); err != nil {
		s.setErr(classifyError(err))
		return err
	}

	s.mu.Lock()
	kept := s.sessions[:0]
	for _, sess := range s.sessions {
		if sess.ID != id {
			kept = append(kept, sess)
		}
	}
	s.sessions = kept
	if s.currentSessionID == id {
		s.currentSessionID = ""
	}
	s.lastErr = ""
	s.mu.Unlock()

	s.emitter.Emit(event.SessionDeletedEvent{SessionID: id})
	return nil
}

// SetCurrentSession updates the active session pointer without a fetch.
func (s *ChatStore) SetCurrentSession(id string) {
	s.mu.Lock()
	s.currentSessionID = id
	s.mu.Unlock()
}

func containsSession(sessions []models.Session, id string) bool {
	for i := range sessions {
		if sessions[i].ID == id {
			return true
		}
	}
	return false
}
