package db

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestCache(t *testing.T) *CacheStore {
	t.Helper()
	store, err := OpenCache(filepath.Join(t.TempDir(), "chat-cache.db"))
	if err != nil {
		t.Fatalf("OpenCache() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleConversation(key string) *Conversation {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &Conversation{
		Key:   key,
		Total: 2,
		Limit: 50,
		Messages: []Message{
			{
				ID: "m1", Role: RoleUser, Content: "Which documents do I need?",
				Status: MessageStatusSent, CreatedAt: base,
			},
			{
				ID: "m2", Role: RoleAssistant, Content: "Passport and proof of funds.",
				Sources: StringList{"checklist.pdf"}, Status: MessageStatusSent,
				Model: "gpt-4o-mini", TokensUsed: 80, CreatedAt: base.Add(time.Second),
			},
		},
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func TestCache_SaveAndLoadRoundtrip(t *testing.T) {
	store := openTestCache(t)

	if err := store.SaveConversation(sampleConversation("general")); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}

	conv, err := store.LoadConversation("general")
	if err != nil {
		t.Fatalf("LoadConversation() error = %v", err)
	}
	if conv == nil {
		t.Fatalf("LoadConversation() = nil, want cached conversation")
	}
	if conv.Total != 2 || len(conv.Messages) != 2 {
		t.Fatalf("loaded conversation = %+v", conv)
	}
	if conv.Messages[0].ID != "m1" || conv.Messages[1].ID != "m2" {
		t.Fatalf("messages out of order: %s, %s", conv.Messages[0].ID, conv.Messages[1].ID)
	}
	if got := conv.Messages[1].Sources; len(got) != 1 || got[0] != "checklist.pdf" {
		t.Fatalf("sources = %v, want checklist.pdf", got)
	}
}

func TestCache_LoadMissingReturnsNil(t *testing.T) {
	store := openTestCache(t)

	conv, err := store.LoadConversation("nope")
	if err != nil {
		t.Fatalf("LoadConversation() error = %v", err)
	}
	if conv != nil {
		t.Fatalf("LoadConversation() = %+v, want nil", conv)
	}
}

func TestCache_SaveReplacesWholeSnapshot(t *testing.T) {
	store := openTestCache(t)

	if err := store.SaveConversation(sampleConversation("general")); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}

	smaller := &Conversation{
		Key:   "general",
		Total: 1,
		Messages: []Message{
			{ID: "m3", Role: RoleUser, Content: "new turn", Status: MessageStatusSent,
				CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)},
		},
	}
	if err := store.SaveConversation(smaller); err != nil {
		t.Fatalf("SaveConversation(replace) error = %v", err)
	}

	conv, err := store.LoadConversation("general")
	if err != nil {
		t.Fatalf("LoadConversation() error = %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].ID != "m3" {
		t.Fatalf("snapshot not replaced wholesale: %+v", conv.Messages)
	}
}

func TestCache_StaleSchemaVersionDiscarded(t *testing.T) {
	store := openTestCache(t)

	if err := store.SaveConversation(sampleConversation("general")); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	// Simulate a row written by an older build.
	if err := store.db.Model(&Conversation{}).
		Where("key = ?", "general").
		Update("cache_version", CacheSchemaVersion-1).Error; err != nil {
		t.Fatalf("downgrade cache_version: %v", err)
	}

	conv, err := store.LoadConversation("general")
	if err != nil {
		t.Fatalf("LoadConversation() error = %v", err)
	}
	if conv != nil {
		t.Fatalf("stale conversation surfaced: %+v", conv)
	}

	// The stale row is gone entirely.
	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("Keys() = %v after discarding stale row, want empty", keys)
	}
}

func TestCache_DeleteConversation(t *testing.T) {
	store := openTestCache(t)

	if err := store.SaveConversation(sampleConversation("app-7")); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	if err := store.DeleteConversation("app-7"); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	conv, err := store.LoadConversation("app-7")
	if err != nil {
		t.Fatalf("LoadConversation() error = %v", err)
	}
	if conv != nil {
		t.Fatalf("conversation survived delete: %+v", conv)
	}
}

func TestCache_KeysListsCachedConversations(t *testing.T) {
	store := openTestCache(t)

	for _, key := range []string{"general", "app-7"} {
		if err := store.SaveConversation(sampleConversation(key)); err != nil {
			t.Fatalf("SaveConversation(%s) error = %v", key, err)
		}
	}
	keys, err := store.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Keys() = %v, want 2 entries", keys)
	}
}

func TestCache_SameMessageIDAcrossConversations(t *testing.T) {
	store := openTestCache(t)

	// Both snapshots carry message ids m1 and m2.
	if err := store.SaveConversation(sampleConversation("general")); err != nil {
		t.Fatalf("SaveConversation(general) error = %v", err)
	}
	if err := store.SaveConversation(sampleConversation("app-7")); err != nil {
		t.Fatalf("SaveConversation(app-7) error = %v", err)
	}

	for _, key := range []string{"general", "app-7"} {
		conv, err := store.LoadConversation(key)
		if err != nil {
			t.Fatalf("LoadConversation(%s) error = %v", key, err)
		}
		if conv == nil || len(conv.Messages) != 2 {
			t.Fatalf("conversation %s = %+v, want both messages", key, conv)
		}
	}
}

func TestMessage_Before(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	earlier := Message{ID: "a", CreatedAt: base}
	later := Message{ID: "b", CreatedAt: base.Add(time.Second)}
	if !earlier.Before(&later) || later.Before(&earlier) {
		t.Fatalf("CreatedAt ordering broken")
	}

	seq1 := Message{ID: "z", LocalSeq: 1, CreatedAt: base}
	seq2 := Message{ID: "a", LocalSeq: 2, CreatedAt: base}
	if !seq1.Before(&seq2) {
		t.Fatalf("LocalSeq tie-break broken")
	}

	idA := Message{ID: "a", CreatedAt: base}
	idB := Message{ID: "b", CreatedAt: base}
	if !idA.Before(&idB) {
		t.Fatalf("ID tie-break broken")
	}
}
