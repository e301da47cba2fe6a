// Local conversation cache backed by SQLite.
//
// The cache exists for offline continuity only: it is loaded once at startup
// and superseded by the first successful fetch from the backend. It is never
// treated as a source of truth.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// CacheStore persists conversations to a local SQLite database.
type CacheStore struct {
	db *gorm.DB
}

// OpenCache opens (or creates) the cache database at path and migrates the
// schema.
func OpenCache(path string) (*CacheStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open cache db %s: %w", path, err)
	}

	if err := database.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return nil, fmt.Errorf("migrate cache schema: %w", err)
	}

	return &CacheStore{db: database}, nil
}

// Close releases the underlying database handle.
func (s *CacheStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadConversation returns the cached conversation for key, or nil if none is
// cached. Rows written under an older cache schema version are discarded.
func (s *CacheStore) LoadConversation(key string) (*Conversation, error) {
	var conv Conversation
	if err := s.db.First(&conv, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}

	if conv.CacheVersion != CacheSchemaVersion {
		if err := s.DeleteConversation(key); err != nil {
			return nil, err
		}
		return nil, nil
	}

	var messages []Message
	if err := s.db.Where("conversation_key = ?", key).Find(&messages).Error; err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Before(&messages[j])
	})
	conv.Messages = messages
	return &conv, nil
}

// SaveConversation replaces the cached state for conv.Key wholesale. Partial
// updates are never written, so a reader observes either the previous or the
// new snapshot.
func (s *CacheStore) SaveConversation(conv *Conversation) error {
	if conv == nil || conv.Key == "" {
		return fmt.Errorf("invalid conversation")
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_key = ?", conv.Key).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("key = ?", conv.Key).Delete(&Conversation{}).Error; err != nil {
			return err
		}

		row := Conversation{
			Key:          conv.Key,
			Total:        conv.Total,
			Limit:        conv.Limit,
			Offset:       conv.Offset,
			CacheVersion: CacheSchemaVersion,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    time.Now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		for i := range conv.Messages {
			msg := conv.Messages[i]
			msg.ConversationKey = conv.Key
			if err := tx.Create(&msg).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteConversation removes the cached state for key.
func (s *CacheStore) DeleteConversation(key string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_key = ?", key).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Where("key = ?", key).Delete(&Conversation{}).Error
	})
}

// Keys lists the conversation keys currently cached.
func (s *CacheStore) Keys() ([]string, error) {
	var keys []string
	if err := s.db.Model(&Conversation{}).
		Where("cache_version = ?", CacheSchemaVersion).
		Pluck("key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}
