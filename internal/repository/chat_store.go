package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"vectra-insight/internal/model"
)

// ChatStore is the durable source of truth for chats and their attached
// documents. Not-found lookups return (nil, nil); mutation targets that do
// not exist surface gorm.ErrRecordNotFound so services can map them.
type ChatStore struct {
	db *gorm.DB
}

func NewChatStore(db *gorm.DB) *ChatStore {
	return &ChatStore{db: db}
}

func (s *ChatStore) CreateChat(chat *model.Chat) error {
	if err := s.db.Create(chat).Error; err != nil {
		return fmt.Errorf("create chat failed: %w", err)
	}
	return nil
}

func (s *ChatStore) GetChatForUser(chatID, userID uint) (*model.Chat, error) {
	var chat model.Chat
	if err := s.db.Where("id = ? AND user_id = ?", chatID, userID).First(&chat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get chat failed: %w", err)
	}
	return &chat, nil
}

func (s *ChatStore) ListFileNames(chatID uint) ([]string, error) {
	var names []string
	if err := s.db.Model(&model.Document{}).
		Where("chat_id = ?", chatID).
		Pluck("file_name", &names).Error; err != nil {
		return nil, fmt.Errorf("list file names failed: %w", err)
	}
	return names, nil
}

// AddFiles inserts new document rows. A duplicate (chat_id, file_name) pair
// fails with an error wrapping gorm.ErrDuplicatedKey via the unique index.
func (s *ChatStore) AddFiles(docs []model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := s.db.Create(&docs).Error; err != nil {
		return fmt.Errorf("add files failed: %w", err)
	}
	return nil
}

func (s *ChatStore) RemoveFiles(chatID uint, fileNames []string) error {
	if len(fileNames) == 0 {
		return nil
	}
	if err := s.db.Where("chat_id = ? AND file_name IN ?", chatID, fileNames).
		Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("remove files failed: %w", err)
	}
	return nil
}

// RecordInsights overwrites the chat's insights, and persona when non-empty.
func (s *ChatStore) RecordInsights(chatID uint, insights, persona string) error {
	updates := map[string]interface{}{"insights": insights}
	if persona != "" {
		updates["persona"] = persona
	}
	result := s.db.Model(&model.Chat{}).Where("id = ?", chatID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("record insights failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows for a no-change update too, so
		// distinguish that from a missing chat before reporting not found.
		var count int64
		if err := s.db.Model(&model.Chat{}).Where("id = ?", chatID).Count(&count).Error; err != nil {
			return fmt.Errorf("record insights failed: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("record insights failed: %w", gorm.ErrRecordNotFound)
		}
	}
	return nil
}

// ListChatsForUser returns the user's chats newest first, with document
// metadata attached. Payloads stay in the database; only file names, page
// counts and timestamps are selected.
func (s *ChatStore) ListChatsForUser(userID uint) ([]model.Chat, error) {
	var chats []model.Chat
	err := s.db.Where("user_id = ?", userID).
		Preload("Documents", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "chat_id", "file_name", "page_count", "created_at")
		}).
		Order("created_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, fmt.Errorf("list chats failed: %w", err)
	}
	return chats, nil
}

// DeleteChat removes the chat and its documents in one transaction.
func (s *ChatStore) DeleteChat(chatID uint) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Document{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&model.Chat{}, chatID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete chat failed: %w", err)
	}
	return nil
}
