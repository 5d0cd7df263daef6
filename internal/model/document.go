package model

import "time"

// Document is one uploaded PDF scoped to exactly one chat. FileName is unique
// per chat, not globally; a duplicate insert fails on the composite index.
type Document struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChatID    uint      `gorm:"not null;uniqueIndex:idx_chat_file" json:"chat_id"`
	FileName  string    `gorm:"size:256;not null;uniqueIndex:idx_chat_file" json:"file_name"`
	Content   []byte    `gorm:"type:longblob" json:"-"`
	PageCount int       `json:"page_count"`
	CreatedAt time.Time `json:"created_at"`
}
