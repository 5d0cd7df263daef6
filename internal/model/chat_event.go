package model

import "time"

// ChatEvent is an audit record of a chat mutation (sync, search, delete),
// persisted asynchronously through the event queue.
type ChatEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChatID    uint      `gorm:"not null;index" json:"chat_id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Kind      string    `gorm:"size:32;not null;index" json:"kind"`
	Detail    string    `gorm:"size:512" json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
