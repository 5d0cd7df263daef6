package model

import "time"

// Chat is one document-collection session owned by a single user. Insights
// holds the merged search-result text and is overwritten on every search.
type Chat struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;index" json:"user_id"`
	Persona   string     `gorm:"size:512" json:"persona,omitempty"`
	Job       string     `gorm:"size:512" json:"job,omitempty"`
	Insights  string     `gorm:"type:text" json:"insights,omitempty"`
	Documents []Document `gorm:"foreignKey:ChatID" json:"documents,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
