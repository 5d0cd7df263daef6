package model

import "time"

// User is an account identity. PasswordHash and GoogleID are pointers because
// an account may be password-only, Google-only, or linked to both.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"size:128;not null;uniqueIndex" json:"email"`
	Name         string    `gorm:"size:128;not null" json:"name"`
	PhoneNumber  string    `gorm:"size:32" json:"phone_number,omitempty"`
	PasswordHash *string   `gorm:"size:255" json:"-"`
	GoogleID     *string   `gorm:"size:64;uniqueIndex" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
