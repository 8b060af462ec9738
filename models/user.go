package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account. Passwords are stored as bcrypt hashes only.
type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Email         string         `gorm:"size:255;uniqueIndex;not null" json:"email"`
	DisplayName   string         `gorm:"size:128" json:"display_name"`
	PasswordHash  string         `gorm:"size:255" json:"-"`
	SignupMethod  string         `gorm:"size:32" json:"signup_method"` // email | google
	GoogleID      string         `gorm:"size:255" json:"-"`
	PhotoURL      string         `gorm:"size:512" json:"photo_url"`
	EmailVerified bool           `gorm:"default:false" json:"email_verified"`
	FCMToken      string         `gorm:"size:512" json:"-"` // device token for push delivery, may be empty
	LastLoginAt   *time.Time     `json:"last_login_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
