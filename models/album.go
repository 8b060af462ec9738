package models

import "time"

// Album membership roles. Admins receive operational reports,
// viewers only receive user-facing update notifications.
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// Album is a shared photo album.
type Album struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index;not null" json:"user_id"` // owner
	AlbumTitle    string    `gorm:"size:255;not null" json:"album_title"`
	CoverImageURL string    `gorm:"size:1024" json:"cover_image_url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AlbumMember links a user to a shared album with an access role.
type AlbumMember struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AlbumID    uint      `gorm:"uniqueIndex:idx_album_user;not null" json:"album_id"`
	UserID     uint      `gorm:"uniqueIndex:idx_album_user;not null" json:"user_id"`
	AccessRole string    `gorm:"size:16;not null;default:viewer" json:"access_role"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
