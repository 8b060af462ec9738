package models

import "time"

// Notification types written by the report runners.
const (
	NotificationFaceReport      = "face_recognition_report"
	NotificationBlurReport      = "blur_report"
	NotificationDuplicateReport = "duplicate_report"
	NotificationNewImages       = "new_images_added"
	NotificationAlbumShared     = "album_shared"
)

// Notification is an immutable per-recipient record created when a report
// fires. Data carries the JSON metadata payload delivered with the push.
type Notification struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	NotificationID string    `gorm:"size:36;uniqueIndex;not null" json:"notification_id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	Title          string    `gorm:"size:255;not null" json:"title"`
	Body           string    `gorm:"size:1024" json:"body"`
	Data           string    `gorm:"type:text" json:"data"`
	CreatedAt      time.Time `json:"created_at"`
}
