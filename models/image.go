package models

import "time"

// Image statuses assigned by the blur classifier.
const (
	ImageStatusOK   = "ok"
	ImageStatusBlur = "blur"
)

// Image is an uploaded photo belonging to an album. Status and Duplicate
// are written by the external classifiers after upload.
type Image struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	AlbumID    uint      `gorm:"index;not null" json:"album_id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"` // uploader
	FileName   string    `gorm:"size:512;not null" json:"file_name"`
	S3Key      string    `gorm:"size:1024;not null" json:"s3_key"`
	S3URL      string    `gorm:"size:1024;not null" json:"s3_url"`
	Status     string    `gorm:"size:16;default:ok" json:"status"`
	Duplicate  bool      `gorm:"default:false" json:"duplicate"`
	UploadedAt time.Time `gorm:"autoCreateTime" json:"uploaded_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
