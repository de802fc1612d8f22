package models

import (
	"time"

	"github.com/google/uuid"
)

// Record is the stored metadata of one finished camera recording.
type Record struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	Title     string    `json:"title" db:"title"`
	CameraID  int64     `json:"cameraId" db:"camera_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	VideoURL  string    `json:"videoUrl" db:"video_url"`
}
