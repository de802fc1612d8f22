package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// plate numbers look like 12a34567: two digits, a letter, three digits,
// two digits.
var plateParts = regexp.MustCompile(`^(\d{2})([a-zA-Z])(\d{3})(\d{2})$`)

// Traffic is one persisted plate detection.
type Traffic struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	PlateNumber string `json:"plateNumber" db:"plate_number"`
	Prefix2     string `json:"prefix2" db:"prefix_2"`
	Alpha       string `json:"alpha" db:"alpha"`
	Mid3        string `json:"mid3" db:"mid_3"`
	Suffix2     string `json:"suffix2" db:"suffix_2"`

	OCRAccuracy float64 `json:"ocrAccuracy" db:"ocr_accuracy"`
	VisionSpeed float64 `json:"visionSpeed" db:"vision_speed"`

	PlateImagePath string `json:"plateImagePath,omitempty" db:"plate_image_path"`
	FullImagePath  string `json:"fullImagePath,omitempty" db:"full_image_path"`

	Timestamp string `json:"timestamp" db:"timestamp"`
	CameraID  int64  `json:"cameraId" db:"camera_id"`
}

// SplitPlate fills the plate component columns from the raw plate number.
// Returns false when the number does not match the expected layout; the
// record is still usable, only the split columns stay empty.
func (t *Traffic) SplitPlate() bool {
	m := plateParts.FindStringSubmatch(t.PlateNumber)
	if m == nil {
		return false
	}
	t.Prefix2, t.Alpha, t.Mid3, t.Suffix2 = m[1], m[2], m[3], m[4]
	return true
}
