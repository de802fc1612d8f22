package models

import "fmt"

// SettingType constrains how a raw setting value is interpreted
type SettingType string

const (
	SettingTypeInt    SettingType = "int"
	SettingTypeFloat  SettingType = "float"
	SettingTypeString SettingType = "string"
)

// Setting is a named, typed configuration value attached to a device or
// a camera.
type Setting struct {
	BaseModel

	Name        string      `json:"name" db:"name"`
	Value       string      `json:"value" db:"value"`
	SettingType SettingType `json:"settingType" db:"setting_type"`
}

// TypedValue parses the raw value according to the setting type. Values
// that fail to parse are passed through as strings so one bad row cannot
// block a settings push.
func (s Setting) TypedValue() interface{} {
	switch s.SettingType {
	case SettingTypeInt:
		var n int64
		if _, err := fmt.Sscanf(s.Value, "%d", &n); err == nil {
			return n
		}
	case SettingTypeFloat:
		var f float64
		if _, err := fmt.Sscanf(s.Value, "%g", &f); err == nil {
			return f
		}
	}
	return s.Value
}

// LPR represents one license-plate-recognition hardware unit and its
// connection parameters.
type LPR struct {
	BaseModel

	Name      string `json:"name" db:"name"`
	IP        string `json:"ip" db:"ip"`
	Port      int    `json:"port" db:"port"`
	AuthToken string `json:"-" db:"auth_token"`
	IsActive  bool   `json:"isActive" db:"is_active"`

	Latitude  *float64 `json:"latitude,omitempty" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" db:"longitude"`

	Settings []Setting `json:"settings,omitempty" db:"-"`
	Cameras  []*Camera `json:"cameras,omitempty" db:"-"`
}

// SettingsPayload is the signed data pushed to a device right after a
// successful authentication handshake.
type SettingsPayload struct {
	LPRID    int64                  `json:"lpr_id"`
	Settings []SettingValue         `json:"settings"`
	Cameras  []CameraSettingsExport `json:"cameras_data"`
}

// SettingValue is one name/value pair within a settings push.
type SettingValue struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// CameraSettingsExport carries per-camera settings within a settings push.
type CameraSettingsExport struct {
	CameraID int64          `json:"camera_id"`
	Settings []SettingValue `json:"settings"`
}

// ExportSettings flattens the device and camera settings into the push
// payload shape the firmware expects.
func (l *LPR) ExportSettings() SettingsPayload {
	payload := SettingsPayload{
		LPRID:    l.ID,
		Settings: exportValues(l.Settings),
		Cameras:  make([]CameraSettingsExport, 0, len(l.Cameras)),
	}
	for _, cam := range l.Cameras {
		payload.Cameras = append(payload.Cameras, CameraSettingsExport{
			CameraID: cam.ID,
			Settings: exportValues(cam.Settings),
		})
	}
	return payload
}

func exportValues(settings []Setting) []SettingValue {
	out := make([]SettingValue, 0, len(settings))
	for _, s := range settings {
		out = append(out, SettingValue{Name: s.Name, Value: s.TypedValue()})
	}
	return out
}
