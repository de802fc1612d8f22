package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPlate(t *testing.T) {
	tests := []struct {
		plate string
		ok    bool
		parts [4]string
	}{
		{"12a34567", true, [4]string{"12", "a", "345", "67"}},
		{"98Z76554", true, [4]string{"98", "Z", "765", "54"}},
		{"12345678", false, [4]string{}},
		{"1a234567", false, [4]string{}},
		{"12a3456", false, [4]string{}},
		{"", false, [4]string{}},
	}

	for _, tt := range tests {
		tr := &Traffic{PlateNumber: tt.plate}
		assert.Equal(t, tt.ok, tr.SplitPlate(), tt.plate)
		assert.Equal(t, tt.parts[0], tr.Prefix2, tt.plate)
		assert.Equal(t, tt.parts[1], tr.Alpha, tt.plate)
		assert.Equal(t, tt.parts[2], tr.Mid3, tt.plate)
		assert.Equal(t, tt.parts[3], tr.Suffix2, tt.plate)
	}
}

func TestSettingTypedValue(t *testing.T) {
	assert.Equal(t, int64(25), Setting{Value: "25", SettingType: SettingTypeInt}.TypedValue())
	assert.Equal(t, 0.8, Setting{Value: "0.8", SettingType: SettingTypeFloat}.TypedValue())
	assert.Equal(t, "day", Setting{Value: "day", SettingType: SettingTypeString}.TypedValue())

	// Unparseable values fall back to the raw string.
	assert.Equal(t, "abc", Setting{Value: "abc", SettingType: SettingTypeInt}.TypedValue())
}

func TestExportSettings(t *testing.T) {
	lpr := &LPR{
		BaseModel: BaseModel{ID: 3},
		Settings: []Setting{
			{Name: "fps", Value: "10", SettingType: SettingTypeInt},
		},
		Cameras: []*Camera{
			{
				BaseModel: BaseModel{ID: 4},
				Settings: []Setting{
					{Name: "threshold", Value: "0.8", SettingType: SettingTypeFloat},
				},
			},
		},
	}

	payload := lpr.ExportSettings()
	assert.Equal(t, int64(3), payload.LPRID)
	require.Len(t, payload.Settings, 1)
	assert.Equal(t, int64(10), payload.Settings[0].Value)
	require.Len(t, payload.Cameras, 1)
	assert.Equal(t, int64(4), payload.Cameras[0].CameraID)
	assert.Equal(t, 0.8, payload.Cameras[0].Settings[0].Value)
}

func TestUserPermittedGate(t *testing.T) {
	viewer := &User{UserType: UserTypeViewer, GateIDs: []int64{2, 5}}
	assert.True(t, viewer.PermittedGate(2))
	assert.False(t, viewer.PermittedGate(3))

	// Staff and admins bypass the gate check entirely.
	assert.True(t, (&User{UserType: UserTypeStaff}).PermittedGate(99))
	assert.True(t, (&User{UserType: UserTypeAdmin}).PermittedGate(99))
}

func TestUserTypeValid(t *testing.T) {
	assert.True(t, UserTypeAdmin.Valid())
	assert.True(t, UserTypeViewer.Valid())
	assert.False(t, UserType("ROOT").Valid())
}
