package models

// Gate groups cameras behind one physical entrance. Viewer permissions are
// granted per gate.
type Gate struct {
	BaseModel

	Name        string `json:"name" db:"name"`
	Description string `json:"description,omitempty" db:"description"`
	BuildingID  *int64 `json:"buildingId,omitempty" db:"building_id"`
}

// Camera represents one camera attached to an LPR unit.
type Camera struct {
	BaseModel

	Name     string `json:"name" db:"name"`
	GateID   int64  `json:"gateId" db:"gate_id"`
	LPRID    int64  `json:"lprId" db:"lpr_id"`
	IsActive bool   `json:"isActive" db:"is_active"`

	Settings []Setting `json:"settings,omitempty" db:"-"`
}
