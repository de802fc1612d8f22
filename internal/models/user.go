package models

import (
	"time"

	"github.com/google/uuid"
)

// UserType represents the role of a user
type UserType string

const (
	UserTypeAdmin  UserType = "ADMIN"
	UserTypeStaff  UserType = "STAFF"
	UserTypeViewer UserType = "VIEWER"
)

// Valid reports whether t is a known role.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeAdmin, UserTypeStaff, UserTypeViewer:
		return true
	}
	return false
}

// Restricted reports whether the role is subject to per-gate camera checks.
func (t UserType) Restricted() bool {
	return t == UserTypeViewer
}

// User represents a system user
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	PersonalNumber string   `json:"personalNumber" db:"personal_number"`
	FirstName      string   `json:"firstName" db:"first_name"`
	LastName       string   `json:"lastName" db:"last_name"`
	UserType       UserType `json:"userType" db:"user_type"`

	PasswordHash string `json:"-" db:"password_hash"`

	IsActive    bool       `json:"isActive" db:"is_active"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`

	// GateIDs is the permitted-gate set for restricted roles. Loaded from
	// the user_gates association, not a column.
	GateIDs []int64 `json:"gateIds,omitempty" db:"-"`
}

// PermittedGate reports whether the user may access cameras behind gateID.
// Unrestricted roles may access everything.
func (u *User) PermittedGate(gateID int64) bool {
	if !u.UserType.Restricted() {
		return true
	}
	for _, id := range u.GateIDs {
		if id == gateID {
			return true
		}
	}
	return false
}
