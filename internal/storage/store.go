package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/alpr-fleet/fleet-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByPersonalNumber(ctx context.Context, personalNumber string) (*models.User, error)
	UpdateUserLastLogin(ctx context.Context, id uuid.UUID) error

	// LPR device methods
	CreateLPR(ctx context.Context, lpr *models.LPR) error
	GetLPR(ctx context.Context, id int64) (*models.LPR, error)
	UpdateLPR(ctx context.Context, lpr *models.LPR) error
	DeleteLPR(ctx context.Context, id int64) error
	ListLPRs(ctx context.Context, limit, offset int) ([]*models.LPR, int64, error)
	ListActiveLPRs(ctx context.Context) ([]*models.LPR, error)

	// Camera methods
	GetCamera(ctx context.Context, id int64) (*models.Camera, error)
	ListCameras(ctx context.Context, lprID int64) ([]*models.Camera, error)

	// Traffic (plate detection) methods
	CreateTraffic(ctx context.Context, t *models.Traffic) error
	ListTraffic(ctx context.Context, cameraID *int64, limit, offset int) ([]*models.Traffic, int64, error)

	// Recording metadata methods
	CreateRecord(ctx context.Context, r *models.Record) error
	ListRecords(ctx context.Context, cameraID *int64, limit, offset int) ([]*models.Record, int64, error)

	// Close the store
	Close() error
}
