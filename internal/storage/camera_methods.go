package storage

import (
	"context"
	"database/sql"

	"github.com/alpr-fleet/fleet-server/internal/models"
)

// ========== Camera Methods ==========

// GetCamera gets a camera by id. Used to resolve both the owning device and
// the gate guarding it.
func (s *PostgresStore) GetCamera(ctx context.Context, id int64) (*models.Camera, error) {
	query := `
        SELECT id, created_at, updated_at, name, gate_id, lpr_id, is_active
        FROM cameras
        WHERE id = $1`

	cam := &models.Camera{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&cam.ID, &cam.CreatedAt, &cam.UpdatedAt, &cam.Name, &cam.GateID, &cam.LPRID, &cam.IsActive,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if cam.Settings, err = s.listSettings(ctx, "camera_settings", "camera_id", id); err != nil {
		return nil, err
	}

	return cam, nil
}

// ListCameras lists cameras belonging to one LPR device, settings included.
func (s *PostgresStore) ListCameras(ctx context.Context, lprID int64) ([]*models.Camera, error) {
	query := `
        SELECT id, created_at, updated_at, name, gate_id, lpr_id, is_active
        FROM cameras
        WHERE lpr_id = $1
        ORDER BY id`

	rows, err := s.getDB().QueryContext(ctx, query, lprID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cameras []*models.Camera
	for rows.Next() {
		cam := &models.Camera{}
		if err := rows.Scan(
			&cam.ID, &cam.CreatedAt, &cam.UpdatedAt, &cam.Name, &cam.GateID, &cam.LPRID, &cam.IsActive,
		); err != nil {
			return nil, err
		}
		cameras = append(cameras, cam)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, cam := range cameras {
		if cam.Settings, err = s.listSettings(ctx, "camera_settings", "camera_id", cam.ID); err != nil {
			return nil, err
		}
	}

	return cameras, nil
}
