package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/alpr-fleet/fleet-server/internal/models"
)

// ========== LPR Methods ==========

// CreateLPR creates a new LPR device
func (s *PostgresStore) CreateLPR(ctx context.Context, lpr *models.LPR) error {
	now := time.Now()
	lpr.CreatedAt = now
	lpr.UpdatedAt = now

	query := `
        INSERT INTO lprs (created_at, updated_at, name, ip, port, auth_token, is_active, latitude, longitude)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id`

	err := s.getDB().QueryRowContext(ctx, query,
		lpr.CreatedAt, lpr.UpdatedAt, lpr.Name, lpr.IP, lpr.Port,
		lpr.AuthToken, lpr.IsActive, lpr.Latitude, lpr.Longitude,
	).Scan(&lpr.ID)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetLPR gets an LPR device by id, including its settings and cameras with
// their settings (the shape the post-auth settings push needs).
func (s *PostgresStore) GetLPR(ctx context.Context, id int64) (*models.LPR, error) {
	query := `
        SELECT id, created_at, updated_at, name, ip, port, auth_token, is_active, latitude, longitude
        FROM lprs
        WHERE id = $1`

	lpr := &models.LPR{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&lpr.ID, &lpr.CreatedAt, &lpr.UpdatedAt, &lpr.Name, &lpr.IP, &lpr.Port,
		&lpr.AuthToken, &lpr.IsActive, &lpr.Latitude, &lpr.Longitude,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if lpr.Settings, err = s.listSettings(ctx, "lpr_settings", "lpr_id", id); err != nil {
		return nil, err
	}

	if lpr.Cameras, err = s.ListCameras(ctx, id); err != nil {
		return nil, err
	}

	return lpr, nil
}

// UpdateLPR updates an LPR device
func (s *PostgresStore) UpdateLPR(ctx context.Context, lpr *models.LPR) error {
	lpr.UpdatedAt = time.Now()

	query := `
        UPDATE lprs
        SET updated_at = $2, name = $3, ip = $4, port = $5, auth_token = $6,
            is_active = $7, latitude = $8, longitude = $9
        WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		lpr.ID, lpr.UpdatedAt, lpr.Name, lpr.IP, lpr.Port,
		lpr.AuthToken, lpr.IsActive, lpr.Latitude, lpr.Longitude,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteLPR deletes an LPR device
func (s *PostgresStore) DeleteLPR(ctx context.Context, id int64) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM lprs WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListLPRs lists LPR devices with pagination
func (s *PostgresStore) ListLPRs(ctx context.Context, limit, offset int) ([]*models.LPR, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM lprs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
        SELECT id, created_at, updated_at, name, ip, port, auth_token, is_active, latitude, longitude
        FROM lprs
        ORDER BY id
        LIMIT $1 OFFSET $2`

	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var lprs []*models.LPR
	for rows.Next() {
		lpr := &models.LPR{}
		if err := rows.Scan(
			&lpr.ID, &lpr.CreatedAt, &lpr.UpdatedAt, &lpr.Name, &lpr.IP, &lpr.Port,
			&lpr.AuthToken, &lpr.IsActive, &lpr.Latitude, &lpr.Longitude,
		); err != nil {
			return nil, 0, err
		}
		lprs = append(lprs, lpr)
	}

	return lprs, total, rows.Err()
}

// ListActiveLPRs lists devices that should have a live connection. Called at
// startup to populate the connection registry.
func (s *PostgresStore) ListActiveLPRs(ctx context.Context) ([]*models.LPR, error) {
	query := `
        SELECT id, created_at, updated_at, name, ip, port, auth_token, is_active, latitude, longitude
        FROM lprs
        WHERE is_active = true
        ORDER BY id`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lprs []*models.LPR
	for rows.Next() {
		lpr := &models.LPR{}
		if err := rows.Scan(
			&lpr.ID, &lpr.CreatedAt, &lpr.UpdatedAt, &lpr.Name, &lpr.IP, &lpr.Port,
			&lpr.AuthToken, &lpr.IsActive, &lpr.Latitude, &lpr.Longitude,
		); err != nil {
			return nil, err
		}
		lprs = append(lprs, lpr)
	}

	return lprs, rows.Err()
}

// listSettings loads settings rows from either lpr_settings or
// camera_settings.
func (s *PostgresStore) listSettings(ctx context.Context, table, fk string, owner int64) ([]models.Setting, error) {
	query := `
        SELECT id, created_at, updated_at, name, value, setting_type
        FROM ` + table + `
        WHERE ` + fk + ` = $1
        ORDER BY name`

	rows, err := s.getDB().QueryContext(ctx, query, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settings []models.Setting
	for rows.Next() {
		var st models.Setting
		if err := rows.Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt, &st.Name, &st.Value, &st.SettingType); err != nil {
			return nil, err
		}
		settings = append(settings, st)
	}

	return settings, rows.Err()
}
