package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alpr-fleet/fleet-server/internal/models"
)

// ========== Record Methods ==========

// CreateRecord stores metadata of a finished recording
func (s *PostgresStore) CreateRecord(ctx context.Context, r *models.Record) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO records (id, created_at, title, camera_id, timestamp, video_url)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.getDB().ExecContext(ctx, query,
		r.ID, r.CreatedAt, r.Title, r.CameraID, r.Timestamp, r.VideoURL,
	)
	return err
}

// ListRecords lists recordings, newest first, optionally scoped to a camera.
func (s *PostgresStore) ListRecords(ctx context.Context, cameraID *int64, limit, offset int) ([]*models.Record, int64, error) {
	where := ""
	args := []interface{}{}
	if cameraID != nil {
		where = `WHERE camera_id = $1`
		args = append(args, *cameraID)
	}

	var total int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM records `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
        SELECT id, created_at, title, camera_id, timestamp, video_url
        FROM records %s
        ORDER BY timestamp DESC
        LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)

	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		r := &models.Record{}
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Title, &r.CameraID, &r.Timestamp, &r.VideoURL); err != nil {
			return nil, 0, err
		}
		records = append(records, r)
	}

	return records, total, rows.Err()
}
