package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alpr-fleet/fleet-server/internal/models"
)

// ========== Traffic Methods ==========

// CreateTraffic inserts one plate detection. Batch flushes call this inside
// a transaction obtained from BeginTx.
func (s *PostgresStore) CreateTraffic(ctx context.Context, t *models.Traffic) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO traffic (id, created_at, plate_number, prefix_2, alpha, mid_3, suffix_2,
                             ocr_accuracy, vision_speed, plate_image_path, full_image_path,
                             timestamp, camera_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.getDB().ExecContext(ctx, query,
		t.ID, t.CreatedAt, t.PlateNumber, t.Prefix2, t.Alpha, t.Mid3, t.Suffix2,
		t.OCRAccuracy, t.VisionSpeed, t.PlateImagePath, t.FullImagePath,
		t.Timestamp, t.CameraID,
	)
	return err
}

// ListTraffic lists detections, newest first, optionally scoped to a camera.
func (s *PostgresStore) ListTraffic(ctx context.Context, cameraID *int64, limit, offset int) ([]*models.Traffic, int64, error) {
	where := ""
	args := []interface{}{}
	if cameraID != nil {
		where = `WHERE camera_id = $1`
		args = append(args, *cameraID)
	}

	var total int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM traffic `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
        SELECT id, created_at, plate_number, prefix_2, alpha, mid_3, suffix_2,
               ocr_accuracy, vision_speed, plate_image_path, full_image_path,
               timestamp, camera_id
        FROM traffic %s
        ORDER BY created_at DESC
        LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)

	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*models.Traffic
	for rows.Next() {
		t := &models.Traffic{}
		if err := rows.Scan(
			&t.ID, &t.CreatedAt, &t.PlateNumber, &t.Prefix2, &t.Alpha, &t.Mid3, &t.Suffix2,
			&t.OCRAccuracy, &t.VisionSpeed, &t.PlateImagePath, &t.FullImagePath,
			&t.Timestamp, &t.CameraID,
		); err != nil {
			return nil, 0, err
		}
		records = append(records, t)
	}

	return records, total, rows.Err()
}
