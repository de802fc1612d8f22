package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alpr-fleet/fleet-server/internal/models"
)

// ========== User Methods ==========

// CreateUser creates a new user
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
        INSERT INTO users (id, created_at, updated_at, personal_number, first_name, last_name,
                           user_type, password_hash, is_active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.CreatedAt, user.UpdatedAt, user.PersonalNumber,
		user.FirstName, user.LastName, user.UserType, user.PasswordHash, user.IsActive,
	)

	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return err
	}

	return nil
}

// GetUser gets a user by id
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByPersonalNumber gets a user by personal number, the token subject.
func (s *PostgresStore) GetUserByPersonalNumber(ctx context.Context, personalNumber string) (*models.User, error) {
	return s.getUser(ctx, `WHERE personal_number = $1`, personalNumber)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := `
        SELECT id, created_at, updated_at, personal_number, first_name, last_name,
               user_type, password_hash, is_active, last_login_at
        FROM users ` + where

	user := &models.User{}
	err := s.getDB().QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.PersonalNumber,
		&user.FirstName, &user.LastName, &user.UserType, &user.PasswordHash,
		&user.IsActive, &user.LastLoginAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if user.GateIDs, err = s.listUserGates(ctx, user.ID); err != nil {
		return nil, err
	}

	return user, nil
}

// listUserGates loads the permitted-gate set for a user.
func (s *PostgresStore) listUserGates(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	rows, err := s.getDB().QueryContext(ctx,
		`SELECT gate_id FROM user_gates WHERE user_id = $1 ORDER BY gate_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gates []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		gates = append(gates, id)
	}

	return gates, rows.Err()
}

// UpdateUserLastLogin stamps a successful login
func (s *PostgresStore) UpdateUserLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := s.getDB().ExecContext(ctx,
		`UPDATE users SET last_login_at = $2 WHERE id = $1`, id, time.Now())
	return err
}
