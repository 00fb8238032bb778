package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

// SessionsRepository stores login sessions in Postgres.
type SessionsRepository struct {
	db *sql.DB
}

// NewSessionsRepository creates a new sessions repository.
func NewSessionsRepository(db *sql.DB) *SessionsRepository {
	return &SessionsRepository{db: db}
}

// Create stores data under a new session id.
func (r *SessionsRepository) Create(ctx context.Context, data *domain.SessionData, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}

	query := `
		INSERT INTO login_sessions (id, data, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
	`
	now := time.Now()
	if _, err := r.db.ExecContext(ctx, query, id, payload, now, now.Add(ttl)); err != nil {
		return "", err
	}
	return id, nil
}

// Read retrieves an unexpired session.
func (r *SessionsRepository) Read(ctx context.Context, id string) (*domain.SessionData, error) {
	query := `
		SELECT data
		FROM login_sessions
		WHERE id = $1 AND expires_at > NOW()
	`
	var payload []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	data := &domain.SessionData{}
	if err := json.Unmarshal(payload, data); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return data, nil
}

// Write replaces the session data and extends its expiry.
func (r *SessionsRepository) Write(ctx context.Context, id string, data *domain.SessionData, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	query := `
		UPDATE login_sessions
		SET data = $2, expires_at = $3
		WHERE id = $1 AND expires_at > NOW()
	`
	result, err := r.db.ExecContext(ctx, query, id, payload, time.Now().Add(ttl))
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// Destroy deletes a session.
func (r *SessionsRepository) Destroy(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// DeleteExpired deletes sessions that expired more than olderThan ago.
func (r *SessionsRepository) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := r.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
