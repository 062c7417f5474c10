package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/motorlog/livelink/internal/db"
)

// SessionRepo persists telemetry sessions. Sessions are append-only; the
// only edit ever made is stamping ended_at on closure.
type SessionRepo interface {
	OpenByDevice(ctx context.Context) (map[string]db.Session, error)
	Open(ctx context.Context, s db.Session) error
	Close(ctx context.Context, id uuid.UUID, endedAt time.Time) error
	Recent(ctx context.Context, deviceID string, limit int) ([]db.Session, error)
}

// SessionStore is the Postgres-backed SessionRepo.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new session store
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// OpenByDevice returns the currently open session per device, if any.
func (s *SessionStore) OpenByDevice(ctx context.Context) (map[string]db.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, device_id, started_at, ended_at
		FROM sessions
		WHERE ended_at IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query open sessions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]db.Session)
	for rows.Next() {
		var sess db.Session
		if err := rows.Scan(&sess.ID, &sess.DeviceID, &sess.StartedAt, &sess.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out[sess.DeviceID] = sess
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// Open inserts a new open session.
func (s *SessionStore) Open(ctx context.Context, sess db.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, device_id, started_at, ended_at)
		VALUES ($1, $2, $3, NULL)
	`, sess.ID, sess.DeviceID, sess.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	return nil
}

// Close stamps ended_at on an open session.
func (s *SessionStore) Close(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL
	`, endedAt, id)
	if err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}
	return nil
}

// Recent lists the newest sessions for a device.
func (s *SessionStore) Recent(ctx context.Context, deviceID string, limit int) ([]db.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, device_id, started_at, ended_at
		FROM sessions
		WHERE device_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []db.Session
	for rows.Next() {
		var sess db.Session
		if err := rows.Scan(&sess.ID, &sess.DeviceID, &sess.StartedAt, &sess.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}
