package registry

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrUnauthorized is returned for any bad or missing ingestion token. The
// message is deliberately uniform so callers cannot distinguish which check
// failed.
var ErrUnauthorized = errors.New("invalid ingestion token")

const secretBytes = 32

// newSecret generates an opaque token secret. The plaintext is returned to
// the operator exactly once; only its digest is stored.
func newSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSecret(secret string) []byte {
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

func secretsMatch(presented string, storedHash []byte) bool {
	return subtle.ConstantTimeCompare(hashSecret(presented), storedHash) == 1
}

// replaceToken atomically invalidates any existing token in the scope and
// writes the new digest; there is no window with two valid tokens.
func (r *Registry) replaceToken(ctx context.Context, deviceID *string) (string, error) {
	secret, err := newSecret()
	if err != nil {
		return "", err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if deviceID == nil {
		_, err = tx.Exec(ctx, `DELETE FROM device_tokens WHERE device_id IS NULL`)
	} else {
		_, err = tx.Exec(ctx, `DELETE FROM device_tokens WHERE device_id = $1`, *deviceID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to invalidate previous token: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO device_tokens (device_id, token_hash, created_at)
		VALUES ($1, $2, $3)
	`, deviceID, hashSecret(secret), time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit token replacement: %w", err)
	}
	return secret, nil
}

// IssueGlobalToken regenerates the process-wide token. Every device still
// relying on the previous global token loses access immediately.
func (r *Registry) IssueGlobalToken(ctx context.Context) (string, error) {
	return r.replaceToken(ctx, nil)
}

// IssueDeviceToken regenerates the per-device token. A device holding a
// device token ignores the global token.
func (r *Registry) IssueDeviceToken(ctx context.Context, deviceID string) (string, error) {
	if _, err := r.Get(ctx, deviceID); err != nil {
		return "", err
	}
	return r.replaceToken(ctx, &deviceID)
}

// RevokeDeviceToken deletes the device token; the device falls back to the
// global token, or to nothing if none exists.
func (r *Registry) RevokeDeviceToken(ctx context.Context, deviceID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM device_tokens WHERE device_id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to revoke device token: %w", err)
	}
	return nil
}

// Authenticate validates a presented bearer token. When the request declares
// a device id the device-scoped token is checked first and, if one exists,
// it is the only acceptable credential for that device. Requests without a
// device token fall back to the global token.
func (r *Registry) Authenticate(ctx context.Context, presented string, deviceID string) error {
	if presented == "" {
		return ErrUnauthorized
	}

	if deviceID != "" {
		var hash []byte
		err := r.pool.QueryRow(ctx,
			`SELECT token_hash FROM device_tokens WHERE device_id = $1`, deviceID,
		).Scan(&hash)
		switch {
		case err == nil:
			if secretsMatch(presented, hash) {
				return nil
			}
			return ErrUnauthorized
		case err == pgx.ErrNoRows:
			// no device token, fall through to the global token
		default:
			return fmt.Errorf("failed to query device token: %w", err)
		}
	}

	var hash []byte
	err := r.pool.QueryRow(ctx,
		`SELECT token_hash FROM device_tokens WHERE device_id IS NULL`,
	).Scan(&hash)
	if err == pgx.ErrNoRows {
		return ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("failed to query global token: %w", err)
	}
	if secretsMatch(presented, hash) {
		return nil
	}
	return ErrUnauthorized
}
