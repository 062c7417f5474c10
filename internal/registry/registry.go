package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/motorlog/livelink/internal/db"
)

var (
	ErrDeviceNotFound  = errors.New("device not found")
	ErrVehicleNotFound = errors.New("no device linked to vehicle")
)

// Registry handles device identity and token storage.
type Registry struct {
	pool *pgxpool.Pool
}

// NewRegistry creates a new registry
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

const deviceColumns = `id, label, vehicle_vin, firmware_version, signal_strength, enabled, created_at, last_seen_at`

func scanDevice(row pgx.Row) (db.Device, error) {
	var d db.Device
	err := row.Scan(
		&d.ID,
		&d.Label,
		&d.VehicleVIN,
		&d.FirmwareVersion,
		&d.SignalStrength,
		&d.Enabled,
		&d.CreatedAt,
		&d.LastSeenAt,
	)
	return d, err
}

// RegisterOrTouch finds or creates the device and stamps last_seen_at.
// The insert is guarded by the primary key, so concurrent first packets from
// HTTP and MQTT for a brand-new device converge on one row; exactly one
// caller observes created=true.
func (r *Registry) RegisterOrTouch(ctx context.Context, deviceID string) (db.Device, bool, error) {
	now := time.Now()

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO devices (id, enabled, created_at, last_seen_at)
		VALUES ($1, TRUE, $2, $2)
		ON CONFLICT (id) DO NOTHING
	`, deviceID, now)
	if err != nil {
		return db.Device{}, false, fmt.Errorf("failed to upsert device: %w", err)
	}
	created := tag.RowsAffected() == 1

	if !created {
		_, err = r.pool.Exec(ctx, `UPDATE devices SET last_seen_at = $1 WHERE id = $2`, now, deviceID)
		if err != nil {
			return db.Device{}, false, fmt.Errorf("failed to update device last_seen_at: %w", err)
		}
	}

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	device, err := scanDevice(r.pool.QueryRow(ctx, query, deviceID))
	if err != nil {
		return db.Device{}, false, fmt.Errorf("failed to load device: %w", err)
	}

	return device, created, nil
}

// Get returns one device by id.
func (r *Registry) Get(ctx context.Context, deviceID string) (db.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	device, err := scanDevice(r.pool.QueryRow(ctx, query, deviceID))
	if err == pgx.ErrNoRows {
		return db.Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return db.Device{}, fmt.Errorf("failed to query device: %w", err)
	}
	return device, nil
}

// GetByVehicle resolves a vehicle identifier to its linked device.
func (r *Registry) GetByVehicle(ctx context.Context, vin string) (db.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE vehicle_vin = $1`
	device, err := scanDevice(r.pool.QueryRow(ctx, query, vin))
	if err == pgx.ErrNoRows {
		return db.Device{}, ErrVehicleNotFound
	}
	if err != nil {
		return db.Device{}, fmt.Errorf("failed to query device by vehicle: %w", err)
	}
	return device, nil
}

// List returns all devices ordered by first sight.
func (r *Registry) List(ctx context.Context) ([]db.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []db.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return devices, nil
}

// DeviceUpdate carries the operator-editable fields; nil means unchanged.
type DeviceUpdate struct {
	Label      *string
	VehicleVIN *string
	Enabled    *bool
}

// Update applies operator edits to a device.
func (r *Registry) Update(ctx context.Context, deviceID string, upd DeviceUpdate) (db.Device, error) {
	query := `
		UPDATE devices SET
			label       = COALESCE($2, label),
			vehicle_vin = COALESCE($3, vehicle_vin),
			enabled     = COALESCE($4, enabled)
		WHERE id = $1
		RETURNING ` + deviceColumns
	device, err := scanDevice(r.pool.QueryRow(ctx, query, deviceID, upd.Label, upd.VehicleVIN, upd.Enabled))
	if err == pgx.ErrNoRows {
		return db.Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return db.Device{}, fmt.Errorf("failed to update device: %w", err)
	}
	return device, nil
}

// Delete removes the device row and its tokens. Telemetry history is
// intentionally left behind, orphaned under the old device id.
func (r *Registry) Delete(ctx context.Context, deviceID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// TouchSignal records the last-seen network signal strength.
func (r *Registry) TouchSignal(ctx context.Context, deviceID string, rssi float64) error {
	_, err := r.pool.Exec(ctx, `UPDATE devices SET signal_strength = $1 WHERE id = $2`, rssi, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update signal strength: %w", err)
	}
	return nil
}

// TouchFirmware records the firmware version the device reports.
func (r *Registry) TouchFirmware(ctx context.Context, deviceID string, version string) error {
	_, err := r.pool.Exec(ctx, `UPDATE devices SET firmware_version = $1 WHERE id = $2`, version, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update firmware version: %w", err)
	}
	return nil
}
