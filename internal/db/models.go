package db

import (
	"time"

	"github.com/google/uuid"
)

// Device represents an OBD2 bridge in the database. The id is the opaque
// hardware identifier reported by the bridge itself.
type Device struct {
	ID              string
	Label           *string
	VehicleVIN      *string
	FirmwareVersion *string
	SignalStrength  *float64
	Enabled         bool
	CreatedAt       time.Time
	LastSeenAt      time.Time
}

// DeviceToken represents a stored ingestion token. Only the SHA-256 digest
// of the secret is persisted; a NULL device id marks the global token.
type DeviceToken struct {
	ID        int64
	DeviceID  *string
	TokenHash []byte
	CreatedAt time.Time
}

// TelemetryPoint represents one stored sample. (device_id, parameter_key,
// ts) is the primary key; re-ingestion overwrites in place.
type TelemetryPoint struct {
	DeviceID     string
	ParameterKey string
	Timestamp    time.Time
	Value        float64
	Unit         string
	Source       string
	ReceivedAt   time.Time
}

// Session represents one contiguous interval of ECU-sourced reporting.
// EndedAt is nil while the session is open.
type Session struct {
	ID        uuid.UUID
	DeviceID  string
	StartedAt time.Time
	EndedAt   *time.Time
}

// DailyAggregate represents one day's rollup for a device/parameter pair.
// Aggregates survive raw-point deletion under the retention policy.
type DailyAggregate struct {
	DeviceID     string
	ParameterKey string
	Day          time.Time
	MinValue     float64
	MaxValue     float64
	AvgValue     float64
	SampleCount  int64
}
