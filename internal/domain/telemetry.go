package domain

import "time"

// SourceKind distinguishes engine-sourced parameters from device
// housekeeping telemetry (RSSI, uptime and friends).
type SourceKind string

const (
	SourceECU          SourceKind = "ecu"
	SourceHousekeeping SourceKind = "housekeeping"
)

// Reading is the normalized shape every transport converges on. Both the
// HTTP batch path and the MQTT subscription produce Readings through the
// same normalization code, so downstream side effects are identical
// regardless of how a sample arrived.
type Reading struct {
	DeviceID     string
	ParameterKey string
	Value        float64
	Unit         string

	// Timestamp is the device-reported sample time, used as the storage key.
	Timestamp time.Time

	// ReceivedAt is wall-clock arrival time. Connectivity state and session
	// bookkeeping use this, never Timestamp, so a device with a drifting
	// clock cannot appear falsely online.
	ReceivedAt time.Time

	SourceKind SourceKind

	// ArchiveOnly marks readings for parameter keys absent from the static
	// catalog. They are stored but never surfaced to charts or alerts.
	ArchiveOnly bool
}

// Status is a derived online/offline indicator.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ConnectivityState is computed lazily from last-seen arrival times; it is
// never persisted as its own record.
type ConnectivityState struct {
	DeviceStatus Status
	ECUStatus    Status
}

type AlertKind string

const (
	AlertDeviceNew     AlertKind = "device_new"
	AlertDeviceOffline AlertKind = "device_offline"
	AlertThresholdLow  AlertKind = "threshold_low"
	AlertThresholdHigh AlertKind = "threshold_high"
)

// AlertEvent is the payload handed to the notification collaborator. The
// collaborator owns delivery and retry; the alert engine fires and forgets.
type AlertEvent struct {
	Kind         AlertKind `json:"kind"`
	DeviceID     string    `json:"device_id"`
	VehicleVIN   string    `json:"vehicle_vin,omitempty"`
	ParameterKey string    `json:"parameter_key,omitempty"`
	Value        float64   `json:"value,omitempty"`
	Threshold    float64   `json:"threshold,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
