package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/catalog"
	"github.com/motorlog/livelink/internal/db"
	"github.com/motorlog/livelink/internal/domain"
	"github.com/motorlog/livelink/internal/notify"
)

// CooldownStore suppresses repeat alerts: Acquire returns true at most once
// per (device, parameter, kind) within the TTL window.
type CooldownStore interface {
	AcquireCooldown(ctx context.Context, deviceID, parameterKey string, kind domain.AlertKind, ttl time.Duration) (bool, error)
}

// DeviceSource lists registered devices for the offline sweep.
type DeviceSource interface {
	List(ctx context.Context) ([]db.Device, error)
}

// StatusSource exposes derived connectivity state and stale-session closure.
type StatusSource interface {
	Snapshot(deviceID string, now time.Time) domain.ConnectivityState
	CloseStale(ctx context.Context, now time.Time)
}

// Engine evaluates threshold alerts per reading and offline alerts by
// periodic sweep. Absence of data is what triggers an offline alert, so it
// cannot be reading-driven.
type Engine struct {
	cooldowns CooldownStore
	devices   DeviceSource
	status    StatusSource
	notifier  notify.Notifier
	cooldown  time.Duration
	sweep     time.Duration
	logger    *zap.Logger

	// lastOnline remembers the device status seen by the previous sweep so
	// the offline alert fires on the online→offline edge, not on every
	// sweep while the device stays dark.
	mu         sync.Mutex
	lastOnline map[string]bool
}

// NewEngine creates a new alert engine
func NewEngine(
	cooldowns CooldownStore,
	devices DeviceSource,
	status StatusSource,
	notifier notify.Notifier,
	cooldown time.Duration,
	sweep time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		cooldowns:  cooldowns,
		devices:    devices,
		status:     status,
		notifier:   notifier,
		cooldown:   cooldown,
		sweep:      sweep,
		logger:     logger,
		lastOnline: make(map[string]bool),
	}
}

// EvaluateReading checks one normalized reading against the catalog warning
// bounds. Archive-only and unknown parameters never alert.
func (e *Engine) EvaluateReading(ctx context.Context, device db.Device, r domain.Reading) {
	if !device.Enabled || r.ArchiveOnly {
		return
	}

	param, ok := catalog.Lookup(r.ParameterKey)
	if !ok || param.ArchiveOnly {
		return
	}

	if param.WarnMin != nil && r.Value < *param.WarnMin {
		e.fire(ctx, device, r, domain.AlertThresholdLow, *param.WarnMin)
	}
	if param.WarnMax != nil && r.Value > *param.WarnMax {
		e.fire(ctx, device, r, domain.AlertThresholdHigh, *param.WarnMax)
	}
}

func (e *Engine) fire(ctx context.Context, device db.Device, r domain.Reading, kind domain.AlertKind, threshold float64) {
	acquired, err := e.cooldowns.AcquireCooldown(ctx, r.DeviceID, r.ParameterKey, kind, e.cooldown)
	if err != nil {
		// Better to miss one alert than to spam on a flapping cooldown store.
		e.logger.Error("cooldown check failed, suppressing alert",
			zap.String("device_id", r.DeviceID),
			zap.String("parameter", r.ParameterKey),
			zap.Error(err))
		return
	}
	if !acquired {
		return
	}

	e.notifier.Publish(ctx, domain.AlertEvent{
		Kind:         kind,
		DeviceID:     r.DeviceID,
		VehicleVIN:   vinOf(device),
		ParameterKey: r.ParameterKey,
		Value:        r.Value,
		Threshold:    threshold,
		OccurredAt:   r.ReceivedAt,
	})
}

// DeviceCreated emits the one-time new-device event.
func (e *Engine) DeviceCreated(ctx context.Context, device db.Device) {
	e.logger.Info("new device registered", zap.String("device_id", device.ID))
	e.notifier.Publish(ctx, domain.AlertEvent{
		Kind:       domain.AlertDeviceNew,
		DeviceID:   device.ID,
		OccurredAt: time.Now(),
	})

	e.mu.Lock()
	e.lastOnline[device.ID] = true
	e.mu.Unlock()
}

// RunSweep runs SweepOnce on the configured interval until ctx is cancelled.
func (e *Engine) RunSweep(ctx context.Context) {
	ticker := time.NewTicker(e.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.SweepOnce(ctx, time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce checks every enabled device for an online→offline transition
// and closes stale telemetry sessions.
func (e *Engine) SweepOnce(ctx context.Context, now time.Time) {
	e.status.CloseStale(ctx, now)

	devices, err := e.devices.List(ctx)
	if err != nil {
		e.logger.Error("offline sweep failed to list devices", zap.Error(err))
		return
	}

	for _, device := range devices {
		if !device.Enabled {
			continue
		}
		online := e.status.Snapshot(device.ID, now).DeviceStatus == domain.StatusOnline

		e.mu.Lock()
		prev, seen := e.lastOnline[device.ID]
		e.lastOnline[device.ID] = online
		e.mu.Unlock()

		// First observation just records; a device already dark at boot
		// does not re-alert.
		if !seen {
			continue
		}
		if prev && !online {
			e.notifier.Publish(ctx, domain.AlertEvent{
				Kind:       domain.AlertDeviceOffline,
				DeviceID:   device.ID,
				VehicleVIN: vinOf(device),
				OccurredAt: now,
			})
		}
	}
}

func vinOf(device db.Device) string {
	if device.VehicleVIN == nil {
		return ""
	}
	return *device.VehicleVIN
}
