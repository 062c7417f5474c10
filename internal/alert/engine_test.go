package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/db"
	"github.com/motorlog/livelink/internal/domain"
)

type fakeCooldowns struct {
	deny bool
	fail bool
	seen []string
}

func (f *fakeCooldowns) AcquireCooldown(ctx context.Context, deviceID, parameterKey string, kind domain.AlertKind, ttl time.Duration) (bool, error) {
	if f.fail {
		return false, errors.New("redis down")
	}
	f.seen = append(f.seen, deviceID+"/"+parameterKey+"/"+string(kind))
	return !f.deny, nil
}

type fakeDevices struct {
	devices []db.Device
}

func (f *fakeDevices) List(ctx context.Context) ([]db.Device, error) {
	return f.devices, nil
}

type fakeStatus struct {
	online      map[string]bool
	staleCloses int
}

func (f *fakeStatus) Snapshot(deviceID string, now time.Time) domain.ConnectivityState {
	status := domain.StatusOffline
	if f.online[deviceID] {
		status = domain.StatusOnline
	}
	return domain.ConnectivityState{DeviceStatus: status, ECUStatus: status}
}

func (f *fakeStatus) CloseStale(ctx context.Context, now time.Time) {
	f.staleCloses++
}

type fakeNotifier struct {
	events []domain.AlertEvent
}

func (f *fakeNotifier) Publish(ctx context.Context, event domain.AlertEvent) {
	f.events = append(f.events, event)
}

type engineFixture struct {
	cooldowns *fakeCooldowns
	devices   *fakeDevices
	status    *fakeStatus
	notifier  *fakeNotifier
	engine    *Engine
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		cooldowns: &fakeCooldowns{},
		devices:   &fakeDevices{},
		status:    &fakeStatus{online: make(map[string]bool)},
		notifier:  &fakeNotifier{},
	}
	f.engine = NewEngine(f.cooldowns, f.devices, f.status, f.notifier, 30*time.Minute, time.Minute, zap.NewNop())
	return f
}

func enabledDevice(id string) db.Device {
	return db.Device{ID: id, Enabled: true}
}

func reading(key string, value float64) domain.Reading {
	return domain.Reading{
		DeviceID:     "dev-1",
		ParameterKey: key,
		Value:        value,
		ReceivedAt:   time.Now(),
		SourceKind:   domain.SourceECU,
	}
}

func TestEvaluateReadingThresholdHigh(t *testing.T) {
	f := newEngineFixture()

	f.engine.EvaluateReading(context.Background(), enabledDevice("dev-1"), reading("coolant_temp", 118))

	if len(f.notifier.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.notifier.events))
	}
	event := f.notifier.events[0]
	if event.Kind != domain.AlertThresholdHigh {
		t.Errorf("kind = %q, want threshold_high", event.Kind)
	}
	if event.Threshold != 110 {
		t.Errorf("threshold = %v, want 110", event.Threshold)
	}
	if event.Value != 118 {
		t.Errorf("value = %v, want 118", event.Value)
	}
}

func TestEvaluateReadingThresholdLow(t *testing.T) {
	f := newEngineFixture()

	f.engine.EvaluateReading(context.Background(), enabledDevice("dev-1"), reading("fuel_level", 5))

	if len(f.notifier.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.notifier.events))
	}
	if f.notifier.events[0].Kind != domain.AlertThresholdLow {
		t.Errorf("kind = %q, want threshold_low", f.notifier.events[0].Kind)
	}
}

func TestEvaluateReadingHealthyValue(t *testing.T) {
	f := newEngineFixture()

	f.engine.EvaluateReading(context.Background(), enabledDevice("dev-1"), reading("coolant_temp", 90))

	if len(f.notifier.events) != 0 {
		t.Errorf("healthy value published %d events", len(f.notifier.events))
	}
}

func TestEvaluateReadingCooldownSuppresses(t *testing.T) {
	f := newEngineFixture()
	f.cooldowns.deny = true

	f.engine.EvaluateReading(context.Background(), enabledDevice("dev-1"), reading("coolant_temp", 118))

	if len(f.notifier.events) != 0 {
		t.Errorf("cooldown hit still published %d events", len(f.notifier.events))
	}
}

func TestEvaluateReadingCooldownFailureSuppresses(t *testing.T) {
	f := newEngineFixture()
	f.cooldowns.fail = true

	f.engine.EvaluateReading(context.Background(), enabledDevice("dev-1"), reading("coolant_temp", 118))

	if len(f.notifier.events) != 0 {
		t.Errorf("flapping cooldown store still published %d events", len(f.notifier.events))
	}
}

func TestEvaluateReadingSkips(t *testing.T) {
	f := newEngineFixture()

	disabled := db.Device{ID: "dev-1", Enabled: false}
	f.engine.EvaluateReading(context.Background(), disabled, reading("coolant_temp", 118))

	archived := reading("odometer", 999999)
	archived.ArchiveOnly = true
	f.engine.EvaluateReading(context.Background(), enabledDevice("dev-1"), archived)

	unknown := reading("oil_pressure", 0.1)
	unknown.ArchiveOnly = true
	f.engine.EvaluateReading(context.Background(), enabledDevice("dev-1"), unknown)

	if len(f.notifier.events) != 0 {
		t.Errorf("published %d events, want none", len(f.notifier.events))
	}
}

func TestDeviceCreatedEvent(t *testing.T) {
	f := newEngineFixture()

	f.engine.DeviceCreated(context.Background(), enabledDevice("dev-1"))

	if len(f.notifier.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.notifier.events))
	}
	if f.notifier.events[0].Kind != domain.AlertDeviceNew {
		t.Errorf("kind = %q, want device_new", f.notifier.events[0].Kind)
	}
}

func TestSweepFiresOnOfflineEdge(t *testing.T) {
	f := newEngineFixture()
	f.devices.devices = []db.Device{enabledDevice("dev-1")}
	now := time.Now()

	// First sweep only records the baseline.
	f.status.online["dev-1"] = true
	f.engine.SweepOnce(context.Background(), now)
	if len(f.notifier.events) != 0 {
		t.Fatalf("baseline sweep published %d events", len(f.notifier.events))
	}

	// Transition fires exactly once.
	f.status.online["dev-1"] = false
	f.engine.SweepOnce(context.Background(), now.Add(time.Minute))
	f.engine.SweepOnce(context.Background(), now.Add(2*time.Minute))

	if len(f.notifier.events) != 1 {
		t.Fatalf("published %d events, want 1", len(f.notifier.events))
	}
	if f.notifier.events[0].Kind != domain.AlertDeviceOffline {
		t.Errorf("kind = %q, want device_offline", f.notifier.events[0].Kind)
	}

	// Recovery then another drop fires again.
	f.status.online["dev-1"] = true
	f.engine.SweepOnce(context.Background(), now.Add(3*time.Minute))
	f.status.online["dev-1"] = false
	f.engine.SweepOnce(context.Background(), now.Add(4*time.Minute))

	if len(f.notifier.events) != 2 {
		t.Errorf("published %d events after second drop, want 2", len(f.notifier.events))
	}
}

func TestSweepIgnoresDark(t *testing.T) {
	f := newEngineFixture()
	f.devices.devices = []db.Device{enabledDevice("dev-1")}
	now := time.Now()

	// Device already dark at boot never alerts.
	f.engine.SweepOnce(context.Background(), now)
	f.engine.SweepOnce(context.Background(), now.Add(time.Minute))

	if len(f.notifier.events) != 0 {
		t.Errorf("dark-at-boot device published %d events", len(f.notifier.events))
	}
}

func TestSweepSkipsDisabled(t *testing.T) {
	f := newEngineFixture()
	f.devices.devices = []db.Device{{ID: "dev-1", Enabled: false}}
	now := time.Now()

	f.status.online["dev-1"] = true
	f.engine.SweepOnce(context.Background(), now)
	f.status.online["dev-1"] = false
	f.engine.SweepOnce(context.Background(), now.Add(time.Minute))

	if len(f.notifier.events) != 0 {
		t.Errorf("disabled device published %d events", len(f.notifier.events))
	}
}

func TestSweepClosesStaleSessions(t *testing.T) {
	f := newEngineFixture()
	f.engine.SweepOnce(context.Background(), time.Now())
	if f.status.staleCloses != 1 {
		t.Errorf("stale closes = %d, want 1", f.status.staleCloses)
	}
}
