package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/cache"
	"github.com/motorlog/livelink/internal/catalog"
	"github.com/motorlog/livelink/internal/db"
)

type fakeResolver struct {
	device db.Device
	err    error
}

func (f *fakeResolver) GetByVehicle(ctx context.Context, vin string) (db.Device, error) {
	return f.device, f.err
}

type fakePoints struct {
	points     []db.TelemetryPoint
	latest     []db.TelemetryPoint
	latestErr  error
	latestHits int
}

func (f *fakePoints) Range(ctx context.Context, deviceID string, keys []string, start, end time.Time) ([]db.TelemetryPoint, error) {
	return f.points, nil
}

func (f *fakePoints) LatestPerParameter(ctx context.Context, deviceID string) ([]db.TelemetryPoint, error) {
	f.latestHits++
	return f.latest, f.latestErr
}

type fakeLive struct {
	entries map[string]cache.LatestEntry
	err     error
}

func (f *fakeLive) GetLatest(ctx context.Context, deviceID string) (map[string]cache.LatestEntry, error) {
	return f.entries, f.err
}

type queryFixture struct {
	resolver *fakeResolver
	points   *fakePoints
	live     *fakeLive
	engine   *Engine
}

func newQueryFixture() *queryFixture {
	f := &queryFixture{
		resolver: &fakeResolver{device: db.Device{ID: "dev-1", Enabled: true}},
		points:   &fakePoints{},
		live:     &fakeLive{},
	}
	f.engine = NewEngine(f.resolver, f.points, f.live, 24*time.Hour, zap.NewNop())
	return f
}

func latestPoint(key string, value float64, at time.Time) db.TelemetryPoint {
	return db.TelemetryPoint{DeviceID: "dev-1", ParameterKey: key, Value: value, Timestamp: at}
}

func valueByKey(values []LatestValue) map[string]LatestValue {
	out := make(map[string]LatestValue, len(values))
	for _, v := range values {
		out[v.ParameterKey] = v
	}
	return out
}

func TestRangeValidation(t *testing.T) {
	f := newQueryFixture()
	ctx := context.Background()

	if _, err := f.engine.Range(ctx, "VIN1", nil, rangeStart, rangeStart, 0); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("empty range: got %v, want ErrInvalidRange", err)
	}
	if _, err := f.engine.Range(ctx, "VIN1", nil, rangeStart, rangeStart.Add(time.Hour), -1); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("negative interval: got %v, want ErrInvalidRange", err)
	}
	if _, err := f.engine.Range(ctx, "VIN1", nil, rangeStart, rangeStart.Add(48*time.Hour), 0); !errors.Is(err, ErrIntervalRequired) {
		t.Errorf("long raw range: got %v, want ErrIntervalRequired", err)
	}
	if _, err := f.engine.Range(ctx, "VIN1", []string{"odometer"}, rangeStart, rangeStart.Add(time.Hour), 0); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("archive-only key: got %v, want ErrUnknownParameter", err)
	}

	// The same span is fine once bucketed.
	if _, err := f.engine.Range(ctx, "VIN1", nil, rangeStart, rangeStart.Add(48*time.Hour), 300); err != nil {
		t.Errorf("bucketed long range: unexpected error %v", err)
	}
}

func TestLatestMergesStoreIntoPartialCache(t *testing.T) {
	f := newQueryFixture()
	now := time.Now()

	f.live.entries = map[string]cache.LatestEntry{
		"rpm": {Value: 2100, Unit: "rpm", Timestamp: now},
	}
	f.points.latest = []db.TelemetryPoint{
		latestPoint("rpm", 1111, now.Add(-time.Hour)), // cache entry must win
		latestPoint("coolant_temp", 93, now.Add(-time.Minute)),
	}

	values, err := f.engine.Latest(context.Background(), "VIN1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := valueByKey(values)
	if got["rpm"].Value != 2100 {
		t.Errorf("rpm = %v, want cached 2100", got["rpm"].Value)
	}
	coolant, ok := got["coolant_temp"]
	if !ok {
		t.Fatal("coolant_temp missing from merged snapshot")
	}
	if coolant.Value != 93 {
		t.Errorf("coolant_temp = %v, want store 93", coolant.Value)
	}
}

func TestLatestFullCacheSkipsStore(t *testing.T) {
	f := newQueryFixture()
	now := time.Now()

	entries := make(map[string]cache.LatestEntry)
	for _, param := range catalog.Chartable() {
		entries[param.Key] = cache.LatestEntry{Value: 1, Unit: param.Unit, Timestamp: now}
	}
	f.live.entries = entries

	if _, err := f.engine.Latest(context.Background(), "VIN1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.points.latestHits != 0 {
		t.Errorf("store queried %d times with a full cache, want 0", f.points.latestHits)
	}
}

func TestLatestColdCacheUsesStore(t *testing.T) {
	f := newQueryFixture()
	now := time.Now()

	f.live.err = errors.New("redis down")
	f.points.latest = []db.TelemetryPoint{latestPoint("battery_voltage", 11.2, now)}

	values, err := f.engine.Latest(context.Background(), "VIN1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("got %d values, want 1", len(values))
	}
	if !values[0].InWarning {
		t.Error("11.2V must be flagged below the warning floor")
	}
}

func TestLatestStoreFailure(t *testing.T) {
	f := newQueryFixture()
	f.points.latestErr = errors.New("db down")

	// No cache at all: the failure surfaces.
	if _, err := f.engine.Latest(context.Background(), "VIN1"); err == nil {
		t.Error("expected error with empty cache and failing store")
	}

	// A partial cache still serves what it has.
	f.live.entries = map[string]cache.LatestEntry{
		"rpm": {Value: 2100, Unit: "rpm", Timestamp: time.Now()},
	}
	values, err := f.engine.Latest(context.Background(), "VIN1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 1 || values[0].ParameterKey != "rpm" {
		t.Errorf("values = %+v, want the cached rpm entry", values)
	}
}
