package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/cache"
	"github.com/motorlog/livelink/internal/catalog"
	"github.com/motorlog/livelink/internal/db"
)

type deviceResolver interface {
	GetByVehicle(ctx context.Context, vin string) (db.Device, error)
}

type pointSource interface {
	Range(ctx context.Context, deviceID string, keys []string, start, end time.Time) ([]db.TelemetryPoint, error)
	LatestPerParameter(ctx context.Context, deviceID string) ([]db.TelemetryPoint, error)
}

type liveSource interface {
	GetLatest(ctx context.Context, deviceID string) (map[string]cache.LatestEntry, error)
}

var (
	// ErrIntervalRequired is returned when a range longer than the raw-
	// resolution limit is requested without a bucketing interval. The limit
	// is enforced here, server-side, not left to client convention.
	ErrIntervalRequired = errors.New("interval_seconds required for ranges this long")

	ErrInvalidRange     = errors.New("invalid time range")
	ErrUnknownParameter = errors.New("unknown or non-chartable parameter")
)

// RawPoint is one sample in a raw-resolution series.
type RawPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Series is the chart payload for one parameter: raw points for short
// ranges, buckets when downsampled.
type Series struct {
	ParameterKey string     `json:"parameter_key"`
	Label        string     `json:"label"`
	Unit         string     `json:"unit"`
	Points       []RawPoint `json:"points,omitempty"`
	Buckets      []Bucket   `json:"buckets,omitempty"`
}

// LatestValue is one gauge entry in the live snapshot.
type LatestValue struct {
	ParameterKey string    `json:"parameter_key"`
	Label        string    `json:"label"`
	Unit         string    `json:"unit"`
	Value        float64   `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
	InWarning    bool      `json:"in_warning"`
}

// Engine serves chart and snapshot queries. It reads only from the
// time-series store, the live cache and the registry; it never touches the
// ingestion path.
type Engine struct {
	registry    deviceResolver
	points      pointSource
	live        liveSource
	maxRawRange time.Duration
	logger      *zap.Logger
}

// NewEngine creates a new query engine
func NewEngine(
	reg deviceResolver,
	points pointSource,
	live liveSource,
	maxRawRange time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		registry:    reg,
		points:      points,
		live:        live,
		maxRawRange: maxRawRange,
		logger:      logger,
	}
}

// Range returns per-parameter series for the vehicle's device over
// [start, end). intervalSeconds of zero means raw resolution, which is only
// allowed up to the configured range limit; an empty key list means all
// chartable parameters.
func (e *Engine) Range(ctx context.Context, vin string, keys []string, start, end time.Time, intervalSeconds int) ([]Series, error) {
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	if intervalSeconds < 0 {
		return nil, ErrInvalidRange
	}
	if intervalSeconds == 0 && end.Sub(start) > e.maxRawRange {
		return nil, ErrIntervalRequired
	}

	if len(keys) == 0 {
		for _, p := range catalog.Chartable() {
			keys = append(keys, p.Key)
		}
	} else {
		for _, key := range keys {
			p, ok := catalog.Lookup(key)
			if !ok || !p.Chartable || p.ArchiveOnly {
				return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, key)
			}
		}
	}

	device, err := e.registry.GetByVehicle(ctx, vin)
	if err != nil {
		return nil, err
	}

	points, err := e.points.Range(ctx, device.ID, keys, start, end)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]RawPoint)
	for _, p := range points {
		byKey[p.ParameterKey] = append(byKey[p.ParameterKey], RawPoint{
			Timestamp: p.Timestamp,
			Value:     p.Value,
		})
	}

	series := make([]Series, 0, len(byKey))
	for key, raw := range byKey {
		param, _ := catalog.Lookup(key)
		s := Series{ParameterKey: key, Label: param.Label, Unit: param.Unit}
		if intervalSeconds > 0 {
			s.Buckets = Downsample(raw, start, time.Duration(intervalSeconds)*time.Second)
		} else {
			s.Points = raw
		}
		series = append(series, s)
	}
	sort.Slice(series, func(i, j int) bool { return series[i].ParameterKey < series[j].ParameterKey })
	return series, nil
}

// Latest returns one most-recent value per chartable parameter, annotated
// against the catalog warning bounds. The live cache answers first; any
// chartable parameter it is missing (a freshly restarted cache holds only
// what has arrived since boot) is filled in from the store.
func (e *Engine) Latest(ctx context.Context, vin string) ([]LatestValue, error) {
	device, err := e.registry.GetByVehicle(ctx, vin)
	if err != nil {
		return nil, err
	}

	cached, err := e.live.GetLatest(ctx, device.ID)
	if err != nil {
		e.logger.Warn("live cache unavailable, falling back to store",
			zap.String("device_id", device.ID), zap.Error(err))
		cached = nil
	}

	missing := false
	for _, param := range catalog.Chartable() {
		if _, ok := cached[param.Key]; !ok {
			missing = true
			break
		}
	}

	fromStore := make(map[string]db.TelemetryPoint)
	if missing {
		points, err := e.points.LatestPerParameter(ctx, device.ID)
		if err != nil {
			if len(cached) == 0 {
				return nil, err
			}
			e.logger.Warn("store fallback failed, serving cache subset",
				zap.String("device_id", device.ID), zap.Error(err))
		}
		for _, p := range points {
			fromStore[p.ParameterKey] = p
		}
	}

	var out []LatestValue
	for _, param := range catalog.Chartable() {
		if entry, ok := cached[param.Key]; ok {
			out = append(out, LatestValue{
				ParameterKey: param.Key,
				Label:        param.Label,
				Unit:         param.Unit,
				Value:        entry.Value,
				Timestamp:    entry.Timestamp,
				InWarning:    param.InWarning(entry.Value),
			})
			continue
		}
		if p, ok := fromStore[param.Key]; ok {
			out = append(out, LatestValue{
				ParameterKey: param.Key,
				Label:        param.Label,
				Unit:         param.Unit,
				Value:        p.Value,
				Timestamp:    p.Timestamp,
				InWarning:    param.InWarning(p.Value),
			})
		}
	}
	return out, nil
}
