package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/db"
	"github.com/motorlog/livelink/internal/domain"
	"github.com/motorlog/livelink/internal/logging"
)

type deviceRegistry interface {
	RegisterOrTouch(ctx context.Context, deviceID string) (db.Device, bool, error)
	TouchSignal(ctx context.Context, deviceID string, rssi float64) error
	TouchFirmware(ctx context.Context, deviceID string, version string) error
}

type pointAppender interface {
	Append(ctx context.Context, r domain.Reading) error
}

type stateObserver interface {
	Observe(ctx context.Context, r domain.Reading)
}

type alertSink interface {
	EvaluateReading(ctx context.Context, device db.Device, r domain.Reading)
	DeviceCreated(ctx context.Context, device db.Device)
}

type liveCache interface {
	SetLatest(ctx context.Context, r domain.Reading) error
}

// Batch is one transport-agnostic delivery from a device.
type Batch struct {
	DeviceID        string
	FirmwareVersion string
	Items           []RawItem
	ReceivedAt      time.Time
}

// ItemStatus reports the outcome for one item of a batch.
type ItemStatus struct {
	Index        int    `json:"index"`
	ParameterKey string `json:"parameter_key,omitempty"`
	Accepted     bool   `json:"accepted"`
	Error        string `json:"error,omitempty"`
}

// BatchResult is the per-item outcome of an ingested batch.
type BatchResult struct {
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"`
	Items    []ItemStatus `json:"items"`
}

// Pipeline fans one normalized reading out to storage, connectivity state
// and alerting. Both transports call IngestBatch, so equivalent input has
// identical side effects regardless of how it arrived.
//
// Safe for concurrent use across and within devices: storage is a keyed
// overwrite and the tracker serializes internally.
type Pipeline struct {
	registry deviceRegistry
	points   pointAppender
	state    stateObserver
	alerts   alertSink
	live     liveCache
	logger   *zap.Logger
}

// NewPipeline creates a new ingestion pipeline
func NewPipeline(
	registry deviceRegistry,
	points pointAppender,
	state stateObserver,
	alerts alertSink,
	live liveCache,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		registry: registry,
		points:   points,
		state:    state,
		alerts:   alerts,
		live:     live,
		logger:   logger,
	}
}

// IngestBatch processes one batch. Malformed items are rejected individually
// and the rest of the batch proceeds; only a storage failure aborts, and the
// returned error then reflects items already durably written.
func (p *Pipeline) IngestBatch(ctx context.Context, batch Batch) (BatchResult, error) {
	if batch.DeviceID == "" {
		return BatchResult{}, fmt.Errorf("missing device id")
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now()
	}

	log := logging.WithDevice(p.logger, batch.DeviceID)

	device, created, err := p.registry.RegisterOrTouch(ctx, batch.DeviceID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to register device: %w", err)
	}
	if created {
		p.alerts.DeviceCreated(ctx, device)
	}

	if batch.FirmwareVersion != "" {
		if err := p.registry.TouchFirmware(ctx, batch.DeviceID, batch.FirmwareVersion); err != nil {
			log.Warn("failed to record firmware version", zap.Error(err))
		}
	}

	result := BatchResult{Items: make([]ItemStatus, 0, len(batch.Items))}
	for i, item := range batch.Items {
		reading, err := Normalize(batch.DeviceID, item, batch.ReceivedAt)
		if err != nil {
			log.Warn("rejecting malformed reading",
				zap.Int("index", i),
				zap.String("parameter", item.ParameterKey),
				zap.Error(err))
			result.Rejected++
			result.Items = append(result.Items, ItemStatus{
				Index:        i,
				ParameterKey: item.ParameterKey,
				Error:        err.Error(),
			})
			continue
		}

		if err := p.points.Append(ctx, reading); err != nil {
			return result, fmt.Errorf("failed to store reading: %w", err)
		}

		p.state.Observe(ctx, reading)
		p.alerts.EvaluateReading(ctx, device, reading)

		if !reading.ArchiveOnly {
			if err := p.live.SetLatest(ctx, reading); err != nil {
				log.Warn("failed to update live cache", zap.Error(err))
			}
		}

		if reading.ParameterKey == "rssi" {
			if err := p.registry.TouchSignal(ctx, batch.DeviceID, reading.Value); err != nil {
				log.Warn("failed to record signal strength", zap.Error(err))
			}
		}

		result.Accepted++
		result.Items = append(result.Items, ItemStatus{
			Index:        i,
			ParameterKey: item.ParameterKey,
			Accepted:     true,
		})
	}

	log.Debug("batch ingested",
		zap.Int("accepted", result.Accepted),
		zap.Int("rejected", result.Rejected))
	return result, nil
}
