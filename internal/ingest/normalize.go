package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/motorlog/livelink/internal/catalog"
	"github.com/motorlog/livelink/internal/domain"
)

// RawItem is one reading as delivered by a device, before validation. Value
// is a json.Number so both JSON numbers and quoted numerics are accepted;
// bridge firmware is not consistent about which it sends.
type RawItem struct {
	ParameterKey string      `json:"parameter_key"`
	Value        json.Number `json:"value"`
	Unit         string      `json:"unit,omitempty"`
	Timestamp    string      `json:"timestamp,omitempty"`
}

var (
	errMissingKey   = errors.New("missing parameter_key")
	errMissingValue = errors.New("missing value")
)

// Normalize validates one raw item into the canonical Reading shape. This
// is the single convergence point for both transports: every reading,
// however it arrived, passes through here before touching storage, state
// or alerting.
func Normalize(deviceID string, item RawItem, receivedAt time.Time) (domain.Reading, error) {
	if item.ParameterKey == "" {
		return domain.Reading{}, errMissingKey
	}
	if item.Value == "" {
		return domain.Reading{}, errMissingValue
	}

	value, err := item.Value.Float64()
	if err != nil {
		return domain.Reading{}, fmt.Errorf("invalid value %q: %w", item.Value, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.Reading{}, fmt.Errorf("non-finite value %q", item.Value)
	}

	ts := receivedAt
	if item.Timestamp != "" {
		ts, err = ParseTimestamp(item.Timestamp)
		if err != nil {
			return domain.Reading{}, err
		}
	}

	sourceKind := domain.SourceECU
	if catalog.IsHousekeeping(item.ParameterKey) {
		sourceKind = domain.SourceHousekeeping
	}

	param, known := catalog.Lookup(item.ParameterKey)
	unit := item.Unit
	if unit == "" && known {
		unit = param.Unit
	}

	return domain.Reading{
		DeviceID:     deviceID,
		ParameterKey: item.ParameterKey,
		Value:        value,
		Unit:         unit,
		Timestamp:    ts,
		ReceivedAt:   receivedAt,
		SourceKind:   sourceKind,
		ArchiveOnly:  !known || param.ArchiveOnly,
	}, nil
}
