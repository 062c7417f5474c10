package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/motorlog/livelink/internal/ingest"
)

// ParseTopic extracts the device id and optional parameter key from a
// message topic under the subscription prefix. Topics look like
// prefix/<device>/<parameter>; a bare prefix/<device> topic is allowed when
// the payload carries its own parameter keys.
func ParseTopic(prefix, topic string) (deviceID, parameterKey string, err error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", "", fmt.Errorf("topic %q outside prefix %q", topic, prefix)
	}

	segments := strings.Split(rest, "/")
	if segments[0] == "" {
		return "", "", fmt.Errorf("topic %q missing device id", topic)
	}
	deviceID = segments[0]
	if len(segments) > 1 {
		parameterKey = strings.Join(segments[1:], "/")
	}
	return deviceID, parameterKey, nil
}

// payloadItem is one reading in a JSON payload.
type payloadItem struct {
	Key       string      `json:"key"`
	Value     json.Number `json:"value"`
	Unit      string      `json:"unit,omitempty"`
	Timestamp string      `json:"ts,omitempty"`
}

// ParsePayload turns a message payload into raw items. Three shapes are
// accepted: a JSON array of keyed readings, a single JSON keyed reading,
// or a bare numeric value (which requires the parameter key from the topic).
func ParsePayload(parameterKey string, payload []byte) ([]ingest.RawItem, error) {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" {
		return nil, fmt.Errorf("empty payload")
	}

	switch trimmed[0] {
	case '[':
		var items []payloadItem
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("malformed payload array: %w", err)
		}
		return convertItems(items)
	case '{':
		var item payloadItem
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, fmt.Errorf("malformed payload object: %w", err)
		}
		return convertItems([]payloadItem{item})
	default:
		if parameterKey == "" {
			return nil, fmt.Errorf("bare value payload requires a parameter topic segment")
		}
		return []ingest.RawItem{{
			ParameterKey: parameterKey,
			Value:        json.Number(trimmed),
		}}, nil
	}
}

func convertItems(items []payloadItem) ([]ingest.RawItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("payload has no readings")
	}
	out := make([]ingest.RawItem, len(items))
	for i, item := range items {
		out[i] = ingest.RawItem{
			ParameterKey: item.Key,
			Value:        item.Value,
			Unit:         item.Unit,
			Timestamp:    item.Timestamp,
		}
	}
	return out, nil
}
