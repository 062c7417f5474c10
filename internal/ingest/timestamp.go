package ingest

import (
	"fmt"
	"strconv"
	"time"
)

// Bridges in the field report sample times in several shapes; anything
// unparseable rejects the item rather than guessing.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// unix timestamps above this are taken as milliseconds
const millisCutover = 1e12

// ParseTimestamp parses a device-reported sample time: RFC3339 variants,
// unix seconds, or unix milliseconds.
func ParseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n < 0 {
			return time.Time{}, fmt.Errorf("negative unix timestamp %q", s)
		}
		if n >= millisCutover {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		sec := int64(n)
		nsec := int64((n - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), nil
	}

	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, lastErr)
}
