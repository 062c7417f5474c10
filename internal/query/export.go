package query

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// ExportCSV streams a range query as flat delimited rows. It reuses Range,
// so bucketing behavior and limits are identical to the chart path.
func (e *Engine) ExportCSV(ctx context.Context, w io.Writer, vin string, keys []string, start, end time.Time, intervalSeconds int) error {
	series, err := e.Range(ctx, vin, keys, start, end, intervalSeconds)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	defer cw.Flush()

	if intervalSeconds > 0 {
		if err := cw.Write([]string{"parameter_key", "bucket_start", "min", "max", "avg", "count"}); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		for _, s := range series {
			for _, b := range s.Buckets {
				record := []string{
					s.ParameterKey,
					b.Start.UTC().Format(time.RFC3339),
					strconv.FormatFloat(b.Min, 'f', -1, 64),
					strconv.FormatFloat(b.Max, 'f', -1, 64),
					strconv.FormatFloat(b.Avg, 'f', -1, 64),
					strconv.Itoa(b.Count),
				}
				if err := cw.Write(record); err != nil {
					return fmt.Errorf("failed to write csv record: %w", err)
				}
			}
		}
		return cw.Error()
	}

	if err := cw.Write([]string{"parameter_key", "timestamp", "value", "unit"}); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, s := range series {
		for _, p := range s.Points {
			record := []string{
				s.ParameterKey,
				p.Timestamp.UTC().Format(time.RFC3339),
				strconv.FormatFloat(p.Value, 'f', -1, 64),
				s.Unit,
			}
			if err := cw.Write(record); err != nil {
				return fmt.Errorf("failed to write csv record: %w", err)
			}
		}
	}
	return cw.Error()
}
