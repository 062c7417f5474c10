package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/motorlog/livelink/internal/db"
	"github.com/motorlog/livelink/internal/domain"
)

// TimeSeries handles telemetry point storage.
type TimeSeries struct {
	pool *pgxpool.Pool
}

// NewTimeSeries creates a new time-series store
func NewTimeSeries(pool *pgxpool.Pool) *TimeSeries {
	return &TimeSeries{pool: pool}
}

// Append stores one reading. Duplicate (device, parameter, timestamp) keys
// overwrite in place, which makes at-least-once redelivery from the broker
// harmless.
func (s *TimeSeries) Append(ctx context.Context, r domain.Reading) error {
	query := `
		INSERT INTO telemetry_points (device_id, parameter_key, ts, value, unit, source, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, parameter_key, ts) DO UPDATE SET
			value       = EXCLUDED.value,
			unit        = EXCLUDED.unit,
			received_at = EXCLUDED.received_at
	`
	_, err := s.pool.Exec(ctx, query,
		r.DeviceID,
		r.ParameterKey,
		r.Timestamp,
		r.Value,
		r.Unit,
		string(r.SourceKind),
		r.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry point: %w", err)
	}
	return nil
}

// Range returns raw points for the device in [start, end), timestamp
// ascending. An empty key list matches all parameters.
func (s *TimeSeries) Range(ctx context.Context, deviceID string, keys []string, start, end time.Time) ([]db.TelemetryPoint, error) {
	query := `
		SELECT device_id, parameter_key, ts, value, unit, source, received_at
		FROM telemetry_points
		WHERE device_id = $1 AND ts >= $2 AND ts < $3
			AND (cardinality($4::text[]) = 0 OR parameter_key = ANY($4))
		ORDER BY parameter_key, ts
	`
	rows, err := s.pool.Query(ctx, query, deviceID, start, end, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry range: %w", err)
	}
	defer rows.Close()

	var points []db.TelemetryPoint
	for rows.Next() {
		var p db.TelemetryPoint
		if err := rows.Scan(&p.DeviceID, &p.ParameterKey, &p.Timestamp, &p.Value, &p.Unit, &p.Source, &p.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return points, nil
}

// LatestPerParameter returns the most recent point per parameter key.
func (s *TimeSeries) LatestPerParameter(ctx context.Context, deviceID string) ([]db.TelemetryPoint, error) {
	query := `
		SELECT DISTINCT ON (parameter_key)
			device_id, parameter_key, ts, value, unit, source, received_at
		FROM telemetry_points
		WHERE device_id = $1
		ORDER BY parameter_key, ts DESC
	`
	rows, err := s.pool.Query(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest points: %w", err)
	}
	defer rows.Close()

	var points []db.TelemetryPoint
	for rows.Next() {
		var p db.TelemetryPoint
		if err := rows.Scan(&p.DeviceID, &p.ParameterKey, &p.Timestamp, &p.Value, &p.Unit, &p.Source, &p.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return points, nil
}

// LastArrival describes the newest arrival times observed for one device,
// used to warm the connectivity tracker after a restart.
type LastArrival struct {
	Any time.Time
	ECU time.Time
}

// LastArrivals returns per-device maxima of received_at, overall and for
// ECU-sourced points only.
func (s *TimeSeries) LastArrivals(ctx context.Context) (map[string]LastArrival, error) {
	query := `
		SELECT device_id,
			max(received_at),
			max(received_at) FILTER (WHERE source = 'ecu')
		FROM telemetry_points
		GROUP BY device_id
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query last arrivals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]LastArrival)
	for rows.Next() {
		var deviceID string
		var anyAt time.Time
		var ecuAt *time.Time
		if err := rows.Scan(&deviceID, &anyAt, &ecuAt); err != nil {
			return nil, fmt.Errorf("failed to scan last arrival: %w", err)
		}
		la := LastArrival{Any: anyAt}
		if ecuAt != nil {
			la.ECU = *ecuAt
		}
		out[deviceID] = la
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// AggregateDay recomputes the daily rollup for every device/parameter pair
// with points on the given day. Re-running overwrites, so a partially failed
// run is safe to retry. The day label is pinned to UTC like every other
// day-boundary query here; the session TimeZone must never leak in.
func (s *TimeSeries) AggregateDay(ctx context.Context, day time.Time) error {
	dayStart := day.Truncate(24 * time.Hour)
	query := `
		INSERT INTO daily_aggregates (device_id, parameter_key, day, min_value, max_value, avg_value, sample_count)
		SELECT device_id, parameter_key, ($1::timestamptz AT TIME ZONE 'UTC')::date, min(value), max(value), avg(value), count(*)
		FROM telemetry_points
		WHERE ts >= $1::timestamptz AND ts < $2::timestamptz
		GROUP BY device_id, parameter_key
		ON CONFLICT (device_id, parameter_key, day) DO UPDATE SET
			min_value    = EXCLUDED.min_value,
			max_value    = EXCLUDED.max_value,
			avg_value    = EXCLUDED.avg_value,
			sample_count = EXCLUDED.sample_count
	`
	_, err := s.pool.Exec(ctx, query, dayStart, dayStart.Add(24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to aggregate day %s: %w", dayStart.Format("2006-01-02"), err)
	}
	return nil
}

// DaysWithPointsBefore returns the distinct UTC days having raw points
// strictly before the cutoff, oldest first.
func (s *TimeSeries) DaysWithPointsBefore(ctx context.Context, cutoff time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT date_trunc('day', ts AT TIME ZONE 'UTC') AT TIME ZONE 'UTC'
		FROM telemetry_points
		WHERE ts < $1
		ORDER BY 1
	`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return days, nil
}

// DeleteRawBefore deletes raw points older than the cutoff, but only where
// the covering daily aggregate already exists. A failed aggregation run
// therefore blocks that day's deletion rather than losing data silently.
func (s *TimeSeries) DeleteRawBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM telemetry_points p
		WHERE p.ts < $1
			AND EXISTS (
				SELECT 1 FROM daily_aggregates a
				WHERE a.device_id = p.device_id
					AND a.parameter_key = p.parameter_key
					AND a.day = (p.ts AT TIME ZONE 'UTC')::date
			)
	`
	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired points: %w", err)
	}
	return tag.RowsAffected(), nil
}
