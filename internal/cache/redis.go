package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/config"
	"github.com/motorlog/livelink/internal/domain"
)

// liveTTL bounds how long a stale latest-value hash survives with no
// ingestion; readers fall back to Postgres once it expires.
const liveTTL = 30 * time.Minute

// Store wraps the Redis client used for alert cooldowns and the live
// latest-value cache.
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// NewStore creates a new Redis store
func NewStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("[REDIS CONNECTION FAILED] cannot connect to Redis. Please check: 1) Redis is running, 2) REDIS_ADDR is correct. Error: %w", err)
			}
			logger.Info("redis connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := client.Close(); err != nil {
				logger.Error("failed to close redis connection", zap.Error(err))
				return err
			}
			logger.Info("redis connection closed")
			return nil
		},
	})

	return &Store{client: client, logger: logger}
}

// AcquireCooldown claims the cooldown slot for (device, parameter, kind).
// It returns true exactly once per TTL window; subsequent calls within the
// window return false.
func (s *Store) AcquireCooldown(ctx context.Context, deviceID, parameterKey string, kind domain.AlertKind, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("cooldown:%s:%s:%s", deviceID, parameterKey, kind)
	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cooldown acquire failed: %w", err)
	}
	return ok, nil
}

// LatestEntry is one cached latest value for a parameter.
type LatestEntry struct {
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Timestamp time.Time `json:"ts"`
}

func liveKey(deviceID string) string {
	return fmt.Sprintf("device:%s:latest", deviceID)
}

// SetLatest updates the live latest-value hash for a device.
func (s *Store) SetLatest(ctx context.Context, r domain.Reading) error {
	entry, err := json.Marshal(LatestEntry{
		Value:     r.Value,
		Unit:      r.Unit,
		Timestamp: r.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal latest entry: %w", err)
	}

	key := liveKey(r.DeviceID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, r.ParameterKey, entry)
	pipe.Expire(ctx, key, liveTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

// GetLatest returns the cached latest values per parameter key, or an empty
// map if the cache has expired.
func (s *Store) GetLatest(ctx context.Context, deviceID string) (map[string]LatestEntry, error) {
	raw, err := s.client.HGetAll(ctx, liveKey(deviceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}

	out := make(map[string]LatestEntry, len(raw))
	for key, val := range raw {
		var entry LatestEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			s.logger.Warn("dropping malformed latest-value entry",
				zap.String("device_id", deviceID), zap.String("parameter", key))
			continue
		}
		out[key] = entry
	}
	return out, nil
}
