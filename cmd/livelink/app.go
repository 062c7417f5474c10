package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/alert"
	"github.com/motorlog/livelink/internal/cache"
	"github.com/motorlog/livelink/internal/config"
	"github.com/motorlog/livelink/internal/db"
	"github.com/motorlog/livelink/internal/firmware"
	"github.com/motorlog/livelink/internal/ingest"
	"github.com/motorlog/livelink/internal/mqtt"
	"github.com/motorlog/livelink/internal/notify"
	"github.com/motorlog/livelink/internal/query"
	"github.com/motorlog/livelink/internal/registry"
	"github.com/motorlog/livelink/internal/state"
	"github.com/motorlog/livelink/internal/store"
	"github.com/motorlog/livelink/internal/transport/api"
)

// ProvideDBPool creates the PostgreSQL connection pool
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRedisStore creates the Redis-backed cooldown and live-value store
func ProvideRedisStore(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) *cache.Store {
	return cache.NewStore(lc, logger, cfg)
}

// ProvideRegistry creates the device registry
func ProvideRegistry(pool *pgxpool.Pool) *registry.Registry {
	return registry.NewRegistry(pool)
}

// ProvideSessionStore creates the session repository
func ProvideSessionStore(pool *pgxpool.Pool) *state.SessionStore {
	return state.NewSessionStore(pool)
}

// ProvideTracker creates the connectivity tracker
func ProvideTracker(sessions *state.SessionStore, cfg *config.Config, logger *zap.Logger) *state.Tracker {
	return state.NewTracker(sessions, cfg.State.OfflineTimeout, logger)
}

// ProvideTimeSeries creates the telemetry point store
func ProvideTimeSeries(pool *pgxpool.Pool) *store.TimeSeries {
	return store.NewTimeSeries(pool)
}

// ProvideJobs creates the rollup and retention job runner
func ProvideJobs(ts *store.TimeSeries, cfg *config.Config, logger *zap.Logger) *store.Jobs {
	return store.NewJobs(ts, cfg.Rollup.RetentionDays, cfg.Rollup.Interval, logger)
}

// ProvideNotifier selects the alert sink. Without an AMQP URL alert events
// are logged and dropped so the rest of the pipeline works unchanged.
func ProvideNotifier(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (notify.Notifier, error) {
	if cfg.Notify.AMQPURL == "" {
		logger.Info("no NOTIFY_AMQP_URL configured, alert events will be logged only")
		return notify.NewNop(logger), nil
	}
	return notify.NewAMQPNotifier(lc, logger, cfg.Notify.AMQPURL, cfg.Notify.Exchange)
}

// ProvideAlertEngine creates the alert engine
func ProvideAlertEngine(
	cooldowns *cache.Store,
	reg *registry.Registry,
	tracker *state.Tracker,
	notifier notify.Notifier,
	cfg *config.Config,
	logger *zap.Logger,
) *alert.Engine {
	return alert.NewEngine(cooldowns, reg, tracker, notifier, cfg.Alerts.Cooldown, cfg.Alerts.SweepInterval, logger)
}

// ProvidePipeline creates the shared ingestion pipeline
func ProvidePipeline(
	reg *registry.Registry,
	ts *store.TimeSeries,
	tracker *state.Tracker,
	alerts *alert.Engine,
	live *cache.Store,
	logger *zap.Logger,
) *ingest.Pipeline {
	return ingest.NewPipeline(reg, ts, tracker, alerts, live, logger)
}

// ProvideMQTTManager creates the MQTT ingestion manager
func ProvideMQTTManager(cfg *config.Config, pipeline *ingest.Pipeline, logger *zap.Logger) *mqtt.Manager {
	return mqtt.NewManager(cfg.MQTT, pipeline, logger)
}

// ProvideFirmwareClient creates the firmware release lookup client
func ProvideFirmwareClient(cfg *config.Config, logger *zap.Logger) *firmware.Client {
	return firmware.NewClient(cfg.Firmware.ReleaseURL, cfg.Firmware.Timeout, cfg.Firmware.CacheTTL, logger)
}

// ProvideQueryEngine creates the read-side query engine
func ProvideQueryEngine(
	reg *registry.Registry,
	ts *store.TimeSeries,
	live *cache.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *query.Engine {
	return query.NewEngine(reg, ts, live, cfg.Query.MaxRawRange, logger)
}

// ProvideHandler creates the HTTP API handler
func ProvideHandler(
	pipeline *ingest.Pipeline,
	reg *registry.Registry,
	engine *query.Engine,
	tracker *state.Tracker,
	jobs *store.Jobs,
	broker *mqtt.Manager,
	fw *firmware.Client,
	logger *zap.Logger,
) *api.Handler {
	return api.NewHandler(pipeline, reg, engine, tracker, jobs, broker, fw, logger)
}

// ProvideRouter creates the chi route tree
func ProvideRouter(h *api.Handler, cfg *config.Config, logger *zap.Logger) *chi.Mux {
	return api.NewRouter(h, cfg.AdminAPIKey, logger)
}

// warmTracker seeds the connectivity tracker from the newest stored arrival
// times and any sessions left open by the previous process. Runs after the
// pool hook so the schema already exists.
func warmTracker(lc fx.Lifecycle, tracker *state.Tracker, ts *store.TimeSeries, sessions *state.SessionStore, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			arrivals, err := ts.LastArrivals(ctx)
			if err != nil {
				return fmt.Errorf("tracker warm-up failed: %w", err)
			}
			open, err := sessions.OpenByDevice(ctx)
			if err != nil {
				return fmt.Errorf("tracker warm-up failed: %w", err)
			}

			seeds := make(map[string]state.Seed, len(arrivals))
			for deviceID, la := range arrivals {
				seeds[deviceID] = state.Seed{LastSeenAny: la.Any, LastSeenECU: la.ECU}
			}
			tracker.Warm(seeds, open)
			logger.Info("connectivity tracker warmed",
				zap.Int("devices", len(seeds)), zap.Int("open_sessions", len(open)))
			return nil
		},
	})
}

// startHTTPServer runs the API server for the process lifetime
func startHTTPServer(lc fx.Lifecycle, router *chi.Mux, cfg *config.Config, logger *zap.Logger) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting HTTP server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("http server stopped unexpectedly", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down HTTP server")
			return server.Shutdown(ctx)
		},
	})
}

// startMQTTManager runs the broker connection actor
func startMQTTManager(lc fx.Lifecycle, manager *mqtt.Manager, cfg *config.Config, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.MQTT.Enabled {
				logger.Info("MQTT ingestion disabled by configuration")
			}
			go manager.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

// startRollupJobs runs the periodic aggregation and retention loop
func startRollupJobs(lc fx.Lifecycle, jobs *store.Jobs) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go jobs.Run(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}

// startAlertSweep runs the periodic offline detection sweep
func startAlertSweep(lc fx.Lifecycle, engine *alert.Engine) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go engine.RunSweep(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
}
