package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	HTTPPort    int
	AdminAPIKey string
	Database    DatabaseConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	Notify      NotifyConfig
	State       StateConfig
	Rollup      RollupConfig
	Alerts      AlertConfig
	Query       QueryConfig
	Firmware    FirmwareConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds broker connection and subscription settings
type MQTTConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	TLS         bool
	TopicPrefix string
	ClientID    string
	Enabled     bool
}

// NotifyConfig holds the notification sink settings. An empty URL disables
// publishing (alert events are logged and dropped).
type NotifyConfig struct {
	AMQPURL  string
	Exchange string
}

// StateConfig holds connectivity tracking settings
type StateConfig struct {
	OfflineTimeout time.Duration
}

// RollupConfig holds aggregation and retention settings
type RollupConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// AlertConfig holds alert engine settings
type AlertConfig struct {
	Cooldown      time.Duration
	SweepInterval time.Duration
}

// QueryConfig holds query engine settings
type QueryConfig struct {
	// MaxRawRange is the longest range served at raw resolution; longer
	// ranges must supply a bucketing interval.
	MaxRawRange time.Duration
}

// FirmwareConfig holds the firmware release lookup settings
type FirmwareConfig struct {
	ReleaseURL string
	Timeout    time.Duration
	CacheTTL   time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "livelink"),
		HTTPPort:    getEnvAsInt("HTTP_PORT", 8080),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		MQTT: MQTTConfig{
			Host:        getEnv("MQTT_HOST", "localhost"),
			Port:        getEnvAsInt("MQTT_PORT", 1883),
			Username:    getEnv("MQTT_USERNAME", ""),
			Password:    getEnv("MQTT_PASSWORD", ""),
			TLS:         getEnvAsBool("MQTT_TLS", false),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "wican"),
			ClientID:    getEnv("MQTT_CLIENT_ID", "livelink-ingest"),
			Enabled:     getEnvAsBool("MQTT_ENABLED", true),
		},
		Notify: NotifyConfig{
			AMQPURL:  getEnv("NOTIFY_AMQP_URL", ""),
			Exchange: getEnv("NOTIFY_EXCHANGE", "livelink.events.exchange"),
		},
		State: StateConfig{
			OfflineTimeout: getEnvAsDuration("OFFLINE_TIMEOUT", 15*time.Minute),
		},
		Rollup: RollupConfig{
			RetentionDays: getEnvAsInt("RETENTION_DAYS", 90),
			Interval:      getEnvAsDuration("ROLLUP_INTERVAL", time.Hour),
		},
		Alerts: AlertConfig{
			Cooldown:      getEnvAsDuration("ALERT_COOLDOWN", 30*time.Minute),
			SweepInterval: getEnvAsDuration("ALERT_SWEEP_INTERVAL", time.Minute),
		},
		Query: QueryConfig{
			MaxRawRange: getEnvAsDuration("QUERY_MAX_RAW_RANGE", 24*time.Hour),
		},
		Firmware: FirmwareConfig{
			ReleaseURL: getEnv("FIRMWARE_RELEASE_URL", ""),
			Timeout:    getEnvAsDuration("FIRMWARE_TIMEOUT", 5*time.Second),
			CacheTTL:   getEnvAsDuration("FIRMWARE_CACHE_TTL", 6*time.Hour),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.State.OfflineTimeout <= 0 {
		return nil, fmt.Errorf("OFFLINE_TIMEOUT must be positive")
	}
	if cfg.Rollup.RetentionDays <= 0 {
		return nil, fmt.Errorf("RETENTION_DAYS must be positive")
	}

	return cfg, nil
}

// BrokerURL renders the MQTT connection URL for the configured broker.
func (m MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Host, m.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
