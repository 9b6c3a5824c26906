package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Stats scopes for the notification feed.
const (
	StatsScopeUnfiltered = "unfiltered"
	StatsScopeFiltered   = "filtered"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatabaseURL string
	DBMaxConns  int32

	// Forecast service.
	MLServiceURL      string
	MLTimeout         time.Duration
	ForecastHorizon   int
	CityDelay         time.Duration
	ForecastRetention time.Duration

	// OpenWeatherMap observation refresh; disabled without a key.
	OpenWeatherAPIKey  string
	OpenWeatherTimeout time.Duration

	// Alerting.
	AlertDedupWindow       time.Duration
	AlertForecastLookahead time.Duration
	FeedWindow             int
	StatsScope             string

	// Scheduling.
	ForecastSchedule    string
	CleanupSchedule     string
	AlertSchedule       string
	ObservationSchedule string
	WarmupDelay         time.Duration
	Location            *time.Location

	// Redis sweep lock; in-process lock when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SweepLockTTL  time.Duration

	// Kafka alert events; disabled when KafkaBrokers is empty.
	KafkaBrokers    []string
	KafkaAlertTopic string
}

// Load reads configuration from the environment (and an optional .env file),
// applying defaults where unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("GO_ENV", "development"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		MLServiceURL:        strings.TrimRight(getEnv("ML_SERVICE_URL", "http://localhost:5001"), "/"),
		OpenWeatherAPIKey:   getEnv("OPENWEATHER_API_KEY", ""),
		StatsScope:          strings.ToLower(getEnv("FEED_STATS_SCOPE", StatsScopeUnfiltered)),
		ForecastSchedule:    getEnv("SCHEDULE_FORECAST", "0 * * * *"),
		CleanupSchedule:     getEnv("SCHEDULE_CLEANUP", "0 2 * * *"),
		AlertSchedule:       getEnv("SCHEDULE_ALERTS", "@every 30m"),
		ObservationSchedule: getEnv("SCHEDULE_OBSERVATIONS", "15 * * * *"),
		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:        splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaAlertTopic:     getEnv("KAFKA_ALERT_TOPIC", "weather.alerts"),
	}

	var err error
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", "10s", &cfg.ShutdownTimeout},
		{"ML_TIMEOUT", "45s", &cfg.MLTimeout},
		{"FORECAST_CITY_DELAY", "2s", &cfg.CityDelay},
		{"FORECAST_RETENTION", "168h", &cfg.ForecastRetention},
		{"OPENWEATHER_TIMEOUT", "10s", &cfg.OpenWeatherTimeout},
		{"ALERT_DEDUP_WINDOW", "2h", &cfg.AlertDedupWindow},
		{"ALERT_FORECAST_LOOKAHEAD", "72h", &cfg.AlertForecastLookahead},
		{"WARMUP_DELAY", "5s", &cfg.WarmupDelay},
		{"SWEEP_LOCK_TTL", "10m", &cfg.SweepLockTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}
	if cfg.CityDelay < 0 {
		return nil, fmt.Errorf("config: FORECAST_CITY_DELAY must not be negative")
	}
	if cfg.WarmupDelay < 0 {
		return nil, fmt.Errorf("config: WARMUP_DELAY must not be negative")
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout},
		{"ML_TIMEOUT", cfg.MLTimeout},
		{"FORECAST_RETENTION", cfg.ForecastRetention},
		{"ALERT_DEDUP_WINDOW", cfg.AlertDedupWindow},
		{"SWEEP_LOCK_TTL", cfg.SweepLockTTL},
	} {
		if d.val <= 0 {
			return nil, fmt.Errorf("config: %s must be positive", d.key)
		}
	}
	if cfg.AlertDedupWindow < time.Second {
		return nil, fmt.Errorf("config: ALERT_DEDUP_WINDOW must be at least 1s")
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, err
	}
	if maxConns < 1 {
		return nil, fmt.Errorf("config: DB_MAX_CONNS must be at least 1")
	}
	cfg.DBMaxConns = int32(maxConns)

	if cfg.ForecastHorizon, err = getEnvInt("FORECAST_HORIZON_DAYS", 7); err != nil {
		return nil, err
	}
	if cfg.ForecastHorizon < 1 || cfg.ForecastHorizon > 30 {
		return nil, fmt.Errorf("config: FORECAST_HORIZON_DAYS must be between 1 and 30")
	}
	if cfg.FeedWindow, err = getEnvInt("FEED_WINDOW", 50); err != nil {
		return nil, err
	}
	if cfg.FeedWindow < 1 {
		return nil, fmt.Errorf("config: FEED_WINDOW must be at least 1")
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	if cfg.StatsScope != StatsScopeUnfiltered && cfg.StatsScope != StatsScopeFiltered {
		return nil, fmt.Errorf("config: FEED_STATS_SCOPE must be %q or %q", StatsScopeUnfiltered, StatsScopeFiltered)
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("config: LOG_FORMAT must be json or console")
	}

	if cfg.Location, err = time.LoadLocation(getEnv("TIMEZONE", "Asia/Vientiane")); err != nil {
		return nil, fmt.Errorf("config: invalid TIMEZONE: %w", err)
	}

	return cfg, nil
}

// IsProduction reports whether GO_ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
