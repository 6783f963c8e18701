package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the workflow engine and sweep.
type Config struct {
	AppName         string
	AppEnv          string
	LogLevel        string
	DatabaseDriver  string
	DatabaseURL     string
	RedisURL        string
	NATSURL         string
	MetricsAddress  string
	EventsChannel   string
	StatusCacheTTL  time.Duration
	SweepInterval   time.Duration
	ClassBoundaries []float64
	DefaultStrategy string
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("COURSEWORK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "coursework")
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("events.channel", "coursework")
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("status_cache.ttl", "10m")
	v.SetDefault("sweep.interval", "5m")
	v.SetDefault("grading.class_boundaries", "40,50,60,70")
	v.SetDefault("grading.default_strategy", "none")

	cacheTTL, err := parseDuration(v.GetString("status_cache.ttl"), 10*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid status cache ttl: %w", err)
	}

	interval, err := parseDuration(v.GetString("sweep.interval"), 5*time.Minute)
	if err != nil {
		return Config{}, fmt.Errorf("invalid sweep interval: %w", err)
	}

	boundaries, err := ParseBoundaries(v.GetString("grading.class_boundaries"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid class boundaries: %w", err)
	}

	cfg := Config{
		AppName:         v.GetString("app.name"),
		AppEnv:          v.GetString("app.env"),
		LogLevel:        strings.ToLower(v.GetString("log.level")),
		DatabaseDriver:  strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:     v.GetString("database.url"),
		RedisURL:        v.GetString("redis.url"),
		NATSURL:         v.GetString("nats.url"),
		MetricsAddress:  v.GetString("metrics.address"),
		EventsChannel:   v.GetString("events.channel"),
		StatusCacheTTL:  cacheTTL,
		SweepInterval:   interval,
		ClassBoundaries: boundaries,
		DefaultStrategy: strings.ToLower(v.GetString("grading.default_strategy")),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	return cfg, nil
}

func parseDuration(raw string, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", raw)
	}
	return d, nil
}

// ParseBoundaries parses the comma separated grade class cut-points used by
// the straddle agreement strategy. The result is sorted ascending.
func ParseBoundaries(raw string) ([]float64, error) {
	parts := strings.Split(raw, ",")
	boundaries := make([]float64, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		value, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("boundary %q: %w", trimmed, err)
		}
		boundaries = append(boundaries, value)
	}
	sort.Float64s(boundaries)
	return boundaries, nil
}
