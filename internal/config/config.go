// Package config loads and validates application configuration from
// environment variables, an optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/subosito/gotenv"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

// Config holds all configuration values for the companion agent.
// Values are populated by Load.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Defaults to ["http://localhost:5173"] (Vite dev server).
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// StoreBackend selects the document store: postgres, mongo or memory.
	// Defaults to "postgres".
	StoreBackend string

	// DatabaseURL is the Postgres connection string. Required for postgres.
	DatabaseURL string

	// MongoURI and MongoDatabase locate the Mongo store. MongoURI is required
	// for mongo.
	MongoURI      string
	MongoDatabase string

	// AMQPURL is the RabbitMQ URL. Empty disables the broker; alerts are
	// then only logged.
	AMQPURL string

	// JWTSecret seeds the session token signing key. Required.
	JWTSecret string
	TokenTTL  time.Duration

	// TrackingBaseURL is the web app serving /track/<tripId>.
	TrackingBaseURL string
	// AlertTimeZone is the IANA zone used for times in alert messages.
	AlertTimeZone string
	// EmergencyNumber is dialled by POST /emergency/call. Defaults to "911".
	EmergencyNumber string

	RecordingDir     string
	RecordingCeiling time.Duration

	MinDistanceMeters float64
	MinInterval       time.Duration
	LocationTimeout   time.Duration
	PositionMaxAge    time.Duration
}

// Load reads configuration and returns a Config.
//
// Sources, highest precedence first: process environment, the .env file
// (ENV_FILE, default ".env", optional), the YAML file named by CONFIG_FILE
// (optional, ${VAR:-default} references expanded), built-in defaults.
// Returns an error listing any required values that are not set.
func Load() (Config, error) {
	if err := gotenv.Load(getEnv("ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	file := map[string]string{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if file, err = readFile(path); err != nil {
			return Config{}, err
		}
	}
	get := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		if v := file[key]; v != "" {
			return v
		}
		return fallback
	}

	p := parser{}
	cfg := Config{
		Port:              get("PORT", "8080"),
		LogLevel:          get("LOG_LEVEL", "info"),
		CORSOrigins:       splitCSV(get("CORS_ORIGINS", "http://localhost:5173")),
		StoreBackend:      strings.ToLower(get("STORE_BACKEND", StorePostgres)),
		DatabaseURL:       get("DATABASE_URL", ""),
		MongoURI:          get("MONGO_URI", ""),
		MongoDatabase:     get("MONGO_DATABASE", "hitchsafe"),
		AMQPURL:           get("AMQP_URL", ""),
		JWTSecret:         get("JWT_SECRET", ""),
		TokenTTL:          p.duration("TOKEN_TTL", get("TOKEN_TTL", "24h")),
		TrackingBaseURL:   get("TRACKING_BASE_URL", "https://hitchsafe.app"),
		AlertTimeZone:     get("ALERT_TIME_ZONE", "UTC"),
		EmergencyNumber:   get("EMERGENCY_NUMBER", "911"),
		RecordingDir:      get("RECORDING_DIR", "recordings"),
		RecordingCeiling:  p.duration("RECORDING_CEILING", get("RECORDING_CEILING", "5m")),
		MinDistanceMeters: p.float("TRACKING_MIN_DISTANCE_METERS", get("TRACKING_MIN_DISTANCE_METERS", "10")),
		MinInterval:       p.duration("TRACKING_MIN_INTERVAL", get("TRACKING_MIN_INTERVAL", "5s")),
		LocationTimeout:   p.duration("LOCATION_TIMEOUT", get("LOCATION_TIMEOUT", "15s")),
		PositionMaxAge:    p.duration("POSITION_MAX_AGE", get("POSITION_MAX_AGE", "10s")),
	}
	if _, err := time.LoadLocation(cfg.AlertTimeZone); err != nil {
		p.invalid = append(p.invalid, "ALERT_TIME_ZONE")
	}

	var missing []string
	switch cfg.StoreBackend {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case StoreMemory:
	default:
		p.invalid = append(p.invalid, "STORE_BACKEND")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid configuration values: %s", strings.Join(p.invalid, ", "))
	}

	return cfg, nil
}

// parser collects the names of values that failed to parse.
type parser struct {
	invalid []string
}

func (p *parser) duration(key, v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.invalid = append(p.invalid, key)
	}
	return d
}

func (p *parser) float(key, v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.invalid = append(p.invalid, key)
	}
	return f
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}
