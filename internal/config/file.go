package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/drone/envsubst"
	"go.yaml.in/yaml/v4"
)

// fileConfig is the YAML layout of CONFIG_FILE. Every field is optional.
type fileConfig struct {
	Server struct {
		Port        string   `yaml:"port"`
		LogLevel    string   `yaml:"log_level"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Store struct {
		Backend       string `yaml:"backend"`
		DatabaseURL   string `yaml:"database_url"`
		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`
	} `yaml:"store"`
	Broker struct {
		AMQPURL string `yaml:"amqp_url"`
	} `yaml:"broker"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Alerts struct {
		TrackingBaseURL string `yaml:"tracking_base_url"`
		TimeZone        string `yaml:"time_zone"`
	} `yaml:"alerts"`
	Recording struct {
		Dir     string `yaml:"dir"`
		Ceiling string `yaml:"ceiling"`
	} `yaml:"recording"`
	Tracking struct {
		MinDistanceMeters string `yaml:"min_distance_meters"`
		MinInterval       string `yaml:"min_interval"`
		LocationTimeout   string `yaml:"location_timeout"`
		PositionMaxAge    string `yaml:"position_max_age"`
	} `yaml:"tracking"`
}

// readFile loads the YAML config, expands ${VAR} references against the
// environment, and flattens it to the environment variable names Load uses.
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	replaced, err := envsubst.EvalEnv(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal([]byte(replaced), &f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return map[string]string{
		"PORT":                         f.Server.Port,
		"LOG_LEVEL":                    f.Server.LogLevel,
		"CORS_ORIGINS":                 strings.Join(f.Server.CORSOrigins, ","),
		"STORE_BACKEND":                f.Store.Backend,
		"DATABASE_URL":                 f.Store.DatabaseURL,
		"MONGO_URI":                    f.Store.MongoURI,
		"MONGO_DATABASE":               f.Store.MongoDatabase,
		"AMQP_URL":                     f.Broker.AMQPURL,
		"JWT_SECRET":                   f.Auth.JWTSecret,
		"TOKEN_TTL":                    f.Auth.TokenTTL,
		"TRACKING_BASE_URL":            f.Alerts.TrackingBaseURL,
		"ALERT_TIME_ZONE":              f.Alerts.TimeZone,
		"RECORDING_DIR":                f.Recording.Dir,
		"RECORDING_CEILING":            f.Recording.Ceiling,
		"TRACKING_MIN_DISTANCE_METERS": f.Tracking.MinDistanceMeters,
		"TRACKING_MIN_INTERVAL":        f.Tracking.MinInterval,
		"LOCATION_TIMEOUT":             f.Tracking.LocationTimeout,
		"POSITION_MAX_AGE":             f.Tracking.PositionMaxAge,
	}, nil
}
