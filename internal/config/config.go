package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Environment string

const (
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
	EnvironmentTest        Environment = "test"
)

type Config struct {
	Server    ServerConfig
	Relay     RelayConfig
	Web       WebConfig
	Telemetry TelemetryConfig
	Graph     GraphConfig
	Storage   StorageConfig
}

type ServerConfig struct {
	Environment Environment
	LogLevel    string
}

// RelayConfig configures the websocket relay and its event loop.
type RelayConfig struct {
	Addr                  string
	Path                  string
	InboxSize             int
	SendBuffer            int
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	MaxFrameBytes         int64
	PendingReportInterval time.Duration
}

type WebConfig struct {
	Addr         string
	StaticDir    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type TelemetryConfig struct {
	Enabled        bool
	ExporterURL    string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	MetricInterval time.Duration
}

// GraphConfig configures the offline contact graph loader.
type GraphConfig struct {
	RedisURL       string
	Name           string
	RoomsSource    string
	VisitorsSource string
	RoomFilter     string
}

type StorageConfig struct {
	Type      string
	LocalPath string
	S3Bucket  string
	S3Region  string
}

func NewConfig() *Config {
	environment := Environment(getEnv("SERVER_ENVIRONMENT", string(EnvironmentDevelopment)))

	return &Config{
		Server: ServerConfig{
			Environment: environment,
			LogLevel:    getEnv("LOG_LEVEL", ""),
		},
		Relay: RelayConfig{
			Addr:                  getEnv("RELAY_ADDR", ":3003"),
			Path:                  getEnv("RELAY_PATH", "/socket"),
			InboxSize:             getEnvInt("RELAY_INBOX_SIZE", 256),
			SendBuffer:            getEnvInt("RELAY_SEND_BUFFER", 128),
			ReadTimeout:           getEnvDuration("RELAY_READ_TIMEOUT", 60*time.Second),
			WriteTimeout:          getEnvDuration("RELAY_WRITE_TIMEOUT", 10*time.Second),
			MaxFrameBytes:         int64(getEnvInt("RELAY_MAX_FRAME_BYTES", 64*1024)),
			PendingReportInterval: getEnvDuration("RELAY_PENDING_REPORT_INTERVAL", time.Minute),
		},
		Web: WebConfig{
			Addr:         getEnv("WEB_ADDR", ":8080"),
			StaticDir:    getEnv("WEB_STATIC_DIR", "./web"),
			ReadTimeout:  getEnvDuration("WEB_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("WEB_WRITE_TIMEOUT", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:        getEnvBool("TELEMETRY_ENABLED", false),
			ExporterURL:    getEnv("TELEMETRY_EXPORTER_URL", ""),
			ServiceName:    getEnv("TELEMETRY_SERVICE_NAME", "lctrelay"),
			ServiceVersion: getEnv("TELEMETRY_SERVICE_VERSION", "dev"),
			Environment:    string(environment),
			SamplingRatio:  getEnvFloat("TELEMETRY_SAMPLING_RATIO", 1.0),
			MetricInterval: getEnvDuration("TELEMETRY_METRIC_INTERVAL", 10*time.Second),
		},
		Graph: GraphConfig{
			RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			Name:           getEnv("GRAPH_NAME", "sisters"),
			RoomsSource:    getEnv("GRAPH_ROOMS_SOURCE", "rooms.csv"),
			VisitorsSource: getEnv("GRAPH_VISITORS_SOURCE", "visitors.json"),
			RoomFilter:     getEnv("GRAPH_ROOM_FILTER", "LODG"),
		},
		Storage: StorageConfig{
			Type:      getEnv("STORAGE_TYPE", "local"),
			LocalPath: getEnv("STORAGE_LOCAL_PATH", "./data"),
			S3Bucket:  getEnv("STORAGE_S3_BUCKET", ""),
			S3Region:  getEnv("STORAGE_S3_REGION", ""),
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Server.Environment {
	case EnvironmentDevelopment, EnvironmentProduction, EnvironmentTest:
	default:
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Server.Environment))
	}

	if !strings.HasPrefix(c.Relay.Path, "/") {
		errs = append(errs, fmt.Errorf("relay path %q must start with /", c.Relay.Path))
	}
	if c.Relay.InboxSize <= 0 {
		errs = append(errs, errors.New("relay inbox size must be positive"))
	}
	if c.Relay.SendBuffer <= 0 {
		errs = append(errs, errors.New("relay send buffer must be positive"))
	}
	if c.Relay.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("relay max frame size must be positive"))
	}
	if c.Relay.PendingReportInterval <= 0 {
		errs = append(errs, errors.New("pending report interval must be positive"))
	}

	if c.Telemetry.Enabled && c.Telemetry.ExporterURL == "" {
		errs = append(errs, errors.New("telemetry enabled without exporter url"))
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		errs = append(errs, fmt.Errorf("sampling ratio %v out of range [0,1]", c.Telemetry.SamplingRatio))
	}

	switch c.Storage.Type {
	case "local":
	case "s3":
		if c.Storage.S3Bucket == "" || c.Storage.S3Region == "" {
			errs = append(errs, errors.New("s3 storage requires STORAGE_S3_BUCKET and STORAGE_S3_REGION"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage type %q", c.Storage.Type))
	}

	return errors.Join(errs...)
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}
