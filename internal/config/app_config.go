// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/depthstream/internal/schema"
)

// FeedConfig selects the venue and instrument streamed by the command line runner.
type FeedConfig struct {
	Venue      string `yaml:"venue"`
	Instrument string `yaml:"instrument"`
}

// BookConfig sizes the ladders and the publish throttle.
type BookConfig struct {
	Depth    int           `yaml:"depth"`
	Throttle time.Duration `yaml:"throttle"`
}

// ConnectionConfig tunes the connection supervisor.
type ConnectionConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeatInterval"`
	InitialRetryDelay    time.Duration `yaml:"initialRetryDelay"`
	MaxRetryDelay        time.Duration `yaml:"maxRetryDelay"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	DialTimeout          time.Duration `yaml:"dialTimeout"`
	WriteTimeout         time.Duration `yaml:"writeTimeout"`
	ReadLimit            int64         `yaml:"readLimit"`
}

// VenueConfig overrides a venue's endpoints and REST pacing.
type VenueConfig struct {
	Endpoint          string  `yaml:"endpoint"`
	RESTBaseURL       string  `yaml:"restBaseURL"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	ServiceName    string        `yaml:"serviceName"`
	OTLPInsecure   bool          `yaml:"otlpInsecure"`
	MetricInterval time.Duration `yaml:"metricInterval"`
}

// APIServerConfig configures the read-only HTTP surface. An empty address disables it.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Debug bool `yaml:"debug"`
	// Pretty writes console lines instead of JSON.
	Pretty bool `yaml:"pretty"`
}

// AppConfig is the unified depthstream configuration sourced from YAML.
type AppConfig struct {
	Environment Environment            `yaml:"environment"`
	Feed        FeedConfig             `yaml:"feed"`
	Book        BookConfig             `yaml:"book"`
	Connection  ConnectionConfig       `yaml:"connection"`
	Venues      map[string]VenueConfig `yaml:"venues"`
	Telemetry   TelemetryConfig        `yaml:"telemetry"`
	APIServer   APIServerConfig        `yaml:"apiServer"`
	Logging     LoggingConfig          `yaml:"logging"`
}

// Default returns the configuration used when no file is supplied.
func Default() AppConfig {
	return AppConfig{
		Environment: EnvDev,
		Feed: FeedConfig{
			Venue:      schema.VenueOKX.String(),
			Instrument: "BTC-USDT",
		},
		Book: BookConfig{
			Depth:    15,
			Throttle: 100 * time.Millisecond,
		},
		Connection: ConnectionConfig{
			HeartbeatInterval:    25 * time.Second,
			InitialRetryDelay:    time.Second,
			MaxRetryDelay:        10 * time.Second,
			MaxReconnectAttempts: 5,
			DialTimeout:          10 * time.Second,
			WriteTimeout:         5 * time.Second,
			ReadLimit:            2 << 20,
		},
		Venues: map[string]VenueConfig{},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   "localhost:4318",
			ServiceName:    "depthstream",
			MetricInterval: 30 * time.Second,
		},
		APIServer: APIServerConfig{Addr: ":8880"},
		Logging:   LoggingConfig{Pretty: true},
	}
}

// Load reads and validates an AppConfig from the provided YAML file. Keys absent from the
// file keep their Default values.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadOrDefault loads configPath, falling back to Default when the path is empty or the file
// does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	if strings.TrimSpace(configPath) == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	cfg, err := Load(ctx, configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(normalizeName(string(c.Environment)))
	c.Feed.Venue = strings.TrimSpace(c.Feed.Venue)
	c.Feed.Instrument = strings.TrimSpace(c.Feed.Instrument)
	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)

	normalised := make(map[string]VenueConfig, len(c.Venues))
	for key, value := range c.Venues {
		value.Endpoint = strings.TrimSpace(value.Endpoint)
		value.RESTBaseURL = strings.TrimSpace(value.RESTBaseURL)
		normalised[normalizeName(key)] = value
	}
	c.Venues = normalised
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if _, err := schema.ParseVenue(c.Feed.Venue); err != nil {
		return fmt.Errorf("feed venue: %w", err)
	}
	if c.Feed.Instrument == "" {
		return fmt.Errorf("feed instrument required")
	}

	if c.Book.Depth <= 0 {
		return fmt.Errorf("book depth must be >0")
	}
	if c.Book.Throttle <= 0 {
		return fmt.Errorf("book throttle must be >0")
	}

	conn := c.Connection
	if conn.HeartbeatInterval <= 0 {
		return fmt.Errorf("connection heartbeatInterval must be >0")
	}
	if conn.InitialRetryDelay <= 0 {
		return fmt.Errorf("connection initialRetryDelay must be >0")
	}
	if conn.MaxRetryDelay < conn.InitialRetryDelay {
		return fmt.Errorf("connection maxRetryDelay must be >= initialRetryDelay")
	}
	if conn.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("connection maxReconnectAttempts must be >0")
	}
	if conn.DialTimeout < 0 || conn.WriteTimeout < 0 || conn.ReadLimit < 0 {
		return fmt.Errorf("connection timeouts and readLimit must be >= 0")
	}

	for key, venue := range c.Venues {
		if _, err := schema.ParseVenue(key); err != nil {
			return fmt.Errorf("venues: %w", err)
		}
		if venue.RequestsPerSecond < 0 {
			return fmt.Errorf("venues %s requestsPerSecond must be >= 0", key)
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	return nil
}

// Venue returns the overrides configured for venue, if any.
func (c AppConfig) Venue(venue schema.Venue) VenueConfig {
	return c.Venues[venue.Key()]
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := filepath.Clean(strings.TrimSpace(path))

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
