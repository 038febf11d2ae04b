// Package config provides Viper-based configuration loading for the collaboration server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Mode is the server operation mode. Only "standalone" is supported.
	Mode string `mapstructure:"mode"`
	// Name identifies this instance in logs.
	Name string `mapstructure:"name"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// Storage driver names.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// StorageConfig selects the canvas snapshot and roster backend.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	// SeedFile optionally seeds the memory driver from a YAML file.
	SeedFile string `mapstructure:"seed_file"`
}

// Outbound queue overflow policies.
const (
	OverflowDropOldest = "drop-oldest"
	OverflowDisconnect = "disconnect"
)

// WebSocketConfig holds the websocket acceptor settings.
type WebSocketConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// Path is the websocket upgrade endpoint.
	Path string `mapstructure:"path"`
	// ReadLimit is the maximum inbound frame size in bytes.
	ReadLimit int64 `mapstructure:"read_limit"`
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendQueue is the per-session outbound queue capacity.
	SendQueue int `mapstructure:"send_queue"`
	// Overflow is the policy applied when a session's outbound queue is full.
	Overflow string `mapstructure:"overflow"`
	// AllowedOrigins restricts the upgrade Origin header. Empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// LivenessConfig holds heartbeat settings.
type LivenessConfig struct {
	// Interval is the probe period. A session that misses one probe is evicted on the next cycle.
	Interval time.Duration `mapstructure:"interval"`
}

// Snapshot persistence policies.
const (
	SnapshotModeInterval = "interval"
	SnapshotModeSample   = "sample"
)

// SnapshotConfig holds canvas persistence throttling settings.
type SnapshotConfig struct {
	// Mode is "interval" (per-room minimum interval) or "sample" (random fraction of draws).
	Mode string `mapstructure:"mode"`
	// MinInterval is the minimum time between two writes for the same room.
	MinInterval time.Duration `mapstructure:"min_interval"`
	// SampleRate is the per-draw write probability in sample mode.
	SampleRate float64 `mapstructure:"sample_rate"`
	// Workers is the number of persistence goroutines.
	Workers int `mapstructure:"workers"`
	// Queue is the capacity of the pending write queue.
	Queue int `mapstructure:"queue"`
	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// OpsConfig holds the gRPC health endpoint settings.
type OpsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
	// ProbeInterval is the period of the store health probe.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (o OpsConfig) Addr() string {
	return fmt.Sprintf("%s:%d", o.GRPCHost, o.GRPCPort)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Liveness  LivenessConfig  `mapstructure:"liveness"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Ops       OpsConfig       `mapstructure:"ops"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateServer(c.Server); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateStorage(c.Storage); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Storage.Driver == DriverPostgres {
		if err := validateDatabase(c.Database); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Liveness.Interval <= 0 {
		errs = append(errs, fmt.Sprintf("liveness.interval must be > 0, got %s", c.Liveness.Interval))
	}
	if err := validateSnapshot(c.Snapshot); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateOps(c.Ops); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Mode != "standalone" {
		return fmt.Errorf("server.mode must be one of [standalone], got %q", s.Mode)
	}
	if s.Name == "" {
		return errors.New("server.name must not be empty")
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch s.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres:
		if s.SeedFile != "" {
			return errors.New("storage.seed_file is only supported by the memory driver")
		}
		return nil
	}
	return fmt.Errorf("storage.driver must be one of [memory, postgres], got %q", s.Driver)
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.Port < 0 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("websocket.port must be 0-65535, got %d", w.Port))
	}
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with '/', got %q", w.Path))
	}
	if w.ReadLimit < 1 {
		errs = append(errs, fmt.Sprintf("websocket.read_limit must be >= 1, got %d", w.ReadLimit))
	}
	if w.WriteTimeout < 0 {
		errs = append(errs, "websocket.write_timeout must not be negative")
	}
	if w.SendQueue < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_queue must be >= 1, got %d", w.SendQueue))
	}
	if w.Overflow != OverflowDropOldest && w.Overflow != OverflowDisconnect {
		errs = append(errs, fmt.Sprintf("websocket.overflow must be one of [drop-oldest, disconnect], got %q", w.Overflow))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateSnapshot(s SnapshotConfig) error {
	var errs []string
	switch s.Mode {
	case SnapshotModeInterval:
		if s.MinInterval <= 0 {
			errs = append(errs, fmt.Sprintf("snapshot.min_interval must be > 0, got %s", s.MinInterval))
		}
	case SnapshotModeSample:
		if s.SampleRate <= 0 || s.SampleRate > 1 {
			errs = append(errs, fmt.Sprintf("snapshot.sample_rate must be in (0, 1], got %g", s.SampleRate))
		}
	default:
		errs = append(errs, fmt.Sprintf("snapshot.mode must be one of [interval, sample], got %q", s.Mode))
	}
	if s.Workers < 1 {
		errs = append(errs, fmt.Sprintf("snapshot.workers must be >= 1, got %d", s.Workers))
	}
	if s.Queue < 1 {
		errs = append(errs, fmt.Sprintf("snapshot.queue must be >= 1, got %d", s.Queue))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, "snapshot.write_timeout must be > 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateOps(o OpsConfig) error {
	if !o.Enabled {
		return nil
	}
	var errs []string
	if o.GRPCHost == "" {
		errs = append(errs, "ops.grpc_host must not be empty")
	}
	if o.GRPCPort < 1 || o.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("ops.grpc_port must be 1-65535, got %d", o.GRPCPort))
	}
	if o.ProbeInterval <= 0 {
		errs = append(errs, fmt.Sprintf("ops.probe_interval must be > 0, got %s", o.ProbeInterval))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and ARTCHAIN_ environment
// overrides applied but no config file attached.
//
// Postcondition: Returns a non-nil *viper.Viper.
func NewViper() *viper.Viper {
	v := viper.New()

	// Environment variable overrides with ARTCHAIN_ prefix
	v.SetEnvPrefix("ARTCHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "standalone")
	v.SetDefault("server.name", "artchain-collab")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "artchain")
	v.SetDefault("database.password", "artchain")
	v.SetDefault("database.name", "artchain")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.seed_file", "")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 5000)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_limit", 10*1024*1024)
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.send_queue", 256)
	v.SetDefault("websocket.overflow", OverflowDropOldest)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("liveness.interval", "30s")

	v.SetDefault("snapshot.mode", SnapshotModeInterval)
	v.SetDefault("snapshot.min_interval", "5s")
	v.SetDefault("snapshot.sample_rate", 0.05)
	v.SetDefault("snapshot.workers", 2)
	v.SetDefault("snapshot.queue", 64)
	v.SetDefault("snapshot.write_timeout", "5s")

	v.SetDefault("ops.enabled", false)
	v.SetDefault("ops.grpc_host", "127.0.0.1")
	v.SetDefault("ops.grpc_port", 50051)
	v.SetDefault("ops.probe_interval", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
