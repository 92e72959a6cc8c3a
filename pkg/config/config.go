// Package config loads the synccore server configuration from a YAML file,
// environment variables, and defaults, mirroring the teacher's
// pkg/config.Load precedence chain (env > file > defaults). No CLI flag is
// layered in; cmd/synccore's --config flag only selects the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/syncore/coreserver/internal/bytesize"
	"github.com/syncore/coreserver/internal/logger"
	"github.com/syncore/coreserver/internal/telemetry"
	"github.com/syncore/coreserver/pkg/metricshttp"
	"github.com/syncore/coreserver/pkg/rpcdal/postgres"
)

// Config is the complete synccore server configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (SYNCCORE_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls continuous profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Server controls the transfer listener and graceful shutdown.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database selects and configures the RpcDal backend.
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// BlobStore selects and configures the content blob backend.
	BlobStore BlobStoreConfig `mapstructure:"blobstore" yaml:"blobstore"`

	// UploadRegistry configures the badger-backed resumable upload ledger.
	UploadRegistry UploadRegistryConfig `mapstructure:"upload_registry" yaml:"upload_registry"`

	// Transfer controls per-connection upload/download tuning.
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Metrics contains Prometheus/health HTTP server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// TelemetryConfig controls continuous profiling.
type TelemetryConfig struct {
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig mirrors internal/telemetry.ProfilingConfig with
// mapstructure/yaml tags so it can be decoded directly from file/env.
type ProfilingConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled"`
	ServiceName    string   `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string   `mapstructure:"service_version" yaml:"service_version"`
	Endpoint       string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes   []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// ServerConfig controls the transfer protocol listener.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MagicSaltHex    string        `mapstructure:"magic_salt_hex" yaml:"magic_salt_hex"`
}

// DatabaseConfig selects the RpcDal backend. "postgres" uses
// pkg/rpcdal/postgres against Postgres; "fake" uses the in-memory
// pkg/rpcdal/fake store for local development and tests.
type DatabaseConfig struct {
	Type     string          `mapstructure:"type" yaml:"type"`
	Postgres postgres.Config `mapstructure:"postgres" yaml:"postgres"`
}

// BlobStoreConfig selects the content blob backend. "fs" stores blobs on
// local disk; "s3" stores them in an S3-compatible bucket.
type BlobStoreConfig struct {
	Type string        `mapstructure:"type" yaml:"type"`
	FS   FSStoreConfig `mapstructure:"fs" yaml:"fs"`
	S3   S3StoreConfig `mapstructure:"s3" yaml:"s3"`
}

// FSStoreConfig configures pkg/blobstore/fs.
type FSStoreConfig struct {
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// S3StoreConfig configures pkg/blobstore/s3. Credentials and region are
// resolved by the default AWS SDK credential chain (env vars, shared
// config, instance role); only bucket/prefix/part size are user-facing.
type S3StoreConfig struct {
	Bucket    string            `mapstructure:"bucket" yaml:"bucket"`
	KeyPrefix string            `mapstructure:"key_prefix" yaml:"key_prefix"`
	Region    string            `mapstructure:"region" yaml:"region"`
	Endpoint  string            `mapstructure:"endpoint" yaml:"endpoint"`
	PartSize  bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size"`
}

// UploadRegistryConfig configures the badger-backed upload job ledger.
type UploadRegistryConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	GCInterval  time.Duration `mapstructure:"gc_interval" yaml:"gc_interval"`
	GCTimeout   time.Duration `mapstructure:"gc_timeout" yaml:"gc_timeout"`
}

// TransferConfig controls per-connection upload/download tuning.
type TransferConfig struct {
	FlushThreshold bytesize.ByteSize `mapstructure:"flush_threshold" yaml:"flush_threshold"`
	QueueCapacity  int               `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	BytesPayload   bytesize.ByteSize `mapstructure:"bytes_payload" yaml:"bytes_payload"`
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// MetricsConfig configures the Prometheus/health HTTP server.
type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// ToMetricsHTTPConfig adapts MetricsConfig to metricshttp.Config.
func (c MetricsConfig) ToMetricsHTTPConfig() metricshttp.Config {
	return metricshttp.Config{
		Port:         c.Port,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		IdleTimeout:  c.IdleTimeout,
	}
}

// ToProfilingConfig adapts ProfilingConfig to telemetry.ProfilingConfig.
func (c ProfilingConfig) ToProfilingConfig() telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Enabled,
		ServiceName:    c.ServiceName,
		ServiceVersion: c.ServiceVersion,
		Endpoint:       c.Endpoint,
		ProfileTypes:   c.ProfileTypes,
	}
}

// ToLoggerConfig adapts LoggingConfig to logger.Config.
func (c LoggingConfig) ToLoggerConfig() logger.Config {
	return logger.Config{Level: c.Level, Format: c.Format, Output: c.Output}
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if found {
		if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("config: unmarshal: %w", err)
		}
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// MustLoad loads configuration, translating a missing config file into an
// actionable error pointing at `synccore init`.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Initialize one first:\n  synccore init\n\n"+
				"Or point at an existing file:\n  synccore <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Create it with:\n  synccore init --config %s", configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: load: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path in YAML, matching yaml struct tags.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SYNCCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined mapstructure decode hook used to
// unmarshal human-readable durations and byte sizes out of YAML/env.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "synccore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "synccore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
