package config

import (
	"strings"
	"time"

	"github.com/syncore/coreserver/internal/bytesize"
)

// ApplyDefaults fills zero-valued fields with sensible defaults, the way
// the teacher's pkg/config.ApplyDefaults does: zero values are replaced,
// explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyProfilingDefaults(&cfg.Telemetry.Profiling)
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyBlobStoreDefaults(&cfg.BlobStore)
	applyUploadRegistryDefaults(&cfg.UploadRegistry)
	applyTransferDefaults(&cfg.Transfer)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "synccore"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":7777"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyDatabaseDefaults defaults the RpcDal backend to "postgres"; the
// postgres.Config sub-struct fills in its own host/port/pool defaults via
// postgres.Config.ApplyDefaults, called by pkg/rpcdal/postgres.New itself.
func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.Type == "" {
		cfg.Type = "postgres"
	}
}

func applyBlobStoreDefaults(cfg *BlobStoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "fs"
	}
	if cfg.FS.BasePath == "" {
		cfg.FS.BasePath = "/var/lib/synccore/blobs"
	}
	if cfg.S3.KeyPrefix == "" {
		cfg.S3.KeyPrefix = "blobs/"
	}
	if cfg.S3.PartSize == 0 {
		cfg.S3.PartSize = 5 * bytesize.MiB
	}
}

func applyUploadRegistryDefaults(cfg *UploadRegistryConfig) {
	if cfg.Path == "" {
		cfg.Path = "/var/lib/synccore/uploads"
	}
	if cfg.GCInterval == 0 {
		cfg.GCInterval = 5 * time.Minute
	}
	if cfg.GCTimeout == 0 {
		cfg.GCTimeout = 24 * time.Hour
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.FlushThreshold == 0 {
		cfg.FlushThreshold = 64 * bytesize.KiB
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = 32
	}
	if cfg.BytesPayload == 0 {
		cfg.BytesPayload = 64 * bytesize.KiB
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 4 * bytesize.MiB
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}
