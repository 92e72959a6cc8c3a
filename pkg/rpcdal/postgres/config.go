package postgres

import (
	"fmt"
	"time"
)

// Config holds the connection parameters for the RpcDal postgres reference
// implementation, mirroring the teacher's
// pkg/store/metadata/postgres.PostgresMetadataStoreConfig field set and
// mapstructure tags so pkg/config can decode it straight out of YAML/env.
type Config struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Database string `mapstructure:"database" yaml:"database"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode"`

	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// ApplyDefaults fills unset fields with the teacher's conservative pool
// sizing and timeouts.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 3
	}
	if c.ConnTimeout == 0 {
		c.ConnTimeout = 5 * time.Second
	}
}

// Validate checks that the required connection fields were supplied.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("rpcdal/postgres: host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("rpcdal/postgres: database is required")
	}
	if c.User == "" {
		return fmt.Errorf("rpcdal/postgres: user is required")
	}
	return nil
}

// DSN returns the libpq-style connection string both gorm's postgres
// dialector and golang-migrate's pgx driver accept.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, int(c.ConnTimeout.Seconds()))
}
