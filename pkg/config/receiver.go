package config

import (
	"fmt"
	"strings"

	"github.com/docker/go-units"
)

const (
	// DefaultReceiverListen is the default listen address of the receiver.
	DefaultReceiverListen = ":8080"

	// DefaultReceiverPath is the default URL path uploads are accepted on.
	DefaultReceiverPath = "/receiver"

	// DefaultReceiverRootDir is the default directory received files are
	// written below.
	DefaultReceiverRootDir = "./received"

	// DefaultMaxUploadSize caps the size of a single upload request.
	DefaultMaxUploadSize = "64MB"
)

// ReceiverConfig configures the reference receiver service.
type ReceiverConfig struct {
	Listen        string          `yaml:"listen" mapstructure:"listen"`
	Path          string          `yaml:"path,omitempty" mapstructure:"path"`
	RootDir       string          `yaml:"root_dir" mapstructure:"root_dir"`
	MaxUploadSize string          `yaml:"max_upload_size,omitempty" mapstructure:"max_upload_size"`
	CORSOrigins   []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	Database      *DatabaseConfig `yaml:"database,omitempty" mapstructure:"database"`

	// RateLimit throttles uploads per client address.
	RateLimit ReceiverRateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// ReceiverRateLimitConfig limits how many uploads a single client may send.
type ReceiverRateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings for the upload ledger.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

func (r *ReceiverConfig) applyDefaults() {
	if r.Listen == "" {
		r.Listen = DefaultReceiverListen
	}

	if r.Path == "" {
		r.Path = DefaultReceiverPath
	}

	if r.RootDir == "" {
		r.RootDir = DefaultReceiverRootDir
	}

	if r.MaxUploadSize == "" {
		r.MaxUploadSize = DefaultMaxUploadSize
	}

	if r.Database != nil && r.Database.Postgres.SSLMode == "" {
		r.Database.Postgres.SSLMode = "disable"
	}
}

// ReceiverOrDefault returns the receiver section, creating one with default
// values when the configuration has none.
func (c *Config) ReceiverOrDefault() *ReceiverConfig {
	if c.Receiver == nil {
		c.Receiver = &ReceiverConfig{}
		c.Receiver.applyDefaults()
	}

	return c.Receiver
}

// MaxUploadBytes returns the parsed upload size limit.
func (r *ReceiverConfig) MaxUploadBytes() (int64, error) {
	size, err := units.FromHumanSize(r.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("%w: receiver.max_upload_size: %v", ErrInvalidConfig, err)
	}

	return size, nil
}

// ValidateReceiver checks the receiver section.
func (c *Config) ValidateReceiver() error {
	r := c.Receiver
	if r == nil {
		return fmt.Errorf("%w: receiver section is required", ErrInvalidConfig)
	}

	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("%w: receiver.path must start with /", ErrInvalidConfig)
	}

	size, err := r.MaxUploadBytes()
	if err != nil {
		return err
	}

	if size <= 0 {
		return fmt.Errorf("%w: receiver.max_upload_size must be positive", ErrInvalidConfig)
	}

	if r.RateLimit.Enabled && r.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("%w: receiver.rate_limit.requests_per_minute must be positive",
			ErrInvalidConfig)
	}

	if r.Database != nil {
		switch r.Database.Driver {
		case "sqlite":
			if r.Database.SQLite.Path == "" {
				return fmt.Errorf("%w: receiver.database.sqlite.path is required",
					ErrInvalidConfig)
			}
		case "postgres":
			if r.Database.Postgres.Host == "" || r.Database.Postgres.Database == "" {
				return fmt.Errorf("%w: receiver.database.postgres host and database are required",
					ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unsupported receiver.database.driver %q",
				ErrInvalidConfig, r.Database.Driver)
		}
	}

	return nil
}
