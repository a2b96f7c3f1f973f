package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ethpandaops/assetoor/pkg/formdata"
)

// UploadConfig configures how artifacts are published to the receiver.
type UploadConfig struct {
	// Receiver is the URL of the receiving service.
	Receiver string `yaml:"receiver" mapstructure:"receiver"`

	// To is the remote directory artifacts are published under.
	To string `yaml:"to" mapstructure:"to"`

	// Data holds extra static form fields sent with every upload, in file order.
	Data formdata.Fields `yaml:"data,omitempty" mapstructure:"-"`

	// Retry is the number of additional attempts after the first one.
	Retry *int `yaml:"retry,omitempty" mapstructure:"retry"`

	RetryDelay      string                `yaml:"retry_delay,omitempty" mapstructure:"retry_delay"`
	Method          string                `yaml:"method,omitempty" mapstructure:"method"`
	FileField       string                `yaml:"file_field,omitempty" mapstructure:"file_field"`
	Headers         map[string]string     `yaml:"headers,omitempty" mapstructure:"-"`
	Timeout         string                `yaml:"timeout,omitempty" mapstructure:"timeout"`
	KeepAlive       bool                  `yaml:"keep_alive" mapstructure:"keep_alive"`
	KeepLocal       *bool                 `yaml:"keep_local,omitempty" mapstructure:"keep_local"`
	ContinueOnError bool                  `yaml:"continue_on_error" mapstructure:"continue_on_error"`
	OutputDir       string                `yaml:"output_dir,omitempty" mapstructure:"output_dir"`
	RateLimit       UploadRateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	S3              *S3UploadConfig       `yaml:"s3,omitempty" mapstructure:"s3"`
}

// UploadRateLimitConfig paces requests sent to the receiver.
type UploadRateLimitConfig struct {
	// RequestsPerSecond caps the request rate. Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// S3UploadConfig configures publishing artifacts to S3-compatible storage
// instead of an HTTP receiver.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

func (u *UploadConfig) applyDefaults() {
	if u.Retry == nil {
		retry := DefaultRetry
		u.Retry = &retry
	}

	if u.Method == "" {
		u.Method = DefaultMethod
	}

	if u.FileField == "" {
		u.FileField = formdata.DefaultFileField
	}

	if u.Timeout == "" {
		u.Timeout = DefaultTimeout
	}

	if u.KeepLocal == nil {
		keep := true
		u.KeepLocal = &keep
	}
}

// RetryBudget returns the configured retry budget.
func (u *UploadConfig) RetryBudget() int {
	if u.Retry == nil {
		return DefaultRetry
	}

	return *u.Retry
}

// KeepLocalFiles reports whether uploaded files stay on disk.
func (u *UploadConfig) KeepLocalFiles() bool {
	return u.KeepLocal == nil || *u.KeepLocal
}

// TimeoutDuration returns the parsed request timeout.
func (u *UploadConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration("upload.timeout", u.Timeout)
}

// RetryDelayDuration returns the parsed delay between attempts.
func (u *UploadConfig) RetryDelayDuration() (time.Duration, error) {
	return parseDuration("upload.retry_delay", u.RetryDelay)
}

// ValidateUpload checks the upload section. The receiver URL and remote
// directory are required even when publishing to S3, since the remote
// directory forms the object keys and the receiver is the default target.
func (c *Config) ValidateUpload() error {
	u := &c.Upload

	if u.Receiver == "" {
		return fmt.Errorf("%w: upload.receiver is required", ErrInvalidConfig)
	}

	if u.To == "" {
		return fmt.Errorf("%w: upload.to is required", ErrInvalidConfig)
	}

	if _, err := url.Parse(u.Receiver); err != nil {
		return fmt.Errorf("%w: upload.receiver: %v", ErrInvalidConfig, err)
	}

	if u.RetryBudget() < 0 {
		return fmt.Errorf("%w: upload.retry must be >= 0, got %d",
			ErrInvalidConfig, u.RetryBudget())
	}

	if _, err := u.TimeoutDuration(); err != nil {
		return err
	}

	if _, err := u.RetryDelayDuration(); err != nil {
		return err
	}

	if u.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: upload.rate_limit.requests_per_second must be >= 0",
			ErrInvalidConfig)
	}

	if u.S3 != nil && u.S3.Enabled && u.S3.Bucket == "" {
		return fmt.Errorf("%w: upload.s3.bucket is required when s3 is enabled",
			ErrInvalidConfig)
	}

	return nil
}

func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, key)
	}

	return d, nil
}
