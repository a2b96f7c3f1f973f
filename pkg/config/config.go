package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/assetoor/pkg/formdata"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// ASSETOOR_UPLOAD_RECEIVER overrides upload.receiver.
	EnvPrefix = "ASSETOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultRetry is the default number of additional attempts per artifact.
	DefaultRetry = 2

	// DefaultMethod is the default HTTP method used for uploads.
	DefaultMethod = "POST"

	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = "30s"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for assetoor.
type Config struct {
	Global   GlobalConfig    `yaml:"global" mapstructure:"global"`
	Upload   UploadConfig    `yaml:"upload" mapstructure:"upload"`
	Receiver *ReceiverConfig `yaml:"receiver,omitempty" mapstructure:"receiver"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// envKeys lists every scalar key that may be overridden from the
// environment. Map-valued keys (upload.data, upload.headers) are file-only.
var envKeys = []string{
	"global.log_level",
	"upload.receiver",
	"upload.to",
	"upload.retry",
	"upload.retry_delay",
	"upload.method",
	"upload.file_field",
	"upload.timeout",
	"upload.keep_alive",
	"upload.keep_local",
	"upload.continue_on_error",
	"upload.output_dir",
	"upload.rate_limit.requests_per_second",
	"upload.s3.enabled",
	"upload.s3.endpoint_url",
	"upload.s3.region",
	"upload.s3.bucket",
	"upload.s3.prefix",
	"upload.s3.access_key_id",
	"upload.s3.secret_access_key",
	"upload.s3.force_path_style",
	"upload.s3.storage_class",
	"upload.s3.acl",
	"receiver.listen",
	"receiver.path",
	"receiver.root_dir",
	"receiver.max_upload_size",
	"receiver.rate_limit.enabled",
	"receiver.rate_limit.requests_per_minute",
	"receiver.database.driver",
	"receiver.database.sqlite.path",
	"receiver.database.postgres.host",
	"receiver.database.postgres.port",
	"receiver.database.postgres.user",
	"receiver.database.postgres.password",
	"receiver.database.postgres.database",
	"receiver.database.postgres.ssl_mode",
}

// Load reads and merges the given configuration files in order, applies
// environment overrides and defaults. With no paths, the configuration is
// built from the environment alone.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	raw := make([][]byte, 0, len(paths))

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}

		raw = append(raw, data)
	}

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// Viper lower-cases map keys and loses their order, so form fields and
	// headers are read from the raw documents instead.
	for i, data := range raw {
		if err := cfg.Upload.mergeOrdered(data); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", paths[i], err)
		}
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	c.Upload.applyDefaults()

	if c.Receiver != nil {
		c.Receiver.applyDefaults()
	}
}

// orderedUpload mirrors the parts of the upload section whose key case and
// order must be preserved.
type orderedUpload struct {
	Upload struct {
		Data    yaml.Node         `yaml:"data"`
		Headers map[string]string `yaml:"headers"`
	} `yaml:"upload"`
}

// mergeOrdered merges upload.data and upload.headers from a raw YAML
// document. Later documents override earlier values in place.
func (u *UploadConfig) mergeOrdered(data []byte) error {
	var doc orderedUpload
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}

	if doc.Upload.Data.Kind != 0 {
		fields, err := decodeFields(&doc.Upload.Data)
		if err != nil {
			return fmt.Errorf("upload.data: %w", err)
		}

		for _, f := range fields {
			u.Data.Set(f.Name, f.Value)
		}
	}

	if len(doc.Upload.Headers) > 0 && u.Headers == nil {
		u.Headers = make(map[string]string, len(doc.Upload.Headers))
	}

	for k, val := range doc.Upload.Headers {
		u.Headers[k] = val
	}

	return nil
}

// decodeFields turns a YAML mapping of scalars into ordered form fields.
func decodeFields(node *yaml.Node) (formdata.Fields, error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}

	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKind(node))
	}

	fields := make(formdata.Fields, 0, len(node.Content)/2)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		if value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("field %q: expected a scalar value, got %s",
				key.Value, nodeKind(value))
		}

		fields.Set(key.Value, value.Value)
	}

	return fields, nil
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
