package main

import (
	"fmt"

	"github.com/ethpandaops/assetoor/pkg/config"
	"github.com/ethpandaops/assetoor/pkg/upload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	methodHTTP = "http"
	methodS3   = "s3"
)

// loadConfig loads the merged configuration. The config file log level is
// applied unless --log-level was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if !cmd.Flags().Changed("log-level") {
		level, err := logrus.ParseLevel(cfg.Global.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Global.LogLevel, err)
		}

		log.SetLevel(level)
	}

	return cfg, nil
}

// newSender builds the sender for the given publishing method.
func newSender(method string, cfg *config.Config, opts *upload.Options) (upload.Sender, error) {
	switch method {
	case methodHTTP:
		return upload.NewHTTPSender(log, opts), nil
	case methodS3:
		if cfg.Upload.S3 == nil || !cfg.Upload.S3.Enabled {
			return nil, fmt.Errorf("S3 upload is not configured or not enabled in config")
		}

		sender, err := upload.NewS3Sender(log, cfg.Upload.S3)
		if err != nil {
			return nil, fmt.Errorf("creating S3 sender: %w", err)
		}

		return sender, nil
	default:
		return nil, fmt.Errorf("unsupported method %q (use %q or %q)", method, methodHTTP, methodS3)
	}
}
