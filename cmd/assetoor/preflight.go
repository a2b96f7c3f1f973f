package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/assetoor/pkg/upload"
	"github.com/spf13/cobra"
)

const preflightTimeout = 30 * time.Second

var preflightMethod string

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check that the upload target is reachable",
	Long: `Probe the configured receiver, or write a test object to S3 when
--method s3 is used, without uploading any artifacts.`,
	RunE: runPreflight,
}

func init() {
	rootCmd.AddCommand(preflightCmd)

	preflightCmd.Flags().StringVar(&preflightMethod, "method", methodHTTP,
		"Upload method (\"http\" or \"s3\")")
}

func runPreflight(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.ValidateUpload(); err != nil {
		return fmt.Errorf("validating upload config: %w", err)
	}

	opts, err := upload.OptionsFromConfig(&cfg.Upload)
	if err != nil {
		return fmt.Errorf("building upload options: %w", err)
	}

	sender, err := newSender(preflightMethod, cfg, opts)
	if err != nil {
		return err
	}

	pf, ok := sender.(upload.Preflighter)
	if !ok {
		return fmt.Errorf("method %q does not support preflight checks", preflightMethod)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), preflightTimeout)
	defer cancel()

	if err := pf.Preflight(ctx); err != nil {
		return fmt.Errorf("preflight check failed: %w", err)
	}

	log.WithField("method", preflightMethod).Info("Preflight check passed")

	return nil
}
