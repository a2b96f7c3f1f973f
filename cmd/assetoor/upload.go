package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/docker/go-units"
	"github.com/ethpandaops/assetoor/pkg/artifact"
	"github.com/ethpandaops/assetoor/pkg/config"
	"github.com/ethpandaops/assetoor/pkg/upload"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	uploadDir      string
	uploadMethod   string
	uploadReceiver string
	uploadTo       string
	uploadRetry    int
	uploadData     []string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Publish a build output directory",
	Long: `Upload every file below --dir to the configured receiver. HTML files
are never uploaded. Each file is retried up to the configured retry budget
before the run fails.`,
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVar(&uploadDir, "dir", "",
		"Build output directory to publish")
	uploadCmd.Flags().StringVar(&uploadMethod, "method", methodHTTP,
		"Upload method (\"http\" or \"s3\")")
	uploadCmd.Flags().StringVar(&uploadReceiver, "receiver", "",
		"Receiver URL (overrides upload.receiver)")
	uploadCmd.Flags().StringVar(&uploadTo, "to", "",
		"Remote directory (overrides upload.to)")
	uploadCmd.Flags().IntVar(&uploadRetry, "retry", config.DefaultRetry,
		"Additional attempts per file (overrides upload.retry)")
	uploadCmd.Flags().StringArrayVar(&uploadData, "data", nil,
		"Extra form field as key=value (repeatable)")

	_ = uploadCmd.MarkFlagRequired("dir")
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := applyUploadFlags(cmd, &cfg.Upload); err != nil {
		return err
	}

	if err := cfg.ValidateUpload(); err != nil {
		return fmt.Errorf("validating upload config: %w", err)
	}

	opts, err := upload.OptionsFromConfig(&cfg.Upload)
	if err != nil {
		return fmt.Errorf("building upload options: %w", err)
	}

	if opts.OutputDir == "" {
		opts.OutputDir = uploadDir
	}

	sender, err := newSender(uploadMethod, cfg, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := osfs.New(uploadDir)

	set, err := artifact.LoadFS(ctx, fs, ".", artifact.DefaultLoadConcurrency)
	if err != nil {
		return fmt.Errorf("loading artifacts from %s: %w", uploadDir, err)
	}

	log.WithFields(logrus.Fields{
		"dir":    uploadDir,
		"files":  set.Len(),
		"size":   units.HumanSize(float64(set.TotalSize())),
		"method": uploadMethod,
	}).Info("Artifacts loaded")

	pub, err := upload.NewPublisher(log, opts, sender)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}

	result := pub.RunBatch(ctx, set)

	if !cfg.Upload.KeepLocalFiles() && len(result.Uploaded) > 0 {
		if err := artifact.Prune(fs, ".", result.Uploaded); err != nil {
			log.WithError(err).Warn("Failed to remove uploaded files")
		} else {
			log.WithField("files", len(result.Uploaded)).Info("Removed uploaded files")
		}
	}

	if err := result.Err(); err != nil {
		return fmt.Errorf("publishing %s: %w", uploadDir, err)
	}

	return nil
}

// applyUploadFlags layers explicitly set flags over the loaded config.
func applyUploadFlags(cmd *cobra.Command, u *config.UploadConfig) error {
	if info, err := os.Stat(uploadDir); err != nil {
		return fmt.Errorf("checking --dir: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("--dir %s is not a directory", uploadDir)
	}

	if cmd.Flags().Changed("receiver") {
		u.Receiver = uploadReceiver
	}

	if cmd.Flags().Changed("to") {
		u.To = uploadTo
	}

	if cmd.Flags().Changed("retry") {
		retry := uploadRetry
		u.Retry = &retry
	}

	for _, kv := range uploadData {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --data %q (want key=value)", kv)
		}

		u.Data.Set(key, value)
	}

	return nil
}
