package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/assetoor/pkg/receiver"
	"github.com/spf13/cobra"
)

var (
	receiverListen  string
	receiverRootDir string
)

var receiverCmd = &cobra.Command{
	Use:   "receiver",
	Short: "Start a reference upload receiver",
	Long: `Start an HTTP server that accepts multipart uploads, writes each file
below the root directory at its destination path and answers "0".`,
	RunE: runReceiver,
}

func init() {
	rootCmd.AddCommand(receiverCmd)

	receiverCmd.Flags().StringVar(&receiverListen, "listen", "",
		"Listen address (overrides receiver.listen)")
	receiverCmd.Flags().StringVar(&receiverRootDir, "root-dir", "",
		"Directory received files are written below (overrides receiver.root_dir)")
}

func runReceiver(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rcfg := cfg.ReceiverOrDefault()

	if cmd.Flags().Changed("listen") {
		rcfg.Listen = receiverListen
	}

	if cmd.Flags().Changed("root-dir") {
		rcfg.RootDir = receiverRootDir
	}

	if err := cfg.ValidateReceiver(); err != nil {
		return fmt.Errorf("validating receiver config: %w", err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	srv := receiver.NewServer(log, rcfg)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting receiver: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down receiver")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping receiver: %w", err)
	}

	return nil
}
