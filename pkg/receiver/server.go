// Package receiver implements a reference upload receiver. It accepts the
// multipart protocol spoken by the publisher, writes each file below a
// root directory and answers with the success sentinel.
package receiver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ethpandaops/assetoor/pkg/config"
	"github.com/ethpandaops/assetoor/pkg/receiver/ledger"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the receiver HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.ReceiverConfig
	maxBytes   int64
	fs         billy.Filesystem
	ledger     ledger.Store
	limiters   *rateLimiterMap
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
	stopErr    error
}

// NewServer creates a new receiver server writing below cfg.RootDir.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ReceiverConfig,
) Server {
	return &server{
		log:  log.WithField("component", "receiver"),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start opens the ledger, prepares the root directory and starts the HTTP
// server.
func (s *server) Start(ctx context.Context) error {
	if err := s.prepare(ctx); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.stopLedger()

		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	if s.limiters != nil {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			s.limiters.runCleanup(s.done)
		}()
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithFields(logrus.Fields{
			"listen":   s.cfg.Listen,
			"path":     s.cfg.Path,
			"root_dir": s.cfg.RootDir,
		}).Info("Receiver starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// prepare sets up everything the router needs. Dependencies already set
// are kept.
func (s *server) prepare(ctx context.Context) error {
	maxBytes, err := s.cfg.MaxUploadBytes()
	if err != nil {
		return err
	}

	s.maxBytes = maxBytes

	if s.fs == nil {
		if err := os.MkdirAll(s.cfg.RootDir, 0o755); err != nil {
			return fmt.Errorf("creating root dir: %w", err)
		}

		s.fs = osfs.New(s.cfg.RootDir)
	}

	if s.limiters == nil && s.cfg.RateLimit.Enabled {
		s.limiters = newRateLimiterMap(s.cfg.RateLimit.RequestsPerMinute)
	}

	if s.ledger == nil && s.cfg.Database != nil {
		store := ledger.NewStore(s.log, s.cfg.Database)
		if err := store.Start(ctx); err != nil {
			return fmt.Errorf("starting ledger: %w", err)
		}

		s.ledger = store
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the ledger. Calls
// after the first return the first call's result.
func (s *server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(
				context.Background(), shutdownTimeout,
			)
			defer cancel()

			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.WithError(err).Warn("HTTP server shutdown error")
			}
		}

		s.wg.Wait()

		if s.ledger != nil {
			if err := s.ledger.Stop(); err != nil {
				s.stopErr = fmt.Errorf("stopping ledger: %w", err)

				return
			}
		}

		s.log.Info("Receiver stopped")
	})

	return s.stopErr
}

// stopLedger releases a ledger opened by a Start that did not complete.
func (s *server) stopLedger() {
	if s.ledger == nil {
		return
	}

	if err := s.ledger.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop ledger")
	}

	s.ledger = nil
}
