// Package ledger records uploads accepted by the receiver.
package ledger

import (
	"context"
	"fmt"

	"github.com/ethpandaops/assetoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultListLimit is used by List when no positive limit is given.
const DefaultListLimit = 100

// Store provides persistence for received uploads.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	Record(ctx context.Context, upload *Upload) error
	List(ctx context.Context, limit int) ([]Upload, error)
	ListByDestination(ctx context.Context, destination string) ([]Upload, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new ledger Store backed by the configured database
// driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "ledger"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return fmt.Errorf("opening ledger database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&Upload{}); err != nil {
		return fmt.Errorf("running ledger migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Ledger database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Record inserts a new upload entry.
func (s *store) Record(ctx context.Context, upload *Upload) error {
	if err := s.db.WithContext(ctx).Create(upload).Error; err != nil {
		return fmt.Errorf("recording upload: %w", err)
	}

	return nil
}

// List returns the most recent uploads, newest first.
func (s *store) List(ctx context.Context, limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var uploads []Upload
	if err := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}

	return uploads, nil
}

// ListByDestination returns every upload written to destination, newest
// first.
func (s *store) ListByDestination(
	ctx context.Context, destination string,
) ([]Upload, error) {
	var uploads []Upload
	if err := s.db.WithContext(ctx).
		Where("destination = ?", destination).
		Order("id DESC").
		Find(&uploads).Error; err != nil {
		return nil, fmt.Errorf("listing uploads for destination: %w", err)
	}

	return uploads, nil
}
