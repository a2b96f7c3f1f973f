package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/assetoor/pkg/config"
	"github.com/ethpandaops/assetoor/pkg/receiver/ledger"
)

func setupTestStore(t *testing.T) ledger.Store {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteDatabaseConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := ledger.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return s
}

func TestStore_RecordAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, &ledger.Upload{
			UploadID:    fmt.Sprintf("upload-%d", i),
			Destination: fmt.Sprintf("static/file-%d.js", i),
			FileName:    fmt.Sprintf("file-%d.js", i),
			Size:        int64(i * 10),
			ReceivedAt:  now.Add(time.Duration(i) * time.Second),
		}))
	}

	uploads, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, uploads, 3)

	// Newest first.
	assert.Equal(t, "upload-2", uploads[0].UploadID)
	assert.Equal(t, "upload-0", uploads[2].UploadID)
	assert.Equal(t, int64(20), uploads[0].Size)

	limited, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestStore_ListByDestination(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, &ledger.Upload{
		UploadID: "a", Destination: "static/main.js", ReceivedAt: time.Now(),
	}))
	require.NoError(t, s.Record(ctx, &ledger.Upload{
		UploadID: "b", Destination: "static/app.css", ReceivedAt: time.Now(),
	}))
	require.NoError(t, s.Record(ctx, &ledger.Upload{
		UploadID: "c", Destination: "static/main.js", ReceivedAt: time.Now(),
	}))

	uploads, err := s.ListByDestination(ctx, "static/main.js")
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, "c", uploads[0].UploadID)
	assert.Equal(t, "a", uploads[1].UploadID)

	none, err := s.ListByDestination(ctx, "static/missing.js")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_DuplicateUploadID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, &ledger.Upload{
		UploadID: "same", Destination: "a.js", ReceivedAt: time.Now(),
	}))
	require.Error(t, s.Record(ctx, &ledger.Upload{
		UploadID: "same", Destination: "b.js", ReceivedAt: time.Now(),
	}))
}

func TestStore_UnsupportedDriver(t *testing.T) {
	s := ledger.NewStore(logrus.New(), &config.DatabaseConfig{Driver: "mysql"})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
	require.NoError(t, s.Stop())
}
