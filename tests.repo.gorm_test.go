package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestSQLiteStore returns an orm storage over a sqlite file in a temporary
// folder. An in-memory dsn would give each pooled connection its own database.
func newTestSQLiteStore(t *testing.T) BookStorage {
	t.Helper()
	config := &Config{
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			DSN:         filepath.Join(t.TempDir(), "books.db"),
			AutoMigrate: true,
		},
	}
	s, err := NewBookStorage(config, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	testBookStorage(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_ExplicitIDs(t *testing.T) {
	testExplicitIDs(t, newTestSQLiteStore(t))
}

func TestSQLiteStore_AddBookWithID(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	b := Book{ID: 42, Title: "Explicit id", Author: "Someone"}
	require.NoError(t, s.Add(ctx, &b))
	got, err := s.GetOne(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	dup := Book{ID: 42, Title: "Duplicate", Author: "Someone"}
	assert.Error(t, s.Add(ctx, &dup))
}

func TestSQLiteStore_CancelledContext(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.GetAll(ctx)
	assert.Error(t, err)
}

func TestGetGormDB_UnsupportedDriver(t *testing.T) {
	_, err := GetGormDB(&Config{Database: DatabaseConfig{Driver: DriverBolt}}, zap.NewNop())
	assert.Error(t, err)
}
