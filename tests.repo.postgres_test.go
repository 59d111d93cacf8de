package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startPostgresDockerContainer(t *testing.T) string {
	t.Helper()
	pool := newDockerPool(t)

	resource, err := pool.Run("postgres", "15-alpine", []string{
		"POSTGRES_USER=shelfgate",
		"POSTGRES_PASSWORD=secret",
		"POSTGRES_DB=books",
	})
	if err != nil {
		t.Fatalf("Failed to start postgres: %+v", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("Failed to purge resource: %+v", err)
		}
	})

	dsn := fmt.Sprintf("host=localhost port=%s user=shelfgate password=secret dbname=books sslmode=disable",
		resource.GetPort("5432/tcp"))

	err = pool.Retry(func() error {
		db, err := GetGormDB(&Config{Database: DatabaseConfig{Driver: DriverPostgres, DSN: dsn}}, zap.NewNop())
		if err != nil {
			return err
		}
		sqlDB, _ := db.DB()
		return sqlDB.Close()
	})
	if err != nil {
		t.Fatalf("Failed to ping Postgres: %+v", err)
	}
	return dsn
}

func TestPostgresStore(t *testing.T) {
	dsn := startPostgresDockerContainer(t)
	s, err := NewBookStorage(&Config{
		Database: DatabaseConfig{
			Driver:       DriverPostgres,
			DSN:          dsn,
			MaxOpenConns: 4,
			AutoMigrate:  true,
		},
	}, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	testBookStorage(t, s)

	t.Run("Add Book With Explicit ID", func(t *testing.T) {
		testExplicitIDs(t, s)
	})
}
