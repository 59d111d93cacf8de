package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// NewBookStorage connects to the configured persistence driver and
// provides the matching storage. Relational tables are migrated
// when `database.auto_migrate` is set.
func NewBookStorage(config *Config, logger *zap.Logger) (BookStorage, error) {
	switch config.Database.Driver {
	case DriverPostgres, DriverSQLite:
		db, err := GetGormDB(config, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s database: %s", config.Database.Driver, err)
		}
		if config.Database.AutoMigrate {
			if err = MigrateBooks(db); err != nil {
				return nil, fmt.Errorf("failed to migrate books table: %s", err)
			}
		}
		return NewGormBookStorage(logger, db), nil

	case DriverBolt:
		boltDBClient, err := GetBoltDBClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to boltDB server: %s", err)
		}
		return NewBoltBookStorage(logger, &config.BoltDB, boltDBClient), nil

	case DriverRedis:
		redisClient, err := GetRedisClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis server: %s", err)
		}
		return NewRedisBookStorage(logger, redisClient), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", config.Database.Driver)
}

// LoadSeedFile reads a yaml list of books.
func LoadSeedFile(path string) ([]Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var books []Book
	if err = yaml.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("invalid seed file %s: %w", path, err)
	}
	return books, nil
}

// SeedBooks inserts the given books only when the storage holds no book yet.
// It returns the number of inserted books.
func SeedBooks(ctx context.Context, storage BookStorage, books []Book) (int, error) {
	existing, err := storage.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) != 0 {
		return 0, nil
	}
	for i := range books {
		if err = storage.Add(ctx, &books[i]); err != nil {
			return i, fmt.Errorf("failed to seed book %q: %w", books[i].Title, err)
		}
	}
	return len(books), nil
}
