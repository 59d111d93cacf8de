package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type gormBookStorage struct {
	logger *zap.Logger
	db     *gorm.DB
}

// GetGormDB opens the relational database selected by the configured
// driver, applies the pool settings and checks the connection.
func GetGormDB(config *Config, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch config.Database.Driver {
	case DriverPostgres:
		dialector = postgres.Open(config.Database.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(config.Database.DSN)
	default:
		return nil, fmt.Errorf("driver %q is not a relational driver", config.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 NewGormLogger(logger),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open the database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access the database pool: %w", err)
	}
	if config.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.Database.MaxOpenConns)
	}
	if config.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.Database.MaxIdleConns)
	}
	if config.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.Database.ConnMaxLifetime)
	}

	// test connection.
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("test connection failed: %w", err)
	}
	return db, nil
}

// MigrateBooks creates or updates the books table to match the Book model.
func MigrateBooks(db *gorm.DB) error {
	return db.AutoMigrate(&Book{})
}

// NewGormBookStorage provides an instance of orm-based book storage.
func NewGormBookStorage(logger *zap.Logger, db *gorm.DB) BookStorage {
	return &gormBookStorage{
		logger: logger,
		db:     db,
	}
}

// session returns a fresh orm session bound to the request context.
func (gs *gormBookStorage) session(ctx context.Context) *gorm.DB {
	return gs.db.WithContext(ctx)
}

// Close releases the database pool.
func (gs *gormBookStorage) Close() error {
	sqlDB, err := gs.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Add inserts a new book record. A zero ID lets the database assign
// one, which is then available on the given book. On postgres an explicit
// ID moves the serial sequence past it so later generated ids never collide.
func (gs *gormBookStorage) Add(ctx context.Context, book *Book) error {
	if book.ID == 0 || gs.db.Dialector.Name() != DriverPostgres {
		return gs.session(ctx).Create(book).Error
	}
	return gs.session(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(book).Error; err != nil {
			return err
		}
		return tx.Exec(
			"SELECT setval(pg_get_serial_sequence('books', 'id'), (SELECT MAX(id) FROM books))",
		).Error
	})
}

// GetOne retrieves a book record based on its ID.
func (gs *gormBookStorage) GetOne(ctx context.Context, id int64) (Book, error) {
	var book Book
	err := gs.session(ctx).First(&book, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Book{}, ErrBookNotFound
	}
	return book, err
}

// Delete removes a book record based on its ID.
func (gs *gormBookStorage) Delete(ctx context.Context, id int64) error {
	result := gs.session(ctx).Delete(&Book{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBookNotFound
	}
	return nil
}

// Update overwrites all the fields of an existing book record.
func (gs *gormBookStorage) Update(ctx context.Context, book Book) (Book, error) {
	err := gs.session(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Book
		if err := tx.Select("id").First(&existing, book.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		return tx.Model(&existing).Select("*").Updates(&book).Error
	})
	if err != nil {
		return Book{}, err
	}
	return book, nil
}

// GetAll retrieves a list of all books ordered by their ID.
func (gs *gormBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	books := []Book{}
	err := gs.session(ctx).Order("id").Find(&books).Error
	return books, err
}

// Search retrieves books whose title or author contains the term. The
// match is case-sensitive on every dialect: sqlite LIKE folds ASCII case
// so position functions are used instead.
func (gs *gormBookStorage) Search(ctx context.Context, term string) ([]Book, error) {
	books := []Book{}
	var query string
	switch gs.db.Dialector.Name() {
	case "postgres":
		query = "strpos(title, ?) > 0 OR strpos(author, ?) > 0"
	default:
		query = "instr(title, ?) > 0 OR instr(author, ?) > 0"
	}
	err := gs.session(ctx).Where(query, term, term).Order("id").Find(&books).Error
	return books, err
}

// Authors retrieves the distinct authors of all stored books.
func (gs *gormBookStorage) Authors(ctx context.Context) ([]string, error) {
	authors := []string{}
	err := gs.session(ctx).Model(&Book{}).Distinct("author").Order("author").Pluck("author", &authors).Error
	return authors, err
}
