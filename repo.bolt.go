package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

type boltBookStorage struct {
	logger *zap.Logger
	client *bolt.DB
	config *BoltDBConfig
}

// GetBoltDBClient setup the database and the bucket then provides a ready to use client.
func GetBoltDBClient(config *Config) (*bolt.DB, error) {
	db, err := bolt.Open(config.BoltDB.FilePath, 0o600, &bolt.Options{Timeout: config.BoltDB.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open the database, %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, errB := tx.CreateBucketIfNotExists([]byte(config.BoltDB.BucketName)); errB != nil {
			return fmt.Errorf("failed to create %s bucket: %v", config.BoltDB.BucketName, errB)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up bucket: %v", err)
	}
	return db, nil
}

// NewBoltBookStorage provides an instance of bolt-based book storage.
func NewBoltBookStorage(logger *zap.Logger, boltConfig *BoltDBConfig, client *bolt.DB) BookStorage {
	return &boltBookStorage{
		logger: logger,
		client: client,
		config: boltConfig,
	}
}

// itob returns an 8-byte big endian representation of id so
// that cursor iteration follows the numeric order of ids.
func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

// Close shuts down the bolt-based book storage.
func (bs *boltBookStorage) Close() error {
	return bs.client.Close()
}

// Add inserts a new book record into boltdb store. The bucket
// sequence provides the ID when the book does not carry one.
func (bs *boltBookStorage) Add(_ context.Context, book *Book) error {
	return bs.client.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bs.config.BucketName))
		if book.ID < 0 {
			return fmt.Errorf("book id %d is not valid", book.ID)
		}
		if book.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			book.ID = int64(seq)
		} else if uint64(book.ID) > b.Sequence() {
			if err := b.SetSequence(uint64(book.ID)); err != nil {
				return err
			}
		}
		if b.Get(itob(book.ID)) != nil {
			return fmt.Errorf("book %d already exists", book.ID)
		}
		bookBytes, err := json.Marshal(book)
		if err != nil {
			return err
		}
		return b.Put(itob(book.ID), bookBytes)
	})
}

// GetOne retrieves a book record based on its ID from boltdb store.
func (bs *boltBookStorage) GetOne(_ context.Context, id int64) (Book, error) {
	var book Book
	// initialize a readable transaction.
	tx, err := bs.client.Begin(false)
	if err != nil {
		return book, err
	}
	defer tx.Rollback()

	result := tx.Bucket([]byte(bs.config.BucketName)).Get(itob(id))
	if result == nil {
		return book, ErrBookNotFound
	}
	err = json.Unmarshal(result, &book)
	return book, err
}

// Delete removes a book record based on its ID from boltdb store.
func (bs *boltBookStorage) Delete(_ context.Context, id int64) error {
	return bs.client.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bs.config.BucketName))
		if b.Get(itob(id)) == nil {
			return ErrBookNotFound
		}
		return b.Delete(itob(id))
	})
}

// Update replaces existing book record data.
func (bs *boltBookStorage) Update(_ context.Context, book Book) (Book, error) {
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return book, err
	}
	err = bs.client.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bs.config.BucketName))
		if b.Get(itob(book.ID)) == nil {
			return ErrBookNotFound
		}
		return b.Put(itob(book.ID), bookBytes)
	})
	if err != nil {
		return Book{}, err
	}
	return book, nil
}

// scan walks the bucket in ID order and collects the books accepted by keep.
func (bs *boltBookStorage) scan(keep func(Book) bool) ([]Book, error) {
	tx, err := bs.client.Begin(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Create a cursor on the books' bucket.
	c := tx.Bucket([]byte(bs.config.BucketName)).Cursor()

	books := []Book{}
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var book Book
		if err = json.Unmarshal(v, &book); err != nil {
			return nil, err
		}
		if keep(book) {
			books = append(books, book)
		}
	}
	return books, nil
}

// GetAll retrieves a list of all books stored in the bolt database.
func (bs *boltBookStorage) GetAll(_ context.Context) ([]Book, error) {
	return bs.scan(func(Book) bool { return true })
}

// Search retrieves books whose title or author contains the term.
func (bs *boltBookStorage) Search(_ context.Context, term string) ([]Book, error) {
	return bs.scan(func(b Book) bool { return MatchBook(b, term) })
}

// Authors retrieves the sorted distinct authors of all stored books.
func (bs *boltBookStorage) Authors(ctx context.Context) ([]string, error) {
	books, err := bs.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return DistinctAuthors(books), nil
}

// MatchBook reports whether term is a case-sensitive substring of the book title or author.
func MatchBook(book Book, term string) bool {
	return strings.Contains(book.Title, term) || strings.Contains(book.Author, term)
}

// DistinctAuthors returns each author of books exactly once in ascending order.
func DistinctAuthors(books []Book) []string {
	seen := make(map[string]struct{}, len(books))
	authors := []string{}
	for _, b := range books {
		if _, ok := seen[b.Author]; ok {
			continue
		}
		seen[b.Author] = struct{}{}
		authors = append(authors, b.Author)
	}
	sort.Strings(authors)
	return authors
}
