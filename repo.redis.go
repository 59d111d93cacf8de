package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	HBooks       string = "books"
	BookSequence string = "books:seq"
)

type redisBookStorage struct {
	logger *zap.Logger
	client *redis.Client
}

// NewRedisBookStorage provides an instance of redis-based book storage.
func NewRedisBookStorage(logger *zap.Logger, client *redis.Client) BookStorage {
	return &redisBookStorage{
		logger: logger,
		client: client,
	}
}

// GetRedisClient provides a ready to use redis client.
func GetRedisClient(config *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", config.Redis.Host, config.Redis.Port),
		DialTimeout:  config.Redis.DialTimeout,
		ReadTimeout:  config.Redis.ReadTimeout,
		WriteTimeout: config.Redis.WriteTimeout,
		PoolSize:     config.Redis.PoolSize,
		PoolTimeout:  config.Redis.PoolTimeout,
		Password:     config.Redis.Password,
		Username:     config.Redis.Username,
		DB:           config.Redis.DatabaseIndex,
	})

	// test connection.
	if pong, err := client.Ping(context.Background()).Result(); pong != "PONG" || err != nil {
		return client, fmt.Errorf("test connection failed: %v", err)
	}
	return client, nil
}

// Close closes the underlying redis client.
func (rs *redisBookStorage) Close() error {
	return rs.client.Close()
}

// raiseSequence sets the books sequence to id when it is behind it.
var raiseSequence = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local id = tonumber(ARGV[1])
if id > current then
  redis.call("SET", KEYS[1], id)
end
return current`)

// Add inserts a new book record. The ID comes from an INCR sequence
// when the book does not carry one. An explicit ID raises the sequence
// so that later generated ids skip it. HSetNX refuses to overwrite.
func (rs *redisBookStorage) Add(ctx context.Context, book *Book) error {
	if book.ID < 0 {
		return fmt.Errorf("book id %d is not valid", book.ID)
	}
	if book.ID == 0 {
		id, err := rs.client.Incr(ctx, BookSequence).Result()
		if err != nil {
			return err
		}
		book.ID = id
	} else if err := raiseSequence.Run(ctx, rs.client, []string{BookSequence}, book.ID).Err(); err != nil {
		return err
	}
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return err
	}
	created, err := rs.client.HSetNX(ctx, HBooks, strconv.FormatInt(book.ID, 10), bookBytes).Result()
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("book %d already exists", book.ID)
	}
	return nil
}

// GetOne retrieves a book record based on its ID.
func (rs *redisBookStorage) GetOne(ctx context.Context, id int64) (Book, error) {
	var book Book
	bookJSONString, err := rs.client.HGet(ctx, HBooks, strconv.FormatInt(id, 10)).Result()
	if err == redis.Nil {
		return book, ErrBookNotFound
	}
	if err != nil {
		return book, err
	}
	err = json.Unmarshal([]byte(bookJSONString), &book)
	return book, err
}

// Delete removes a book record based on its ID.
func (rs *redisBookStorage) Delete(ctx context.Context, id int64) error {
	n, err := rs.client.HDel(ctx, HBooks, strconv.FormatInt(id, 10)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBookNotFound
	}
	return nil
}

// Update replaces existing book record data. The hash is watched so a
// concurrent delete aborts the update instead of resurrecting the book.
func (rs *redisBookStorage) Update(ctx context.Context, book Book) (Book, error) {
	bookBytes, err := json.Marshal(book)
	if err != nil {
		return book, err
	}
	field := strconv.FormatInt(book.ID, 10)
	err = rs.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, HBooks, field).Result()
		if err != nil {
			return err
		}
		if !exists {
			return ErrBookNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, HBooks, field, bookBytes)
			return nil
		})
		return err
	}, HBooks)
	if err != nil {
		return Book{}, err
	}
	return book, nil
}

// GetAll retrieves a list of all books stored in the redis database.
func (rs *redisBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	mapBooks, err := rs.client.HVals(ctx, HBooks).Result()
	if err != nil {
		return nil, err
	}
	books := []Book{}
	for _, bookJSONString := range mapBooks {
		var book Book
		if err = json.Unmarshal([]byte(bookJSONString), &book); err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	sort.Slice(books, func(i, j int) bool {
		return books[i].ID < books[j].ID
	})
	return books, nil
}

// Search retrieves books whose title or author contains the term.
func (rs *redisBookStorage) Search(ctx context.Context, term string) ([]Book, error) {
	books, err := rs.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	found := []Book{}
	for _, b := range books {
		if MatchBook(b, term) {
			found = append(found, b)
		}
	}
	return found, nil
}

// Authors retrieves the sorted distinct authors of all stored books.
func (rs *redisBookStorage) Authors(ctx context.Context) ([]string, error) {
	books, err := rs.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	return DistinctAuthors(books), nil
}

