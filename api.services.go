package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type BookServiceProvider interface {
	Add(ctx context.Context, book *Book) error
	GetOne(ctx context.Context, id int64) (Book, error)
	Delete(ctx context.Context, id int64) error
	Update(ctx context.Context, book Book) (Book, error)
	GetAll(ctx context.Context) ([]Book, error)
	Search(ctx context.Context, term string) ([]Book, error)
	Authors(ctx context.Context) ([]string, error)
}

type BookService struct {
	logger  *zap.Logger
	config  *Config
	storage BookStorage
}

func NewBookService(logger *zap.Logger, config *Config, storage BookStorage) BookServiceProvider {
	return &BookService{
		logger:  logger,
		config:  config,
		storage: storage,
	}
}

// Add persists the book and commits right away. The storage assigned ID
// is set on the given book.
func (bs *BookService) Add(ctx context.Context, book *Book) error {
	if err := bs.storage.Add(ctx, book); err != nil {
		return fmt.Errorf("service: add book: %w", err)
	}
	return nil
}

// GetOne returns ErrBookNotFound (possibly wrapped) when the id is unknown.
func (bs *BookService) GetOne(ctx context.Context, id int64) (Book, error) {
	book, err := bs.storage.GetOne(ctx, id)
	if err != nil {
		return book, fmt.Errorf("service: get book %d: %w", id, err)
	}
	return book, nil
}

func (bs *BookService) Delete(ctx context.Context, id int64) error {
	if err := bs.storage.Delete(ctx, id); err != nil {
		return fmt.Errorf("service: delete book %d: %w", id, err)
	}
	return nil
}

// Update overwrites every mutable field of the stored book identified by
// book.ID. Writing a value equal to the stored one leaves it unchanged.
func (bs *BookService) Update(ctx context.Context, book Book) (Book, error) {
	updated, err := bs.storage.Update(ctx, book)
	if err != nil {
		return updated, fmt.Errorf("service: update book %d: %w", book.ID, err)
	}
	return updated, nil
}

func (bs *BookService) GetAll(ctx context.Context) ([]Book, error) {
	books, err := bs.storage.GetAll(ctx)
	if err != nil {
		return books, fmt.Errorf("service: get all books: %w", err)
	}
	return books, nil
}

// Search returns books whose title or author contains term. An empty
// term matches every book.
func (bs *BookService) Search(ctx context.Context, term string) ([]Book, error) {
	if term == "" {
		return bs.GetAll(ctx)
	}
	books, err := bs.storage.Search(ctx, term)
	if err != nil {
		return books, fmt.Errorf("service: search books: %w", err)
	}
	return books, nil
}

func (bs *BookService) Authors(ctx context.Context) ([]string, error) {
	authors, err := bs.storage.Authors(ctx)
	if err != nil {
		return authors, fmt.Errorf("service: get authors: %w", err)
	}
	return authors, nil
}
