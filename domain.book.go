package main

import (
	"context"
	"errors"
)

// ErrBookNotFound is returned by storages and the book service
// when no record matches the requested book id.
var ErrBookNotFound = errors.New("book not found")

// Book represents a book entity.
type Book struct {
	ID        int64   `json:"id" yaml:"id" gorm:"column:id;primaryKey;autoIncrement" validate:"gte=0"`
	Title     string  `json:"title" yaml:"title" gorm:"column:title;type:text;not null" validate:"required,notblank"`
	Author    string  `json:"author" yaml:"author" gorm:"column:author;type:text;not null;index" validate:"required,notblank"`
	NoOfPages int     `json:"noOfPages" yaml:"noOfPages" gorm:"column:no_of_pages" validate:"gte=0"`
	Language  string  `json:"language" yaml:"language" gorm:"column:language;type:text"`
	Category  string  `json:"category" yaml:"category" gorm:"column:category;type:text"`
	Price     float64 `json:"price" yaml:"price" gorm:"column:price;type:numeric(18,2)" validate:"gte=0,cents"`
	ImageURL  string  `json:"imageUrl" yaml:"imageUrl" gorm:"column:image_url;type:text" validate:"omitempty,url"`
}

// TableName sets the relational table backing the Book entity.
func (Book) TableName() string {
	return "books"
}

// BookStorage defines possible operations on book entity. Each call is
// bound to the given context and holds its session only for the call.
type BookStorage interface {
	Add(ctx context.Context, book *Book) error
	GetOne(ctx context.Context, id int64) (Book, error)
	Delete(ctx context.Context, id int64) error
	Update(ctx context.Context, book Book) (Book, error)
	GetAll(ctx context.Context) ([]Book, error)
	Search(ctx context.Context, term string) ([]Book, error)
	Authors(ctx context.Context) ([]string, error)
	Close() error
}
