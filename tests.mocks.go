package main

import (
	"context"
	"sync"
	"time"
)

// This file contains mocks definitions needed to perform unit tests.

var _ BookStorage = (*MockBookStorage)(nil)

type MockBookStorage struct {
	AddFunc     func(ctx context.Context, book *Book) error
	GetOneFunc  func(ctx context.Context, id int64) (Book, error)
	DeleteFunc  func(ctx context.Context, id int64) error
	UpdateFunc  func(ctx context.Context, book Book) (Book, error)
	GetAllFunc  func(ctx context.Context) ([]Book, error)
	SearchFunc  func(ctx context.Context, term string) ([]Book, error)
	AuthorsFunc func(ctx context.Context) ([]string, error)
	CloseFunc   func() error
}

// Add mocks the behavior of book creation by the repository.
func (m *MockBookStorage) Add(ctx context.Context, book *Book) error {
	return m.AddFunc(ctx, book)
}

// GetOne mocks the behavior of retrieving a book by the repository.
func (m *MockBookStorage) GetOne(ctx context.Context, id int64) (Book, error) {
	return m.GetOneFunc(ctx, id)
}

// Delete mocks the behavior of deleting a book by the repository.
func (m *MockBookStorage) Delete(ctx context.Context, id int64) error {
	return m.DeleteFunc(ctx, id)
}

// Update mocks the behavior of updating a book by the repository.
func (m *MockBookStorage) Update(ctx context.Context, book Book) (Book, error) {
	return m.UpdateFunc(ctx, book)
}

// GetAll mocks the behavior of retrieving all books by the repository.
func (m *MockBookStorage) GetAll(ctx context.Context) ([]Book, error) {
	return m.GetAllFunc(ctx)
}

// Search mocks the behavior of searching books by the repository.
func (m *MockBookStorage) Search(ctx context.Context, term string) ([]Book, error) {
	return m.SearchFunc(ctx, term)
}

// Authors mocks the behavior of listing authors by the repository.
func (m *MockBookStorage) Authors(ctx context.Context) ([]string, error) {
	return m.AuthorsFunc(ctx)
}

// Close is a no-op unless CloseFunc is set.
func (m *MockBookStorage) Close() error {
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

// MockClocker implements a fake Clocker.
type MockClocker struct {
	MockNow time.Time
}

// NewMockClocker returns a mocked instance with fixed time.
func NewMockClocker() *MockClocker {
	return &MockClocker{time.Date(2023, 0o7, 0o2, 0o0, 0o0, 0o0, 0o00000000, time.UTC)}
}

// Now returns an already defined time to be used as mock. This
// equals to `Sun, 02 Jul 2023 00:00:00 UTC` in time.RFC1123 format.
func (mck *MockClocker) Now() time.Time {
	return mck.MockNow
}

// MockUIDHandler implements a fake UIDHandler.
type MockUIDHandler struct {
	MockedUID string
	Valid     bool
}

// NewMockUIDHandler returns a mocked instance with predictable id.
func NewMockUIDHandler(id string, valid bool) *MockUIDHandler {
	return &MockUIDHandler{MockedUID: id, Valid: valid}
}

// Generate constructs a predictable id to be used as mock.
func (muid *MockUIDHandler) Generate(prefix string) string {
	return prefix + ":" + muid.MockedUID
}

// IsValid mocks IsValid behavior by providing configured status.
func (muid *MockUIDHandler) IsValid(_, _ string) bool {
	return muid.Valid
}

// NewInMemoryBookStorage provides a MockBookStorage backed by a map.
// Ids are assigned in sequence starting at 1.
func NewInMemoryBookStorage() *MockBookStorage {
	books := map[int64]Book{}
	var seq int64
	var mu sync.Mutex
	all := func() []Book {
		list := make([]Book, 0, len(books))
		for id := int64(1); id <= seq; id++ {
			if b, ok := books[id]; ok {
				list = append(list, b)
			}
		}
		return list
	}
	return &MockBookStorage{
		AddFunc: func(_ context.Context, book *Book) error {
			mu.Lock()
			defer mu.Unlock()
			if book.ID == 0 {
				seq++
				book.ID = seq
			} else if book.ID > seq {
				seq = book.ID
			}
			books[book.ID] = *book
			return nil
		},
		GetOneFunc: func(_ context.Context, id int64) (Book, error) {
			mu.Lock()
			defer mu.Unlock()
			b, ok := books[id]
			if !ok {
				return Book{}, ErrBookNotFound
			}
			return b, nil
		},
		DeleteFunc: func(_ context.Context, id int64) error {
			mu.Lock()
			defer mu.Unlock()
			if _, ok := books[id]; !ok {
				return ErrBookNotFound
			}
			delete(books, id)
			return nil
		},
		UpdateFunc: func(_ context.Context, book Book) (Book, error) {
			mu.Lock()
			defer mu.Unlock()
			if _, ok := books[book.ID]; !ok {
				return Book{}, ErrBookNotFound
			}
			books[book.ID] = book
			return book, nil
		},
		GetAllFunc: func(_ context.Context) ([]Book, error) {
			mu.Lock()
			defer mu.Unlock()
			return all(), nil
		},
		SearchFunc: func(_ context.Context, term string) ([]Book, error) {
			mu.Lock()
			defer mu.Unlock()
			found := []Book{}
			for _, b := range all() {
				if MatchBook(b, term) {
					found = append(found, b)
				}
			}
			return found, nil
		},
		AuthorsFunc: func(_ context.Context) ([]string, error) {
			mu.Lock()
			defer mu.Unlock()
			return DistinctAuthors(all()), nil
		},
	}
}
