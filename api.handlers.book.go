package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Paths segments served by GetBookSubresource before falling back to a book id.
const (
	BookSearchSegment  = "search"
	BookAuthorsSegment = "authors"
)

// sendError logs the failure and sends the error envelope.
func (api *APIHandler) sendError(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}, err error) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	logger := api.logger.With(zap.String("request.id", requestID))
	if status >= http.StatusInternalServerError {
		logger.Error(message, zap.Error(err))
	} else {
		logger.Info(message, zap.Error(err))
	}
	errResp := NewAPIError(requestID, status, message, data)
	if err := WriteErrorResponse(r.Context(), w, errResp); err != nil {
		logger.Error("failed to send error response", zap.Error(err))
	}
}

// sendJSON sends a success response and logs a failed write.
func (api *APIHandler) sendJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if err := WriteJSON(r.Context(), w, status, data); err != nil {
		api.logger.Error("failed to send response",
			zap.String("request.id", GetValueFromContext(r.Context(), RequestIDContextKey)),
			zap.Error(err),
		)
	}
}

// sendNoContent sends a 204 response and logs a failed write.
func (api *APIHandler) sendNoContent(w http.ResponseWriter, r *http.Request) {
	if err := WriteNoContent(r.Context(), w); err != nil {
		api.logger.Error("failed to send response",
			zap.String("request.id", GetValueFromContext(r.Context(), RequestIDContextKey)),
			zap.Error(err),
		)
	}
}

// bookIDParam extracts the book id from the path or sends a 400 response.
func (api *APIHandler) bookIDParam(w http.ResponseWriter, r *http.Request, ps httprouter.Params) (int64, bool) {
	id, err := ParseBookID(ps.ByName("id"))
	if err != nil {
		api.sendError(w, r, http.StatusBadRequest, "book id provided is not valid", EmptyData, err)
		return 0, false
	}
	return id, true
}

// CreateBook godoc
// @Summary      Create a book
// @Tags         books
// @Accept       json
// @Produce      json
// @Param        book  body      Book  true  "book to create"
// @Success      201   {object}  Book
// @Header       201   {string}  Location  "/books/{id}"
// @Failure      400   {object}  APIError
// @Failure      500   {object}  APIError
// @Router       /books [post]
func (api *APIHandler) CreateBook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	book := Book{}
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	if err := DecodeCreateOrUpdateBookRequestBody(r, &book); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to create the book", EmptyData, err)
		return
	}

	if err := ValidateBookRequestBody(&book); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to create the book", err.Error(), err)
		return
	}

	if err := api.bookService.Add(r.Context(), &book); err != nil {
		api.sendError(w, r, http.StatusInternalServerError, "failed to create the book", EmptyData, err)
		return
	}
	api.logger.Info("success to create book", zap.Int64("book.id", book.ID), zap.String("request.id", requestID))
	w.Header().Set("Location", "/books/"+strconv.FormatInt(book.ID, 10))
	api.sendJSON(w, r, http.StatusCreated, book)
}

// GetAllBooks godoc
// @Summary      List all books
// @Tags         books
// @Produce      json
// @Success      200  {array}   Book
// @Failure      500  {object}  APIError
// @Router       /books [get]
func (api *APIHandler) GetAllBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	books, err := api.bookService.GetAll(r.Context())
	if err != nil {
		api.sendError(w, r, http.StatusInternalServerError, "failed to get all books", EmptyData, err)
		return
	}
	api.logger.Info("success to get all books", zap.Int("books.total", len(books)), zap.String("request.id", requestID))
	api.sendJSON(w, r, http.StatusOK, books)
}

// GetBookSubresource dispatches GET /books/:id between the search
// and authors collections and the lookup of a single book.
func (api *APIHandler) GetBookSubresource(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch ps.ByName("id") {
	case BookSearchSegment:
		api.SearchBooks(w, r, ps)
	case BookAuthorsSegment:
		api.GetAuthors(w, r, ps)
	default:
		api.GetOneBook(w, r, ps)
	}
}

// GetOneBook godoc
// @Summary      Get a book
// @Tags         books
// @Produce      json
// @Param        id   path      int  true  "book id"
// @Success      200  {object}  Book
// @Failure      400  {object}  APIError
// @Failure      404  {object}  APIError
// @Failure      500  {object}  APIError
// @Router       /books/{id} [get]
func (api *APIHandler) GetOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	id, ok := api.bookIDParam(w, r, ps)
	if !ok {
		return
	}
	book, err := api.bookService.GetOne(r.Context(), id)
	if errors.Is(err, ErrBookNotFound) {
		api.sendError(w, r, http.StatusNotFound, "book does not exist", EmptyData, err)
		return
	}
	if err != nil {
		api.sendError(w, r, http.StatusInternalServerError, "failed to get the book", EmptyData, err)
		return
	}
	api.logger.Info("success to get book", zap.Int64("book.id", id), zap.String("request.id", requestID))
	api.sendJSON(w, r, http.StatusOK, book)
}

// UpdateBook godoc
// @Summary      Replace a book
// @Tags         books
// @Accept       json
// @Param        id    path      int   true  "book id"
// @Param        book  body      Book  true  "new book content, its id must match the path id"
// @Success      204
// @Failure      400   {object}  APIError
// @Failure      404   {object}  APIError
// @Failure      500   {object}  APIError
// @Router       /books/{id} [put]
func (api *APIHandler) UpdateBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var book Book
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	id, ok := api.bookIDParam(w, r, ps)
	if !ok {
		return
	}

	if err := DecodeCreateOrUpdateBookRequestBody(r, &book); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to update the book", EmptyData, err)
		return
	}

	if book.ID != id {
		api.sendError(w, r, http.StatusBadRequest, "book id mismatch", EmptyData, invalidFieldError("id"))
		return
	}

	if err := ValidateBookRequestBody(&book); err != nil {
		api.sendError(w, r, http.StatusBadRequest, "failed to update the book", err.Error(), err)
		return
	}

	_, err := api.bookService.Update(r.Context(), book)
	if errors.Is(err, ErrBookNotFound) {
		api.sendError(w, r, http.StatusNotFound, "book does not exist", EmptyData, err)
		return
	}
	if err != nil {
		api.sendError(w, r, http.StatusInternalServerError, "failed to update the book", EmptyData, err)
		return
	}
	api.logger.Info("success to update book", zap.Int64("book.id", id), zap.String("request.id", requestID))
	api.sendNoContent(w, r)
}

// DeleteOneBook godoc
// @Summary      Delete a book
// @Tags         books
// @Param        id   path      int  true  "book id"
// @Success      204
// @Failure      400  {object}  APIError
// @Failure      404  {object}  APIError
// @Failure      500  {object}  APIError
// @Router       /books/{id} [delete]
func (api *APIHandler) DeleteOneBook(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	id, ok := api.bookIDParam(w, r, ps)
	if !ok {
		return
	}
	err := api.bookService.Delete(r.Context(), id)
	if errors.Is(err, ErrBookNotFound) {
		api.sendError(w, r, http.StatusNotFound, "book does not exist", EmptyData, err)
		return
	}
	if err != nil {
		api.sendError(w, r, http.StatusInternalServerError, "failed to delete the book", EmptyData, err)
		return
	}
	api.logger.Info("success to delete book", zap.Int64("book.id", id), zap.String("request.id", requestID))
	api.sendNoContent(w, r)
}

// SearchBooks godoc
// @Summary      Search books by title or author
// @Description  Case-sensitive substring match on title or author. An empty term returns all books.
// @Tags         books
// @Produce      json
// @Param        searchTerm  query     string  false  "substring to look for"
// @Success      200         {array}   Book
// @Failure      500         {object}  APIError
// @Router       /books/search [get]
func (api *APIHandler) SearchBooks(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	term := r.URL.Query().Get("searchTerm")
	books, err := api.bookService.Search(r.Context(), term)
	if err != nil {
		api.sendError(w, r, http.StatusInternalServerError, "failed to search books", EmptyData, err)
		return
	}
	api.logger.Info("success to search books",
		zap.String("search.term", term),
		zap.Int("books.total", len(books)),
		zap.String("request.id", requestID),
	)
	api.sendJSON(w, r, http.StatusOK, books)
}

// GetAuthors godoc
// @Summary      List distinct authors
// @Tags         books
// @Produce      json
// @Success      200  {array}   string
// @Failure      500  {object}  APIError
// @Router       /books/authors [get]
func (api *APIHandler) GetAuthors(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	requestID := GetValueFromContext(r.Context(), RequestIDContextKey)
	authors, err := api.bookService.Authors(r.Context())
	if err != nil {
		api.sendError(w, r, http.StatusInternalServerError, "failed to get authors", EmptyData, err)
		return
	}
	api.logger.Info("success to get authors", zap.Int("authors.total", len(authors)), zap.String("request.id", requestID))
	api.sendJSON(w, r, http.StatusOK, authors)
}
