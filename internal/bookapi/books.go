package bookapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/booktracker/booktracker/internal/metrics"
)

// Book is a catalogue entry.
type Book struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	ISBN          string   `json:"isbn,omitempty"`
	CoverImage    string   `json:"coverImage,omitempty"`
	Description   string   `json:"description,omitempty"`
	PublishedYear int      `json:"publishedYear,omitempty"`
	PageCount     int      `json:"pageCount,omitempty"`
	Genres        []string `json:"genres,omitempty"`
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Books       []Book `json:"books"`
	TotalItems  int    `json:"totalItems"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
}

// Books is the book catalogue client.
type Books struct {
	service
}

// NewBooks creates a client for the book service at baseURL.
func NewBooks(baseURL string, hc *http.Client, sess Session, m *metrics.Metrics) *Books {
	return &Books{service: newService("books", baseURL, hc, sess, m)}
}

// Search finds books matching query. Pages are zero-based.
func (b *Books) Search(ctx context.Context, query string, page, size int) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &ValidationError{Message: "Search query must not be empty"}
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var res SearchResult
	if err := b.get(ctx, "/search", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Get fetches one book by id.
func (b *Books) Get(ctx context.Context, id string) (*Book, error) {
	if id == "" {
		return nil, &ValidationError{Message: "Book id is required"}
	}
	var book Book
	if err := b.get(ctx, "/"+url.PathEscape(id), nil, &book); err != nil {
		return nil, err
	}
	return &book, nil
}
