package bookapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/booktracker/booktracker/internal/metrics"
)

// ReadingStatus is the shelf a book sits on.
type ReadingStatus string

const (
	WantToRead       ReadingStatus = "WANT_TO_READ"
	CurrentlyReading ReadingStatus = "CURRENTLY_READING"
	Read             ReadingStatus = "READ"
	DidNotFinish     ReadingStatus = "DNF"
)

// ReadingStatuses lists every status in shelf order.
var ReadingStatuses = []ReadingStatus{WantToRead, CurrentlyReading, Read, DidNotFinish}

// ParseReadingStatus accepts a status name in any case, with '-' for '_'.
func ParseReadingStatus(s string) (ReadingStatus, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(s), "-", "_")
	for _, st := range ReadingStatuses {
		if strings.EqualFold(string(st), norm) {
			return st, nil
		}
	}
	return "", &ValidationError{Message: fmt.Sprintf("Unknown reading status %q", s)}
}

// UserBook is a book on the user's shelves.
type UserBook struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	BookID      string        `json:"bookId"`
	Status      ReadingStatus `json:"status"`
	StartedAt   string        `json:"startedAt,omitempty"`
	FinishedAt  string        `json:"finishedAt,omitempty"`
	CurrentPage int           `json:"currentPage,omitempty"`
	TotalPages  int           `json:"totalPages,omitempty"`
	Rating      int           `json:"rating,omitempty"`
	Review      string        `json:"review,omitempty"`
	CreatedAt   string        `json:"createdAt,omitempty"`
	UpdatedAt   string        `json:"updatedAt,omitempty"`
}

// LibraryPage is one page of the user's library.
type LibraryPage struct {
	Books       []UserBook
	TotalItems  int
	CurrentPage int
	TotalPages  int
}

// UnmarshalJSON accepts the Spring page shape
// ({content, totalElements, number, totalPages}) and the flattened one.
func (p *LibraryPage) UnmarshalJSON(b []byte) error {
	var raw struct {
		Content       []UserBook `json:"content"`
		TotalElements *int       `json:"totalElements"`
		Number        *int       `json:"number"`

		Books       []UserBook `json:"books"`
		TotalItems  int        `json:"totalItems"`
		CurrentPage int        `json:"currentPage"`

		TotalPages int `json:"totalPages"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.TotalPages = raw.TotalPages
	if raw.Content != nil || raw.TotalElements != nil {
		p.Books = raw.Content
		if raw.TotalElements != nil {
			p.TotalItems = *raw.TotalElements
		}
		if raw.Number != nil {
			p.CurrentPage = *raw.Number
		}
		return nil
	}
	p.Books = raw.Books
	p.TotalItems = raw.TotalItems
	p.CurrentPage = raw.CurrentPage
	return nil
}

// Library is the shelves client. Every call acts on the signed-in user.
type Library struct {
	service
}

// NewLibrary creates a client for the library service at baseURL.
func NewLibrary(baseURL string, hc *http.Client, sess Session, m *metrics.Metrics) *Library {
	return &Library{service: newService("library", baseURL, hc, sess, m)}
}

func (l *Library) bookPath(bookID, suffix string) (string, error) {
	uid, err := l.userID()
	if err != nil {
		return "", err
	}
	if bookID == "" {
		return "", &ValidationError{Message: "Book id is required"}
	}
	return "/users/" + url.PathEscape(uid) + "/books/" + url.PathEscape(bookID) + suffix, nil
}

// UserBooks lists the user's books, optionally filtered by status.
func (l *Library) UserBooks(ctx context.Context, status ReadingStatus, page, size int) (*LibraryPage, error) {
	uid, err := l.userID()
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	var res LibraryPage
	if err := l.get(ctx, "/users/"+url.PathEscape(uid)+"/books", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Add puts a book on a shelf.
func (l *Library) Add(ctx context.Context, bookID string, status ReadingStatus) (*UserBook, error) {
	path, err := l.bookPath(bookID, "")
	if err != nil {
		return nil, err
	}
	var ub UserBook
	if err := l.do(ctx, http.MethodPost, path, url.Values{"status": {string(status)}}, nil, &ub); err != nil {
		return nil, err
	}
	return &ub, nil
}

// UpdateStatus moves a book to another shelf.
func (l *Library) UpdateStatus(ctx context.Context, bookID string, status ReadingStatus) (*UserBook, error) {
	path, err := l.bookPath(bookID, "/status")
	if err != nil {
		return nil, err
	}
	var ub UserBook
	if err := l.do(ctx, http.MethodPut, path, url.Values{"status": {string(status)}}, nil, &ub); err != nil {
		return nil, err
	}
	return &ub, nil
}

// UpdateProgress records how far the user has read.
func (l *Library) UpdateProgress(ctx context.Context, bookID string, currentPage, totalPages int) (*UserBook, error) {
	if currentPage < 0 || totalPages <= 0 || currentPage > totalPages {
		return nil, &ValidationError{Message: "Current page must be between 0 and the total number of pages"}
	}
	path, err := l.bookPath(bookID, "/progress")
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("currentPage", strconv.Itoa(currentPage))
	q.Set("totalPages", strconv.Itoa(totalPages))

	var ub UserBook
	if err := l.do(ctx, http.MethodPut, path, q, nil, &ub); err != nil {
		return nil, err
	}
	return &ub, nil
}

// Review rates a book from 1 to 5 with an optional text review.
func (l *Library) Review(ctx context.Context, bookID string, rating int, review string) (*UserBook, error) {
	if rating < 1 || rating > 5 {
		return nil, &ValidationError{Message: "Rating must be between 1 and 5"}
	}
	path, err := l.bookPath(bookID, "/review")
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("rating", strconv.Itoa(rating))
	if review != "" {
		q.Set("review", review)
	}

	var ub UserBook
	if err := l.do(ctx, http.MethodPut, path, q, nil, &ub); err != nil {
		return nil, err
	}
	return &ub, nil
}
