package bookapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/booktracker/booktracker/internal/metrics"
)

// ReadingStats summarises the user's reading.
type ReadingStats struct {
	TotalBooksRead     int     `json:"totalBooksRead"`
	BooksReadThisMonth int     `json:"booksReadThisMonth"`
	PagesReadThisMonth int     `json:"pagesReadThisMonth"`
	AverageRating      float64 `json:"averageRating"`
	ReadingStreak      int     `json:"readingStreak"`
}

// ProgressPoint is one day of reading progress.
type ProgressPoint struct {
	Date       string `json:"date"`
	PagesRead  int    `json:"pagesRead"`
	TotalPages int    `json:"totalPages"`
}

// Analytics is the reading statistics client.
type Analytics struct {
	service
}

// NewAnalytics creates a client for the analytics service at baseURL.
func NewAnalytics(baseURL string, hc *http.Client, sess Session, m *metrics.Metrics) *Analytics {
	return &Analytics{service: newService("analytics", baseURL, hc, sess, m)}
}

// Stats returns the user's reading statistics.
func (a *Analytics) Stats(ctx context.Context) (*ReadingStats, error) {
	var st ReadingStats
	if err := a.get(ctx, "/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Progress returns the reading history of one book.
func (a *Analytics) Progress(ctx context.Context, bookID string) ([]ProgressPoint, error) {
	if bookID == "" {
		return nil, &ValidationError{Message: "Book id is required"}
	}
	var pts []ProgressPoint
	if err := a.get(ctx, "/progress/"+url.PathEscape(bookID), nil, &pts); err != nil {
		return nil, err
	}
	return pts, nil
}

// Monthly returns the progress recorded in one calendar month.
func (a *Analytics) Monthly(ctx context.Context, year, month int) ([]ProgressPoint, error) {
	if month < 1 || month > 12 {
		return nil, &ValidationError{Message: "Month must be between 1 and 12"}
	}
	var pts []ProgressPoint
	if err := a.get(ctx, fmt.Sprintf("/monthly/%d/%d", year, month), nil, &pts); err != nil {
		return nil, err
	}
	return pts, nil
}
