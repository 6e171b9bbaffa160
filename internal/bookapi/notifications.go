package bookapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/booktracker/booktracker/internal/metrics"
)

// Notification is one message for the user.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Type      string `json:"type"` // READING_REMINDER, GOAL_ACHIEVED, FRIEND_ACTIVITY
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

// Preferences selects which notifications are delivered.
type Preferences struct {
	EnableEmailNotifications bool `json:"enableEmailNotifications"`
	EnablePushNotifications  bool `json:"enablePushNotifications"`
	ReadingReminders         bool `json:"readingReminders"`
}

// Notifications is the notification service client.
type Notifications struct {
	service
}

// NewNotifications creates a client for the notification service at baseURL.
func NewNotifications(baseURL string, hc *http.Client, sess Session, m *metrics.Metrics) *Notifications {
	return &Notifications{service: newService("notifications", baseURL, hc, sess, m)}
}

// List returns the user's notifications.
func (n *Notifications) List(ctx context.Context) ([]Notification, error) {
	var out []Notification
	if err := n.get(ctx, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkRead marks one notification as read.
func (n *Notifications) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return &ValidationError{Message: "Notification id is required"}
	}
	return n.do(ctx, http.MethodPut, "/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

// UnreadCount returns the number of unread notifications.
func (n *Notifications) UnreadCount(ctx context.Context) (int, error) {
	var count int
	if err := n.get(ctx, "/unread/count", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdatePreferences stores the user's delivery preferences.
func (n *Notifications) UpdatePreferences(ctx context.Context, prefs Preferences) error {
	return n.do(ctx, http.MethodPut, "/preferences", nil, prefs, nil)
}
