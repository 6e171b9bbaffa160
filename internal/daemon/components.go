package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/booktracker/booktracker/internal/authapi"
	"github.com/booktracker/booktracker/internal/bookapi"
	"github.com/booktracker/booktracker/internal/config"
	"github.com/booktracker/booktracker/internal/metrics"
	"github.com/booktracker/booktracker/internal/session"
	"github.com/booktracker/booktracker/internal/store"
	"github.com/booktracker/booktracker/internal/token"
)

// Components is everything one process needs to talk to BookTracker. The
// CLI and the daemon build it the same way so they share one session.
type Components struct {
	Store         store.Store
	Auth          *authapi.Client
	Sessions      *session.Manager
	Books         *bookapi.Books
	Library       *bookapi.Library
	Analytics     *bookapi.Analytics
	Notifications *bookapi.Notifications
	Metrics       *metrics.Metrics
}

// Hooks let the caller observe session transitions.
type Hooks struct {
	Navigate func(route string)
	OnChange func(session.State)
}

// Wire builds the Components described by cfg. The session is not
// restored; call Sessions.RestoreSession before use.
func Wire(ctx context.Context, cfg *config.Config, m *metrics.Metrics, hooks Hooks) (*Components, error) {
	st, err := store.Open(cfg.Store, cfg.StoreOrigin())
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	slog.Debug("session store opened", "driver", cfg.Store.Driver)

	timeout := time.Duration(cfg.API.Timeout) * time.Second
	auth := authapi.NewClient(cfg.API.AuthURL, timeout)

	opts := session.Options{
		LandingRoute:      cfg.Auth.LandingRoute,
		LoginRoute:        cfg.Auth.LoginRoute,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		RestorePolicy:     session.RestorePolicy(cfg.Auth.RestoreCheck),
		Navigate:          hooks.Navigate,
		OnChange:          hooks.OnChange,
		Metrics:           m,
	}

	if cfg.Auth.RestoreCheck == config.RestoreCheckJWKS {
		// ctx bounds key fetches, so it must outlive the Manager.
		opts.Verifier = token.NewVerifier(ctx, cfg.Auth.Issuer, cfg.Auth.JWKSURL, nil)
	}

	mgr := session.NewManager(auth, st, opts)
	hc := bookapi.NewHTTPClient(mgr, timeout, nil)

	return &Components{
		Store:         st,
		Auth:          auth,
		Sessions:      mgr,
		Books:         bookapi.NewBooks(cfg.API.BooksURL, hc, mgr, m),
		Library:       bookapi.NewLibrary(cfg.API.LibraryURL, hc, mgr, m),
		Analytics:     bookapi.NewAnalytics(cfg.API.AnalyticsURL, hc, mgr, m),
		Notifications: bookapi.NewNotifications(cfg.API.NotificationsURL, hc, mgr, m),
		Metrics:       m,
	}, nil
}

// Close releases the session store.
func (c *Components) Close() error {
	return store.Close(c.Store)
}
