// Package daemon runs the BookTracker web front as a long-lived process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/booktracker/booktracker/internal/config"
	"github.com/booktracker/booktracker/internal/httpserver"
	"github.com/booktracker/booktracker/internal/metrics"
	"github.com/booktracker/booktracker/internal/session"
)

// Daemon represents the main daemon process that coordinates all components.
type Daemon struct {
	cfg        *config.Config
	components *Components
	httpServer *httpserver.Server

	// cancel stops background work tied to the components' context.
	cancel context.CancelFunc
}

// New creates a new daemon with all components initialized.
func New(cfg *config.Config, version string) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := metrics.New()
	components, err := Wire(ctx, cfg, m, Hooks{
		OnChange: func(st session.State) {
			slog.Info("session state changed", "state", st.String())
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	slog.Info("session manager initialized",
		"store", cfg.Store.Driver,
		"restore_check", cfg.Auth.RestoreCheck,
	)

	httpServer, err := httpserver.NewServer(cfg, httpserver.Deps{
		Sessions:      components.Sessions,
		Books:         components.Books,
		Library:       components.Library,
		Analytics:     components.Analytics,
		Notifications: components.Notifications,
		Metrics:       m,
		Version:       version,
	})
	if err != nil {
		cancel()
		_ = components.Close()
		return nil, fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	return &Daemon{
		cfg:        cfg,
		components: components,
		httpServer: httpServer,
		cancel:     cancel,
	}, nil
}

// Run blocks until SIGINT or SIGTERM is received.
func (d *Daemon) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.RunContext(ctx)
}

// RunContext restores the stored session, serves the web front and shuts
// down gracefully once ctx is done.
func (d *Daemon) RunContext(ctx context.Context) error {
	slog.Info("starting BookTracker daemon")
	defer d.cancel()

	restoreCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := d.components.Sessions.RestoreSession(restoreCtx)
	cancel()
	if err != nil {
		_ = d.components.Close()
		return fmt.Errorf("failed to restore session: %w", err)
	}
	slog.Info("session restored", "authenticated", d.components.Sessions.IsAuthenticated())

	httpErrCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			if closeErr := d.components.Close(); closeErr != nil {
				slog.Error("error closing session store after HTTP server startup failure", "error", closeErr)
			}
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
	}

	// The session stays in the store so the next start restores it.
	if err := d.components.Close(); err != nil {
		slog.Error("error closing session store", "error", err)
	}

	slog.Info("daemon shutdown complete")
	return nil
}
