// Package httpserver serves the local BookTracker web front.
package httpserver

import (
	"context"
	"crypto/tls"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/booktracker/booktracker/internal/bookapi"
	"github.com/booktracker/booktracker/internal/config"
	"github.com/booktracker/booktracker/internal/guard"
	"github.com/booktracker/booktracker/internal/metrics"
	"github.com/booktracker/booktracker/internal/session"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Sessions is the session surface the web front drives.
// *session.Manager implements it.
type Sessions interface {
	Current() session.Session
	IsAuthenticated() bool
	Login(ctx context.Context, username, password string) (session.Session, error)
	Register(ctx context.Context, in session.RegisterInput) (session.Session, error)
	Logout()
	LandingRoute() string
	LoginRoute() string
}

// BookSearcher is implemented by *bookapi.Books.
type BookSearcher interface {
	Search(ctx context.Context, query string, page, size int) (*bookapi.SearchResult, error)
}

// ShelfLister is implemented by *bookapi.Library.
type ShelfLister interface {
	UserBooks(ctx context.Context, status bookapi.ReadingStatus, page, size int) (*bookapi.LibraryPage, error)
}

// StatsSource is implemented by *bookapi.Analytics.
type StatsSource interface {
	Stats(ctx context.Context) (*bookapi.ReadingStats, error)
}

// UnreadCounter is implemented by *bookapi.Notifications.
type UnreadCounter interface {
	UnreadCount(ctx context.Context) (int, error)
}

// Deps are the collaborators of a Server. Sessions is required.
type Deps struct {
	Sessions      Sessions
	Books         BookSearcher
	Library       ShelfLister
	Analytics     StatsSource
	Notifications UnreadCounter
	Metrics       *metrics.Metrics
	Version       string
}

// Server is the HTTP server for the web front, health and metrics
type Server struct {
	cfg        *config.Config
	deps       Deps
	httpServer *http.Server
	mux        *http.ServeMux
	handler    http.Handler
	templates  *template.Template
	guard      *guard.Guard
	limiter    *IPRateLimiter
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		mux:       http.NewServeMux(),
		templates: templates,
		guard:     guard.New(deps.Sessions, deps.Sessions.LoginRoute()).WithMetrics(deps.Metrics),
		limiter:   newIPRateLimiter(10, 50),
	}

	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("GET /login", s.handleLoginForm)
	s.mux.HandleFunc("POST /login", s.handleLogin)
	s.mux.HandleFunc("GET /register", s.handleRegisterForm)
	s.mux.HandleFunc("POST /register", s.handleRegister)
	s.mux.HandleFunc("POST /logout", s.handleLogout)
	s.mux.HandleFunc("GET /search", s.handleSearch)
	s.mux.HandleFunc("GET /shelf/{shelf}", s.handleShelf)
	s.mux.HandleFunc("GET /dashboard", s.handleDashboard)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", deps.Metrics.Handler())

	// Wrap with middleware; the guard sits closest to the routes.
	handler := s.guard.Middleware(s.mux)
	handler = s.loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.TLS.Enabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	return s, nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"tls", s.cfg.TLS.Enabled,
	)

	if s.cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
