// Package guard keeps unauthenticated users out of protected routes, both
// in the web front and in CLI commands.
package guard

import (
	"errors"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/booktracker/booktracker/internal/metrics"
)

// ErrNotLoggedIn is returned by commands installed with RequireAuth.
var ErrNotLoggedIn = errors.New("not logged in: run 'booktracker login' first")

// DefaultProtected lists the routes that require a session.
var DefaultProtected = []string{"/search", "/shelf/", "/dashboard"}

// Authenticator reports whether a session is active.
type Authenticator interface {
	IsAuthenticated() bool
}

// Guard decides whether a route may be entered.
type Guard struct {
	auth       Authenticator
	loginRoute string
	protected  []string
	metrics    *metrics.Metrics
}

// New creates a Guard. A protected entry ending in "/" matches every route
// below it; any other entry matches itself and its sub-paths. With no
// protected routes DefaultProtected is used.
func New(auth Authenticator, loginRoute string, protected ...string) *Guard {
	if len(protected) == 0 {
		protected = DefaultProtected
	}
	return &Guard{
		auth:       auth,
		loginRoute: loginRoute,
		protected:  protected,
	}
}

// WithMetrics makes the guard count redirects.
func (g *Guard) WithMetrics(m *metrics.Metrics) *Guard {
	g.metrics = m
	return g
}

// Protected reports whether route needs a session.
func (g *Guard) Protected(route string) bool {
	for _, p := range g.protected {
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(route, p) || route == strings.TrimSuffix(p, "/") {
				return true
			}
			continue
		}
		if route == p || strings.HasPrefix(route, p+"/") {
			return true
		}
	}
	return false
}

// Allow reports whether route may be entered now.
func (g *Guard) Allow(route string) bool {
	return !g.Protected(route) || g.auth.IsAuthenticated()
}

// Resolve returns route when it may be entered, the login route otherwise.
func (g *Guard) Resolve(route string) string {
	if g.Allow(route) {
		return route
	}
	return g.loginRoute
}

// Middleware redirects requests for protected routes to the login route
// while no session is held. The redirect replaces the request, so going
// back does not land on the protected page again.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Allow(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		g.metrics.GuardRedirect(protectedPrefix(g.protected, r.URL.Path))
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, g.loginRoute, http.StatusFound)
	})
}

// RequireAuth makes cmd fail with ErrNotLoggedIn while no session is held.
// An existing PreRunE runs afterwards.
func (g *Guard) RequireAuth(cmd *cobra.Command) {
	prev := cmd.PreRunE
	cmd.PreRunE = func(c *cobra.Command, args []string) error {
		if !g.auth.IsAuthenticated() {
			return ErrNotLoggedIn
		}
		if prev != nil {
			return prev(c, args)
		}
		return nil
	}
}

// protectedPrefix keeps metric label cardinality bounded.
func protectedPrefix(protected []string, route string) string {
	for _, p := range protected {
		if strings.HasPrefix(route, strings.TrimSuffix(p, "/")) {
			return p
		}
	}
	return "other"
}
