package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/booktracker/booktracker/internal/bookapi"
	"github.com/booktracker/booktracker/internal/session"
)

const pageSize = 20

// page is the data every template receives.
type page struct {
	Title    string
	Username string
	Error    string
	Data     interface{}
}

// render executes a template with the common page fields filled in
func (s *Server) render(w http.ResponseWriter, status int, name string, p page) {
	if cur := s.deps.Sessions.Current(); cur.Authenticated() {
		p.Username = cur.Username
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	if err := s.templates.ExecuteTemplate(w, name, p); err != nil {
		slog.Error("failed to render template", "template", name, "error", err)
	}
}

// renderError renders the error page
func (s *Server) renderError(w http.ResponseWriter, status int, msg string) {
	s.render(w, status, "error.html", page{Title: "Error", Error: msg})
}

// fail renders err on the named page. A rejected token has already ended
// the session, so the user is sent to log in again.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, name string, p page, err error) {
	if errors.Is(err, bookapi.ErrUnauthorized) {
		http.Redirect(w, r, s.deps.Sessions.LoginRoute(), http.StatusSeeOther)
		return
	}
	p.Error = session.UserMessage(err)
	s.render(w, statusFor(err), name, p)
}

// statusFor maps the error taxonomy onto response codes.
func statusFor(err error) int {
	var (
		authErr  *session.AuthenticationError
		regErr   *session.RegistrationError
		netErr   *session.NetworkError
		valErr   *bookapi.ValidationError
		apiErr   *bookapi.APIError
		storeErr *session.StorageError
	)
	switch {
	case errors.Is(err, session.ErrOperationInProgress):
		return http.StatusConflict
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.As(err, &regErr), errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &netErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	case errors.As(err, &storeErr):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func pageParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "home.html", page{Title: "BookTracker"})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions.IsAuthenticated() {
		http.Redirect(w, r, s.deps.Sessions.LandingRoute(), http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "login.html", page{Title: "Log in"})
}

// loginForm is echoed back so a failed submission keeps the username.
type loginForm struct {
	Username string
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Invalid form submission")
		return
	}
	form := loginForm{Username: strings.TrimSpace(r.PostFormValue("username"))}

	if _, err := s.deps.Sessions.Login(r.Context(), form.Username, r.PostFormValue("password")); err != nil {
		s.fail(w, r, "login.html", page{Title: "Log in", Data: form}, err)
		return
	}
	http.Redirect(w, r, s.deps.Sessions.LandingRoute(), http.StatusSeeOther)
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions.IsAuthenticated() {
		http.Redirect(w, r, s.deps.Sessions.LandingRoute(), http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "register.html", page{Title: "Create account"})
}

type registerForm struct {
	Username string
	Email    string
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Invalid form submission")
		return
	}
	in := session.RegisterInput{
		Username:        strings.TrimSpace(r.PostFormValue("username")),
		Email:           strings.TrimSpace(r.PostFormValue("email")),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	if _, err := s.deps.Sessions.Register(r.Context(), in); err != nil {
		form := registerForm{Username: in.Username, Email: in.Email}
		s.fail(w, r, "register.html", page{Title: "Create account", Data: form}, err)
		return
	}
	http.Redirect(w, r, s.deps.Sessions.LandingRoute(), http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.Logout()
	http.Redirect(w, r, s.deps.Sessions.LoginRoute(), http.StatusSeeOther)
}

type searchData struct {
	Query  string
	Result *bookapi.SearchResult
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	data := searchData{Query: strings.TrimSpace(r.URL.Query().Get("q"))}
	p := page{Title: "Search", Data: &data}
	if data.Query == "" || s.deps.Books == nil {
		s.render(w, http.StatusOK, "search.html", p)
		return
	}

	res, err := s.deps.Books.Search(r.Context(), data.Query, pageParam(r), pageSize)
	if err != nil {
		s.fail(w, r, "search.html", p, err)
		return
	}
	data.Result = res
	s.render(w, http.StatusOK, "search.html", p)
}

type shelfData struct {
	Shelf    bookapi.ReadingStatus
	Shelves  []bookapi.ReadingStatus
	Page     *bookapi.LibraryPage
	NextPage int
}

func (s *Server) handleShelf(w http.ResponseWriter, r *http.Request) {
	status, err := bookapi.ParseReadingStatus(r.PathValue("shelf"))
	if err != nil {
		s.renderError(w, http.StatusNotFound, "No such shelf")
		return
	}
	data := shelfData{Shelf: status, Shelves: bookapi.ReadingStatuses}
	p := page{Title: "Shelf", Data: &data}
	if s.deps.Library == nil {
		s.render(w, http.StatusOK, "shelf.html", p)
		return
	}

	lp, err := s.deps.Library.UserBooks(r.Context(), status, pageParam(r), pageSize)
	if err != nil {
		s.fail(w, r, "shelf.html", p, err)
		return
	}
	data.Page = lp
	if lp.CurrentPage+1 < lp.TotalPages {
		data.NextPage = lp.CurrentPage + 1
	}
	s.render(w, http.StatusOK, "shelf.html", p)
}

type dashboardData struct {
	Stats  *bookapi.ReadingStats
	Unread int
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	var data dashboardData
	p := page{Title: "Dashboard", Data: &data}

	if s.deps.Analytics != nil {
		st, err := s.deps.Analytics.Stats(r.Context())
		if err != nil {
			s.fail(w, r, "dashboard.html", p, err)
			return
		}
		data.Stats = st
	}
	if s.deps.Notifications != nil {
		n, err := s.deps.Notifications.UnreadCount(r.Context())
		if err != nil {
			s.fail(w, r, "dashboard.html", p, err)
			return
		}
		data.Unread = n
	}
	s.render(w, http.StatusOK, "dashboard.html", p)
}
