// Package handler contains the HTTP request handlers.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (form values, JSON body, query params)
// 2. Call the service layer
// 3. Commit the session if the service changed it
// 4. Write the HTTP response (status code, headers, body)
//
// Handlers hold no business rules. Which usernames are valid, what counts as
// a correct password and when a session is established all live in
// service.AuthService.
package handler

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/sakif/session-auth/internal/apperror"
	"github.com/sakif/session-auth/internal/logging"
	"github.com/sakif/session-auth/internal/middleware"
	"github.com/sakif/session-auth/internal/model"
	"github.com/sakif/session-auth/internal/service"
	"github.com/sakif/session-auth/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// Redirect targets shared with the router.
const (
	PathLogin         = "/login"
	PathHome          = "/home"
	LoginRequiredPath = "/login?notice=login_required"
)

// notices are the one-line banners selected by ?notice=.
var notices = map[string]string{
	"registered":     "Registration successful. Please log in.",
	"login_required": "Please log in to access this page.",
	"logged_out":     "You have been logged out.",
}

// pageData is passed to every template.
type pageData struct {
	Title     string
	Notice    string
	Error     string
	Username  string // echoed back into the form after a failed attempt
	User      *model.User
	CSRFToken string
}

// PageHandler serves the HTML login, registration and home pages.
//
// TEMPLATE PARSING:
// Each page is parsed once at startup together with base.html, so every
// page gets its own "content" block under the shared layout.
type PageHandler struct {
	pages    map[string]*template.Template
	auth     *service.AuthService
	sessions *session.Manager
	logger   *slog.Logger
}

// NewPageHandler parses the embedded templates.
func NewPageHandler(auth *service.AuthService, sessions *session.Manager, logger *slog.Logger) (*PageHandler, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{"login", "register", "home", "error"} {
		tmpl, err := template.ParseFS(templateFS, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s template: %w", name, err)
		}
		pages[name] = tmpl
	}

	return &PageHandler{
		pages:    pages,
		auth:     auth,
		sessions: sessions,
		logger:   logger,
	}, nil
}

// HandleRoot sends the browser to the login page.
//
// HTTP: GET /
func (h *PageHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, PathLogin, http.StatusSeeOther)
}

// HandleLoginPage renders the login form.
//
// HTTP: GET /login[?notice=...]
func (h *PageHandler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, PathHome, http.StatusSeeOther)
		return
	}
	h.render(w, r, "login", http.StatusOK, pageData{
		Title:  "Log in",
		Notice: notices[r.URL.Query().Get("notice")],
	})
}

// HandleLogin checks the submitted credentials.
//
// HTTP: POST /login  (form: username, password)
//
// On success the session is committed before the redirect, so the cookie
// travels with the 303. A user who is already logged in is sent home
// without the form being looked at.
func (h *PageHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, PathHome, http.StatusSeeOther)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	username := r.PostFormValue("username")
	data := pageData{Title: "Log in", Username: username}

	sess := session.FromContext(r.Context())
	if _, err := h.auth.Login(r.Context(), sess, username, r.PostFormValue("password")); err != nil {
		h.renderFailure(w, r, "login", err, data)
		return
	}

	if err := h.sessions.Commit(w, r); err != nil {
		h.renderFailure(w, r, "login", err, data)
		return
	}

	http.Redirect(w, r, PathHome, http.StatusSeeOther)
}

// HandleRegisterPage renders the registration form.
//
// HTTP: GET /register
func (h *PageHandler) HandleRegisterPage(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, PathHome, http.StatusSeeOther)
		return
	}
	h.render(w, r, "register", http.StatusOK, pageData{Title: "Register"})
}

// HandleRegister creates an account. Registration never logs the user in.
//
// HTTP: POST /register  (form: username, password, password_confirmation)
func (h *PageHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if session.FromContext(r.Context()).IsAuthenticated() {
		http.Redirect(w, r, PathHome, http.StatusSeeOther)
		return
	}
	if !h.parseForm(w, r) {
		return
	}
	in := service.RegisterInput{
		Username:             r.PostFormValue("username"),
		Password:             r.PostFormValue("password"),
		PasswordConfirmation: r.PostFormValue("password_confirmation"),
	}

	if _, err := h.auth.Register(r.Context(), in); err != nil {
		h.renderFailure(w, r, "register", err, pageData{Title: "Register", Username: in.Username})
		return
	}

	http.Redirect(w, r, PathLogin+"?notice=registered", http.StatusSeeOther)
}

// HandleHome greets the logged-in user. The route is gated by
// session.Manager.RequireAuth.
//
// HTTP: GET /home
func (h *PageHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUser(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthenticated) {
			// The user row is gone; CurrentUser cleared the session.
			if err := h.sessions.Commit(w, r); err != nil {
				h.renderFailure(w, r, "error", err, pageData{Title: "Error"})
				return
			}
			http.Redirect(w, r, LoginRequiredPath, http.StatusSeeOther)
			return
		}
		h.renderFailure(w, r, "error", err, pageData{Title: "Error"})
		return
	}

	h.render(w, r, "home", http.StatusOK, pageData{Title: "Home", User: user})
}

// HandleLogout ends the session. The route is gated.
//
// HTTP: GET|POST /logout
func (h *PageHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), session.FromContext(r.Context()))

	if err := h.sessions.Commit(w, r); err != nil {
		h.renderFailure(w, r, "error", err, pageData{Title: "Error"})
		return
	}

	http.Redirect(w, r, PathLogin+"?notice=logged_out", http.StatusSeeOther)
}

func (h *PageHandler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.logger.WarnContext(r.Context(), "invalid form body", slog.String("error", err.Error()))
		http.Error(w, "Invalid form body", http.StatusBadRequest)
		return false
	}
	return true
}

// renderFailure re-renders page with the error's public message. Server-side
// failures are logged and shown on the generic error page.
func (h *PageHandler) renderFailure(w http.ResponseWriter, r *http.Request, page string, err error, data pageData) {
	status, _ := errorStatus(err)
	data.Error = apperror.PublicMessage(err)

	if status >= http.StatusInternalServerError {
		logging.LogError(r.Context(), h.logger, "page request failed", err)
		page = "error"
	}

	h.render(w, r, page, status, data)
}

func (h *PageHandler) render(w http.ResponseWriter, r *http.Request, page string, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	data.CSRFToken = middleware.CSRFToken(r.Context())

	if err := h.pages[page].ExecuteTemplate(w, "base", data); err != nil {
		// The status line is already out; log and give up.
		h.logger.ErrorContext(r.Context(), "failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
	}
}
