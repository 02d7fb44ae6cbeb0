package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/session-auth/internal/apperror"
)

// contextKey is unexported so only this package can read or write the
// session stored in a request context.
type contextKey string

const sessionKey contextKey = "session"

// Manager binds a Store to HTTP requests.
type Manager struct {
	store  Store
	logger *slog.Logger
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Middleware loads the client's session and stores it in the request
// context. Every request gets one; clients without state get an anonymous
// session. A store failure is logged and recorded on the session so gated
// routes can report it.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := m.store.Load(r)
		if err != nil {
			m.logger.ErrorContext(r.Context(), "loading session",
				slog.String("error", err.Error()),
			)
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
	})
}

// Commit saves the request's session if it changed. Call it after
// Establish or Clear and before writing the response body.
func (m *Manager) Commit(w http.ResponseWriter, r *http.Request) error {
	return m.store.Save(r.Context(), w, FromContext(r.Context()))
}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session loaded by Middleware. Outside the
// middleware it returns a fresh anonymous session, never nil.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok && s != nil {
		return s
	}
	return New()
}

// UserIDFromContext returns the authenticated user's ID, or false for an
// anonymous request.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	return FromContext(ctx).Subject()
}

// DenyFunc answers a request that failed the gate. err is either
// apperror.ErrUnauthenticated or apperror.ErrStorageUnavailable.
type DenyFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequireAuth lets authenticated requests through and hands everything else
// to deny.
func (m *Manager) RequireAuth(deny DenyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := FromContext(r.Context()).RequireAuthenticated(); err != nil {
				deny(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RedirectTo denies by redirecting the browser to target (the login page).
// A storage failure gets a plain 503 instead, since logging in again would
// not help.
func RedirectTo(target string) DenyFunc {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if errors.Is(err, apperror.ErrStorageUnavailable) {
			http.Error(w, apperror.PublicMessage(err), http.StatusServiceUnavailable)
			return
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// DenyJSON denies API requests with a JSON error body.
func DenyJSON(w http.ResponseWriter, _ *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	if errors.Is(err, apperror.ErrStorageUnavailable) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"storage_unavailable","message":"service temporarily unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthenticated","message":"valid authentication required"}`))
}
