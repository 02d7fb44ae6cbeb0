package session

import (
	"context"
	"net/http"
	"time"
)

// Store carries a Session across requests.
//
// Load never returns a nil session. Missing, expired or tampered state
// loads as anonymous; only infrastructure failures (Redis unreachable)
// return an error, alongside an anonymous session.
//
// Save persists an authenticated session and removes an anonymous one.
// It is a no-op for a session that was not modified.
type Store interface {
	Load(r *http.Request) (*Session, error)
	Save(ctx context.Context, w http.ResponseWriter, s *Session) error
}

// CookieOptions configure the cookie both stores write.
type CookieOptions struct {
	Name   string
	Path   string
	Secure bool          // send only over HTTPS
	TTL    time.Duration // absolute lifetime of an authenticated session
}

// DefaultCookieOptions are used for any zero field.
var DefaultCookieOptions = CookieOptions{
	Name: "session",
	Path: "/",
	TTL:  24 * time.Hour,
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.Name == "" {
		o.Name = DefaultCookieOptions.Name
	}
	if o.Path == "" {
		o.Path = DefaultCookieOptions.Path
	}
	if o.TTL <= 0 {
		o.TTL = DefaultCookieOptions.TTL
	}
	return o
}

// setCookie writes the session cookie.
//
// HttpOnly keeps it away from JavaScript; SameSite=Lax stops it riding along
// on cross-site POSTs.
func (o CookieOptions) setCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     o.Name,
		Value:    value,
		Path:     o.Path,
		MaxAge:   int(o.TTL / time.Second),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (o CookieOptions) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     o.Name,
		Value:    "",
		Path:     o.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// markSaved resets the bookkeeping flags after a successful Save.
func (s *Session) markSaved(id string) {
	s.id = id
	s.modified = false
	s.rotate = false
	s.stale = false
}
