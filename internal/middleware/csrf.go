package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
)

// Names shared with the templates and non-browser clients.
const (
	CSRFField      = "csrf_token"
	CSRFHeader     = "X-CSRF-Token"
	csrfTokenBytes = 32
	maxFormBytes   = 1 << 20
)

// CSRFOptions configure the token cookie.
type CSRFOptions struct {
	CookieName string // default "csrf_token"
	Secure     bool
}

type csrfContextKey struct{}

// CSRFToken returns the token the page should embed in its forms, or "" when
// the request did not pass through CSRF.
func CSRFToken(ctx context.Context) string {
	token, _ := ctx.Value(csrfContextKey{}).(string)
	return token
}

// CSRF protects form posts with a double-submit token.
//
// HOW IT WORKS:
//  1. Every request gets a random token in a cookie (issued if missing).
//  2. Pages render the same token into a hidden form field.
//  3. An unsafe request must echo the cookie's token in the form field or
//     the X-CSRF-Token header.
//
// Another site can make the browser send the cookie but cannot read it, so
// it cannot fill in the field. This covers login CSRF too: without it a
// third-party page could post the attacker's credentials to /login and bind
// the victim's browser to the attacker's account.
func CSRF(opts CSRFOptions, logger *slog.Logger) func(http.Handler) http.Handler {
	if opts.CookieName == "" {
		opts.CookieName = CSRFField
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := ""
			if c, err := r.Cookie(opts.CookieName); err == nil && validCSRFToken(c.Value) {
				expected = c.Value
			}

			if !isSafeMethod(r.Method) {
				r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
				if err := r.ParseForm(); err != nil {
					logger.WarnContext(r.Context(), "invalid form body", slog.String("error", err.Error()))
					http.Error(w, "Invalid form body", http.StatusBadRequest)
					return
				}

				received := r.Header.Get(CSRFHeader)
				if received == "" {
					received = r.PostForm.Get(CSRFField)
				}
				if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
					logger.WarnContext(r.Context(), "csrf check failed",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.Bool("has_cookie", expected != ""),
					)
					http.Error(w, "Forbidden: missing or invalid CSRF token", http.StatusForbidden)
					return
				}
			}

			if expected == "" {
				token, err := newCSRFToken()
				if err != nil {
					logger.ErrorContext(r.Context(), "failed to generate csrf token", slog.String("error", err.Error()))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					return
				}
				expected = token
				http.SetCookie(w, &http.Cookie{
					Name:     opts.CookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), csrfContextKey{}, expected)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func newCSRFToken() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func validCSRFToken(s string) bool {
	b, err := base64.RawURLEncoding.DecodeString(s)
	return err == nil && len(b) == csrfTokenBytes
}
