// Package session tracks which user, if any, is bound to the current client.
//
// STATE MACHINE:
//
//	              Establish(p)                  Establish(q)
//	Anonymous ───────────────▶ Authenticated(p) ───────────▶ Authenticated(q)
//	    ▲                            │
//	    └────────── Clear() ─────────┘        Clear() on Anonymous is a no-op
//
// A Session is the state; a Store carries it between requests (a signed
// cookie, or an opaque cookie pointing at Redis); a Manager puts the loaded
// Session into the request context and gates routes on it.
package session

import (
	"github.com/sakif/session-auth/internal/apperror"
)

// Principal is anything a session can be bound to. *model.User satisfies it.
type Principal interface {
	SubjectID() int64
}

// Session is the per-client authentication state. It is not safe for
// concurrent use; each request owns its own copy.
type Session struct {
	id            string // transport handle; empty until first saved
	userID        int64
	authenticated bool

	modified bool  // state changed since Load; Save must persist it
	rotate   bool  // Establish happened; Save must issue a fresh id
	stale    bool  // the client sent state we could not use; Save removes it
	loadErr  error // the Store failed to load state
}

// New returns an anonymous session, the initial state for every client.
func New() *Session {
	return &Session{}
}

// Establish binds the session to p, replacing any previous binding.
func (s *Session) Establish(p Principal) {
	s.loadErr = nil
	s.userID = p.SubjectID()
	s.authenticated = true
	s.modified = true
	s.rotate = true
}

// Clear returns the session to Anonymous. Clearing an anonymous session
// changes nothing beyond forgetting a load failure.
func (s *Session) Clear() {
	s.loadErr = nil
	if !s.authenticated {
		return
	}
	s.userID = 0
	s.authenticated = false
	s.modified = true
}

// Subject returns the bound user ID, or false when anonymous.
func (s *Session) Subject() (int64, bool) {
	if !s.authenticated {
		return 0, false
	}
	return s.userID, true
}

// RequireAuthenticated returns the bound user ID, or apperror.ErrUnauthenticated
// for an anonymous session. If the store failed to load the session the
// load error is returned instead, so a storage outage is not mistaken for
// a logged-out user.
func (s *Session) RequireAuthenticated() (int64, error) {
	if s.loadErr != nil {
		return 0, s.loadErr
	}
	if !s.authenticated {
		return 0, apperror.Unauthenticated()
	}
	return s.userID, nil
}

// IsAuthenticated reports whether a user is bound.
func (s *Session) IsAuthenticated() bool {
	return s.authenticated
}

// Modified reports whether the session needs to be saved.
func (s *Session) Modified() bool {
	return s.modified || s.stale
}

// LoadErr returns the error the store hit while loading, if any.
func (s *Session) LoadErr() error {
	return s.loadErr
}

// ID returns the transport handle, empty for a session never saved.
func (s *Session) ID() string {
	return s.id
}
