// Package model defines the data structures used throughout the application.
package model

import (
	"log/slog"
	"time"
)

// MaxUsernameLength matches the width of the users.username column.
const MaxUsernameLength = 80

// User represents a registered account.
//
// ID is assigned by the store on insert and never reused. Username is unique
// (case-sensitive, exact match) and never changes after creation.
//
// PasswordHash is the credential secret produced by auth.PasswordHasher. It is
// excluded from JSON and redacted from logs; nothing outside the repository
// and the hasher should read it.
type User struct {
	ID           int64     `json:"id"        db:"id"`
	Username     string    `json:"username"  db:"username"`
	PasswordHash string    `json:"-"         db:"password_hash"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// SubjectID returns the identifier a session binds to.
// It lets *User satisfy session.Principal.
func (u *User) SubjectID() int64 {
	return u.ID
}

// Equal reports whether u and other are the same account.
func (u *User) Equal(other *User) bool {
	if u == nil || other == nil {
		return u == other
	}
	return u.ID == other.ID
}

// LogValue implements slog.LogValuer so a *User can be passed straight to a
// logger without leaking the password hash.
func (u *User) LogValue() slog.Value {
	if u == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.Int64("id", u.ID),
		slog.String("username", u.Username),
	)
}
