package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sakif/session-auth/internal/apperror"
	"github.com/sakif/session-auth/internal/model"
	"github.com/sakif/session-auth/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

// Create inserts a new user and returns it with its assigned ID.
//
// UNIQUENESS:
// users.username carries a UNIQUE constraint. The INSERT is a single
// statement, so SQLite either commits the row or rejects it; there is no
// window between "check" and "write". A rejected insert becomes
// apperror.ErrDuplicateUsername.
//
// AUTOINCREMENT guarantees IDs are never reused, even if rows were removed
// out of band.
func (db *DB) Create(ctx context.Context, username, passwordHash string) (*model.User, error) {
	u := &model.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (username, password_hash, created_at)
		 VALUES (?, ?, ?)
		 RETURNING id`,
		u.Username,
		u.PasswordHash,
		u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		if isUsernameConflict(err) {
			return nil, apperror.DuplicateUsername(username)
		}
		return nil, apperror.StorageUnavailable("sqlite: inserting user", err)
	}

	return u, nil
}

// FindByUsername looks a user up by exact, case-sensitive username.
// Returns apperror.ErrNotFound if no user has that name.
func (db *DB) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := db.scanUser(db.conn.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM users WHERE username = ?`,
		username,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrNotFound,
				Message: fmt.Sprintf("user %q not found", username),
			}
		}
		return nil, apperror.StorageUnavailable("sqlite: finding user by username", err)
	}
	return u, nil
}

// FindByID retrieves a user by ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) FindByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := db.scanUser(db.conn.QueryRowContext(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM users WHERE id = ?`,
		id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, apperror.StorageUnavailable("sqlite: finding user by id", err)
	}
	return u, nil
}

// CountUsers returns the number of stored users.
func (db *DB) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, apperror.StorageUnavailable("sqlite: counting users", err)
	}
	return n, nil
}

func (db *DB) scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// isUsernameConflict reports whether err is the UNIQUE constraint on
// users.username. Other constraint failures are storage faults.
func isUsernameConflict(err error) bool {
	var sqlErr *msqlite.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	code := sqlErr.Code()
	if code != sqlite3.SQLITE_CONSTRAINT_UNIQUE && code&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	return strings.Contains(sqlErr.Error(), "users.username")
}
