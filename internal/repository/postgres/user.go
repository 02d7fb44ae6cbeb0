package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/sakif/session-auth/internal/apperror"
	"github.com/sakif/session-auth/internal/model"
	"github.com/sakif/session-auth/internal/repository"
)

// usernameConstraint is the UNIQUE constraint declared in 00001_create_users.sql.
const usernameConstraint = "users_username_key"

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	pool poolIface
}

var _ repository.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates a new PostgreSQL user repository.
func NewUserRepository(pool poolIface) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create inserts a user. A unique violation on username becomes
// apperror.ErrDuplicateUsername; the constraint is the arbiter under races.
func (r *UserRepository) Create(ctx context.Context, username, passwordHash string) (*model.User, error) {
	u := &model.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash, created_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		u.Username, u.PasswordHash, u.CreatedAt,
	).Scan(&u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			pgErr.Code == pgerrcode.UniqueViolation &&
			pgErr.ConstraintName == usernameConstraint {
			return nil, apperror.DuplicateUsername(username)
		}
		return nil, apperror.StorageUnavailable("postgres: inserting user",
			oops.Code("USER_CREATE_FAILED").With("username", username).Wrap(err))
	}

	return u, nil
}

// FindByUsername retrieves a user by exact username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := r.scanUser(r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM users WHERE username = $1`,
		username,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrNotFound,
				Message: fmt.Sprintf("user %q not found", username),
			}
		}
		return nil, apperror.StorageUnavailable("postgres: finding user by username",
			oops.Code("USER_QUERY_FAILED").With("username", username).Wrap(err))
	}
	return u, nil
}

// FindByID retrieves a user by ID.
func (r *UserRepository) FindByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := r.scanUser(r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("user", strconv.FormatInt(id, 10))
		}
		return nil, apperror.StorageUnavailable("postgres: finding user by id",
			oops.Code("USER_QUERY_FAILED").With("user_id", id).Wrap(err))
	}
	return u, nil
}

// Ping reports whether the database is reachable.
func (r *UserRepository) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return apperror.StorageUnavailable("postgres: ping", oops.Code("DB_PING_FAILED").Wrap(err))
	}
	return nil
}

func (r *UserRepository) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers classify the driver error
	}
	return &u, nil
}
