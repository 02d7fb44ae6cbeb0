// Package repository defines the storage contracts the service layer depends on.
//
// The service receives a UserRepository interface, never a concrete database
// type. Production wires in sqlite.DB or postgres.UserRepository; tests wire in
// an in-memory fake.
package repository

import (
	"context"

	"github.com/sakif/session-auth/internal/model"
)

// UserRepository is the durable username → credential mapping.
//
// ERROR CONTRACT:
//   - FindByUsername / FindByID return apperror.ErrNotFound when no row matches.
//   - Create returns apperror.ErrDuplicateUsername when the storage layer's
//     UNIQUE constraint on username rejects the insert. Implementations must
//     rely on that constraint rather than a read-then-write check, so that two
//     concurrent Creates for one username cannot both succeed.
//   - Every other failure is apperror.ErrStorageUnavailable.
//
// Records are append-only: there is no update or delete.
type UserRepository interface {
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByID(ctx context.Context, id int64) (*model.User, error)
	Create(ctx context.Context, username, passwordHash string) (*model.User, error)
	Ping(ctx context.Context) error
}
