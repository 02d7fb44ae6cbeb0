package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/session-auth/internal/auth"
	"github.com/sakif/session-auth/internal/config"
	"github.com/sakif/session-auth/internal/repository"
	pgRepo "github.com/sakif/session-auth/internal/repository/postgres"
	sqliteRepo "github.com/sakif/session-auth/internal/repository/sqlite"
	"github.com/sakif/session-auth/internal/session"
)

// OpenUserStore opens the configured user store and applies its migrations.
// The returned close function releases the connection pool.
func OpenUserStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (repository.UserRepository, func() error, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if cfg.SQLitePath != ":memory:" {
			// os.MkdirAll is a no-op when the directory exists (like `mkdir -p`).
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("server: creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("server: opening sqlite: %w", err)
		}
		logger.Info("user store ready", slog.String("driver", cfg.Driver), slog.String("path", cfg.SQLitePath))
		return db, db.Close, nil

	case config.DriverPostgres:
		pool, err := pgRepo.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("server: opening postgres: %w", err)
		}
		if err := pgRepo.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("server: migrating postgres: %w", err)
		}
		logger.Info("user store ready", slog.String("driver", cfg.Driver))
		return pgRepo.NewUserRepository(pool), func() error { pool.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("server: unknown storage driver %q", cfg.Driver)
	}
}

// NewHasher builds the password hasher. New secrets use cfg.Algorithm; both
// algorithms stay verifiable so switching does not lock anyone out.
func NewHasher(cfg config.PasswordConfig) (auth.PasswordHasher, error) {
	algo, err := auth.ParseAlgorithm(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	b, err := auth.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	h, err := auth.NewMultiHasher(algo, b, auth.NewArgon2idHasher(auth.DefaultArgon2Params))
	if err != nil {
		return nil, err
	}
	return h, nil
}

// sessionStore is the configured session.Store plus what the server needs to
// monitor and release it.
type sessionStore struct {
	store session.Store
	redis *redis.Client // nil for the cookie store
}

func openSessionStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sessionStore, error) {
	opts := session.CookieOptions{
		Name:   cfg.Session.CookieName,
		Secure: cfg.Session.Secure,
		TTL:    cfg.Session.TTL,
	}

	switch cfg.Session.Store {
	case config.StoreCookie:
		cs, err := session.NewCookieStore(cfg.Session.Secret, opts)
		if err != nil {
			return nil, fmt.Errorf("server: creating cookie store: %w", err)
		}
		return &sessionStore{store: cs}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		// Start anyway if Redis is down: gated routes answer 503 until it
		// comes back, and /healthz reports it.
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		}
		return &sessionStore{store: session.NewRedisStore(client, opts), redis: client}, nil

	default:
		return nil, fmt.Errorf("server: unknown session store %q", cfg.Session.Store)
	}
}
