// Package service holds the authentication business logic.
//
// AuthService sits between the HTTP handlers and the storage/crypto layers:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ PasswordHasher               ↘ session.Session
//
// KEY RESPONSIBILITIES:
//   - Registration: validate input, reject taken usernames, hash, persist
//   - Login: look the user up, verify the password, bind the session
//   - Be testable with fake dependencies (no HTTP, no globals)
//
// WHAT THIS PACKAGE DOES NOT DO:
//   - It does NOT set cookies or read requests (handlers and session.Store do)
//   - It does NOT retry storage failures
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sakif/session-auth/internal/apperror"
	"github.com/sakif/session-auth/internal/auth"
	"github.com/sakif/session-auth/internal/metrics"
	"github.com/sakif/session-auth/internal/model"
	"github.com/sakif/session-auth/internal/repository"
	"github.com/sakif/session-auth/internal/session"
)

// AuthService handles registration, login and logout.
//
// DEPENDENCIES (injected via NewAuthService):
//   - users    repository.UserRepository → read/write user records
//   - hasher   auth.PasswordHasher       → hash and verify passwords
//   - metrics  *metrics.Metrics          → outcome counters (nil disables)
//   - logger   *slog.Logger              → structured logging
type AuthService struct {
	users   repository.UserRepository
	hasher  auth.PasswordHasher
	metrics *metrics.Metrics
	logger  *slog.Logger

	dummyOnce   sync.Once
	dummySecret string
}

// NewAuthService creates an AuthService with all required dependencies.
func NewAuthService(
	users repository.UserRepository,
	hasher auth.PasswordHasher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:   users,
		hasher:  hasher,
		metrics: m,
		logger:  logger,
	}
}

// RegisterInput is the registration form.
type RegisterInput struct {
	Username             string `json:"username"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// Register creates a new account and returns its ID. It does not log the
// user in.
//
// FLOW:
//  1. Validate: every field present, username ≤ 80 chars, passwords match
//  2. Pre-check the username (cheap rejection for the common case)
//  3. Hash the password
//  4. Create; a duplicate here means another request won the race
//
// Step 2 is only an optimisation. Two requests can both pass it; the store's
// UNIQUE constraint in step 4 decides which one wins, and the loser gets the
// same ErrUsernameTaken it would have got from step 2.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (int64, error) {
	if err := validateRegistration(in); err != nil {
		s.metrics.RecordRegistration(registrationOutcome(err))
		return 0, err
	}

	_, err := s.users.FindByUsername(ctx, in.Username)
	switch {
	case err == nil:
		s.metrics.RecordRegistration(metrics.OutcomeUsernameTaken)
		return 0, apperror.UsernameTaken(in.Username)
	case !errors.Is(err, apperror.ErrNotFound):
		s.metrics.RecordRegistration(metrics.OutcomeError)
		return 0, fmt.Errorf("service/auth: checking username: %w", err)
	}

	secret, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.metrics.RecordRegistration(metrics.OutcomeError)
		return 0, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user, err := s.users.Create(ctx, in.Username, secret)
	if err != nil {
		if errors.Is(err, apperror.ErrDuplicateUsername) {
			s.logger.InfoContext(ctx, "registration lost username race",
				slog.String("username", in.Username),
			)
			s.metrics.RecordRegistration(metrics.OutcomeUsernameTaken)
			return 0, apperror.UsernameTaken(in.Username)
		}
		s.metrics.RecordRegistration(metrics.OutcomeError)
		return 0, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	s.metrics.RecordRegistration(metrics.OutcomeSuccess)

	return user.ID, nil
}

// Login verifies the credentials and binds sess to the user.
//
// USERNAME ENUMERATION:
// An unknown username and a wrong password return the same
// apperror.InvalidCredentials. For an unknown username the password is still
// verified against a throwaway secret, so both paths cost one hash
// computation and take about the same time.
func (s *AuthService) Login(ctx context.Context, sess *session.Session, username, password string) (*model.User, error) {
	if strings.TrimSpace(username) == "" {
		s.metrics.RecordLogin(metrics.OutcomeInvalid)
		return nil, apperror.ValidationFailed("username", "Username is required.")
	}
	if strings.TrimSpace(password) == "" {
		s.metrics.RecordLogin(metrics.OutcomeInvalid)
		return nil, apperror.ValidationFailed("password", "Password is required.")
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.hasher.Verify(password, s.dummy())
			s.logger.InfoContext(ctx, "login failed", slog.String("username", username))
			s.metrics.RecordLogin(metrics.OutcomeInvalidCredentials)
			return nil, apperror.InvalidCredentials()
		}
		s.metrics.RecordLogin(metrics.OutcomeError)
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.InfoContext(ctx, "login failed", slog.String("username", username))
		s.metrics.RecordLogin(metrics.OutcomeInvalidCredentials)
		return nil, apperror.InvalidCredentials()
	}

	sess.Establish(user)

	s.logger.InfoContext(ctx, "user logged in",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	s.metrics.RecordLogin(metrics.OutcomeSuccess)

	return user, nil
}

// Logout returns sess to anonymous. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, sess *session.Session) {
	if id, ok := sess.Subject(); ok {
		s.logger.InfoContext(ctx, "user logged out", slog.Int64("userID", id))
		s.metrics.RecordLogout()
	}
	sess.Clear()
}

// CurrentUser resolves the session's subject to a full record.
//
// A session can outlive its user row (a restored backup, a manual delete).
// Such a session is cleared and treated as anonymous.
func (s *AuthService) CurrentUser(ctx context.Context, sess *session.Session) (*model.User, error) {
	id, err := sess.RequireAuthenticated()
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.WarnContext(ctx, "session refers to missing user", slog.Int64("userID", id))
			sess.Clear()
			return nil, apperror.Unauthenticated()
		}
		return nil, fmt.Errorf("service/auth: fetching user %d: %w", id, err)
	}

	return user, nil
}

// dummy returns a valid secret under the configured hasher, computed once.
func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		secret, err := s.hasher.Hash("session-auth-timing-equaliser")
		if err != nil {
			s.logger.Error("hashing dummy secret", slog.String("error", err.Error()))
			return
		}
		s.dummySecret = secret
	})
	return s.dummySecret
}

func validateRegistration(in RegisterInput) error {
	if strings.TrimSpace(in.Username) == "" {
		return apperror.ValidationFailed("username", "Username is required.")
	}
	if utf8.RuneCountInString(in.Username) > model.MaxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("Username must be at most %d characters.", model.MaxUsernameLength))
	}
	if strings.TrimSpace(in.Password) == "" {
		return apperror.ValidationFailed("password", "Password is required.")
	}
	if strings.TrimSpace(in.PasswordConfirmation) == "" {
		return apperror.ValidationFailed("password_confirmation", "Please confirm your password.")
	}
	if in.Password != in.PasswordConfirmation {
		return apperror.PasswordMismatch()
	}
	return nil
}

func registrationOutcome(err error) string {
	if errors.Is(err, apperror.ErrPasswordMismatch) {
		return metrics.OutcomePasswordMismatch
	}
	return metrics.OutcomeInvalid
}
