package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sakif/session-auth/internal/apperror"
	"github.com/sakif/session-auth/internal/auth"
	"github.com/sakif/session-auth/internal/repository/sqlite"
	"github.com/sakif/session-auth/internal/session"
)

// These tests run the service against a real SQLite store, so uniqueness is
// decided by the UNIQUE index and not by the fake's mutex.

func TestRegister_ConcurrentSameUsername_SQLite(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)

	svc := NewAuthService(db, auth.NewBcryptHasherForTest(), nil, testLogger())

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		taken     int
		other     []error
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Register(context.Background(), RegisterInput{
				Username:             "carol",
				Password:             fmt.Sprintf("pw-%d", i),
				PasswordConfirmation: fmt.Sprintf("pw-%d", i),
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperror.ErrUsernameTaken):
				taken++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, successes, "exactly one registration should win")
	assert.Equal(t, n-1, taken)

	count, err := db.CountUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, db.Close())
	goleak.VerifyNone(t, ignore)
}

func TestLogin_ConcurrentIndependentSessions_SQLite(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	db, err := sqlite.New(":memory:")
	require.NoError(t, err)

	svc := NewAuthService(db, auth.NewBcryptHasherForTest(), nil, testLogger())
	ids := make(map[string]int64)
	for _, name := range []string{"alice", "bob", "carol", "dave"} {
		ids[name] = mustRegister(t, svc, name, name+"-pw")
	}

	var wg sync.WaitGroup
	sessions := make(map[string]*session.Session, len(ids))
	for name := range ids {
		sessions[name] = session.New()
	}

	for name, sess := range sessions {
		wg.Add(1)
		go func(name string, sess *session.Session) {
			defer wg.Done()
			_, err := svc.Login(context.Background(), sess, name, name+"-pw")
			assert.NoError(t, err)
		}(name, sess)
	}
	wg.Wait()

	for name, sess := range sessions {
		got, ok := sess.Subject()
		assert.True(t, ok, name)
		assert.Equal(t, ids[name], got, name)
	}

	require.NoError(t, db.Close())
	goleak.VerifyNone(t, ignore)
}
