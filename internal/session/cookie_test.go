package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-at-least-16-chars!!"

func newTestCookieStore(t *testing.T) *CookieStore {
	t.Helper()
	cs, err := NewCookieStore(testSecret, CookieOptions{TTL: time.Hour})
	require.NoError(t, err)
	return cs
}

// roundTrip saves s and returns a request carrying the resulting cookies.
func roundTrip(t *testing.T, st Store, s *Session) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(context.Background(), rec, s))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			req.AddCookie(c)
		}
	}
	return req, rec
}

func TestNewCookieStore_ShortSecret(t *testing.T) {
	_, err := NewCookieStore("short", CookieOptions{})
	assert.Error(t, err)
}

func TestCookieStore_NoCookieIsAnonymous(t *testing.T) {
	cs := newTestCookieStore(t)

	s, err := cs.Load(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.False(t, s.IsAuthenticated())
	assert.False(t, s.Modified())
}

func TestCookieStore_RoundTrip(t *testing.T) {
	cs := newTestCookieStore(t)

	s := New()
	s.Establish(principal(42))
	req, rec := roundTrip(t, cs, s)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.False(t, s.Modified(), "Save should reset the modified flag")
	assert.NotEmpty(t, s.ID(), "Save should assign a token id")

	loaded, err := cs.Load(req)
	require.NoError(t, err)
	id, ok := loaded.Subject()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, s.ID(), loaded.ID())
}

func TestCookieStore_UnmodifiedSessionWritesNothing(t *testing.T) {
	cs := newTestCookieStore(t)

	rec := httptest.NewRecorder()
	require.NoError(t, cs.Save(context.Background(), rec, New()))
	assert.Empty(t, rec.Result().Cookies())
}

func TestCookieStore_ClearDeletesCookie(t *testing.T) {
	cs := newTestCookieStore(t)

	s := New()
	s.Establish(principal(1))
	req, _ := roundTrip(t, cs, s)

	loaded, err := cs.Load(req)
	require.NoError(t, err)
	loaded.Clear()

	rec := httptest.NewRecorder()
	require.NoError(t, cs.Save(context.Background(), rec, loaded))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Value)
}

func TestCookieStore_ClearedTokenCannotBeReplayed(t *testing.T) {
	cs := newTestCookieStore(t)

	s := New()
	s.Establish(principal(1))
	saved, _ := roundTrip(t, cs, s)

	loaded, err := cs.Load(saved)
	require.NoError(t, err)
	loaded.Clear()
	require.NoError(t, cs.Save(context.Background(), httptest.NewRecorder(), loaded))

	// The browser dropped the cookie, but a copy taken before logout is sent.
	replayed, err := cs.Load(saved)
	require.NoError(t, err)
	assert.False(t, replayed.IsAuthenticated(), "a logged-out token must not authenticate")
	assert.True(t, replayed.Modified(), "the revoked cookie should be scheduled for removal")
}

func TestCookieStore_ReLoginRevokesPreviousToken(t *testing.T) {
	cs := newTestCookieStore(t)

	s := New()
	s.Establish(principal(1))
	first, _ := roundTrip(t, cs, s)

	loaded, err := cs.Load(first)
	require.NoError(t, err)
	loaded.Establish(principal(2))
	second, _ := roundTrip(t, cs, loaded)

	old, err := cs.Load(first)
	require.NoError(t, err)
	assert.False(t, old.IsAuthenticated())

	current, err := cs.Load(second)
	require.NoError(t, err)
	id, ok := current.Subject()
	assert.True(t, ok)
	assert.Equal(t, int64(2), id)
}

func TestCookieStore_RevocationsArePruned(t *testing.T) {
	cs := newTestCookieStore(t)
	start := time.Now()
	cs.now = func() time.Time { return start }

	cs.revoke("old")
	cs.now = func() time.Time { return start.Add(2 * time.Hour) }
	cs.revoke("new")

	assert.NotContains(t, cs.revoked, "old")
	assert.Contains(t, cs.revoked, "new")
}

func TestCookieStore_RejectsTamperedAndForeignTokens(t *testing.T) {
	cs := newTestCookieStore(t)

	s := New()
	s.Establish(principal(1))
	req, _ := roundTrip(t, cs, s)
	good, err := req.Cookie("session")
	require.NoError(t, err)

	otherStore, err := NewCookieStore("a-completely-different-secret", CookieOptions{})
	require.NoError(t, err)
	foreign := New()
	foreign.Establish(principal(1))
	foreignReq, _ := roundTrip(t, otherStore, foreign)
	foreignCookie, err := foreignReq.Cookie("session")
	require.NoError(t, err)

	noneToken := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	unsigned, err := noneToken.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value string
	}{
		{"garbage", "not-a-jwt"},
		{"truncated signature", good.Value[:len(good.Value)-4]},
		{"payload swapped", swapPayload(good.Value, foreignCookie.Value)},
		{"signed with another secret", foreignCookie.Value},
		{"alg none", unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.AddCookie(&http.Cookie{Name: "session", Value: tt.value})

			loaded, err := cs.Load(r)
			require.NoError(t, err)
			assert.False(t, loaded.IsAuthenticated())
			assert.True(t, loaded.Modified(), "a bad cookie should be scheduled for removal")
		})
	}
}

func TestCookieStore_ExpiredTokenIsAnonymous(t *testing.T) {
	cs := newTestCookieStore(t)
	past := time.Now().Add(-2 * time.Hour)
	cs.now = func() time.Time { return past }

	s := New()
	s.Establish(principal(1))
	req, _ := roundTrip(t, cs, s)

	cs.now = time.Now
	loaded, err := cs.Load(req)
	require.NoError(t, err)
	assert.False(t, loaded.IsAuthenticated())
}

func TestCookieStore_StaleCookieIsClearedOnSave(t *testing.T) {
	cs := newTestCookieStore(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: "junk"})
	loaded, err := cs.Load(r)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, cs.Save(context.Background(), rec, loaded))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

// swapPayload keeps a's header and signature but uses b's payload.
func swapPayload(a, b string) string {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	return pa[0] + "." + pb[1] + "." + pa[2]
}
