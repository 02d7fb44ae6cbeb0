package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/session-auth/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		HTTP: config.HTTPConfig{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			IdleTimeout:     5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Log:     config.LogConfig{Format: "text", Level: "info"},
		Storage: config.StorageConfig{Driver: config.DriverSQLite, SQLitePath: ":memory:"},
		Session: config.SessionConfig{
			Store:      config.StoreCookie,
			Secret:     "server-test-secret-0123456789",
			CookieName: "session",
			TTL:        time.Hour,
		},
		Password: config.PasswordConfig{Algorithm: "bcrypt", BcryptCost: 4},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer starts the full router on an httptest server and returns a
// client that keeps cookies and does not follow redirects.
func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()

	s, err := New(context.Background(), testConfig(), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return ts, client
}

// postForm posts form like a browser would, echoing the csrf_token cookie
// from the jar in a hidden field.
func postForm(t *testing.T, c *http.Client, target string, form url.Values) (*http.Response, string) {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)

	values := url.Values{}
	for k, v := range form {
		values[k] = v
	}
	for _, cookie := range c.Jar.Cookies(u) {
		if cookie.Name == "csrf_token" {
			values.Set("csrf_token", cookie.Value)
		}
	}

	resp, err := c.PostForm(target, values)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func get(t *testing.T, c *http.Client, target string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(target)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestServer_BrowserFlow(t *testing.T) {
	ts, c := newTestServer(t)

	// Anonymous visitors are sent to the login page.
	resp, _ := get(t, c, ts.URL+"/")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = get(t, c, ts.URL+"/home")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?notice=login_required", resp.Header.Get("Location"))

	// Register alice from the registration page.
	_, body := get(t, c, ts.URL+"/register")
	assert.Contains(t, body, `name="csrf_token"`)

	resp, _ = postForm(t, c, ts.URL+"/register", url.Values{
		"username": {"alice"}, "password": {"pw"}, "password_confirmation": {"pw"},
	})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?notice=registered", resp.Header.Get("Location"))

	_, body = get(t, c, ts.URL+"/login?notice=registered")
	assert.Contains(t, body, "Registration successful. Please log in.")

	// Registering again is refused.
	resp, body = postForm(t, c, ts.URL+"/register", url.Values{
		"username": {"alice"}, "password": {"pw"}, "password_confirmation": {"pw"},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, "That username is taken. Please choose a different one.")

	// Wrong password.
	resp, body = postForm(t, c, ts.URL+"/login", url.Values{"username": {"alice"}, "password": {"nope"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid username or password.")

	// Right password.
	resp, _ = postForm(t, c, ts.URL+"/login", url.Values{"username": {"alice"}, "password": {"pw"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	for _, path := range []string{"/home", "/inicio"} {
		resp, body = get(t, c, ts.URL+path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, body, "Welcome, alice", path)
	}

	// Logged-in users skip the login and registration forms.
	resp, _ = get(t, c, ts.URL+"/login")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	resp, _ = postForm(t, c, ts.URL+"/register", url.Values{
		"username": {"carol"}, "password": {"pw"}, "password_confirmation": {"pw"},
	})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	// Logout, then the home page is gated again.
	resp, _ = postForm(t, c, ts.URL+"/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?notice=logged_out", resp.Header.Get("Location"))

	resp, _ = get(t, c, ts.URL+"/home")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?notice=login_required", resp.Header.Get("Location"))

	// Logging out while logged out is gated like the home page.
	resp, _ = get(t, c, ts.URL+"/logout")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?notice=login_required", resp.Header.Get("Location"))
}

func TestServer_APIFlow(t *testing.T) {
	ts, c := newTestServer(t)

	post := func(path, body string) *http.Response {
		resp, err := c.Post(ts.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, func() int { r, _ := get(t, c, ts.URL+"/api/me"); return r.StatusCode }())

	assert.Equal(t, http.StatusCreated, post("/api/register", `{"username":"alice","password":"pw","password_confirmation":"pw"}`).StatusCode)
	assert.Equal(t, http.StatusOK, post("/api/login", `{"username":"alice","password":"pw"}`).StatusCode)

	resp, body := get(t, c, ts.URL+"/api/me")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"username":"alice"`)

	// The API session also opens the HTML pages.
	resp, _ = get(t, c, ts.URL+"/home")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusNoContent, post("/api/logout", ``).StatusCode)

	resp, _ = get(t, c, ts.URL+"/api/me")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts, c := newTestServer(t)

	resp, body := get(t, c, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","checks":{"users":"ok"}}`, body)

	_, _ = get(t, c, ts.URL+"/login")
	_, _ = postForm(t, c, ts.URL+"/login", url.Values{"username": {"ghost"}, "password": {"pw"}})

	resp, body = get(t, c, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `sessionauth_logins_total{outcome="invalid_credentials"} 1`)
	assert.Contains(t, body, "sessionauth_http_requests_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_CrossSiteLoginIsRejected(t *testing.T) {
	ts, c := newTestServer(t)

	// mallory has an account; another site tries to log the visitor into it.
	_, _ = get(t, c, ts.URL+"/register")
	resp, _ := postForm(t, c, ts.URL+"/register", url.Values{
		"username": {"mallory"}, "password": {"pw"}, "password_confirmation": {"pw"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	victim := &http.Client{CheckRedirect: c.CheckRedirect}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/login",
		strings.NewReader(url.Values{"username": {"mallory"}, "password": {"pw"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "https://evil.example")

	resp, err = victim.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Location"))
	for _, cookie := range resp.Cookies() {
		assert.NotEqual(t, "session", cookie.Name, "no session may be issued")
	}

	// The JSON login refuses a form-encoded body for the same reason.
	resp, err = victim.Post(ts.URL+"/api/login", "text/plain",
		strings.NewReader(`{"username":"mallory","password":"pw"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	assert.Empty(t, resp.Cookies())
}

func TestServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false

	s, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_BadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Session.Secret = "short"

	_, err := New(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestServe_GracefulShutdown(t *testing.T) {
	s, err := New(context.Background(), testConfig(), discardLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestNewHasher(t *testing.T) {
	h, err := NewHasher(config.PasswordConfig{Algorithm: "argon2id"})
	require.NoError(t, err)

	secret, err := h.Hash("pw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, "$argon2id$"))
	assert.True(t, h.Verify("pw", secret))

	_, err = NewHasher(config.PasswordConfig{Algorithm: "md5"})
	assert.Error(t, err)
}
