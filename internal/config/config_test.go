package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)

	cfg, err := Load(newFlags(t), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, StoreCookie, cfg.Session.Store)
	assert.Equal(t, testSecret, cfg.Session.Secret)
	assert.Equal(t, "session", cfg.Session.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "bcrypt", cfg.Password.Algorithm)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_EnvironmentDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", "/tmp/users.db")

	cfg, err := Load(newFlags(t), "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "/tmp/users.db", cfg.Storage.SQLitePath)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
http:
  port: 7000
session:
  secret: "`+testSecret+`"
  ttl: 2h
  secure: true
password:
  algorithm: argon2id
`)

	cfg, err := Load(newFlags(t), path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.True(t, cfg.Session.Secure)
	assert.Equal(t, "argon2id", cfg.Password.Algorithm)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver, "unset keys keep their defaults")
}

func TestLoad_ExplicitFlagOverridesFile(t *testing.T) {
	path := writeFile(t, `
http:
  port: 7000
session:
  secret: "`+testSecret+`"
`)

	cfg, err := Load(newFlags(t, "--http.port=7001"), path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.HTTP.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(newFlags(t), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			HTTP:     HTTPConfig{Port: 8080},
			Log:      LogConfig{Format: "text", Level: "info"},
			Storage:  StorageConfig{Driver: DriverSQLite, SQLitePath: "x.db"},
			Session:  SessionConfig{Store: StoreCookie, Secret: testSecret, TTL: time.Hour},
			Redis:    RedisConfig{Addr: "localhost:6379"},
			Password: PasswordConfig{Algorithm: "bcrypt"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }, true},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, true},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, true},
		{"sqlite without path", func(c *Config) { c.Storage.SQLitePath = "" }, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, true},
		{"postgres with dsn", func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.Storage.PostgresDSN = "postgres://localhost/auth"
		}, false},
		{"unknown store", func(c *Config) { c.Session.Store = "memcached" }, true},
		{"short secret", func(c *Config) { c.Session.Secret = "short" }, true},
		{"redis store without secret", func(c *Config) {
			c.Session.Store = StoreRedis
			c.Session.Secret = ""
		}, false},
		{"redis store without addr", func(c *Config) {
			c.Session.Store = StoreRedis
			c.Redis.Addr = ""
		}, true},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }, true},
		{"unknown algorithm", func(c *Config) { c.Password.Algorithm = "md5" }, true},
		{"bcrypt cost too low", func(c *Config) { c.Password.BcryptCost = 2 }, true},
		{"bcrypt cost ok", func(c *Config) { c.Password.BcryptCost = 10 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, LoadDotEnv())
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SESSION_STORE=redis\nLOG_FORMAT=json\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("SESSION_STORE", "cookie")
	t.Setenv("LOG_FORMAT", "")
	os.Unsetenv("LOG_FORMAT")

	require.NoError(t, LoadDotEnv())
	assert.Equal(t, "cookie", os.Getenv("SESSION_STORE"))
	assert.Equal(t, "json", os.Getenv("LOG_FORMAT"))
}
