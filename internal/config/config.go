// Package config loads the server configuration.
//
// PRECEDENCE (highest first):
//  1. Command-line flags that were set explicitly
//  2. The YAML config file (--config)
//  3. Flag defaults, which are read from the environment (and .env)
//
// Flag names match the koanf keys, e.g. --storage.driver sets storage.driver.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/session-auth/internal/auth"
	"github.com/sakif/session-auth/internal/logging"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Session stores.
const (
	StoreCookie = "cookie"
	StoreRedis  = "redis"
)

const minSecretLength = 16

type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Log      LogConfig      `koanf:"log"`
	Storage  StorageConfig  `koanf:"storage"`
	Session  SessionConfig  `koanf:"session"`
	Redis    RedisConfig    `koanf:"redis"`
	Password PasswordConfig `koanf:"password"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

type StorageConfig struct {
	Driver      string `koanf:"driver"`
	SQLitePath  string `koanf:"sqlite_path"`
	PostgresDSN string `koanf:"postgres_dsn"`
}

type SessionConfig struct {
	Store      string        `koanf:"store"`
	Secret     string        `koanf:"secret"`
	CookieName string        `koanf:"cookie_name"`
	TTL        time.Duration `koanf:"ttl"`
	Secure     bool          `koanf:"secure"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type PasswordConfig struct {
	Algorithm  string `koanf:"algorithm"`
	BcryptCost int    `koanf:"bcrypt_cost"`
}

type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// RegisterFlags adds every configuration key to fs. Defaults come from the
// environment, so call LoadDotEnv first.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("http.port", envInt("PORT", 8080), "HTTP listen port")
	fs.Duration("http.read_timeout", 15*time.Second, "HTTP read timeout")
	fs.Duration("http.write_timeout", 15*time.Second, "HTTP write timeout")
	fs.Duration("http.idle_timeout", 60*time.Second, "HTTP idle timeout")
	fs.Duration("http.shutdown_timeout", 30*time.Second, "time allowed for in-flight requests on shutdown")

	fs.String("log.format", envString("LOG_FORMAT", "text"), "log format (text|json)")
	fs.String("log.level", envString("LOG_LEVEL", "info"), "log level (debug|info|warn|error)")

	fs.String("storage.driver", envString("STORAGE_DRIVER", DriverSQLite), "user store (sqlite|postgres)")
	fs.String("storage.sqlite_path", envString("DB_PATH", "data/session-auth.db"), "SQLite database file")
	fs.String("storage.postgres_dsn", envString("DATABASE_URL", ""), "PostgreSQL connection string")

	fs.String("session.store", envString("SESSION_STORE", StoreCookie), "session store (cookie|redis)")
	fs.String("session.secret", envString("SESSION_SECRET", ""), "session signing secret (min 16 chars)")
	fs.String("session.cookie_name", "session", "session cookie name")
	fs.Duration("session.ttl", 24*time.Hour, "session lifetime")
	fs.Bool("session.secure", envBool("SESSION_SECURE", false), "mark the session cookie Secure")

	fs.String("redis.addr", envString("REDIS_ADDR", "localhost:6379"), "Redis address")
	fs.String("redis.password", envString("REDIS_PASSWORD", ""), "Redis password")
	fs.Int("redis.db", envInt("REDIS_DB", 0), "Redis database number")

	fs.String("password.algorithm", envString("PASSWORD_ALGORITHM", string(auth.AlgorithmBcrypt)), "password hash (bcrypt|argon2id)")
	fs.Int("password.bcrypt_cost", 0, "bcrypt cost (0 means the package default)")

	fs.Bool("metrics.enabled", true, "serve Prometheus metrics on /metrics")
}

// LoadDotEnv loads .env into the process environment if the file exists.
// Variables already set are not overwritten.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: loading .env: %w", err)
	}
	return nil
}

// Load merges the config file at path (optional) with fs and validates the
// result.
func Load(fs *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// posflag only applies a flag's default when the key is not already set,
	// so file values survive unless the flag was passed explicitly.
	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("config: reading flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config: log.format must be text or json, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("config: storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Session.Store {
	case StoreCookie, StoreRedis:
	default:
		return fmt.Errorf("config: unknown session.store %q", c.Session.Store)
	}
	if len(c.Session.Secret) < minSecretLength && c.Session.Store == StoreCookie {
		return fmt.Errorf("config: session.secret must be at least %d characters", minSecretLength)
	}
	if c.Session.TTL <= 0 {
		return errors.New("config: session.ttl must be positive")
	}
	if c.Session.Store == StoreRedis && c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required for the redis session store")
	}

	if _, err := auth.ParseAlgorithm(c.Password.Algorithm); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Password.BcryptCost != 0 &&
		(c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("config: password.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	return nil
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}
