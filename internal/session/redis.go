package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sakif/session-auth/internal/apperror"
)

// redisClient is the subset of redis.Cmdable the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps sessions server-side. The cookie holds a random 256-bit
// token; Redis maps sha256(token) to the user ID with the session TTL.
//
// Only the digest is stored, so a read of the Redis keyspace does not yield
// usable cookies. Logout deletes the key, which ends the session on every
// copy of the cookie.
type RedisStore struct {
	client redisClient
	opts   CookieOptions
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore on client. *redis.Client satisfies
// the client interface.
func NewRedisStore(client redisClient, opts CookieOptions) *RedisStore {
	return &RedisStore{
		client: client,
		opts:   opts.withDefaults(),
		prefix: "session:",
	}
}

func (rs *RedisStore) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return rs.prefix + hex.EncodeToString(sum[:])
}

func (rs *RedisStore) Load(r *http.Request) (*Session, error) {
	s := New()

	cookie, err := r.Cookie(rs.opts.Name)
	if err != nil || cookie.Value == "" {
		return s, nil
	}

	val, err := rs.client.Get(r.Context(), rs.key(cookie.Value)).Result()
	if errors.Is(err, redis.Nil) {
		s.stale = true
		return s, nil
	}
	if err != nil {
		s.loadErr = apperror.StorageUnavailable("session: loading from redis", err)
		return s, s.loadErr
	}

	userID, err := strconv.ParseInt(val, 10, 64)
	if err != nil || userID <= 0 {
		s.stale = true
		return s, nil
	}

	s.id = cookie.Value
	s.userID = userID
	s.authenticated = true
	return s, nil
}

func (rs *RedisStore) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if !s.Modified() {
		return nil
	}

	if !s.authenticated {
		if s.id != "" {
			if err := rs.client.Del(ctx, rs.key(s.id)).Err(); err != nil {
				return apperror.StorageUnavailable("session: deleting from redis", err)
			}
		}
		rs.opts.clearCookie(w)
		s.markSaved("")
		return nil
	}

	// A new login always gets a new token so a token planted before
	// login (session fixation) is never promoted.
	token := s.id
	if s.rotate || token == "" {
		fresh, err := newToken()
		if err != nil {
			return err
		}
		if s.id != "" {
			if err := rs.client.Del(ctx, rs.key(s.id)).Err(); err != nil {
				return apperror.StorageUnavailable("session: deleting from redis", err)
			}
		}
		token = fresh
	}

	if err := rs.client.Set(ctx, rs.key(token), strconv.FormatInt(s.userID, 10), rs.opts.TTL).Err(); err != nil {
		return apperror.StorageUnavailable("session: writing to redis", err)
	}
	rs.opts.setCookie(w, token)
	s.markSaved(token)
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generating token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
