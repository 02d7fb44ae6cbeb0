package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const tokenIssuer = "session-auth"

// CookieStore keeps the whole session in a signed cookie.
//
// The cookie value is an HS256 JWT:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"iss":"session-auth","sub":"42","iat":...,"exp":...,"jti":"<xid>"}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
//
// Only the server holds the secret, so a client can neither forge a session
// for another user nor extend its expiry. The token only carries session
// state between browser and server; it is never accepted as a bearer
// credential from other sources.
//
// REVOCATION:
// A signed cookie stays valid until it expires, even after the browser
// deletes it. Logging out or logging in again records the old token's jti in
// a deny-list that Load consults until the token would have expired anyway.
// The deny-list lives in this process; deployments running several
// instances should use RedisStore, which deletes the session server-side.
type CookieStore struct {
	secret []byte
	opts   CookieOptions
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // jti -> time after which the entry is moot
}

var _ Store = (*CookieStore)(nil)

// NewCookieStore creates a CookieStore signing with secret.
// The secret should be at least 32 bytes of random data in production:
//
//	SESSION_SECRET=$(openssl rand -hex 32)
func NewCookieStore(secret string, opts CookieOptions) (*CookieStore, error) {
	if len(secret) < 16 {
		return nil, errors.New("session: secret must be at least 16 characters")
	}
	return &CookieStore{
		secret:  []byte(secret),
		opts:    opts.withDefaults(),
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

func (c *CookieStore) Load(r *http.Request) (*Session, error) {
	s := New()

	cookie, err := r.Cookie(c.opts.Name)
	if err != nil || cookie.Value == "" {
		return s, nil
	}

	userID, jti, err := c.parse(cookie.Value)
	if err != nil || c.isRevoked(jti) {
		s.stale = true
		return s, nil
	}

	s.id = jti
	s.userID = userID
	s.authenticated = true
	return s, nil
}

func (c *CookieStore) Save(_ context.Context, w http.ResponseWriter, s *Session) error {
	if !s.Modified() {
		return nil
	}

	// The token the client holds is being replaced or dropped.
	if s.id != "" && (!s.authenticated || s.rotate) {
		c.revoke(s.id)
	}

	if !s.authenticated {
		c.opts.clearCookie(w)
		s.markSaved("")
		return nil
	}

	jti := xid.New().String()
	token, err := c.sign(s.userID, jti)
	if err != nil {
		return err
	}
	c.opts.setCookie(w, token)
	s.markSaved(jti)
	return nil
}

func (c *CookieStore) revoke(jti string) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, until := range c.revoked {
		if now.After(until) {
			delete(c.revoked, id)
		}
	}
	c.revoked[jti] = now.Add(c.opts.TTL)
}

func (c *CookieStore) isRevoked(jti string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.revoked[jti]
	return ok && !c.now().After(until)
}

func (c *CookieStore) sign(userID int64, jti string) (string, error) {
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.opts.TTL)),
			ID:        jti,
		},
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("session: signing token: %w", err)
	}
	return signed, nil
}

// parse verifies the signature, algorithm, issuer and expiry, and returns
// the subject and token ID.
//
// jwt.WithValidMethods rejects "alg":"none" and any algorithm other than
// HS256, so a token cannot pick its own verification scheme.
func (c *CookieStore) parse(tokenStr string) (int64, string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return 0, "", fmt.Errorf("session: invalid token: %w", err)
	}

	cl, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return 0, "", errors.New("session: invalid token claims")
	}

	userID, err := strconv.ParseInt(cl.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, "", fmt.Errorf("session: invalid subject %q", cl.Subject)
	}

	return userID, cl.ID, nil
}
