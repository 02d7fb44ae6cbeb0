// Package auth turns plaintext passwords into storable credential secrets and
// checks login attempts against them.
//
// NEVER store passwords in plain text or with fast hashes (MD5, SHA-256).
// Both algorithms here are deliberately slow and salted:
//
//   - bcrypt    $2a$12$...            (default)
//   - argon2id  $argon2id$v=19$...    (memory-hard)
//
// Every secret names its own algorithm and parameters, so a MultiHasher can
// verify secrets produced under an older configuration after the primary
// algorithm changes.
package auth

import (
	"fmt"
	"strings"
)

// PasswordHasher hashes and verifies passwords.
//
// Hash salts every call, so two hashes of the same plaintext differ. Verify
// never panics or errors: an unknown or malformed secret is simply false.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, secret string) bool
}

// Algorithm names a hashing scheme.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// ParseAlgorithm validates a configured algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(s))); a {
	case AlgorithmBcrypt, AlgorithmArgon2id:
		return a, nil
	default:
		return "", fmt.Errorf("auth: unknown password algorithm %q", s)
	}
}

// MultiHasher hashes with one primary algorithm and verifies any secret whose
// prefix it recognises.
type MultiHasher struct {
	primary Algorithm
	bcrypt  *BcryptHasher
	argon2  *Argon2idHasher
}

var _ PasswordHasher = (*MultiHasher)(nil)

// NewMultiHasher creates a MultiHasher that produces primary secrets.
func NewMultiHasher(primary Algorithm, b *BcryptHasher, a *Argon2idHasher) (*MultiHasher, error) {
	if b == nil || a == nil {
		return nil, fmt.Errorf("auth: both bcrypt and argon2id hashers are required")
	}
	if _, err := ParseAlgorithm(string(primary)); err != nil {
		return nil, err
	}
	return &MultiHasher{primary: primary, bcrypt: b, argon2: a}, nil
}

func (m *MultiHasher) Hash(plaintext string) (string, error) {
	if m.primary == AlgorithmArgon2id {
		return m.argon2.Hash(plaintext)
	}
	return m.bcrypt.Hash(plaintext)
}

func (m *MultiHasher) Verify(plaintext, secret string) bool {
	switch AlgorithmOf(secret) {
	case AlgorithmBcrypt:
		return m.bcrypt.Verify(plaintext, secret)
	case AlgorithmArgon2id:
		return m.argon2.Verify(plaintext, secret)
	default:
		return false
	}
}

// AlgorithmOf reports which algorithm produced secret, or "" if unknown.
func AlgorithmOf(secret string) Algorithm {
	switch {
	case strings.HasPrefix(secret, "$argon2id$"):
		return AlgorithmArgon2id
	case strings.HasPrefix(secret, "$2a$"),
		strings.HasPrefix(secret, "$2b$"),
		strings.HasPrefix(secret, "$2y$"):
		return AlgorithmBcrypt
	default:
		return ""
	}
}
