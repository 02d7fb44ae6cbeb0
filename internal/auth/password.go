package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor.
//
// COST TUNING RULE OF THUMB:
// Set cost so that hashing takes ~200–300ms on your production hardware.
// Each +1 doubles the work. Cost 12 is ~250ms on a modern server.
const defaultCost = 12

// bcryptMaxBytes is the longest input bcrypt consumes. Anything past it would
// be silently ignored by the algorithm.
const bcryptMaxBytes = 72

// BcryptHasher hashes passwords with bcrypt.
//
// The output is self-describing:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version
//
// bcrypt.CompareHashAndPassword re-derives the digest with the embedded salt
// and cost and compares it in constant time.
type BcryptHasher struct {
	cost int
}

var _ PasswordHasher = (*BcryptHasher)(nil)

// NewBcryptHasher creates a BcryptHasher with the given cost. A cost of 0
// selects the default (12).
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = defaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// NewBcryptHasherForTest creates a BcryptHasher with cost 4, the minimum
// bcrypt allows. Use it in tests in other packages; never in production.
func NewBcryptHasherForTest() *BcryptHasher {
	return &BcryptHasher{cost: bcrypt.MinCost}
}

// Hash returns the bcrypt secret for plaintext.
//
// Inputs longer than 72 bytes are first reduced with SHA-256 (base64 encoded,
// 44 bytes) so every byte of a long password still counts. Verify applies the
// same reduction.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword(bcryptInput(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches secret. A malformed secret or a
// mismatch both return false.
func (h *BcryptHasher) Verify(plaintext, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(secret), bcryptInput(plaintext)) == nil
}

func bcryptInput(plaintext string) []byte {
	if len(plaintext) <= bcryptMaxBytes {
		return []byte(plaintext)
	}
	sum := sha256.Sum256([]byte(plaintext))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}
