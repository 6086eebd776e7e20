package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken is returned when a presented token does not match.
var ErrInvalidToken = errors.New("invalid admin token")

// HashToken returns the bcrypt hash to put in REGISTRY_ADMIN_TOKEN_HASH.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("empty token")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// Verifier checks tokens against a bcrypt hash. Tokens that verified once are
// remembered by digest so bcrypt runs once per distinct token.
type Verifier struct {
	hash []byte

	mu       sync.Mutex
	verified map[[sha256.Size]byte]struct{}
}

func NewVerifier(hash string) *Verifier {
	return &Verifier{hash: []byte(hash), verified: make(map[[sha256.Size]byte]struct{})}
}

// Enabled reports whether a hash is configured.
func (v *Verifier) Enabled() bool {
	return len(v.hash) > 0
}

func (v *Verifier) Verify(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	sum := sha256.Sum256([]byte(token))
	v.mu.Lock()
	_, ok := v.verified[sum]
	v.mu.Unlock()
	if ok {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	v.mu.Lock()
	v.verified[sum] = struct{}{}
	v.mu.Unlock()
	return nil
}
