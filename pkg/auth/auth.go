// Package auth guards the feed's action endpoints with a bearer token. Only
// a bcrypt hash of the token needs to be configured.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing bearer token")
)

// GenerateToken returns a random URL-safe token
func GenerateToken() (string, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(tokenBytes), nil
}

// HashToken returns the bcrypt hash stored in the configuration
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

// Verifier checks bearer tokens against one bcrypt hash
type Verifier struct {
	hash []byte

	mu       sync.RWMutex
	verified []byte // last token that passed bcrypt
}

// NewVerifier creates a verifier from a bcrypt hash
func NewVerifier(hash string) (*Verifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("failed to parse token hash: %w", err)
	}
	return &Verifier{hash: []byte(hash)}, nil
}

// Verify checks token. A token that already passed is compared in
// constant time instead of paying for bcrypt again.
func (v *Verifier) Verify(token string) error {
	if token == "" {
		return ErrMissingToken
	}

	v.mu.RLock()
	cached := v.verified
	v.mu.RUnlock()
	if cached != nil && SecureCompare(string(cached), token) {
		return nil
	}

	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}

	v.mu.Lock()
	v.verified = []byte(token)
	v.mu.Unlock()
	return nil
}

// Middleware rejects requests without a valid bearer token
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, _ := BearerToken(r)
		if err := v.Verify(token); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the token of an "Authorization: Bearer" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
