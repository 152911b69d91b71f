package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func newTestVerifier(t *testing.T, token string) *Verifier {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	v, err := NewVerifier(string(hash))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestVerify(t *testing.T) {
	v := newTestVerifier(t, "feed-token")

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"valid", "feed-token", nil},
		{"valid again from cache", "feed-token", nil},
		{"wrong", "other", ErrInvalidToken},
		{"empty", "", ErrMissingToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := v.Verify(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("Verify(%q) = %v, want %v", tt.token, err, tt.want)
			}
		})
	}
}

func TestNewVerifierRejectsBadHash(t *testing.T) {
	if _, err := NewVerifier("not-a-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestGenerateAndHashToken(t *testing.T) {
	token, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if len(token) < 40 {
		t.Errorf("token too short: %q", token)
	}

	hash, err := HashToken(token)
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	v, err := NewVerifier(hash)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if err := v.Verify(token); err != nil {
		t.Errorf("generated token rejected: %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	v := newTestVerifier(t, "feed-token")
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic feed-token", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer feed-token", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/actions/start", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
