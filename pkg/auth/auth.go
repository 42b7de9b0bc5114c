// Package auth guards the API with an optional static bearer key.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidKey = errors.New("invalid API key")

// KeyAuth validates bearer API keys against a plaintext key or a bcrypt
// hash. With neither configured every request passes.
type KeyAuth struct {
	key      string
	hash     []byte
	exempt   map[string]bool
	prefixes []string
}

// NewKeyAuth creates an authenticator. exempt lists exact paths that
// never require a key; see ExemptPrefix for subtrees.
func NewKeyAuth(key, bcryptHash string, exempt ...string) (*KeyAuth, error) {
	a := &KeyAuth{key: key, exempt: make(map[string]bool, len(exempt))}
	for _, p := range exempt {
		a.exempt[p] = true
	}
	if bcryptHash != "" {
		if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
			return nil, fmt.Errorf("invalid API key hash: %w", err)
		}
		a.hash = []byte(bcryptHash)
	}
	return a, nil
}

// Enabled reports whether a key is configured
func (a *KeyAuth) Enabled() bool {
	return a.key != "" || len(a.hash) > 0
}

// Validate checks a presented key
func (a *KeyAuth) Validate(presented string) error {
	if !a.Enabled() {
		return nil
	}
	if presented == "" {
		return ErrInvalidKey
	}
	if a.key != "" && SecureCompare(a.key, presented) {
		return nil
	}
	if len(a.hash) > 0 && bcrypt.CompareHashAndPassword(a.hash, []byte(presented)) == nil {
		return nil
	}
	return ErrInvalidKey
}

// ExemptPrefix lets every path under the given prefixes through without
// a key. A bare "/" is ignored; exempt the root with NewKeyAuth instead.
func (a *KeyAuth) ExemptPrefix(prefixes ...string) *KeyAuth {
	for _, p := range prefixes {
		if p == "" || p == "/" {
			continue
		}
		a.prefixes = append(a.prefixes, p)
	}
	return a
}

func (a *KeyAuth) isExempt(path string) bool {
	if a.exempt[path] {
		return true
	}
	for _, prefix := range a.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Middleware enforces "Authorization: Bearer <key>"
func (a *KeyAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.isExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || a.Validate(strings.TrimSpace(token)) != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="spotdl-api"`)
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "unauthorized",
				"class": "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashKey returns the bcrypt hash to put in auth.api_key_hash
func HashKey(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
