package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledPassesEverything(t *testing.T) {
	a, err := NewKeyAuth("", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.Enabled() {
		t.Error("expected disabled")
	}
	if err := a.Validate(""); err != nil {
		t.Errorf("disabled auth rejected request: %v", err)
	}
}

func TestPlainKey(t *testing.T) {
	a, _ := NewKeyAuth("secret", "")
	if err := a.Validate("secret"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := a.Validate("nope"); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestHashedKey(t *testing.T) {
	hash, err := HashKey("s3cr3t")
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewKeyAuth("", hash)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Validate("s3cr3t"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	if err := a.Validate("wrong"); err == nil {
		t.Error("wrong key accepted")
	}

	if _, err := NewKeyAuth("", "not-a-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestMiddleware(t *testing.T) {
	a, _ := NewKeyAuth("secret", "", "/", "/health")
	a.ExemptPrefix("/temp-download/", "/")
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing key", "/tasks", "", http.StatusUnauthorized},
		{"wrong key", "/tasks", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "/tasks", "Basic secret", http.StatusUnauthorized},
		{"valid key", "/tasks", "Bearer secret", http.StatusOK},
		{"exempt exact", "/health", "", http.StatusOK},
		{"exempt prefix", "/temp-download/song.mp3", "", http.StatusOK},
		{"exact exempt is not a prefix", "/healthz", "", http.StatusUnauthorized},
		{"root exempt", "/", "", http.StatusOK},
		{"root is exact", "/tasks", "", http.StatusUnauthorized},
		{"root does not cover events", "/events", "", http.StatusUnauthorized},
		{"prefix needs the slash", "/temp-downloadx", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("got %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc", "abc") || SecureCompare("abc", "abd") || SecureCompare("abc", "ab") {
		t.Error("SecureCompare mismatch")
	}
}
