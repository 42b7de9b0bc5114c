// Package cache maps request fingerprints to previously staged result files.
//
// Entries are immutable: Store overwrites the whole entry with a fresh
// timestamp, so concurrent stores for one fingerprint resolve as last-store-wins.
// A lookup misses when the entry is absent, older than the TTL, or its file is
// gone from disk. Dangling entries are not repaired; Sweep drops them on age.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultTTL is how long a stored result is served from cache
const DefaultTTL = time.Hour

// ErrMiss is returned by Lookup when no usable entry exists
var ErrMiss = errors.New("cache miss")

// Entry is one cached result
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	FilePath    string    `json:"file_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the entry is older than ttl at now
func (e Entry) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) > ttl
}

// Index is a fingerprint-keyed result index
type Index interface {
	Lookup(ctx context.Context, fingerprint string) (Entry, error)
	Store(ctx context.Context, fingerprint, filePath string) error
	// Sweep removes expired entries and returns them.
	Sweep(ctx context.Context) ([]Entry, error)
	Len(ctx context.Context) (int, error)
}

// Fingerprint derives the cache key of a request. Whitespace is trimmed,
// format and quality are case-folded and the "si" share-tracking parameter
// is dropped from URLs, so equivalent requests share one key.
func Fingerprint(sourceID, format, quality string) string {
	h := sha256.New()
	h.Write([]byte(normalizeSource(sourceID)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(format))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(quality))))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeSource(sourceID string) string {
	sourceID = strings.TrimSpace(sourceID)
	u, err := url.Parse(sourceID)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return sourceID
	}
	q := u.Query()
	if q.Has("si") {
		q.Del("si")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// fileExists is swapped in tests
var fileExists = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
