package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("https://open.spotify.com/track/abc", "mp3", "best")
	for i := 0; i < 10; i++ {
		assert.Equal(t, a, Fingerprint("https://open.spotify.com/track/abc", "mp3", "best"))
	}
	assert.Len(t, a, 64)

	assert.NotEqual(t, a, Fingerprint("https://open.spotify.com/track/abc", "flac", "best"))
	assert.NotEqual(t, a, Fingerprint("https://open.spotify.com/track/abc", "mp3", "128k"))
	assert.NotEqual(t, a, Fingerprint("https://open.spotify.com/track/abd", "mp3", "best"))

	// field boundaries are not ambiguous
	assert.NotEqual(t, Fingerprint("ab", "c", "d"), Fingerprint("a", "bc", "d"))
}

func TestFingerprintNormalization(t *testing.T) {
	base := Fingerprint("https://open.spotify.com/track/abc", "mp3", "best")
	assert.Equal(t, base, Fingerprint("  https://open.spotify.com/track/abc ", "MP3", " Best"))
	assert.Equal(t, base, Fingerprint("https://open.spotify.com/track/abc?si=123", "mp3", "best"))
	assert.NotEqual(t, base, Fingerprint("https://open.spotify.com/track/abc?foo=1", "mp3", "best"))
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte("audio"), 0644))
	return p
}

func TestMemoryIndexLookup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "song.mp3")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	idx := NewMemoryIndex(time.Hour)
	idx.SetClock(func() time.Time { return now })

	_, err := idx.Lookup(ctx, "fp")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, idx.Store(ctx, "fp", path))
	entry, err := idx.Lookup(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, path, entry.FilePath)

	now = now.Add(time.Hour)
	_, err = idx.Lookup(ctx, "fp")
	assert.NoError(t, err, "entry exactly at TTL is still fresh")

	now = now.Add(time.Second)
	_, err = idx.Lookup(ctx, "fp")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryIndexMissingFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "song.mp3")

	idx := NewMemoryIndex(time.Hour)
	require.NoError(t, idx.Store(ctx, "fp", path))
	require.NoError(t, os.Remove(path))

	_, err := idx.Lookup(ctx, "fp")
	assert.ErrorIs(t, err, ErrMiss)

	// dangling entries stay until they age out
	n, _ := idx.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestMemoryIndexLastStoreWins(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first := writeFile(t, dir, "a.mp3")
	second := writeFile(t, dir, "b.mp3")

	idx := NewMemoryIndex(time.Hour)
	require.NoError(t, idx.Store(ctx, "fp", first))
	require.NoError(t, idx.Store(ctx, "fp", second))

	entry, err := idx.Lookup(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, second, entry.FilePath)
}

func TestMemoryIndexSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	idx := NewMemoryIndex(time.Hour)
	idx.SetClock(func() time.Time { return now })

	require.NoError(t, idx.Store(ctx, "old", "/nope/old.mp3"))
	now = now.Add(50 * time.Minute)
	require.NoError(t, idx.Store(ctx, "young", "/nope/young.mp3"))
	now = now.Add(20 * time.Minute)

	removed, err := idx.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "old", removed[0].Fingerprint)

	removed, err = idx.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed, "second sweep must not remove anything")

	n, _ := idx.Len(ctx)
	assert.Equal(t, 1, n)
}

func TestRedisIndex(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis index test")
	}
	ctx := context.Background()

	idx, err := NewRedisIndex(ctx, RedisConfig{Addr: addr, Prefix: "spotdl:test:" + t.Name() + ":"}, time.Hour)
	require.NoError(t, err)
	defer idx.Close()

	path := writeFile(t, t.TempDir(), "song.mp3")
	require.NoError(t, idx.Store(ctx, "fp", path))

	entry, err := idx.Lookup(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, path, entry.FilePath)

	require.NoError(t, os.Remove(path))
	_, err = idx.Lookup(ctx, "fp")
	assert.ErrorIs(t, err, ErrMiss)

	idx.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	removed, err := idx.Sweep(ctx)
	require.NoError(t, err)
	assert.Len(t, removed, 1)
}
