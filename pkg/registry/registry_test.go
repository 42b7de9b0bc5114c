package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterResolve(t *testing.T) {
	r := New()
	r.Register("http://h/temp-download/song.mp3", "/data/cache/ab/song.mp3")

	path, err := r.Resolve("song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "/data/cache/ab/song.mp3", path)

	_, err = r.Resolve("other.mp3")
	assert.ErrorIs(t, err, ErrNotFound)

	// only the final segment matches, not substrings
	_, err = r.Resolve("song")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve("")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegisterOverwrites(t *testing.T) {
	r := New()
	r.Register("link", "/a/one.mp3")
	r.Register("link", "/b/two.mp3")

	assert.Equal(t, 1, r.Len())
	path, ok := r.Lookup("link")
	require.True(t, ok)
	assert.Equal(t, "/b/two.mp3", path)

	_, err := r.Resolve("one.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveNewestWins(t *testing.T) {
	r := New()
	r.Register("l1", "/cache/aaa/song.mp3")
	r.Register("l2", "/cache/bbb/song.mp3")

	path, err := r.Resolve("song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "/cache/bbb/song.mp3", path)

	// re-registering an old link makes it the newest
	r.Register("l1", "/cache/aaa/song.mp3")
	path, err = r.Resolve("song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "/cache/aaa/song.mp3", path)

	p2, ok := r.Lookup("l2")
	require.True(t, ok)
	assert.Equal(t, "/cache/bbb/song.mp3", p2)
}

func TestReregisterKeepsOtherLinks(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		r.Register(fmt.Sprintf("l%d", i), fmt.Sprintf("/cache/%d/song.mp3", i))
	}
	for round := 0; round < 3; round++ {
		r.Register("l2", "/cache/2/song.mp3")
	}

	assert.Equal(t, 5, r.Len())
	for i := 0; i < 5; i++ {
		path, ok := r.Lookup(fmt.Sprintf("l%d", i))
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("/cache/%d/song.mp3", i), path)
	}
	path, err := r.Resolve("song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "/cache/2/song.mp3", path)
}

func TestConcurrentRegister(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("f%d.mp3", i)
			r.Register("link-"+name, "/x/"+name)
			_, _ = r.Resolve(name)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, r.Len())
}
