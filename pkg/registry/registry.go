// Package registry maps issued download links to files on disk.
package registry

import (
	"errors"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when no registration matches a requested name
var ErrNotFound = errors.New("file not registered")

type registration struct {
	path string
	seq  uint64
}

// Registry stores link → path registrations. Entries are never removed;
// a link whose file was swept keeps resolving to a path that no longer
// exists and the retrieval handler answers 404.
type Registry struct {
	byLink map[string]*registration
	seq    uint64
	mu     sync.RWMutex
}

// New creates an empty registry
func New() *Registry {
	return &Registry{byLink: make(map[string]*registration)}
}

// Register maps link to path, overwriting any earlier mapping for link.
// Every call takes a fresh sequence number so the latest registration wins
// basename collisions.
func (r *Registry) Register(link, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	if e, ok := r.byLink[link]; ok {
		e.path, e.seq = path, r.seq
		return
	}
	r.byLink[link] = &registration{path: path, seq: r.seq}
}

// Resolve finds the registered path whose final segment equals name. When
// several paths share a basename the most recently registered one wins.
// This is a linear scan over all registrations.
func (r *Registry) Resolve(name string) (string, error) {
	if name == "" || name == "." || name == "/" {
		return "", ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *registration
	for _, e := range r.byLink {
		if filepath.Base(e.path) == name && (best == nil || e.seq > best.seq) {
			best = e
		}
	}
	if best == nil {
		return "", ErrNotFound
	}
	return best.path, nil
}

// Lookup returns the path registered for an exact link
func (r *Registry) Lookup(link string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byLink[link]
	if !ok {
		return "", false
	}
	return e.path, true
}

// Len returns the number of registrations
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byLink)
}
