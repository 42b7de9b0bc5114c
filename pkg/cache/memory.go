package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryIndex is a process-local Index
type MemoryIndex struct {
	entries map[string]Entry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryIndex creates an index whose entries live for ttl
func NewMemoryIndex(ttl time.Duration) *MemoryIndex {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryIndex{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock overrides the time source
func (m *MemoryIndex) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryIndex) Lookup(_ context.Context, fingerprint string) (Entry, error) {
	m.mu.RLock()
	entry, ok := m.entries[fingerprint]
	now := m.now()
	m.mu.RUnlock()

	if !ok || entry.Expired(now, m.ttl) || !fileExists(entry.FilePath) {
		return Entry{}, ErrMiss
	}
	return entry, nil
}

func (m *MemoryIndex) Store(_ context.Context, fingerprint, filePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[fingerprint] = Entry{
		Fingerprint: fingerprint,
		FilePath:    filePath,
		CreatedAt:   m.now(),
	}
	return nil
}

func (m *MemoryIndex) Sweep(_ context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed []Entry
	for fp, entry := range m.entries {
		if entry.Expired(now, m.ttl) {
			delete(m.entries, fp)
			removed = append(removed, entry)
		}
	}
	return removed, nil
}

func (m *MemoryIndex) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
