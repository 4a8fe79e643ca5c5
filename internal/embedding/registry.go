package embedding

import (
	"sync"
)

// Registry caches constructed embedders by key so that expensive model
// loads happen at most once per process. Concurrent callers requesting
// the same uncached key block until the single construction finishes and
// then share its result, including a construction error.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	once     sync.Once
	embedder Embedder
	err      error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Get returns the embedder for key, constructing it with build on first
// use. build runs exactly once per key regardless of concurrency.
// A hit takes only the read lock, so loading one model never blocks
// lookups of another.
func (r *Registry) Get(key string, build func() (Embedder, error)) (Embedder, error) {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		entry, ok = r.entries[key]
		if !ok {
			entry = &registryEntry{}
			r.entries[key] = entry
		}
		r.mu.Unlock()
	}

	entry.once.Do(func() {
		entry.embedder, entry.err = build()
	})
	return entry.embedder, entry.err
}

// Evict removes the entry for key so the next Get rebuilds it. The
// evicted embedder, if any, is closed.
func (r *Registry) Evict(key string) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()

	if ok && entry.embedder != nil {
		_ = entry.embedder.Close()
	}
}

// Close closes every cached embedder and clears the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	var firstErr error
	for _, entry := range entries {
		if entry.embedder == nil {
			continue
		}
		if err := entry.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
