// Package cache stores loader chain results so unchanged modules are not
// transformed again, either in memory for the life of the process or on disk
// between runs.
package cache

import (
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/minio/crc64nvme"
	"github.com/wolfeidau/gopack/internal/config"
)

// Entry is the transform result of one module.
type Entry struct {
	// Sum is the checksum of the source bytes the entry was produced from
	Sum uint64
	// Code is the JavaScript produced by the loader chain
	Code []byte
	// Styles is stylesheet text recorded by the css loader
	Styles []byte
	// Extract marks Styles for the extracted stylesheet
	Extract bool
	// Deps are the specifiers found in Code, in source order
	Deps []string
}

// Store holds transform results keyed by module path.
type Store interface {
	// Get returns the entry for path if it was produced from a source with the given checksum
	Get(path string, sum uint64) (Entry, bool)
	Put(path string, entry Entry)
	// Invalidate drops the entries for the given paths
	Invalidate(paths ...string)
	Len() int
	// Close persists the store if it is backed by a file
	Close() error
}

// Checksum returns the CRC64-NVME checksum used to validate entries.
func Checksum(data []byte) uint64 {
	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}

// Open returns the store selected by the cache configuration.
func Open(cfg config.Cache, signature uint64) (Store, error) {
	switch cfg.Type {
	case "", config.CacheMemory:
		return NewMemory(), nil
	case config.CacheFilesystem:
		return OpenFile(cfg.Directory, signature)
	}
	return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
}

// Clean removes the cache directory.
func Clean(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove cache directory: %w", err)
	}
	return nil
}

type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates a store that lives for the duration of the process.
func NewMemory() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]Entry)}
}

func (m *memoryStore) Get(path string, sum uint64) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[path]
	if !ok || entry.Sum != sum {
		return Entry{}, false
	}
	return entry, true
}

func (m *memoryStore) Put(path string, entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[path] = entry
}

func (m *memoryStore) Invalidate(paths ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, path := range paths {
		delete(m.entries, path)
	}
}

func (m *memoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *memoryStore) Close() error {
	return nil
}

// sortedPaths returns entry paths in a stable order for serialization.
func (m *memoryStore) sortedPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	slices.Sort(paths)
	return paths
}
