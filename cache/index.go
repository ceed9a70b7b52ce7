package cache

import (
	"encoding/json"
	"slices"
	"sync"
)

// index is the in-memory view of every resolved fingerprint. Entries are
// never replaced once present.
type index struct {
	mu      sync.RWMutex
	entries map[string]json.RawMessage
}

func newIndex(entries map[string]json.RawMessage) *index {
	if entries == nil {
		entries = make(map[string]json.RawMessage)
	}
	return &index{entries: entries}
}

// get returns a copy of the stored value so callers cannot mutate the index.
func (ix *index) get(key string) (json.RawMessage, bool) {
	ix.mu.RLock()
	v, ok := ix.entries[key]
	ix.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// put stores value unless key is already present and reports whether it did.
func (ix *index) put(key string, value json.RawMessage) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.entries[key]; ok {
		return false
	}
	ix.entries[key] = value
	return true
}

func (ix *index) len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *index) keys() []string {
	ix.mu.RLock()
	keys := make([]string, 0, len(ix.entries))
	for k := range ix.entries {
		keys = append(keys, k)
	}
	ix.mu.RUnlock()
	slices.Sort(keys)
	return keys
}
