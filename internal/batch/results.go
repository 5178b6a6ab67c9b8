package batch

import (
	"encoding/json"
	"sync"

	"electrumbatch/internal/jsonrpc"
	"electrumbatch/internal/metrics"
)

// Entry is the stored outcome of one request
type Entry struct {
	Result json.RawMessage
	Err    *jsonrpc.Error
}

// Results maps request ids to entries. Each id is written at most once.
type Results struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	duplicates int
}

// NewResults creates an empty results table
func NewResults() *Results {
	return &Results{entries: make(map[string]Entry)}
}

// Store records e under id. It returns false, leaving the first entry in place,
// when id already has one.
func (r *Results) Store(id string, e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[id]; exists {
		r.duplicates++
		metrics.DuplicateResults.Inc()
		return false
	}
	r.entries[id] = e
	return true
}

// Load returns the entry for id
func (r *Results) Load(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	return e, ok
}

// Len returns the number of entries
func (r *Results) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Duplicates returns how many writes were refused
func (r *Results) Duplicates() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.duplicates
}

// Snapshot copies the table
func (r *Results) Snapshot() map[string]Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out
}
