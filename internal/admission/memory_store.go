package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process memory. Stale timestamps are pruned on
// each check, but a client that stops sending keeps its (empty) entry for the
// life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (m *MemoryStore) Admit(_ context.Context, clientID string, now time.Time, window time.Duration, limit int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-window)
	entries := m.windows[clientID]
	stale := 0
	for stale < len(entries) && !entries[stale].After(cutoff) {
		stale++
	}
	if stale > 0 {
		entries = append(entries[:0:0], entries[stale:]...)
	}

	if len(entries) >= limit {
		m.windows[clientID] = entries
		return false, nil
	}
	m.windows[clientID] = append(entries, now)
	return true, nil
}

func (m *MemoryStore) TrackedClients(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows), nil
}
