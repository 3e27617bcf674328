package engine

import (
	"context"
	"sync"

	"github.com/Iron-Ham/friendflow/internal/journal"
)

// memoryJournal stands in for the SQLite journal when it is disabled.
// Transitions are not kept; attempt counts and passive entries live for the
// lifetime of the process.
type memoryJournal struct {
	mu       sync.Mutex
	attempts map[string]int
	welcomed map[string]bool
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{
		attempts: make(map[string]int),
		welcomed: make(map[string]bool),
	}
}

func (m *memoryJournal) RecordTransition(context.Context, journal.Transition) error { return nil }

func (m *memoryJournal) IncrementAttempts(_ context.Context, recordID, _ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[recordID]++
	return m.attempts[recordID], nil
}

func (m *memoryJournal) ResetAttempts(_ context.Context, recordID string) error {
	m.mu.Lock()
	delete(m.attempts, recordID)
	m.mu.Unlock()
	return nil
}

func (m *memoryJournal) Welcomed(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.welcomed[key], nil
}

func (m *memoryJournal) MarkProcessed(_ context.Context, key string, welcomed bool) error {
	m.mu.Lock()
	m.welcomed[key] = m.welcomed[key] || welcomed
	m.mu.Unlock()
	return nil
}

func (m *memoryJournal) Close() error { return nil }
