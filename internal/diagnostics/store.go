package diagnostics

import (
	"sync"
	"time"

	"github.com/steveyegge/selfheal/internal/types"
)

// DefaultStoreCapacity is the number of issues retained when no capacity is given.
const DefaultStoreCapacity = 1000

type storedIssue struct {
	issue      types.DiagnosticIssue
	recordedAt time.Time
}

// Store is the bounded, ordered buffer of observed issues.
// When full, the oldest issue is evicted. Store is the single writer of issues.
type Store struct {
	mu       sync.RWMutex
	issues   []storedIssue
	capacity int
	evicted  int
}

// NewStore creates an issue store holding at most capacity issues
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &Store{
		issues:   make([]storedIssue, 0, capacity),
		capacity: capacity,
	}
}

// Append records an already validated issue
func (s *Store) Append(issue types.DiagnosticIssue, recordedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.issues = append(s.issues, storedIssue{issue: issue.Clone(), recordedAt: recordedAt})

	// Enforce the bound, oldest first
	if len(s.issues) > s.capacity {
		drop := len(s.issues) - s.capacity
		copy(s.issues, s.issues[drop:])
		s.issues = s.issues[:s.capacity]
		s.evicted += drop
	}
}

// Snapshot returns a copy of every retained issue in recording order
func (s *Store) Snapshot() []types.DiagnosticIssue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]types.DiagnosticIssue, len(s.issues))
	for i, st := range s.issues {
		result[i] = st.issue.Clone()
	}
	return result
}

// Since returns copies of the issues recorded at or after t
func (s *Store) Since(t time.Time) []types.DiagnosticIssue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.DiagnosticIssue
	for _, st := range s.issues {
		if !st.recordedAt.Before(t) {
			result = append(result, st.issue.Clone())
		}
	}
	return result
}

// Len returns the number of retained issues
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.issues)
}

// Evicted returns how many issues have been dropped to honour the bound
func (s *Store) Evicted() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.evicted
}

// Clear empties the store. Clearing an empty store is a no-op.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues = make([]storedIssue, 0, s.capacity)
}
