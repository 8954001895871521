package sqlite

import (
	"context"
	"fmt"

	"github.com/steveyegge/selfheal/internal/types"
)

// LoadMemory returns every failure memory entry ordered by key.
func (s *Store) LoadMemory(ctx context.Context) ([]types.FailureMemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, pattern, solution, occurrence_count, first_occurrence, last_occurrence, prevention_strategy
		FROM failure_memory
		ORDER BY kind, pattern
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure memory: %w", err)
	}
	defer rows.Close()

	var entries []types.FailureMemoryEntry
	for rows.Next() {
		var (
			e           types.FailureMemoryEntry
			kind        string
			first, last string
		)
		if err := rows.Scan(&kind, &e.Key.Pattern, &e.Solution, &e.OccurrenceCount, &first, &last, &e.PreventionStrategy); err != nil {
			return nil, fmt.Errorf("failed to scan failure memory: %w", err)
		}
		e.Key.Kind = types.IssueKind(kind)
		if e.FirstOccurrence, err = parseTime(first); err != nil {
			return nil, err
		}
		if e.LastOccurrence, err = parseTime(last); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failure memory: %w", err)
	}
	return entries, nil
}

// SaveMemory upserts an entry. The stored occurrence count never decreases
// and the first occurrence is kept from the original insert. A write carrying
// a lower count than the stored row is stale and changes nothing.
func (s *Store) SaveMemory(ctx context.Context, e types.FailureMemoryEntry) error {
	if e.OccurrenceCount < 1 {
		return fmt.Errorf("failure memory %s has occurrence count %d", e.Key, e.OccurrenceCount)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failure_memory (kind, pattern, solution, occurrence_count, first_occurrence, last_occurrence, prevention_strategy)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, pattern) DO UPDATE SET
			solution = CASE WHEN excluded.occurrence_count >= failure_memory.occurrence_count
				THEN excluded.solution ELSE failure_memory.solution END,
			last_occurrence = CASE WHEN excluded.occurrence_count >= failure_memory.occurrence_count
				THEN excluded.last_occurrence ELSE failure_memory.last_occurrence END,
			prevention_strategy = CASE WHEN excluded.occurrence_count >= failure_memory.occurrence_count
				THEN excluded.prevention_strategy ELSE failure_memory.prevention_strategy END,
			occurrence_count = max(failure_memory.occurrence_count, excluded.occurrence_count)
	`, string(e.Key.Kind), e.Key.Pattern, e.Solution, e.OccurrenceCount,
		formatTime(e.FirstOccurrence), formatTime(e.LastOccurrence), e.PreventionStrategy)
	if err != nil {
		return fmt.Errorf("failed to save failure memory %s: %w", e.Key, err)
	}
	return nil
}
