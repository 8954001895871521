package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PutRecord stores a complete JSON document under name, replacing any previous one.
func (s *Store) PutRecord(ctx context.Context, name string, doc []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_state (name, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at
	`, name, string(doc), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write record %s: %w", name, err)
	}
	return nil
}

// GetRecord returns the document stored under name. ok is false when absent.
func (s *Store) GetRecord(ctx context.Context, name string) (doc []byte, ok bool, err error) {
	var text string
	err = s.db.QueryRowContext(ctx, `SELECT document FROM shared_state WHERE name = ?`, name).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read record %s: %w", name, err)
	}
	return []byte(text), true, nil
}

// ClearRecords removes every shared-state record in one transaction.
func (s *Store) ClearRecords(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM shared_state`); err != nil {
		return fmt.Errorf("failed to clear shared state: %w", err)
	}
	return tx.Commit()
}
