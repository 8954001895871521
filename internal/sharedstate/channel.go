// Package sharedstate mirrors the latest diagnostics, repair plan and cycle
// state so other processes can observe the loop. Each record is a complete
// JSON document and the last writer wins.
package sharedstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steveyegge/selfheal/internal/types"
)

// Record names.
const (
	RecordDiagnostics   = "diagnostics"
	RecordRepairPlan    = "repairPlan"
	RecordSelfHealState = "selfHealState"
)

// RecordNames lists every record the channel manages.
var RecordNames = []string{RecordDiagnostics, RecordRepairPlan, RecordSelfHealState}

// ErrRecordNotFound is returned when a record has never been written or was cleared.
var ErrRecordNotFound = errors.New("shared state record not found")

// Backend stores raw record documents. Writes must be atomic per record.
// *FileBackend and *sqlite.Store implement it.
type Backend interface {
	PutRecord(ctx context.Context, name string, doc []byte) error
	GetRecord(ctx context.Context, name string) (doc []byte, ok bool, err error)
	ClearRecords(ctx context.Context) error
}

// Watcher is implemented by backends that can report record changes.
type Watcher interface {
	Watch(ctx context.Context, fn func(name string)) error
}

// Channel reads and writes typed records through a Backend.
type Channel struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a channel over backend
func New(backend Backend, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{backend: backend, logger: logger}
}

// WriteDiagnostics replaces the diagnostics record
func (c *Channel) WriteDiagnostics(ctx context.Context, r *types.DiagnosticReport) error {
	return write(ctx, c, RecordDiagnostics, r)
}

// ReadDiagnostics returns the diagnostics record
func (c *Channel) ReadDiagnostics(ctx context.Context) (*types.DiagnosticReport, error) {
	return read[types.DiagnosticReport](ctx, c, RecordDiagnostics)
}

// WriteRepairPlan replaces the repair plan record
func (c *Channel) WriteRepairPlan(ctx context.Context, p *types.RepairPlan) error {
	return write(ctx, c, RecordRepairPlan, p)
}

// ReadRepairPlan returns the repair plan record
func (c *Channel) ReadRepairPlan(ctx context.Context) (*types.RepairPlan, error) {
	return read[types.RepairPlan](ctx, c, RecordRepairPlan)
}

// WriteState replaces the self-heal state record
func (c *Channel) WriteState(ctx context.Context, s *types.SelfHealState) error {
	return write(ctx, c, RecordSelfHealState, s)
}

// ReadState returns the self-heal state record
func (c *Channel) ReadState(ctx context.Context) (*types.SelfHealState, error) {
	return read[types.SelfHealState](ctx, c, RecordSelfHealState)
}

// Clear removes every record
func (c *Channel) Clear(ctx context.Context) error {
	if err := c.backend.ClearRecords(ctx); err != nil {
		return fmt.Errorf("failed to clear shared state: %w", err)
	}
	c.logger.Debug("cleared shared state")
	return nil
}

// Watch forwards record change notifications when the backend supports them.
func (c *Channel) Watch(ctx context.Context, fn func(name string)) error {
	w, ok := c.backend.(Watcher)
	if !ok {
		return fmt.Errorf("shared state backend %T does not support watching", c.backend)
	}
	return w.Watch(ctx, fn)
}

func write[T any](ctx context.Context, c *Channel, name string, v *T) error {
	if v == nil {
		return fmt.Errorf("refusing to write nil %s record", name)
	}
	doc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing %s: %w", name, err)
	}
	if err := c.backend.PutRecord(ctx, name, doc); err != nil {
		return err
	}
	c.logger.Debug("wrote shared state record", "record", name, "bytes", len(doc))
	return nil
}

func read[T any](ctx context.Context, c *Channel, name string) (*T, error) {
	doc, ok, err := c.backend.GetRecord(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
	}
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return &v, nil
}
