// Package orchestrator runs self-heal cycles: diagnose, dispatch, validate,
// verify, confirm and learn. It owns the cycle history and mirrors progress
// into the shared state channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/selfheal/internal/authority"
	"github.com/steveyegge/selfheal/internal/diagnostics"
	"github.com/steveyegge/selfheal/internal/dispatch"
	"github.com/steveyegge/selfheal/internal/evolution"
	"github.com/steveyegge/selfheal/internal/sharedstate"
	"github.com/steveyegge/selfheal/internal/types"
	"github.com/steveyegge/selfheal/internal/validation"
	"github.com/steveyegge/selfheal/internal/verification"
)

// ErrCycleNotFound is returned by GetCycle for unknown or evicted IDs.
var ErrCycleNotFound = errors.New("cycle not found")

const (
	DefaultDeadline  = 2 * time.Minute
	DefaultMaxCycles = 200
)

// Failure messages recorded on cycles.
const (
	msgNoPatch      = "no remediation patch available"
	msgInvalidPatch = "patch failed validation"
	msgUnsafePatch  = "patch failed safety precheck"
	msgNotConfirmed = "self-heal not confirmed"
)

// PatchSource supplies a patch when the authority accepted a repair request
// without returning one. Returning nil means no patch is available.
type PatchSource func(ctx context.Context, report *types.DiagnosticReport, outcome types.DispatchOutcome) (*types.PatchProposal, error)

// PatchApplier applies a validated patch before verification.
type PatchApplier func(ctx context.Context, cycleID string, patch *types.PatchProposal) error

// Options wires an Orchestrator. Aggregator, Dispatcher, Validator, Verifier
// and Evolution are required.
type Options struct {
	Aggregator *diagnostics.Aggregator
	Dispatcher *dispatch.Dispatcher
	Validator  *validation.Validator
	Verifier   *verification.Engine
	Evolution  *evolution.Engine
	// SharedState is optional; nil disables mirroring
	SharedState *sharedstate.Channel
	// Authority answers the build, status, log and advice queries; optional
	Authority authority.Authority

	PatchSource  PatchSource
	PatchApplier PatchApplier

	Threshold int
	Deadline  time.Duration
	MaxCycles int
	Version   string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Orchestrator coordinates self-heal cycles. It is safe for concurrent use.
type Orchestrator struct {
	agg        *diagnostics.Aggregator
	dispatcher *dispatch.Dispatcher
	validator  *validation.Validator
	verifier   *verification.Engine
	evolution  *evolution.Engine
	state      *sharedstate.Channel
	authority  authority.Authority

	patchSource  PatchSource
	patchApplier PatchApplier

	threshold int
	deadline  time.Duration
	maxCycles int
	version   string
	startedAt time.Time
	logger    *slog.Logger
	now       func() time.Time

	mu sync.RWMutex
	// cycles holds immutable snapshots; updates replace the pointer
	cycles map[string]*types.SelfHealCycle
	order  []string
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Aggregator == nil || opts.Dispatcher == nil || opts.Validator == nil ||
		opts.Verifier == nil || opts.Evolution == nil {
		return nil, fmt.Errorf("orchestrator requires aggregator, dispatcher, validator, verifier and evolution engine")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = dispatch.DefaultThreshold
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.MaxCycles <= 0 {
		opts.MaxCycles = DefaultMaxCycles
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		agg:          opts.Aggregator,
		dispatcher:   opts.Dispatcher,
		validator:    opts.Validator,
		verifier:     opts.Verifier,
		evolution:    opts.Evolution,
		state:        opts.SharedState,
		authority:    opts.Authority,
		patchSource:  opts.PatchSource,
		patchApplier: opts.PatchApplier,
		threshold:    opts.Threshold,
		deadline:     opts.Deadline,
		maxCycles:    opts.MaxCycles,
		version:      opts.Version,
		startedAt:    opts.Now(),
		logger:       opts.Logger,
		now:          opts.Now,
		cycles:       make(map[string]*types.SelfHealCycle),
	}, nil
}

// RecordIssue validates and stores one observation
func (o *Orchestrator) RecordIssue(issue *types.DiagnosticIssue) error {
	return o.agg.RecordIssue(issue)
}

// ClearIssues empties the issue store
func (o *Orchestrator) ClearIssues() {
	o.agg.ClearIssues()
}

// RecordPerformance validates and retains the latest performance sample
func (o *Orchestrator) RecordPerformance(m types.PerformanceMetrics) error {
	if err := m.Validate(); err != nil {
		return err
	}
	o.agg.RecordPerformance(m)
	return nil
}

// ApplySuggestion records that an operator applied a logged optimization suggestion.
func (o *Orchestrator) ApplySuggestion(suggestion string) (*types.OptimizationSuggestion, error) {
	s, err := o.evolution.ApplySuggestion(suggestion)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RunDiagnostics generates a fresh report, mirrors it into shared state and
// refreshes predictions and optimization suggestions.
func (o *Orchestrator) RunDiagnostics(ctx context.Context) *types.DiagnosticReport {
	report, _ := o.diagnose(ctx)
	return report
}

func (o *Orchestrator) diagnose(ctx context.Context) (*types.DiagnosticReport, []types.OptimizationSuggestion) {
	report := o.agg.GenerateReport()
	o.evolution.Predict(report)
	suggestions := o.evolution.SuggestOptimizations(report, o.agg.Performance())
	o.mirror(ctx, "diagnostics", func(ctx context.Context, ch *sharedstate.Channel) error { return ch.WriteDiagnostics(ctx, report) })
	return report, suggestions
}

// RunSelfHealCycle runs one complete cycle and always returns its terminal
// record. Panics and errors inside the cycle fail it; a cycle that overruns
// the deadline is failed with a timeout reason.
func (o *Orchestrator) RunSelfHealCycle(ctx context.Context, env types.Environment) *types.SelfHealCycle {
	start := o.now()
	cycle := &types.SelfHealCycle{
		CycleID:   uuid.New().String(),
		Context:   env,
		StartTime: start,
		Status:    types.CycleRunning,
		Phase:     types.PhaseStarting,
	}
	id := cycle.CycleID
	o.insert(cycle)
	o.mirrorCycle(ctx, cycle)
	o.logger.Info("self-heal cycle started", "cycle_id", id, "context", env)

	if !env.IsValid() {
		return o.finish(ctx, id, types.CycleFailed, fmt.Sprintf("invalid context %q", env), nil)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	done := make(chan verdict, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("self-heal cycle panicked", "cycle_id", id, "panic", r, "stack", string(debug.Stack()))
				done <- verdict{status: types.CycleFailed, err: fmt.Sprintf("cycle panicked: %v", r)}
			}
		}()
		done <- o.run(runCtx, id, env, start)
	}()

	select {
	case v := <-done:
		return o.finish(ctx, id, v.status, v.err, v.reasons)
	case <-runCtx.Done():
		msg := fmt.Sprintf("cycle exceeded deadline of %s", o.deadline)
		if errors.Is(runCtx.Err(), context.Canceled) {
			msg = "cycle cancelled"
		}
		return o.finish(ctx, id, types.CycleFailed, msg, []string{msg})
	}
}

// verdict is how a cycle run ends
type verdict struct {
	status  types.CycleStatus
	err     string
	reasons []string
}

func failed(err string, reasons ...string) verdict {
	return verdict{status: types.CycleFailed, err: err, reasons: reasons}
}

// run executes the cycle steps strictly in order.
func (o *Orchestrator) run(ctx context.Context, id string, env types.Environment, start time.Time) verdict {
	o.advance(ctx, id, types.PhaseDiagnostics, nil)
	report := o.agg.GenerateReport()
	o.evolution.Predict(report)
	o.evolution.SuggestOptimizations(report, o.agg.Performance())
	o.advance(ctx, id, types.PhaseDiagnostics, func(c *types.SelfHealCycle) { c.Steps.Diagnostics = report })
	o.mirror(ctx, "diagnostics", func(ctx context.Context, ch *sharedstate.Channel) error { return ch.WriteDiagnostics(ctx, report) })

	if !dispatch.ShouldAutoReport(report, o.threshold) {
		o.logger.Info("system healthy, no repair needed", "cycle_id", id, "overall", report.SystemHealth.Overall)
		return verdict{status: types.CycleCompleted}
	}
	if err := ctx.Err(); err != nil {
		return failed(err.Error())
	}

	o.advance(ctx, id, types.PhaseReport, nil)
	outcome := o.dispatcher.Dispatch(ctx, report, env, dispatch.SystemInfo(o.version, o.startedAt))
	o.advance(ctx, id, types.PhaseReport, func(c *types.SelfHealCycle) { c.Steps.Report = &outcome })
	if !outcome.Success {
		return failed(outcome.Message, outcome.Message)
	}

	patch := outcome.Patch
	if patch == nil && o.patchSource != nil {
		p, err := o.patchSource(ctx, report, outcome)
		if err != nil {
			msg := fmt.Sprintf("patch source failed: %v", err)
			return failed(msg, msg)
		}
		patch = p
	}
	if patch == nil {
		return failed(msgNoPatch, msgNoPatch)
	}

	o.advance(ctx, id, types.PhaseValidation, func(c *types.SelfHealCycle) { c.Steps.Patch = patch })
	validated := o.validator.Validate(patch, report)
	o.advance(ctx, id, types.PhaseValidation, func(c *types.SelfHealCycle) { c.Steps.Validation = validated })
	plan := &types.RepairPlan{CycleID: id, Patch: *patch, Validation: validated, CreatedAt: o.now()}
	o.mirror(ctx, "repair plan", func(ctx context.Context, ch *sharedstate.Channel) error { return ch.WriteRepairPlan(ctx, plan) })
	if !validated.Valid {
		return failed(msgInvalidPatch, append([]string{validated.Reason}, validated.Warnings...)...)
	}

	o.advance(ctx, id, types.PhaseSafetyCheck, nil)
	safety := o.validator.PerformSafetyPrecheck(patch)
	o.advance(ctx, id, types.PhaseSafetyCheck, func(c *types.SelfHealCycle) { c.Steps.SafetyCheck = safety })
	plan.SafetyCheck = safety
	o.mirror(ctx, "repair plan", func(ctx context.Context, ch *sharedstate.Channel) error { return ch.WriteRepairPlan(ctx, plan) })
	if !safety.Passed {
		return failed(msgUnsafePatch, safety.Issues...)
	}

	if o.patchApplier != nil {
		if err := o.patchApplier(ctx, id, patch); err != nil {
			msg := fmt.Sprintf("failed to apply patch: %v", err)
			return failed(msg, msg)
		}
	}
	if err := ctx.Err(); err != nil {
		return failed(err.Error())
	}

	o.advance(ctx, id, types.PhaseVerification, nil)
	result := o.verifier.Verify(ctx, report, patch, start)
	// A cycle failed by its deadline must not learn from a late verdict
	if err := o.abandoned(ctx, id); err != nil {
		return failed(err.Error())
	}
	o.advance(ctx, id, types.PhaseConfirmation, func(c *types.SelfHealCycle) { c.Steps.Verification = result })

	confirmation := verification.Confirm(result)
	o.advance(ctx, id, types.PhaseLearning, func(c *types.SelfHealCycle) { c.Steps.Confirmation = confirmation })

	// Learn from every original issue whatever the outcome
	for _, issue := range report.Issues.All() {
		if err := o.abandoned(ctx, id); err != nil {
			return failed(err.Error())
		}
		if _, err := o.evolution.Learn(ctx, issue, patch, result); err != nil {
			o.logger.Warn("failed to persist learned pattern", "cycle_id", id, "kind", issue.Kind, "err", err)
		}
	}

	if !confirmation.Confirmed {
		return failed(msgNotConfirmed, result.Issues...)
	}
	return verdict{status: types.CycleCompleted}
}

// abandoned returns an error once the cycle's context is done or its record
// has been finished by someone else, such as the deadline.
func (o *Orchestrator) abandoned(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if c, ok := o.cycles[id]; ok && c.Status.IsTerminal() {
		return fmt.Errorf("cycle already %s", c.Status)
	}
	return nil
}

func (o *Orchestrator) insert(c *types.SelfHealCycle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles[c.CycleID] = c
	o.order = append(o.order, c.CycleID)
	o.evictLocked()
}

// evictLocked drops the oldest terminal cycles beyond maxCycles. Running
// cycles are never evicted.
func (o *Orchestrator) evictLocked() {
	excess := len(o.order) - o.maxCycles
	if excess <= 0 {
		return
	}
	kept := o.order[:0]
	for _, id := range o.order {
		if excess > 0 && o.cycles[id].Status.IsTerminal() {
			delete(o.cycles, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	o.order = kept
}

// update applies fn to a copy of the cycle and swaps it in. Terminal cycles
// are never modified; the returned snapshot is nil in that case.
func (o *Orchestrator) update(id string, fn func(c *types.SelfHealCycle)) *types.SelfHealCycle {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.cycles[id]
	if !ok || cur.Status.IsTerminal() {
		return nil
	}
	next := cloneCycle(cur)
	fn(next)
	o.cycles[id] = next
	return cloneCycle(next)
}

func (o *Orchestrator) advance(ctx context.Context, id string, phase types.CyclePhase, fn func(c *types.SelfHealCycle)) {
	snap := o.update(id, func(c *types.SelfHealCycle) {
		c.Phase = phase
		if fn != nil {
			fn(c)
		}
	})
	if snap != nil {
		o.logger.Debug("cycle phase", "cycle_id", id, "phase", phase)
		o.mirrorCycle(ctx, snap)
	}
}

func (o *Orchestrator) finish(ctx context.Context, id string, status types.CycleStatus, errMsg string, reasons []string) *types.SelfHealCycle {
	snap := o.update(id, func(c *types.SelfHealCycle) {
		if !c.Status.CanTransitionTo(status) {
			return
		}
		end := o.now()
		c.Status = status
		c.EndTime = &end
		c.Phase = types.PhaseDone
		c.Error = errMsg
		c.FailureReasons = append([]string(nil), reasons...)
	})
	if snap == nil {
		// Already terminal
		c, _ := o.GetCycle(id)
		return c
	}

	o.mu.Lock()
	o.evictLocked()
	o.mu.Unlock()

	o.mirrorCycle(ctx, snap)
	attrs := []any{"cycle_id", id, "status", snap.Status, "duration", snap.Duration().Round(time.Millisecond)}
	if snap.Status == types.CycleFailed {
		o.logger.Warn("self-heal cycle failed", append(attrs, "err", snap.Error)...)
	} else {
		o.logger.Info("self-heal cycle completed", attrs...)
	}
	return snap
}

// mirror writes one shared-state record. Failures are logged and never fail the cycle.
func (o *Orchestrator) mirror(ctx context.Context, what string, write func(ctx context.Context, ch *sharedstate.Channel) error) {
	if o.state == nil {
		return
	}
	// Detached so the terminal state is still published after a deadline
	if err := write(context.WithoutCancel(ctx), o.state); err != nil {
		o.logger.Warn("failed to mirror shared state", "record", what, "err", err)
	}
}

func (o *Orchestrator) mirrorCycle(ctx context.Context, c *types.SelfHealCycle) {
	st := &types.SelfHealState{
		CycleID:      c.CycleID,
		Status:       c.Status,
		CurrentPhase: c.Phase,
		Progress:     c.Phase.Progress(),
		LastUpdate:   o.now(),
		Errors:       []string{},
	}
	if c.Error != "" {
		st.Errors = append(st.Errors, c.Error)
	}
	st.Errors = append(st.Errors, c.FailureReasons...)
	o.mirror(ctx, "state", func(ctx context.Context, ch *sharedstate.Channel) error { return ch.WriteState(ctx, st) })
}

// GetCycle returns a snapshot of one cycle
func (o *Orchestrator) GetCycle(id string) (*types.SelfHealCycle, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.cycles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, id)
	}
	return cloneCycle(c), nil
}

// GetCycleHistory returns snapshots of every retained cycle, oldest first
func (o *Orchestrator) GetCycleHistory() []types.SelfHealCycle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.SelfHealCycle, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, *cloneCycle(o.cycles[id]))
	}
	return out
}

func cloneCycle(c *types.SelfHealCycle) *types.SelfHealCycle {
	next := *c
	if c.EndTime != nil {
		end := *c.EndTime
		next.EndTime = &end
	}
	next.FailureReasons = append([]string(nil), c.FailureReasons...)
	return &next
}
