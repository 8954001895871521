package types

import (
	"fmt"
	"time"
)

// CycleStatus represents the lifecycle state of a self-heal cycle
type CycleStatus string

const (
	CycleRunning   CycleStatus = "running"
	CycleCompleted CycleStatus = "completed"
	CycleFailed    CycleStatus = "failed"
)

// IsValid checks if the cycle status value is valid
func (s CycleStatus) IsValid() bool {
	switch s {
	case CycleRunning, CycleCompleted, CycleFailed:
		return true
	}
	return false
}

// IsTerminal returns true once a cycle can no longer change.
func (s CycleStatus) IsTerminal() bool {
	return s == CycleCompleted || s == CycleFailed
}

// ValidTransitions defines the cycle state machine.
//
//	running → completed
//	   ↓
//	 failed
//
// Both completed and failed are terminal; a cycle is never re-opened.
func (s CycleStatus) ValidTransitions() []CycleStatus {
	switch s {
	case CycleRunning:
		return []CycleStatus{CycleCompleted, CycleFailed}
	default:
		return []CycleStatus{}
	}
}

// CanTransitionTo checks if a transition from this status to the target is valid
func (s CycleStatus) CanTransitionTo(target CycleStatus) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// CyclePhase names the step a running cycle is in. Phases always advance in
// declaration order.
type CyclePhase string

const (
	PhaseStarting     CyclePhase = "starting"
	PhaseDiagnostics  CyclePhase = "diagnostics"
	PhaseReport       CyclePhase = "report"
	PhaseValidation   CyclePhase = "validation"
	PhaseSafetyCheck  CyclePhase = "safety_check"
	PhaseVerification CyclePhase = "verification"
	PhaseConfirmation CyclePhase = "confirmation"
	PhaseLearning     CyclePhase = "learning"
	PhaseDone         CyclePhase = "done"
)

// Progress returns the percentage of the cycle completed when this phase begins.
func (p CyclePhase) Progress() int {
	switch p {
	case PhaseStarting:
		return 0
	case PhaseDiagnostics:
		return 10
	case PhaseReport:
		return 25
	case PhaseValidation:
		return 40
	case PhaseSafetyCheck:
		return 55
	case PhaseVerification:
		return 70
	case PhaseConfirmation:
		return 85
	case PhaseLearning:
		return 95
	case PhaseDone:
		return 100
	}
	return 0
}

// DispatchOutcome is the result of dispatching a repair request.
type DispatchOutcome struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Severity  Severity       `json:"severity,omitempty"`
	Routes    []string       `json:"routes,omitempty"`
	Patch     *PatchProposal `json:"patch,omitempty"`
}

// CycleSteps records the artifact produced by each step of a cycle.
// Steps that did not run are nil.
type CycleSteps struct {
	Diagnostics  *DiagnosticReport      `json:"diagnostics,omitempty"`
	Report       *DispatchOutcome       `json:"report,omitempty"`
	Patch        *PatchProposal         `json:"patch,omitempty"`
	Validation   *PatchValidationResult `json:"validation,omitempty"`
	SafetyCheck  *SafetyPrecheck        `json:"safety_check,omitempty"`
	Verification *VerificationResult    `json:"verification,omitempty"`
	Confirmation *SelfHealConfirmation  `json:"confirmation,omitempty"`
}

// SelfHealCycle is one auditable end-to-end run of the loop.
type SelfHealCycle struct {
	CycleID        string      `json:"cycle_id"`
	Context        Environment `json:"context"`
	StartTime      time.Time   `json:"start_time"`
	EndTime        *time.Time  `json:"end_time,omitempty"`
	Status         CycleStatus `json:"status"`
	Phase          CyclePhase  `json:"phase"`
	Steps          CycleSteps  `json:"steps"`
	Error          string      `json:"error,omitempty"`
	FailureReasons []string    `json:"failure_reasons,omitempty"`
}

// Duration returns how long the cycle ran, or has been running.
func (c *SelfHealCycle) Duration() time.Duration {
	if c.EndTime != nil {
		return c.EndTime.Sub(c.StartTime)
	}
	return time.Since(c.StartTime)
}

// Validate checks the structural invariants of a cycle record
func (c *SelfHealCycle) Validate() error {
	if c.CycleID == "" {
		return fmt.Errorf("cycle_id is required")
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", c.Status)
	}
	if c.Status.IsTerminal() && c.EndTime == nil {
		return fmt.Errorf("terminal cycle %s has no end time", c.CycleID)
	}
	if c.Status == CycleRunning && c.EndTime != nil {
		return fmt.Errorf("running cycle %s has an end time", c.CycleID)
	}
	return nil
}

// SelfHealState is the cross-process view of the current cycle.
type SelfHealState struct {
	CycleID      string      `json:"cycle_id,omitempty"`
	Status       CycleStatus `json:"status"`
	CurrentPhase CyclePhase  `json:"current_phase"`
	Progress     int         `json:"progress"`
	LastUpdate   time.Time   `json:"last_update"`
	Errors       []string    `json:"errors"`
}
