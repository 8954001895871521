package types

import "time"

// PatchType names the subsystem a patch targets
type PatchType string

const (
	PatchUI     PatchType = "ui"
	PatchAPI    PatchType = "api"
	PatchBuild  PatchType = "build"
	PatchDeploy PatchType = "deploy"
)

// IsValid checks if the patch type value is valid
func (t PatchType) IsValid() bool {
	switch t {
	case PatchUI, PatchAPI, PatchBuild, PatchDeploy:
		return true
	}
	return false
}

// IssueKind returns the issue kind a patch of this type remediates.
func (t PatchType) IssueKind() IssueKind {
	return IssueKind(t)
}

// RiskLevel is the author's estimate of how risky a patch is
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// IsValid checks if the risk level value is valid
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// PatchProposal is a proposed remediation. It is authored outside the loop
// (by the remediation authority or an operator) and treated as opaque input.
type PatchProposal struct {
	PatchType       PatchType `json:"patch_type"`
	ChangedFiles    []string  `json:"changed_files"`
	CodeDiff        string    `json:"code_diff"`
	Reasoning       string    `json:"reasoning"`
	ExpectedOutcome string    `json:"expected_outcome"`
	Priority        int       `json:"priority"`
	RiskLevel       RiskLevel `json:"risk_level"`
	Timestamp       time.Time `json:"timestamp"`
}

// PatchValidationResult is the verdict of validating a patch against a report.
type PatchValidationResult struct {
	Valid           bool     `json:"valid"`
	Reason          string   `json:"reason"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
	SafetyScore     int      `json:"safety_score"`
}

// PerformanceImpact buckets the estimated runtime cost of a patch
type PerformanceImpact string

const (
	ImpactNone   PerformanceImpact = "none"
	ImpactLow    PerformanceImpact = "low"
	ImpactMedium PerformanceImpact = "medium"
	ImpactHigh   PerformanceImpact = "high"
)

// SafetyChecks is the matrix of pre-application checks.
type SafetyChecks struct {
	SyntaxValid       bool              `json:"syntax_valid"`
	TypeCheckPassed   bool              `json:"type_check_passed"`
	TestsPassed       bool              `json:"tests_passed"`
	NoBreakingChanges bool              `json:"no_breaking_changes"`
	PerformanceImpact PerformanceImpact `json:"performance_impact"`
}

// SafetyPrecheck is the verdict of the pre-application safety checks.
type SafetyPrecheck struct {
	Passed          bool         `json:"passed"`
	Checks          SafetyChecks `json:"checks"`
	Issues          []string     `json:"issues"`
	Recommendations []string     `json:"recommendations"`
}

// RepairPlan is the latest patch-derived plan mirrored into shared state.
type RepairPlan struct {
	CycleID     string                 `json:"cycle_id"`
	Patch       PatchProposal          `json:"patch"`
	Validation  *PatchValidationResult `json:"validation,omitempty"`
	SafetyCheck *SafetyPrecheck        `json:"safety_check,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
