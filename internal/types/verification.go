package types

import "time"

// VerificationChecks is the full matrix of post-patch checks. Each field is
// reported individually so an operator can see exactly which check failed.
type VerificationChecks struct {
	NoRecurrence           bool `json:"no_recurrence"`
	DependenciesHealthy    bool `json:"dependencies_healthy"`
	RoutesReachable        bool `json:"routes_reachable"`
	SmokeTestPassed        bool `json:"smoke_test_passed"`
	BuildConsistent        bool `json:"build_consistent"`
	VisualParity           bool `json:"visual_parity"`
	NoConsoleErrors        bool `json:"no_console_errors"`
	NoErrorBoundaryCrashes bool `json:"no_error_boundary_crashes"`
}

// CheckCount is the number of checks in VerificationChecks.
const CheckCount = 8

// PassedCount returns how many of the eight checks passed.
func (c VerificationChecks) PassedCount() int {
	n := 0
	for _, ok := range []bool{
		c.NoRecurrence, c.DependenciesHealthy, c.RoutesReachable, c.SmokeTestPassed,
		c.BuildConsistent, c.VisualParity, c.NoConsoleErrors, c.NoErrorBoundaryCrashes,
	} {
		if ok {
			n++
		}
	}
	return n
}

// VerificationResult is the verdict of re-running the check battery after a patch.
type VerificationResult struct {
	Passed          bool               `json:"passed"`
	OverallScore    int                `json:"overall_score"`
	Checks          VerificationChecks `json:"checks"`
	Issues          []string           `json:"issues"`
	Recommendations []string           `json:"recommendations"`
	Timestamp       time.Time          `json:"timestamp"`
}

// SelfHealConfirmation turns a verification verdict into operator guidance.
type SelfHealConfirmation struct {
	Confirmed bool     `json:"confirmed"`
	Message   string   `json:"message"`
	NextSteps []string `json:"next_steps"`
}
