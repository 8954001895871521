package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidPerformance is returned when a performance sample fails validation.
var ErrInvalidPerformance = errors.New("invalid performance sample")

// IssueSet holds report issues partitioned by kind.
type IssueSet struct {
	UI     []DiagnosticIssue `json:"ui"`
	API    []DiagnosticIssue `json:"api"`
	Build  []DiagnosticIssue `json:"build"`
	Deploy []DiagnosticIssue `json:"deploy"`
	Router []DiagnosticIssue `json:"router"`
	State  []DiagnosticIssue `json:"state"`
	Cache  []DiagnosticIssue `json:"cache"`
	DOM    []DiagnosticIssue `json:"dom"`
}

// ByKind returns the slice holding issues of the given kind.
func (s *IssueSet) ByKind(kind IssueKind) []DiagnosticIssue {
	switch kind {
	case KindUI:
		return s.UI
	case KindAPI:
		return s.API
	case KindBuild:
		return s.Build
	case KindDeploy:
		return s.Deploy
	case KindRouter:
		return s.Router
	case KindState:
		return s.State
	case KindCache:
		return s.Cache
	case KindDOM:
		return s.DOM
	}
	return nil
}

// Add appends an issue to the slice for its kind. Unknown kinds are ignored.
func (s *IssueSet) Add(issue DiagnosticIssue) {
	switch issue.Kind {
	case KindUI:
		s.UI = append(s.UI, issue)
	case KindAPI:
		s.API = append(s.API, issue)
	case KindBuild:
		s.Build = append(s.Build, issue)
	case KindDeploy:
		s.Deploy = append(s.Deploy, issue)
	case KindRouter:
		s.Router = append(s.Router, issue)
	case KindState:
		s.State = append(s.State, issue)
	case KindCache:
		s.Cache = append(s.Cache, issue)
	case KindDOM:
		s.DOM = append(s.DOM, issue)
	}
}

// All returns every issue in kind order.
func (s *IssueSet) All() []DiagnosticIssue {
	var all []DiagnosticIssue
	for _, kind := range AllIssueKinds {
		all = append(all, s.ByKind(kind)...)
	}
	return all
}

// Len returns the total number of issues.
func (s *IssueSet) Len() int {
	n := 0
	for _, kind := range AllIssueKinds {
		n += len(s.ByKind(kind))
	}
	return n
}

// Kinds returns the kinds that have at least one issue.
func (s *IssueSet) Kinds() []IssueKind {
	var kinds []IssueKind
	for _, kind := range AllIssueKinds {
		if len(s.ByKind(kind)) > 0 {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// SystemHealth holds 0-100 scores for the overall system and tracked subsystems.
type SystemHealth struct {
	Overall int `json:"overall"`
	UI      int `json:"ui"`
	API     int `json:"api"`
	Build   int `json:"build"`
	Deploy  int `json:"deploy"`
}

// BuildDiff describes how the deployed build identifier differs from the expected one.
type BuildDiff struct {
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	// Relation is "behind", "ahead" or "differs"
	Relation string `json:"relation"`
	Detail   string `json:"detail"`
}

// DiagnosticReport is a point-in-time aggregation of the issue buffer.
// A report is never mutated after creation; a new report supersedes it.
type DiagnosticReport struct {
	ID            string       `json:"id"`
	GeneratedAt   time.Time    `json:"generated_at"`
	Issues        IssueSet     `json:"issues"`
	SystemHealth  SystemHealth `json:"system_health"`
	BuildMismatch bool         `json:"build_mismatch"`
	BuildDiff     *BuildDiff   `json:"build_diff,omitempty"`
	Suggestions   []string     `json:"suggestions"`
}

// HasKind reports whether the report holds any issue of the given kind.
func (r *DiagnosticReport) HasKind(kind IssueKind) bool {
	return len(r.Issues.ByKind(kind)) > 0
}

// CountSeverity returns the number of issues with the given severity.
func (r *DiagnosticReport) CountSeverity(sev Severity) int {
	n := 0
	for _, issue := range r.Issues.All() {
		if issue.Severity == sev {
			n++
		}
	}
	return n
}

// PerformanceMetrics is the latest sampled performance signal, in milliseconds.
type PerformanceMetrics struct {
	PageLoadMs    float64 `json:"page_load_ms"`
	APIResponseMs float64 `json:"api_response_ms"`
	BuildMs       float64 `json:"build_ms"`
}

// Validate rejects negative or non-finite timings and an all-zero sample.
func (m PerformanceMetrics) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{{"page_load_ms", m.PageLoadMs}, {"api_response_ms", m.APIResponseMs}, {"build_ms", m.BuildMs}}
	set := false
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return fmt.Errorf("%w: %s is %v", ErrInvalidPerformance, f.name, f.v)
		}
		set = set || f.v > 0
	}
	if !set {
		return fmt.Errorf("%w: no timings set", ErrInvalidPerformance)
	}
	return nil
}

// SystemInfo describes the process that dispatched a repair request.
type SystemInfo struct {
	Hostname  string    `json:"hostname"`
	Version   string    `json:"version"`
	GoVersion string    `json:"go_version"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// RepairRequest is dispatched to the remediation authority when health drops
// below the auto-report threshold.
type RepairRequest struct {
	ID             string           `json:"id"`
	Report         DiagnosticReport `json:"report"`
	Severity       Severity         `json:"severity"`
	Context        Environment      `json:"context"`
	RoutesAffected []string         `json:"routes_affected"`
	SystemInfo     SystemInfo       `json:"system_info"`
	CreatedAt      time.Time        `json:"created_at"`
}

// RepairRecord is a dispatched request together with its outcome.
type RepairRecord struct {
	Request      RepairRequest `json:"request"`
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	DispatchedAt time.Time     `json:"dispatched_at"`
}
