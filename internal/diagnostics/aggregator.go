// Package diagnostics records observed issues and aggregates them into health reports.
package diagnostics

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/steveyegge/selfheal/internal/types"
)

// Build relations reported on BuildDiff.
const (
	RelationBehind  = "behind"
	RelationAhead   = "ahead"
	RelationDiffers = "differs"
)

// Suggestion lines emitted by GenerateReport.
const (
	suggestionUrgent   = "URGENT: %d critical issue(s) detected - immediate remediation required"
	suggestionUI       = "UI: review component rendering and state handling (%d issue(s))"
	suggestionAPI      = "API: check endpoint availability and error responses (%d issue(s))"
	suggestionBuild    = "Build: verify build artifacts and deployment consistency (%d issue(s))"
	suggestionMismatch = "Build mismatch: deployed build %s does not match expected %s (%s)"
	SuggestionAllClear = "All clear: no issues detected"
)

// Options configures an Aggregator
type Options struct {
	// Capacity bounds the issue store (default DefaultStoreCapacity)
	Capacity int
	Logger   *slog.Logger
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// Aggregator owns the issue store and turns its contents into reports.
type Aggregator struct {
	store  *Store
	logger *slog.Logger
	now    func() time.Time

	mu            sync.RWMutex
	expectedBuild string
	actualBuild   string
	perf          *types.PerformanceMetrics
}

// New creates an aggregator with an empty issue store
func New(opts Options) *Aggregator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		store:  NewStore(opts.Capacity),
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// Store exposes the underlying issue store for read access
func (a *Aggregator) Store() *Store {
	return a.store
}

// RecordIssue validates and stores an issue. A nil issue is a no-op.
// Invalid issues are rejected with an error wrapping types.ErrInvalidIssue
// and nothing is stored. A zero timestamp is stamped with the record time.
func (a *Aggregator) RecordIssue(issue *types.DiagnosticIssue) error {
	if issue == nil {
		return nil
	}
	if err := issue.Validate(); err != nil {
		a.logger.Debug("rejected diagnostic issue", "kind", issue.Kind, "err", err)
		return err
	}

	now := a.now()
	recorded := issue.Clone()
	if recorded.Timestamp.IsZero() {
		recorded.Timestamp = now
	}
	a.store.Append(recorded, now)
	a.logger.Debug("recorded diagnostic issue",
		"kind", recorded.Kind, "severity", recorded.Severity, "location", recorded.Location)
	return nil
}

// ClearIssues empties the issue store. Build info and performance samples are kept.
func (a *Aggregator) ClearIssues() {
	a.store.Clear()
}

// RecordBuildInfo records the most recently observed expected and deployed build identifiers.
// An empty identifier means unknown.
func (a *Aggregator) RecordBuildInfo(expected, actual string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expectedBuild = strings.TrimSpace(expected)
	a.actualBuild = strings.TrimSpace(actual)
}

// BuildInfo returns the last recorded build identifiers
func (a *Aggregator) BuildInfo() (expected, actual string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.expectedBuild, a.actualBuild
}

// RecordPerformance retains the latest performance sample
func (a *Aggregator) RecordPerformance(m types.PerformanceMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.perf = &m
}

// Performance returns the latest performance sample, or nil if none was recorded
func (a *Aggregator) Performance() *types.PerformanceMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.perf == nil {
		return nil
	}
	m := *a.perf
	return &m
}

// GenerateReport aggregates every retained issue into a new report.
// It has no side effects on the store.
func (a *Aggregator) GenerateReport() *types.DiagnosticReport {
	return a.buildReport(a.store.Snapshot())
}

// GenerateReportSince aggregates only the issues recorded at or after t.
func (a *Aggregator) GenerateReportSince(t time.Time) *types.DiagnosticReport {
	return a.buildReport(a.store.Since(t))
}

func (a *Aggregator) buildReport(issues []types.DiagnosticIssue) *types.DiagnosticReport {
	report := &types.DiagnosticReport{
		ID:          uuid.New().String(),
		GeneratedAt: a.now(),
	}
	for _, issue := range issues {
		report.Issues.Add(issue)
	}

	report.SystemHealth = types.SystemHealth{
		Overall: Score(issues),
		UI:      Score(report.Issues.UI),
		API:     Score(report.Issues.API),
		Build:   Score(report.Issues.Build),
		Deploy:  Score(report.Issues.Deploy),
	}

	expected, actual := a.BuildInfo()
	if diff := CompareBuilds(expected, actual); diff != nil {
		report.BuildMismatch = true
		report.BuildDiff = diff
	}

	report.Suggestions = suggestions(report)
	return report
}

// Score starts at 100 and subtracts the severity deduction of every issue, floored at 0.
func Score(issues []types.DiagnosticIssue) int {
	score := 100
	for _, issue := range issues {
		score -= issue.Severity.Deduction()
	}
	if score < 0 {
		return 0
	}
	return score
}

// CompareBuilds returns a diff when both identifiers are known and differ, nil otherwise.
// Identifiers that parse as semantic versions (with or without a leading "v")
// are ordered, and equal versions with the same build metadata are the same
// build; anything else is reported as differing.
func CompareBuilds(expected, actual string) *types.BuildDiff {
	if expected == "" || actual == "" || expected == actual {
		return nil
	}
	ev, av := canonicalVersion(expected), canonicalVersion(actual)
	versioned := semver.IsValid(ev) && semver.IsValid(av)
	if versioned && semver.Compare(av, ev) == 0 && semver.Build(av) == semver.Build(ev) {
		return nil
	}

	diff := &types.BuildDiff{
		Expected: expected,
		Actual:   actual,
		Relation: RelationDiffers,
	}

	if versioned {
		switch semver.Compare(av, ev) {
		case -1:
			diff.Relation = RelationBehind
			diff.Detail = fmt.Sprintf("deployed %s is behind expected %s", actual, expected)
			return diff
		case 1:
			diff.Relation = RelationAhead
			diff.Detail = fmt.Sprintf("deployed %s is ahead of expected %s", actual, expected)
			return diff
		}
	}
	diff.Detail = fmt.Sprintf("deployed %s differs from expected %s", actual, expected)
	return diff
}

func canonicalVersion(s string) string {
	if !strings.HasPrefix(s, "v") {
		return "v" + s
	}
	return s
}

func suggestions(r *types.DiagnosticReport) []string {
	var out []string

	if n := r.CountSeverity(types.SeverityCritical); n > 0 {
		out = append(out, fmt.Sprintf(suggestionUrgent, n))
	}
	if n := len(r.Issues.UI); n > 0 {
		out = append(out, fmt.Sprintf(suggestionUI, n))
	}
	if n := len(r.Issues.API); n > 0 {
		out = append(out, fmt.Sprintf(suggestionAPI, n))
	}
	if n := len(r.Issues.Build); n > 0 {
		out = append(out, fmt.Sprintf(suggestionBuild, n))
	}
	if r.BuildDiff != nil {
		out = append(out, fmt.Sprintf(suggestionMismatch, r.BuildDiff.Actual, r.BuildDiff.Expected, r.BuildDiff.Relation))
	}
	if r.Issues.Len() == 0 {
		out = append(out, SuggestionAllClear)
	}
	return out
}
