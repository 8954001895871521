// Package verification re-checks the system after a patch is applied and
// decides whether the self-heal took effect.
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/selfheal/internal/types"
)

const (
	// PassScore is the minimum overall score for a verification to pass
	PassScore = 80
	// DefaultHistorySize bounds the verification history
	DefaultHistorySize = 100
)

// ReportSource regenerates diagnostics over a time window.
// *diagnostics.Aggregator satisfies it.
type ReportSource interface {
	GenerateReportSince(t time.Time) *types.DiagnosticReport
}

// Input is everything a check may look at.
type Input struct {
	Original *types.DiagnosticReport
	Patch    *types.PatchProposal
	// Since bounds the issues considered by the recurrence and log checks
	Since time.Time
	// Current is the report regenerated over issues recorded at or after Since
	Current *types.DiagnosticReport
}

// CheckResult is the verdict of one check. Issue is reported only on failure;
// Recommendation is reported either way.
type CheckResult struct {
	Passed         bool
	Issue          string
	Recommendation string
}

// Check is one replaceable verification check.
type Check func(ctx context.Context, in Input) CheckResult

// Checks holds the eight checks. Nil fields keep the defaults.
type Checks struct {
	NoRecurrence           Check
	DependenciesHealthy    Check
	RoutesReachable        Check
	SmokeTest              Check
	BuildConsistent        Check
	VisualParity           Check
	NoConsoleErrors        Check
	NoErrorBoundaryCrashes Check
}

// Options configures an Engine
type Options struct {
	Source ReportSource
	Probe  ProbeOptions
	// CriticalEndpoints are probed by the dependency check
	CriticalEndpoints []string
	// CriticalRoutes are probed by the route check
	CriticalRoutes []string
	// SmokeTestEndpoint is probed by the smoke test
	SmokeTestEndpoint string
	Checks            Checks
	HistorySize       int
	Logger            *slog.Logger
	Now               func() time.Time
}

// Engine runs the verification battery and keeps a bounded history of results.
type Engine struct {
	source ReportSource
	checks Checks
	max    int
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	history []types.VerificationResult
}

// New creates an engine. Probe-backed checks use a Prober built from opts.Probe.
func New(opts Options) *Engine {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Probe.Logger == nil {
		opts.Probe.Logger = opts.Logger
	}
	prober := NewProber(opts.Probe)

	defaults := Checks{
		NoRecurrence:           NoRecurrence,
		DependenciesHealthy:    ProbeCheck(prober, "critical endpoints", opts.CriticalEndpoints),
		RoutesReachable:        ProbeCheck(prober, "critical routes", opts.CriticalRoutes),
		SmokeTest:              ProbeCheck(prober, "smoke test", nonEmpty(opts.SmokeTestEndpoint)),
		BuildConsistent:        BuildConsistent,
		VisualParity:           VisualParityUnconfigured,
		NoConsoleErrors:        NoSourceIssues(types.SourceConsole, "console errors"),
		NoErrorBoundaryCrashes: NoSourceIssues(types.SourceErrorBoundary, "error boundary crashes"),
	}
	c := opts.Checks
	for _, pair := range []struct {
		dst *Check
		def Check
	}{
		{&c.NoRecurrence, defaults.NoRecurrence},
		{&c.DependenciesHealthy, defaults.DependenciesHealthy},
		{&c.RoutesReachable, defaults.RoutesReachable},
		{&c.SmokeTest, defaults.SmokeTest},
		{&c.BuildConsistent, defaults.BuildConsistent},
		{&c.VisualParity, defaults.VisualParity},
		{&c.NoConsoleErrors, defaults.NoConsoleErrors},
		{&c.NoErrorBoundaryCrashes, defaults.NoErrorBoundaryCrashes},
	} {
		if *pair.dst == nil {
			*pair.dst = pair.def
		}
	}

	return &Engine{
		source: opts.Source,
		checks: c,
		max:    opts.HistorySize,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

func nonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return []string{s}
}

// Verify runs all eight checks. The score is the rounded percentage of checks
// passed and the verification passes at PassScore or above. Every failed
// check contributes one issue line.
func (e *Engine) Verify(ctx context.Context, original *types.DiagnosticReport, patch *types.PatchProposal, since time.Time) *types.VerificationResult {
	in := Input{Original: original, Patch: patch, Since: since}
	if e.source != nil {
		in.Current = e.source.GenerateReportSince(since)
	}

	result := &types.VerificationResult{
		Issues:          []string{},
		Recommendations: []string{},
	}
	run := func(name string, check Check) bool {
		r := check(ctx, in)
		if !r.Passed {
			issue := r.Issue
			if issue == "" {
				issue = name + " check failed"
			}
			result.Issues = append(result.Issues, issue)
		}
		if r.Recommendation != "" {
			result.Recommendations = append(result.Recommendations, r.Recommendation)
		}
		e.logger.Debug("verification check", "check", name, "passed", r.Passed)
		return r.Passed
	}

	result.Checks = types.VerificationChecks{
		NoRecurrence:           run("no_recurrence", e.checks.NoRecurrence),
		DependenciesHealthy:    run("dependencies_healthy", e.checks.DependenciesHealthy),
		RoutesReachable:        run("routes_reachable", e.checks.RoutesReachable),
		SmokeTestPassed:        run("smoke_test", e.checks.SmokeTest),
		BuildConsistent:        run("build_consistent", e.checks.BuildConsistent),
		VisualParity:           run("visual_parity", e.checks.VisualParity),
		NoConsoleErrors:        run("no_console_errors", e.checks.NoConsoleErrors),
		NoErrorBoundaryCrashes: run("no_error_boundary_crashes", e.checks.NoErrorBoundaryCrashes),
	}
	result.OverallScore = Score(result.Checks)
	result.Passed = result.OverallScore >= PassScore
	result.Timestamp = e.now()

	e.mu.Lock()
	e.history = append(e.history, *cloneResult(result))
	if len(e.history) > e.max {
		n := len(e.history) - e.max
		copy(e.history, e.history[n:])
		e.history = e.history[:e.max]
	}
	e.mu.Unlock()

	e.logger.Info("verification complete", "score", result.OverallScore, "passed", result.Passed,
		"failed_checks", len(result.Issues))
	return result
}

// Score returns round(100 * passed / 8).
func Score(c types.VerificationChecks) int {
	return int(math.Round(100 * float64(c.PassedCount()) / float64(types.CheckCount)))
}

// History returns a copy of past results, oldest first.
func (e *Engine) History() []types.VerificationResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]types.VerificationResult, len(e.history))
	for i := range e.history {
		out[i] = *cloneResult(&e.history[i])
	}
	return out
}

func cloneResult(r *types.VerificationResult) *types.VerificationResult {
	c := *r
	c.Issues = append([]string{}, r.Issues...)
	c.Recommendations = append([]string{}, r.Recommendations...)
	return &c
}

// Confirm turns a verification verdict into operator guidance.
func Confirm(result *types.VerificationResult) *types.SelfHealConfirmation {
	if result == nil {
		return &types.SelfHealConfirmation{
			Message: "Self-heal not confirmed: no verification result",
			NextSteps: []string{
				"Re-run diagnostics to capture the current state",
				"Request new guidance from the remediation authority",
			},
		}
	}
	if result.Passed {
		return &types.SelfHealConfirmation{
			Confirmed: true,
			Message:   fmt.Sprintf("Self-heal confirmed: verification passed with score %d", result.OverallScore),
			NextSteps: []string{
				"Continue monitoring system health",
				"Watch for recurrence of the original issues",
				"Review predictive alerts for related patterns",
			},
		}
	}
	steps := []string{
		"Re-run diagnostics to capture the current state",
		"Request new guidance from the remediation authority",
	}
	if len(result.Issues) > 0 {
		steps = append(steps, "Address failed checks: "+strings.Join(result.Issues, "; "))
	}
	return &types.SelfHealConfirmation{
		Message:   fmt.Sprintf("Self-heal not confirmed: verification score %d is below %d", result.OverallScore, PassScore),
		NextSteps: steps,
	}
}

// NoRecurrence passes when none of the original report's issue kinds reappear
// in the regenerated report.
func NoRecurrence(_ context.Context, in Input) CheckResult {
	if in.Original == nil || in.Current == nil {
		return CheckResult{Passed: true}
	}
	var back []string
	for _, kind := range in.Original.Issues.Kinds() {
		if in.Current.HasKind(kind) {
			back = append(back, string(kind))
		}
	}
	if len(back) == 0 {
		return CheckResult{Passed: true}
	}
	return CheckResult{Issue: "original issues recurred: " + strings.Join(back, ", ")}
}

// BuildConsistent passes when the deployed and expected builds agree.
func BuildConsistent(_ context.Context, in Input) CheckResult {
	if in.Current == nil || !in.Current.BuildMismatch {
		return CheckResult{Passed: true}
	}
	issue := "build mismatch persists"
	if d := in.Current.BuildDiff; d != nil {
		issue = fmt.Sprintf("build mismatch persists: deployed %s, expected %s", d.Actual, d.Expected)
	}
	return CheckResult{Issue: issue, Recommendation: "Redeploy the expected build"}
}

// VisualParityUnconfigured is the visual check used when no visual-diff
// backend exists. It always passes.
func VisualParityUnconfigured(context.Context, Input) CheckResult {
	return CheckResult{
		Passed:         true,
		Recommendation: "No visual-diff backend configured; visual parity was assumed",
	}
}

// NoSourceIssues passes when no issue tagged with the given source was
// recorded in the verification window.
func NoSourceIssues(source, label string) Check {
	return func(_ context.Context, in Input) CheckResult {
		if in.Current == nil {
			return CheckResult{Passed: true}
		}
		n := 0
		for _, issue := range in.Current.Issues.All() {
			if issue.Source() == source {
				n++
			}
		}
		if n == 0 {
			return CheckResult{Passed: true}
		}
		return CheckResult{Issue: fmt.Sprintf("%d %s recorded since the cycle began", n, label)}
	}
}

// ProbeCheck passes when every path answers successfully. With no base URL
// or no paths it passes vacuously.
func ProbeCheck(p *Prober, label string, paths []string) Check {
	return func(ctx context.Context, _ Input) CheckResult {
		if !p.Enabled() {
			return CheckResult{
				Passed:         true,
				Recommendation: fmt.Sprintf("Configure probes.base_url to verify %s", label),
			}
		}
		if len(paths) == 0 {
			return CheckResult{Passed: true}
		}
		failures := p.ProbeAll(ctx, paths)
		if len(failures) == 0 {
			return CheckResult{Passed: true}
		}
		parts := make([]string, len(failures))
		for i, f := range failures {
			parts[i] = f.String()
		}
		return CheckResult{Issue: fmt.Sprintf("%s failed: %s", label, strings.Join(parts, "; "))}
	}
}
