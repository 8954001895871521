package repl

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/types"
)

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	gray    = color.New(color.FgHiBlack).SprintFunc()
)

// healthColor colors a 0-100 score
func healthColor(score int) string {
	s := fmt.Sprintf("%3d", score)
	switch {
	case score >= 85:
		return green(s)
	case score >= 70:
		return yellow(s)
	default:
		return red(s)
	}
}

func statusColor(s types.CycleStatus) string {
	switch s {
	case types.CycleCompleted:
		return green(string(s))
	case types.CycleFailed:
		return red(string(s))
	default:
		return yellow(string(s))
	}
}

func severityColor(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(s)
	case types.SeverityHigh:
		return red(string(s))
	case types.SeverityMedium:
		return yellow(string(s))
	default:
		return gray(string(s))
	}
}

// PrintHealth writes the per-subsystem health scores
func PrintHealth(w io.Writer, h types.SystemHealth) {
	fmt.Fprintf(w, "  Overall %s   UI %s   API %s   Build %s   Deploy %s\n",
		healthColor(h.Overall), healthColor(h.UI), healthColor(h.API), healthColor(h.Build), healthColor(h.Deploy))
}

// PrintReport writes a diagnostic report
func PrintReport(w io.Writer, r *types.DiagnosticReport) {
	fmt.Fprintf(w, "\n%s %s\n\n", heading("Diagnostic Report"), gray(r.GeneratedAt.Format(time.RFC3339)))
	PrintHealth(w, r.SystemHealth)
	fmt.Fprintln(w)

	issues := r.Issues.All()
	if len(issues) == 0 {
		fmt.Fprintf(w, "  %s No issues recorded\n\n", green("✓"))
	} else {
		fmt.Fprintf(w, "  %d issue(s):\n", len(issues))
		for _, issue := range issues {
			loc := ""
			if issue.Location != "" {
				loc = gray(" @ " + issue.Location)
			}
			fmt.Fprintf(w, "    [%s] %-6s %s%s\n", severityColor(issue.Severity), issue.Kind, issue.Message, loc)
		}
		fmt.Fprintln(w)
	}

	if r.BuildMismatch && r.BuildDiff != nil {
		fmt.Fprintf(w, "  %s build %s: expected %s, deployed %s\n\n", red("⊗"), r.BuildDiff.Relation, r.BuildDiff.Expected, r.BuildDiff.Actual)
	}
	for _, s := range r.Suggestions {
		fmt.Fprintf(w, "  %s %s\n", gray("→"), s)
	}
	if len(r.Suggestions) > 0 {
		fmt.Fprintln(w)
	}
}

// PrintStatus writes a loop status summary
func PrintStatus(w io.Writer, st *orchestrator.Status) {
	state := green("healthy")
	if !st.IsHealthy {
		state = red("degraded")
	}
	fmt.Fprintf(w, "\n%s %s\n\n", heading("Self-Heal Status"), state)
	PrintHealth(w, st.SystemHealth)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Cycles: %d active, %d finished, %.0f%% success\n", st.ActiveCycleCount, st.CompletedCycleCount, st.SuccessRate)

	m := st.EvolutionMetrics
	fmt.Fprintf(w, "  Evolution: reliability %d, score %d, %d patterns remembered, %d failures prevented\n",
		m.SystemReliability, m.EvolutionScore, m.FailureMemorySize, m.PreventedFailures)

	if len(st.PredictiveAlerts) > 0 {
		fmt.Fprintf(w, "\n  %s\n", heading("Predictive Alerts"))
		for _, a := range st.PredictiveAlerts {
			fmt.Fprintf(w, "    %s %s (%d%%)\n", alertIcon(a.AlertType), a.Prediction, a.ConfidencePercent())
			if a.SuggestedAction != "" {
				fmt.Fprintf(w, "      %s %s\n", gray("→"), a.SuggestedAction)
			}
		}
	}
	if len(st.OptimizationSuggestions) > 0 {
		fmt.Fprintf(w, "\n  %s\n", heading("Optimizations"))
		for i, s := range st.OptimizationSuggestions {
			fmt.Fprintf(w, "    %d. [P%d %s] %s\n", i+1, s.Priority, s.Category, s.Suggestion)
		}
	}
	if st.LastCycle != nil {
		fmt.Fprintf(w, "\n  Last cycle: %s %s (%s)\n", st.LastCycle.CycleID, statusColor(st.LastCycle.Status), st.LastCycle.Phase)
	}
	fmt.Fprintln(w)
}

// PrintAdvice writes the authority's optimization advice
func PrintAdvice(w io.Writer, a *orchestrator.Advice) {
	if len(a.Suggestions) == 0 {
		fmt.Fprintf(w, "%s No optimization suggestions to advise on\n", green("✓"))
		return
	}
	fmt.Fprintf(w, "\n%s\n", heading("Optimization Advice"))
	for _, s := range a.Suggestions {
		fmt.Fprintf(w, "  [P%d %s] %s\n", s.Priority, s.Category, s.Suggestion)
	}
	fmt.Fprintln(w)
	for _, line := range a.Advice {
		fmt.Fprintf(w, "  %s %s\n", gray("→"), line)
	}
	fmt.Fprintln(w)
}

func alertIcon(t types.AlertType) string {
	switch t {
	case types.AlertCritical:
		return red("⊗")
	case types.AlertWarning:
		return yellow("⚡")
	default:
		return gray("ℹ")
	}
}

// PrintCycle writes a cycle with the outcome of every step that ran
func PrintCycle(w io.Writer, c *types.SelfHealCycle) {
	fmt.Fprintf(w, "\n%s %s\n\n", heading("Cycle"), c.CycleID)
	fmt.Fprintf(w, "  Status:   %s (%s)\n", statusColor(c.Status), c.Phase)
	fmt.Fprintf(w, "  Context:  %s\n", c.Context)
	fmt.Fprintf(w, "  Started:  %s\n", c.StartTime.Format(time.RFC3339))
	if c.EndTime != nil {
		fmt.Fprintf(w, "  Duration: %s\n", c.Duration().Round(time.Millisecond))
	}
	if c.Error != "" {
		fmt.Fprintf(w, "  Error:    %s\n", red(c.Error))
	}
	for _, reason := range c.FailureReasons {
		if reason != c.Error {
			fmt.Fprintf(w, "    %s %s\n", gray("-"), reason)
		}
	}

	s := c.Steps
	fmt.Fprintln(w)
	if s.Diagnostics != nil {
		fmt.Fprintf(w, "  %s diagnostics: overall %d, %d issue(s)\n", check(true), s.Diagnostics.SystemHealth.Overall, s.Diagnostics.Issues.Len())
	}
	if s.Report != nil {
		fmt.Fprintf(w, "  %s report: %s\n", check(s.Report.Success), s.Report.Message)
	}
	if s.Patch != nil {
		fmt.Fprintf(w, "  %s patch: %s, %d file(s), risk %s\n", check(true), s.Patch.PatchType, len(s.Patch.ChangedFiles), s.Patch.RiskLevel)
	}
	if s.Validation != nil {
		fmt.Fprintf(w, "  %s validation: safety score %d\n", check(s.Validation.Valid), s.Validation.SafetyScore)
	}
	if s.SafetyCheck != nil {
		fmt.Fprintf(w, "  %s safety check: performance impact %s\n", check(s.SafetyCheck.Passed), s.SafetyCheck.Checks.PerformanceImpact)
	}
	if s.Verification != nil {
		fmt.Fprintf(w, "  %s verification: score %d (%d/%d checks)\n", check(s.Verification.Passed),
			s.Verification.OverallScore, s.Verification.Checks.PassedCount(), types.CheckCount)
	}
	if s.Confirmation != nil {
		fmt.Fprintf(w, "  %s %s\n", check(s.Confirmation.Confirmed), s.Confirmation.Message)
		for _, step := range s.Confirmation.NextSteps {
			fmt.Fprintf(w, "      %s %s\n", gray("→"), step)
		}
	}
	fmt.Fprintln(w)
}

func check(ok bool) string {
	if ok {
		return green("✓")
	}
	return red("✗")
}

// PrintHistory writes one line per cycle, oldest first
func PrintHistory(w io.Writer, cycles []types.SelfHealCycle) {
	if len(cycles) == 0 {
		fmt.Fprintf(w, "\n%s No cycles have run.\n\n", yellow("ℹ"))
		return
	}
	fmt.Fprintf(w, "\n%s\n\n", heading("Cycle History"))
	for _, c := range cycles {
		dur := "running"
		if c.EndTime != nil {
			dur = c.Duration().Round(time.Millisecond).String()
		}
		line := fmt.Sprintf("  %s  %-9s %-5s %-10s %s", c.CycleID, statusColor(c.Status), c.Context, dur, c.StartTime.Format(time.RFC3339))
		if c.Error != "" {
			line += "  " + gray(truncate(c.Error, 60))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

// PrintState writes the shared-state cycle record
func PrintState(w io.Writer, st *types.SelfHealState) {
	fmt.Fprintf(w, "%s %s %s %d%% %s\n", gray(st.LastUpdate.Format(time.RFC3339)), statusColor(st.Status),
		st.CurrentPhase, st.Progress, st.CycleID)
	if len(st.Errors) > 0 {
		fmt.Fprintf(w, "  %s %s\n", red("errors:"), strings.Join(st.Errors, "; "))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
