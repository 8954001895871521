package repl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/briandowns/spinner"

	"github.com/steveyegge/selfheal/internal/diagnostics"
	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/types"
)

func (r *REPL) cmdStatus(args []string) error {
	PrintStatus(r.out, r.loop.GetStatus())
	return nil
}

func (r *REPL) cmdDiagnose(args []string) error {
	PrintReport(r.out, r.loop.RunDiagnostics(r.ctx))
	return nil
}

func (r *REPL) cmdCycle(args []string) error {
	env := types.EnvProd
	if len(args) > 0 {
		env = types.Environment(strings.ToLower(args[0]))
		if !env.IsValid() {
			return fmt.Errorf("context must be prod, dev or test (got %q)", args[0])
		}
	}

	// Spinner only when attached to a terminal
	var s *spinner.Spinner
	if r.rl != nil {
		s = spinner.New(spinner.CharSets[11], spinnerInterval, spinner.WithWriter(r.out))
		s.Suffix = " running self-heal cycle..."
		s.Start()
	}
	c := r.loop.RunSelfHealCycle(r.ctx, env)
	if s != nil {
		s.Stop()
	}
	PrintCycle(r.out, c)
	return nil
}

func (r *REPL) cmdHistory(args []string) error {
	PrintHistory(r.out, r.loop.GetCycleHistory())
	return nil
}

func (r *REPL) cmdShow(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <cycle-id>")
	}
	c, err := r.loop.GetCycle(args[0])
	if err != nil {
		return err
	}
	PrintCycle(r.out, c)
	return nil
}

func (r *REPL) cmdIssue(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: issue <kind> <severity> <message>")
	}
	issue := &types.DiagnosticIssue{
		Kind:     types.IssueKind(strings.ToLower(args[0])),
		Severity: types.Severity(strings.ToLower(args[1])),
		Message:  strings.Join(args[2:], " "),
	}
	if err := r.loop.RecordIssue(issue); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s Recorded %s %s issue\n", green("✓"), issue.Severity, issue.Kind)
	return nil
}

func (r *REPL) cmdClear(args []string) error {
	r.loop.ClearIssues()
	fmt.Fprintf(r.out, "%s Cleared recorded issues\n", green("✓"))
	return nil
}

func (r *REPL) cmdBuild(args []string) error {
	info, err := r.loop.RefreshBuildInfo(r.ctx)
	if err != nil {
		return err
	}
	mark := green("✓")
	if diagnostics.CompareBuilds(info.CurrentHash, info.DeployedHash) != nil {
		mark = red("⊗")
	}
	fmt.Fprintf(r.out, "%s expected %s, deployed %s\n", mark, info.CurrentHash, info.DeployedHash)
	if info.DeployStatus != nil {
		fmt.Fprintf(r.out, "  deploy: %s\n", compact(info.DeployStatus))
	}
	if info.IndexJSStatus != nil {
		fmt.Fprintf(r.out, "  index.js: %s\n", compact(info.IndexJSStatus))
	}
	return nil
}

func (r *REPL) cmdPerf(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: perf <page_ms> <api_ms> <build_ms>")
	}
	var vals [3]float64
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", a, err)
		}
		vals[i] = v
	}
	m := types.PerformanceMetrics{PageLoadMs: vals[0], APIResponseMs: vals[1], BuildMs: vals[2]}
	if err := r.loop.RecordPerformance(m); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s Recorded performance sample\n", green("✓"))
	return nil
}

func (r *REPL) cmdApply(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: apply <number|suggestion text>")
	}
	text, err := orchestrator.ResolveSuggestion(r.loop.GetStatus(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	applied, err := r.loop.ApplySuggestion(text)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s Applied %s suggestion: %s\n", green("✓"), applied.Category, applied.Suggestion)
	return nil
}

func (r *REPL) cmdAdvise(args []string) error {
	var s *spinner.Spinner
	if r.rl != nil {
		s = spinner.New(spinner.CharSets[11], spinnerInterval, spinner.WithWriter(r.out))
		s.Suffix = " asking for optimization advice..."
		s.Start()
	}
	advice, err := r.loop.Advise(r.ctx)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		return err
	}
	PrintAdvice(r.out, advice)
	return nil
}

func (r *REPL) cmdLogs(args []string) error {
	limit := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("usage: logs [limit]")
		}
		limit = n
	}
	logs, err := r.loop.FetchLogs(r.ctx, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, compact(logs))
	return nil
}

func compact(raw json.RawMessage) string {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	if err := enc.Encode(v); err != nil {
		return string(raw)
	}
	return strings.TrimSpace(buf.String())
}
