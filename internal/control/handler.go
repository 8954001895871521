package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/types"
)

// Loop is the part of the orchestrator the control socket drives.
// *orchestrator.Orchestrator and *orchestrator.App implement it.
type Loop interface {
	GetStatus() *orchestrator.Status
	RunDiagnostics(ctx context.Context) *types.DiagnosticReport
	RunSelfHealCycle(ctx context.Context, env types.Environment) *types.SelfHealCycle
	GetCycle(id string) (*types.SelfHealCycle, error)
	GetCycleHistory() []types.SelfHealCycle
	RecordIssue(issue *types.DiagnosticIssue) error
	ClearIssues()
	RefreshBuildInfo(ctx context.Context) (*orchestrator.BuildInfo, error)
	RecordPerformance(m types.PerformanceMetrics) error
	ApplySuggestion(suggestion string) (*types.OptimizationSuggestion, error)
	Advise(ctx context.Context) (*orchestrator.Advice, error)
	FetchLogs(ctx context.Context, limit int) (json.RawMessage, error)
}

// NewHandler routes control commands to loop
func NewHandler(loop Loop) HandlerFunc {
	return func(ctx context.Context, cmd Command) (any, error) {
		switch cmd.Type {
		case CmdStatus:
			return loop.GetStatus(), nil
		case CmdDiagnose:
			return loop.RunDiagnostics(ctx), nil
		case CmdCycle:
			env := cmd.Context
			if env == "" {
				env = types.EnvProd
			}
			return loop.RunSelfHealCycle(ctx, env), nil
		case CmdGetCycle:
			if cmd.CycleID == "" {
				return nil, fmt.Errorf("cycle_id is required")
			}
			return loop.GetCycle(cmd.CycleID)
		case CmdHistory:
			return loop.GetCycleHistory(), nil
		case CmdRecordIssue:
			if cmd.Issue == nil {
				return nil, fmt.Errorf("issue is required")
			}
			return nil, loop.RecordIssue(cmd.Issue)
		case CmdClearIssues:
			loop.ClearIssues()
			return nil, nil
		case CmdRefreshBuild:
			return loop.RefreshBuildInfo(ctx)
		case CmdRecordPerformance:
			if cmd.Performance == nil {
				return nil, fmt.Errorf("performance is required")
			}
			return nil, loop.RecordPerformance(*cmd.Performance)
		case CmdApplySuggestion:
			if cmd.Suggestion == "" {
				return nil, fmt.Errorf("suggestion is required")
			}
			return loop.ApplySuggestion(cmd.Suggestion)
		case CmdAdvise:
			return loop.Advise(ctx)
		case CmdLogs:
			return loop.FetchLogs(ctx, cmd.Limit)
		default:
			return nil, fmt.Errorf("unknown command type %q", cmd.Type)
		}
	}
}
