package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/steveyegge/selfheal/internal/control"
	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/types"
)

// remoteLoop drives a serve process through the control client. Transport
// failures on calls without an error result are logged and reported in the
// returned value.
type remoteLoop struct {
	client *control.Client
	logger *slog.Logger
}

var _ control.Loop = (*remoteLoop)(nil)

func (r *remoteLoop) GetStatus() *orchestrator.Status {
	st, err := r.client.Status()
	if err != nil {
		r.logger.Error("status request failed", "err", err)
		return &orchestrator.Status{}
	}
	return st
}

func (r *remoteLoop) RunDiagnostics(ctx context.Context) *types.DiagnosticReport {
	report, err := r.client.Diagnose()
	if err != nil {
		r.logger.Error("diagnose request failed", "err", err)
		return &types.DiagnosticReport{Suggestions: []string{"Diagnostics unavailable: " + err.Error()}}
	}
	return report
}

func (r *remoteLoop) RunSelfHealCycle(ctx context.Context, env types.Environment) *types.SelfHealCycle {
	c, err := r.client.RunCycle(env)
	if err != nil {
		r.logger.Error("cycle request failed", "err", err)
		return &types.SelfHealCycle{Context: env, Status: types.CycleFailed, Phase: types.PhaseDone, Error: err.Error()}
	}
	return c
}

func (r *remoteLoop) GetCycle(id string) (*types.SelfHealCycle, error) {
	return r.client.GetCycle(id)
}

func (r *remoteLoop) GetCycleHistory() []types.SelfHealCycle {
	hist, err := r.client.History()
	if err != nil {
		r.logger.Error("history request failed", "err", err)
		return nil
	}
	return hist
}

func (r *remoteLoop) RecordIssue(issue *types.DiagnosticIssue) error {
	return r.client.RecordIssue(issue)
}

func (r *remoteLoop) ClearIssues() {
	if err := r.client.ClearIssues(); err != nil {
		r.logger.Error("clear request failed", "err", err)
	}
}

func (r *remoteLoop) RefreshBuildInfo(ctx context.Context) (*orchestrator.BuildInfo, error) {
	return r.client.RefreshBuild()
}

func (r *remoteLoop) RecordPerformance(m types.PerformanceMetrics) error {
	return r.client.RecordPerformance(m)
}

func (r *remoteLoop) ApplySuggestion(suggestion string) (*types.OptimizationSuggestion, error) {
	return r.client.ApplySuggestion(suggestion)
}

func (r *remoteLoop) Advise(ctx context.Context) (*orchestrator.Advice, error) {
	return r.client.Advise()
}

func (r *remoteLoop) FetchLogs(ctx context.Context, limit int) (json.RawMessage, error) {
	return r.client.FetchLogs(limit)
}

// openLoop returns the serve process when it is reachable, otherwise an
// in-process app. The close function releases the local app.
func openLoop(ctx context.Context) (control.Loop, func(), error) {
	if serving() {
		logger.Debug("using serve process", "socket", socketPath())
		return &remoteLoop{client: newClient(), logger: logger}, func() {}, nil
	}
	app, err := openLocal(ctx)
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("using in-process orchestrator")
	return app, func() { _ = app.Close() }, nil
}
