package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/selfheal/internal/authority"
	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/types"
)

type fakeLoop struct {
	issues      []types.DiagnosticIssue
	cycles      []types.SelfHealCycle
	perf        []types.PerformanceMetrics
	suggestions []types.OptimizationSuggestion
	applied     []string
	noAuthority bool
}

func (f *fakeLoop) GetStatus() *orchestrator.Status {
	return &orchestrator.Status{
		IsHealthy:               len(f.issues) == 0,
		CompletedCycleCount:     len(f.cycles),
		OptimizationSuggestions: f.suggestions,
	}
}

func (f *fakeLoop) RunDiagnostics(ctx context.Context) *types.DiagnosticReport {
	r := &types.DiagnosticReport{ID: "rep", SystemHealth: types.SystemHealth{Overall: 100}}
	for _, i := range f.issues {
		r.Issues.Add(i)
	}
	return r
}

func (f *fakeLoop) RunSelfHealCycle(ctx context.Context, env types.Environment) *types.SelfHealCycle {
	c := types.SelfHealCycle{CycleID: fmt.Sprintf("c%d", len(f.cycles)+1), Context: env, Status: types.CycleCompleted}
	f.cycles = append(f.cycles, c)
	return &c
}

func (f *fakeLoop) GetCycle(id string) (*types.SelfHealCycle, error) {
	for _, c := range f.cycles {
		if c.CycleID == id {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", orchestrator.ErrCycleNotFound, id)
}

func (f *fakeLoop) GetCycleHistory() []types.SelfHealCycle { return f.cycles }

func (f *fakeLoop) RecordIssue(issue *types.DiagnosticIssue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	f.issues = append(f.issues, *issue)
	return nil
}

func (f *fakeLoop) ClearIssues() { f.issues = nil }

func (f *fakeLoop) RefreshBuildInfo(ctx context.Context) (*orchestrator.BuildInfo, error) {
	if f.noAuthority {
		return nil, errors.New("no remediation authority configured")
	}
	return &orchestrator.BuildInfo{BuildDiffResponse: authority.BuildDiffResponse{CurrentHash: "v1.2.0", DeployedHash: "v1.1.0"}}, nil
}

func (f *fakeLoop) RecordPerformance(m types.PerformanceMetrics) error {
	if err := m.Validate(); err != nil {
		return err
	}
	f.perf = append(f.perf, m)
	return nil
}

func (f *fakeLoop) ApplySuggestion(suggestion string) (*types.OptimizationSuggestion, error) {
	for _, s := range f.suggestions {
		if s.Suggestion == suggestion {
			f.applied = append(f.applied, suggestion)
			return &s, nil
		}
	}
	return nil, fmt.Errorf("optimization suggestion not found: %q", suggestion)
}

func (f *fakeLoop) Advise(ctx context.Context) (*orchestrator.Advice, error) {
	if f.noAuthority {
		return nil, errors.New("no remediation authority configured")
	}
	return &orchestrator.Advice{ReportID: "rep", Suggestions: f.suggestions, Advice: []string{"lazy-load the settings route"}}, nil
}

func (f *fakeLoop) FetchLogs(ctx context.Context, limit int) (json.RawMessage, error) {
	if f.noAuthority {
		return nil, errors.New("no remediation authority configured")
	}
	return json.RawMessage(fmt.Sprintf(`{"limit":%d}`, limit)), nil
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestRunCycleTool(t *testing.T) {
	loop := &fakeLoop{}
	ss := &Server{loop: loop}
	ctx := context.Background()

	res, _, err := ss.runCycle(ctx, nil, RunCycleInput{})
	require.NoError(t, err)
	var c types.SelfHealCycle
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &c))
	assert.Equal(t, types.EnvProd, c.Context)

	res, _, err = ss.runCycle(ctx, nil, RunCycleInput{Context: "TEST"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, types.EnvTest, loop.cycles[1].Context)

	res, _, err = ss.runCycle(ctx, nil, RunCycleInput{Context: "staging"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Len(t, loop.cycles, 2)
}

func TestRecordIssueTool(t *testing.T) {
	loop := &fakeLoop{}
	ss := &Server{loop: loop}
	ctx := context.Background()

	res, _, err := ss.recordIssue(ctx, nil, RecordIssueInput{Kind: "API", Severity: "high", Message: "502 from /api/cart", Source: "network"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, loop.issues, 1)
	assert.Equal(t, types.KindAPI, loop.issues[0].Kind)
	assert.Equal(t, "network", loop.issues[0].Source())

	res, _, err = ss.recordIssue(ctx, nil, RecordIssueInput{Kind: "api", Severity: "high"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	_, _, err = ss.clearIssues(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Empty(t, loop.issues)
}

func TestPerformanceTools(t *testing.T) {
	loop := &fakeLoop{suggestions: []types.OptimizationSuggestion{
		{Category: types.CategoryPerformance, Suggestion: "split large bundles"},
		{Category: types.CategoryAPI, Suggestion: "cache slow endpoints"},
	}}
	ss := &Server{loop: loop}
	ctx := context.Background()

	res, _, err := ss.recordPerformance(ctx, nil, PerformanceInput{PageLoadMs: 4100, BuildMs: 70000})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Len(t, loop.perf, 1)
	assert.InDelta(t, 70000, loop.perf[0].BuildMs, 0.001)

	res, _, err = ss.recordPerformance(ctx, nil, PerformanceInput{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = ss.applySuggestion(ctx, nil, ApplySuggestionInput{Suggestion: "2"})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Applied api suggestion")

	res, _, err = ss.applySuggestion(ctx, nil, ApplySuggestionInput{Suggestion: "split large bundles"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, []string{"cache slow endpoints", "split large bundles"}, loop.applied)

	res, _, err = ss.applySuggestion(ctx, nil, ApplySuggestionInput{Suggestion: "9"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = ss.optimizationAdvice(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "lazy-load the settings route")
}

func TestAuthorityTools(t *testing.T) {
	loop := &fakeLoop{}
	ss := &Server{loop: loop}
	ctx := context.Background()

	res, _, err := ss.buildInfo(ctx, nil, EmptyInput{})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"deployedHash": "v1.1.0"`)

	res, _, err = ss.qaLogs(ctx, nil, LogsInput{Limit: 7})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"limit": 7`)

	loop.noAuthority = true
	for _, call := range []func() (*mcp.CallToolResult, any, error){
		func() (*mcp.CallToolResult, any, error) { return ss.buildInfo(ctx, nil, EmptyInput{}) },
		func() (*mcp.CallToolResult, any, error) { return ss.qaLogs(ctx, nil, LogsInput{}) },
		func() (*mcp.CallToolResult, any, error) { return ss.optimizationAdvice(ctx, nil, EmptyInput{}) },
	} {
		res, _, err := call()
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Contains(t, text(t, res), "no remediation authority")
	}
}

func TestCycleLookupTools(t *testing.T) {
	loop := &fakeLoop{}
	ss := &Server{loop: loop}
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		loop.RunSelfHealCycle(ctx, types.EnvDev)
	}

	res, _, err := ss.getCycle(ctx, nil, GetCycleInput{CycleID: "c2"})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"cycle_id": "c2"`)

	res, _, err = ss.getCycle(ctx, nil, GetCycleInput{CycleID: "nope"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "cycle not found")

	res, _, err = ss.getCycle(ctx, nil, GetCycleInput{})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = ss.cycleHistory(ctx, nil, HistoryInput{Limit: 2})
	require.NoError(t, err)
	var hist []types.SelfHealCycle
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &hist))
	require.Len(t, hist, 2)
	assert.Equal(t, "c3", hist[0].CycleID)
}

func TestSessionOverInMemoryTransport(t *testing.T) {
	ctx := context.Background()
	server := New(&fakeLoop{}, "test")

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"diagnose", "run_cycle", "get_status", "get_cycle", "cycle_history", "record_issue", "clear_issues",
		"record_performance", "apply_suggestion", "optimization_advice", "build_info", "qa_logs",
	}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "record_issue",
		Arguments: map[string]any{"kind": "ui", "severity": "critical", "message": "blank page"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "get_status", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"is_healthy": false`)

	rr, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: StatusURI})
	require.NoError(t, err)
	require.Len(t, rr.Contents, 1)
	assert.Equal(t, "application/json", rr.Contents[0].MIMEType)
}
