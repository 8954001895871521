package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/selfheal/internal/authority"
	"github.com/steveyegge/selfheal/internal/evolution"
	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/types"
)

type fakeLoop struct {
	mu      sync.Mutex
	issues  []types.DiagnosticIssue
	cycles  []types.SelfHealCycle
	cleared int
	perf    []types.PerformanceMetrics
	applied []string
	limit   int
}

func (f *fakeLoop) GetStatus() *orchestrator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &orchestrator.Status{IsHealthy: len(f.issues) == 0, CompletedCycleCount: len(f.cycles)}
}

func (f *fakeLoop) RunDiagnostics(ctx context.Context) *types.DiagnosticReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &types.DiagnosticReport{ID: "rep-1", SystemHealth: types.SystemHealth{Overall: 100 - 25*len(f.issues)}}
	for _, i := range f.issues {
		r.Issues.Add(i)
	}
	return r
}

func (f *fakeLoop) RunSelfHealCycle(ctx context.Context, env types.Environment) *types.SelfHealCycle {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := types.SelfHealCycle{CycleID: fmt.Sprintf("cycle-%d", len(f.cycles)+1), Context: env, Status: types.CycleCompleted, Phase: types.PhaseDone}
	f.cycles = append(f.cycles, c)
	return &c
}

func (f *fakeLoop) GetCycle(id string) (*types.SelfHealCycle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.cycles {
		if c.CycleID == id {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", orchestrator.ErrCycleNotFound, id)
}

func (f *fakeLoop) GetCycleHistory() []types.SelfHealCycle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.SelfHealCycle(nil), f.cycles...)
}

func (f *fakeLoop) RecordIssue(issue *types.DiagnosticIssue) error {
	if err := issue.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = append(f.issues, *issue)
	return nil
}

func (f *fakeLoop) ClearIssues() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issues = nil
	f.cleared++
}

func (f *fakeLoop) RefreshBuildInfo(ctx context.Context) (*orchestrator.BuildInfo, error) {
	return &orchestrator.BuildInfo{
		BuildDiffResponse: authority.BuildDiffResponse{CurrentHash: "aaa", DeployedHash: "bbb"},
		DeployStatus:      json.RawMessage(`{"state":"live"}`),
	}, nil
}

func (f *fakeLoop) RecordPerformance(m types.PerformanceMetrics) error {
	if err := m.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perf = append(f.perf, m)
	return nil
}

func (f *fakeLoop) ApplySuggestion(suggestion string) (*types.OptimizationSuggestion, error) {
	if suggestion != "cache slow endpoints" {
		return nil, fmt.Errorf("%w: %q", evolution.ErrSuggestionNotFound, suggestion)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, suggestion)
	return &types.OptimizationSuggestion{Category: types.CategoryAPI, Suggestion: suggestion}, nil
}

func (f *fakeLoop) Advise(ctx context.Context) (*orchestrator.Advice, error) {
	return &orchestrator.Advice{
		ReportID:    "rep-1",
		Suggestions: []types.OptimizationSuggestion{{Category: types.CategoryAPI, Suggestion: "cache slow endpoints"}},
		Advice:      []string{"put a cache in front of /api/orders"},
	}, nil
}

func (f *fakeLoop) FetchLogs(ctx context.Context, limit int) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	return json.RawMessage(`{"lines":["qa: checkout ok"]}`), nil
}

// socketPath keeps paths short; Unix socket paths are limited to ~100 bytes
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "shc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T, handler HandlerFunc) (*Server, *Client) {
	t.Helper()
	path := socketPath(t)
	srv, err := NewServer(path, handler, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })
	return srv, NewClient(path)
}

func TestClientRoundTrip(t *testing.T) {
	loop := &fakeLoop{}
	_, client := startServer(t, NewHandler(loop))

	st, err := client.Status()
	require.NoError(t, err)
	assert.True(t, st.IsHealthy)

	require.NoError(t, client.RecordIssue(&types.DiagnosticIssue{Kind: types.KindAPI, Severity: types.SeverityCritical, Message: "500 from /api/orders"}))
	report, err := client.Diagnose()
	require.NoError(t, err)
	assert.Equal(t, 75, report.SystemHealth.Overall)
	assert.Equal(t, 1, report.Issues.Len())

	c, err := client.RunCycle(types.EnvDev)
	require.NoError(t, err)
	assert.Equal(t, types.EnvDev, c.Context)
	assert.Equal(t, types.CycleCompleted, c.Status)

	got, err := client.GetCycle(c.CycleID)
	require.NoError(t, err)
	assert.Equal(t, c.CycleID, got.CycleID)

	hist, err := client.History()
	require.NoError(t, err)
	assert.Len(t, hist, 1)

	diff, err := client.RefreshBuild()
	require.NoError(t, err)
	assert.Equal(t, "bbb", diff.DeployedHash)
	assert.JSONEq(t, `{"state":"live"}`, string(diff.DeployStatus))

	require.NoError(t, client.ClearIssues())
	assert.Equal(t, 1, loop.cleared)
}

func TestPerformanceAndSuggestions(t *testing.T) {
	loop := &fakeLoop{}
	_, client := startServer(t, NewHandler(loop))

	require.NoError(t, client.RecordPerformance(types.PerformanceMetrics{PageLoadMs: 4200, APIResponseMs: 900}))
	err := client.RecordPerformance(types.PerformanceMetrics{PageLoadMs: -5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record_performance")
	require.Len(t, loop.perf, 1)
	assert.InDelta(t, 4200, loop.perf[0].PageLoadMs, 0.001)

	s, err := client.ApplySuggestion("cache slow endpoints")
	require.NoError(t, err)
	assert.Equal(t, types.CategoryAPI, s.Category)
	_, err = client.ApplySuggestion("rewrite everything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suggestion not found")
	assert.Equal(t, []string{"cache slow endpoints"}, loop.applied)

	advice, err := client.Advise()
	require.NoError(t, err)
	assert.Equal(t, []string{"put a cache in front of /api/orders"}, advice.Advice)

	logs, err := client.FetchLogs(20)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lines":["qa: checkout ok"]}`, string(logs))
	assert.Equal(t, 20, loop.limit)
}

func TestCycleDefaultsToProd(t *testing.T) {
	_, client := startServer(t, NewHandler(&fakeLoop{}))
	resp, err := client.SendCommand(Command{Type: CmdCycle})
	require.NoError(t, err)
	require.True(t, resp.Success)

	var c types.SelfHealCycle
	require.NoError(t, json.Unmarshal(resp.Data, &c))
	assert.Equal(t, types.EnvProd, c.Context)
}

func TestHandlerErrors(t *testing.T) {
	_, client := startServer(t, NewHandler(&fakeLoop{}))

	_, err := client.GetCycle("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle not found")

	err = client.RecordIssue(&types.DiagnosticIssue{Kind: "bogus", Severity: types.SeverityLow, Message: "x"})
	assert.Error(t, err)

	for _, typ := range []string{CmdRecordIssue, CmdRecordPerformance, CmdApplySuggestion} {
		resp, err := client.SendCommand(Command{Type: typ})
		require.NoError(t, err)
		assert.False(t, resp.Success, typ)
		assert.Contains(t, resp.Error, "is required", typ)
	}

	resp, err := client.SendCommand(Command{Type: CmdRecordIssue})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	resp, err = client.SendCommand(Command{Type: "pause"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestMalformedCommand(t *testing.T) {
	srv, _ := startServer(t, NewHandler(&fakeLoop{}))

	conn, err := net.Dial("unix", srv.SocketPath())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "failed to decode command")
}

func TestNoHandler(t *testing.T) {
	_, client := startServer(t, nil)
	resp, err := client.SendCommand(Command{Type: CmdStatus})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "server misconfiguration", resp.Error)
}

func TestClientNotServing(t *testing.T) {
	client := NewClient(socketPath(t))
	client.SetTimeout(200 * time.Millisecond)
	_, err := client.Status()
	assert.True(t, errors.Is(err, ErrNotServing))
}

func TestServerStopRemovesSocket(t *testing.T) {
	path := socketPath(t)
	srv, err := NewServer(path, NewHandler(&fakeLoop{}), nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	assert.True(t, srv.IsRunning())
	assert.Error(t, srv.Start(context.Background()))

	require.NoError(t, srv.Stop())
	require.NoError(t, srv.Stop())
	assert.False(t, srv.IsRunning())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestNewServerRemovesStaleSocket(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0644))
	srv, err := NewServer(path, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	_ = srv.Stop()
}

func TestConcurrentClients(t *testing.T) {
	loop := &fakeLoop{}
	_, client := startServer(t, NewHandler(loop))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.RunCycle(types.EnvTest)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, loop.GetCycleHistory(), 10)
}
