// Package mcpserver exposes the self-heal loop as Model Context Protocol
// tools so an assistant can diagnose the system and drive repair cycles.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steveyegge/selfheal/internal/control"
	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/types"
)

// Resource URIs.
const (
	StatusURI  = "selfheal://status"
	HistoryURI = "selfheal://history"
)

// Server adapts a loop to MCP tool and resource handlers
type Server struct {
	loop control.Loop
}

// New builds an MCP server with every self-heal tool and resource registered
func New(loop control.Loop, version string) *mcp.Server {
	ss := &Server{loop: loop}

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "selfheal",
		Version: version,
	}, &mcp.ServerOptions{})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "diagnose",
		Description: "Generate a diagnostic report with health scores, issues and suggestions",
	}, ss.diagnose)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "run_cycle",
		Description: "Run one self-heal cycle: diagnose, request a repair, validate, verify and learn",
	}, ss.runCycle)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_status",
		Description: "Summarise health, cycle counts, predictive alerts and optimization suggestions",
	}, ss.getStatus)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_cycle",
		Description: "Fetch one self-heal cycle with every step it ran",
	}, ss.getCycle)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cycle_history",
		Description: "List retained self-heal cycles, oldest first",
	}, ss.cycleHistory)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "record_issue",
		Description: "Record an observed issue into the diagnostic buffer",
	}, ss.recordIssue)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "clear_issues",
		Description: "Clear every recorded issue",
	}, ss.clearIssues)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "record_performance",
		Description: "Record a performance sample used for optimization suggestions",
	}, ss.recordPerformance)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "apply_suggestion",
		Description: "Mark a logged optimization suggestion as applied",
	}, ss.applySuggestion)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "optimization_advice",
		Description: "Diagnose and ask the remediation authority for advice on the resulting optimization suggestions",
	}, ss.optimizationAdvice)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "build_info",
		Description: "Refresh expected and deployed build identifiers along with deploy status",
	}, ss.buildInfo)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "qa_logs",
		Description: "Fetch recent QA log lines from the remediation authority",
	}, ss.qaLogs)

	s.AddResource(&mcp.Resource{
		Name:     "status",
		URI:      StatusURI,
		MIMEType: "application/json",
	}, ss.handleStatus)

	s.AddResource(&mcp.Resource{
		Name:     "history",
		URI:      HistoryURI,
		MIMEType: "application/json",
	}, ss.handleHistory)

	return s
}

// EmptyInput is the argument type of tools that take none
type EmptyInput struct{}

// RunCycleInput selects the cycle context
type RunCycleInput struct {
	Context string `json:"context,omitempty" jsonschema:"deployment context: prod, dev or test (default prod)"`
}

// GetCycleInput identifies a cycle
type GetCycleInput struct {
	CycleID string `json:"cycle_id" jsonschema:"ID of the cycle to fetch"`
}

// HistoryInput bounds the history listing
type HistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"return only the most recent N cycles"`
}

// RecordIssueInput describes one observation
type RecordIssueInput struct {
	Kind     string `json:"kind" jsonschema:"subsystem: ui, api, build, deploy, router, state, cache or dom"`
	Severity string `json:"severity" jsonschema:"critical, high, medium or low"`
	Message  string `json:"message" jsonschema:"what was observed"`
	Location string `json:"location,omitempty" jsonschema:"route, file or endpoint where it was observed"`
	Source   string `json:"source,omitempty" jsonschema:"observation point such as console or error_boundary"`
}

// PerformanceInput is one performance sample in milliseconds
type PerformanceInput struct {
	PageLoadMs    float64 `json:"page_load_ms,omitempty" jsonschema:"page load time in milliseconds"`
	APIResponseMs float64 `json:"api_response_ms,omitempty" jsonschema:"API response time in milliseconds"`
	BuildMs       float64 `json:"build_ms,omitempty" jsonschema:"build duration in milliseconds"`
}

// ApplySuggestionInput names a suggestion
type ApplySuggestionInput struct {
	Suggestion string `json:"suggestion" jsonschema:"suggestion text, or its 1-based number in get_status"`
}

// LogsInput bounds the QA log listing
type LogsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of log lines to fetch (default 50)"`
}

func (ss *Server) diagnose(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(ss.loop.RunDiagnostics(ctx))
}

func (ss *Server) runCycle(ctx context.Context, req *mcp.CallToolRequest, in RunCycleInput) (*mcp.CallToolResult, any, error) {
	env := types.EnvProd
	if in.Context != "" {
		env = types.Environment(strings.ToLower(in.Context))
	}
	if !env.IsValid() {
		return errorResult(fmt.Sprintf("context must be prod, dev or test (got %q)", in.Context)), nil, nil
	}
	return jsonResult(ss.loop.RunSelfHealCycle(ctx, env))
}

func (ss *Server) getStatus(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	return jsonResult(ss.loop.GetStatus())
}

func (ss *Server) getCycle(ctx context.Context, req *mcp.CallToolRequest, in GetCycleInput) (*mcp.CallToolResult, any, error) {
	if in.CycleID == "" {
		return errorResult("cycle_id is required"), nil, nil
	}
	c, err := ss.loop.GetCycle(in.CycleID)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(c)
}

func (ss *Server) cycleHistory(ctx context.Context, req *mcp.CallToolRequest, in HistoryInput) (*mcp.CallToolResult, any, error) {
	hist := ss.loop.GetCycleHistory()
	if in.Limit > 0 && len(hist) > in.Limit {
		hist = hist[len(hist)-in.Limit:]
	}
	return jsonResult(hist)
}

func (ss *Server) recordIssue(ctx context.Context, req *mcp.CallToolRequest, in RecordIssueInput) (*mcp.CallToolResult, any, error) {
	issue := &types.DiagnosticIssue{
		Kind:     types.IssueKind(strings.ToLower(in.Kind)),
		Severity: types.Severity(strings.ToLower(in.Severity)),
		Message:  in.Message,
		Location: in.Location,
	}
	if in.Source != "" {
		issue.Context = map[string]string{types.ContextSource: in.Source}
	}
	if err := ss.loop.RecordIssue(issue); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(fmt.Sprintf("Recorded %s %s issue", issue.Severity, issue.Kind)), nil, nil
}

func (ss *Server) clearIssues(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	ss.loop.ClearIssues()
	return textResult("Cleared recorded issues"), nil, nil
}

func (ss *Server) recordPerformance(ctx context.Context, req *mcp.CallToolRequest, in PerformanceInput) (*mcp.CallToolResult, any, error) {
	m := types.PerformanceMetrics{PageLoadMs: in.PageLoadMs, APIResponseMs: in.APIResponseMs, BuildMs: in.BuildMs}
	if err := ss.loop.RecordPerformance(m); err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult("Recorded performance sample"), nil, nil
}

func (ss *Server) applySuggestion(ctx context.Context, req *mcp.CallToolRequest, in ApplySuggestionInput) (*mcp.CallToolResult, any, error) {
	text, err := orchestrator.ResolveSuggestion(ss.loop.GetStatus(), in.Suggestion)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	s, err := ss.loop.ApplySuggestion(text)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return textResult(fmt.Sprintf("Applied %s suggestion: %s", s.Category, s.Suggestion)), nil, nil
}

func (ss *Server) optimizationAdvice(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	advice, err := ss.loop.Advise(ctx)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(advice)
}

func (ss *Server) buildInfo(ctx context.Context, req *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, any, error) {
	info, err := ss.loop.RefreshBuildInfo(ctx)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(info)
}

func (ss *Server) qaLogs(ctx context.Context, req *mcp.CallToolRequest, in LogsInput) (*mcp.CallToolResult, any, error) {
	logs, err := ss.loop.FetchLogs(ctx, in.Limit)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(logs)
}

func (ss *Server) handleStatus(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, ss.loop.GetStatus())
}

func (ss *Server) handleHistory(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(req.Params.URI, ss.loop.GetCycleHistory())
}

func textResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: msg}}}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: msg}}}
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding result: %w", err)
	}
	return textResult(string(data)), nil, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(data)},
		},
	}, nil
}

// Serve runs the server over stdio until ctx is done or the client disconnects
func Serve(ctx context.Context, s *mcp.Server) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}
