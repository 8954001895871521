package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steveyegge/selfheal/internal/authority"
	"github.com/steveyegge/selfheal/internal/types"
)

// DefaultLogLimit is the number of QA log lines fetched when no limit is given.
const DefaultLogLimit = 50

var errNoAuthority = errors.New("no remediation authority configured")

// BuildInfo is the authority's view of the current build. The deploy and
// entry bundle statuses are opaque and absent when the authority could not
// answer them.
type BuildInfo struct {
	authority.BuildDiffResponse
	DeployStatus  json.RawMessage `json:"deploy_status,omitempty"`
	IndexJSStatus json.RawMessage `json:"index_js_status,omitempty"`
}

// Advice is the authority's response to the optimization suggestions of one
// diagnosis.
type Advice struct {
	ReportID    string                         `json:"report_id"`
	Suggestions []types.OptimizationSuggestion `json:"suggestions"`
	Advice      []string                       `json:"advice"`
}

// RefreshBuildInfo asks the authority for the current and deployed build
// identifiers and records them for mismatch detection. Deploy and entry
// bundle status are collected on a best-effort basis.
func (o *Orchestrator) RefreshBuildInfo(ctx context.Context) (*BuildInfo, error) {
	if o.authority == nil {
		return nil, errNoAuthority
	}
	resp, err := o.authority.Send(ctx, authority.BuildDiffRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to query build diff: %w", err)
	}
	diff, err := authority.DecodeBuildDiff(resp)
	if err != nil {
		return nil, err
	}
	o.agg.RecordBuildInfo(diff.CurrentHash, diff.DeployedHash)
	o.logger.Info("refreshed build info", "expected", diff.CurrentHash, "deployed", diff.DeployedHash)

	return &BuildInfo{
		BuildDiffResponse: *diff,
		DeployStatus:      o.optionalStatus(ctx, authority.DeployStatusRequest{}),
		IndexJSStatus:     o.optionalStatus(ctx, authority.IndexJSStatusRequest{}),
	}, nil
}

// optionalStatus returns the raw reply to req, or nil when the authority
// cannot answer it.
func (o *Orchestrator) optionalStatus(ctx context.Context, req authority.Request) json.RawMessage {
	resp, err := o.authority.Send(ctx, req)
	switch {
	case errors.Is(err, authority.ErrUnsupportedRequest):
		o.logger.Debug("authority does not report status", "kind", req.Kind())
		return nil
	case err != nil:
		o.logger.Warn("status request failed", "kind", req.Kind(), "err", err)
		return nil
	case resp == nil || !json.Valid(resp.Body):
		o.logger.Warn("status reply is not JSON", "kind", req.Kind())
		return nil
	}
	return resp.Body
}

// Advise runs diagnostics and asks the authority for advice on the
// optimization suggestions they produced. With no suggestions the authority
// is not called.
func (o *Orchestrator) Advise(ctx context.Context) (*Advice, error) {
	if o.authority == nil {
		return nil, errNoAuthority
	}
	report, suggestions := o.diagnose(ctx)
	out := &Advice{ReportID: report.ID, Suggestions: suggestions, Advice: []string{}}
	if len(suggestions) == 0 {
		return out, nil
	}

	resp, err := o.authority.Send(ctx, authority.OptimizationAdviceRequest{Report: *report, Suggestions: suggestions})
	if err != nil {
		return nil, fmt.Errorf("failed to request optimization advice: %w", err)
	}
	advice, err := authority.DecodeOptimizationAdvice(resp)
	if err != nil {
		return nil, err
	}
	out.Advice = append(out.Advice, advice.Advice...)
	o.logger.Info("received optimization advice", "report_id", report.ID, "suggestions", len(suggestions), "advice", len(out.Advice))
	return out, nil
}

// FetchLogs returns the authority's most recent QA log lines as an opaque
// JSON document. limit <= 0 uses DefaultLogLimit.
func (o *Orchestrator) FetchLogs(ctx context.Context, limit int) (json.RawMessage, error) {
	if o.authority == nil {
		return nil, errNoAuthority
	}
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	resp, err := o.authority.Send(ctx, authority.LPQALogsRequest{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch QA logs: %w", err)
	}
	if !json.Valid(resp.Body) {
		return nil, fmt.Errorf("QA log reply is not JSON")
	}
	return resp.Body, nil
}
