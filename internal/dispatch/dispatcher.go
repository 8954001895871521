// Package dispatch decides when a health report warrants repair and sends
// repair requests to the remediation authority.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/selfheal/internal/authority"
	"github.com/steveyegge/selfheal/internal/types"
)

const (
	// DefaultThreshold is the overall health below which a repair is requested
	DefaultThreshold = 70
	// DefaultHistorySize bounds the dispatch history
	DefaultHistorySize = 100
	// WildcardRoute stands for "every route" when no affected route could be identified
	WildcardRoute = "*"
)

// lineSuffix matches source positions such as "App.tsx:42" or "main.js:10:7".
var lineSuffix = regexp.MustCompile(`:\d+(:\d+)?$`)

// ShouldAutoReport reports whether the report warrants a repair request: the
// overall health is below threshold, or any critical issue is present.
func ShouldAutoReport(report *types.DiagnosticReport, threshold int) bool {
	if report == nil {
		return false
	}
	return report.SystemHealth.Overall < threshold || report.CountSeverity(types.SeverityCritical) > 0
}

// DetermineSeverity grades a report by its worst issue and overall health.
func DetermineSeverity(report *types.DiagnosticReport) types.Severity {
	if report == nil {
		return types.SeverityLow
	}
	overall := report.SystemHealth.Overall
	switch {
	case report.CountSeverity(types.SeverityCritical) > 0 || overall < 50:
		return types.SeverityCritical
	case report.CountSeverity(types.SeverityHigh) > 0 || overall < 70:
		return types.SeverityHigh
	case overall < 85:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// DetectAffectedRoutes collects route-like issue locations and every router
// issue location, deduplicated in first-seen order. With none found it returns
// the wildcard route.
func DetectAffectedRoutes(issues []types.DiagnosticIssue) []string {
	seen := make(map[string]bool)
	var routes []string
	for _, issue := range issues {
		loc := strings.TrimSpace(issue.Location)
		if loc == "" || seen[loc] {
			continue
		}
		if issue.Kind == types.KindRouter || looksLikeRoute(loc) {
			seen[loc] = true
			routes = append(routes, loc)
		}
	}
	if len(routes) == 0 {
		return []string{WildcardRoute}
	}
	return routes
}

func looksLikeRoute(loc string) bool {
	if !strings.HasPrefix(loc, "/") || lineSuffix.MatchString(loc) {
		return false
	}
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	return path.Ext(path.Base(loc)) == ""
}

// SystemInfo describes the current process for repair requests.
func SystemInfo(version string, startedAt time.Time) types.SystemInfo {
	host, _ := os.Hostname()
	return types.SystemInfo{
		Hostname:  host,
		Version:   version,
		GoVersion: runtime.Version(),
		PID:       os.Getpid(),
		StartedAt: startedAt,
	}
}

// Options configures a Dispatcher
type Options struct {
	// Authority receives repair requests; nil makes every dispatch fail
	Authority   authority.Authority
	HistorySize int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Dispatcher sends repair requests and keeps a bounded record of them.
type Dispatcher struct {
	authority authority.Authority
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.RWMutex
	history     []types.RepairRecord
	historySize int
}

// New creates a dispatcher
func New(opts Options) *Dispatcher {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		authority:   opts.Authority,
		logger:      opts.Logger,
		now:         opts.Now,
		history:     make([]types.RepairRecord, 0, opts.HistorySize),
		historySize: opts.HistorySize,
	}
}

// Dispatch builds a repair request from the report and sends it to the authority.
// It never returns an error: transport failures and non-2xx replies produce an
// unsuccessful outcome. Every call appends exactly one history record.
func (d *Dispatcher) Dispatch(ctx context.Context, report *types.DiagnosticReport, env types.Environment, info types.SystemInfo) types.DispatchOutcome {
	req := types.RepairRequest{
		ID:         uuid.New().String(),
		Severity:   DetermineSeverity(report),
		Context:    env,
		SystemInfo: info,
		CreatedAt:  d.now(),
	}
	if report != nil {
		req.Report = *report
		req.RoutesAffected = DetectAffectedRoutes(report.Issues.All())
	} else {
		req.RoutesAffected = []string{WildcardRoute}
	}

	outcome := d.send(ctx, req)
	d.record(types.RepairRecord{
		Request:      req,
		Success:      outcome.Success,
		Message:      outcome.Message,
		DispatchedAt: d.now(),
	})
	return outcome
}

func (d *Dispatcher) send(ctx context.Context, req types.RepairRequest) types.DispatchOutcome {
	outcome := types.DispatchOutcome{
		RequestID: req.ID,
		Severity:  req.Severity,
		Routes:    req.RoutesAffected,
	}

	if d.authority == nil {
		outcome.Message = "could not dispatch repair request: no remediation authority configured"
		d.logger.Warn("repair request not dispatched", "request_id", req.ID, "reason", "no authority")
		return outcome
	}

	resp, err := d.authority.Send(ctx, authority.RepairGuidanceRequest{Request: req})
	if err != nil {
		outcome.Message = fmt.Sprintf("could not dispatch repair request: %v", err)
		d.logger.Warn("repair request dispatch failed", "request_id", req.ID, "severity", req.Severity, "err", err)
		return outcome
	}

	outcome.Success = true
	outcome.Message = "repair request dispatched"
	guidance, err := authority.DecodeRepairGuidance(resp)
	if err != nil {
		d.logger.Debug("authority reply carried no repair guidance", "request_id", req.ID, "err", err)
		return outcome
	}
	if guidance.Message != "" {
		outcome.Message = guidance.Message
	}
	outcome.Patch = guidance.Patch

	d.logger.Info("repair request dispatched",
		"request_id", req.ID, "severity", req.Severity, "routes", len(req.RoutesAffected),
		"accepted", guidance.Accepted, "patch", guidance.Patch != nil)
	return outcome
}

func (d *Dispatcher) record(rec types.RepairRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, rec)
	if len(d.history) > d.historySize {
		copy(d.history, d.history[len(d.history)-d.historySize:])
		d.history = d.history[:d.historySize]
	}
}

// History returns a copy of the retained dispatch records, oldest first
func (d *Dispatcher) History() []types.RepairRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]types.RepairRecord, len(d.history))
	copy(result, d.history)
	return result
}
