package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidIssue is returned when a diagnostic issue fails boundary validation.
var ErrInvalidIssue = errors.New("invalid diagnostic issue")

// Context keys recognised on DiagnosticIssue.Context.
const (
	// ContextSource tags the observation point that produced the issue
	ContextSource = "source"
)

// Observation sources used by the verification checks.
const (
	SourceConsole       = "console"
	SourceErrorBoundary = "error_boundary"
	SourceNetwork       = "network"
	SourceBuild         = "build"
)

// DiagnosticIssue is a single observed deviation from expected system behavior.
// Issues are immutable once recorded.
type DiagnosticIssue struct {
	Kind       IssueKind         `json:"kind"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	Location   string            `json:"location,omitempty"`
	StackTrace string            `json:"stack_trace,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Context    map[string]string `json:"context,omitempty"`
}

// Validate checks if the issue has valid field values
func (i *DiagnosticIssue) Validate() error {
	if !i.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIssue, i.Kind)
	}
	if !i.Severity.IsValid() {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidIssue, i.Severity)
	}
	if strings.TrimSpace(i.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidIssue)
	}
	return nil
}

// Source returns the observation source recorded in the issue context, if any.
func (i *DiagnosticIssue) Source() string {
	if i.Context == nil {
		return ""
	}
	return i.Context[ContextSource]
}

// Clone returns a copy that shares no mutable state with the receiver.
func (i DiagnosticIssue) Clone() DiagnosticIssue {
	if i.Context != nil {
		ctx := make(map[string]string, len(i.Context))
		for k, v := range i.Context {
			ctx[k] = v
		}
		i.Context = ctx
	}
	return i
}

// IssueKind identifies the subsystem an issue was observed in
type IssueKind string

const (
	KindUI     IssueKind = "ui"
	KindAPI    IssueKind = "api"
	KindBuild  IssueKind = "build"
	KindDeploy IssueKind = "deploy"
	KindRouter IssueKind = "router"
	KindState  IssueKind = "state"
	KindCache  IssueKind = "cache"
	KindDOM    IssueKind = "dom"
)

// AllIssueKinds lists every kind in report order.
var AllIssueKinds = []IssueKind{KindUI, KindAPI, KindBuild, KindDeploy, KindRouter, KindState, KindCache, KindDOM}

// IsValid checks if the kind value is valid
func (k IssueKind) IsValid() bool {
	switch k {
	case KindUI, KindAPI, KindBuild, KindDeploy, KindRouter, KindState, KindCache, KindDOM:
		return true
	}
	return false
}

// Severity represents how badly an issue affects the system
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Deduction returns the health points removed for one issue of this severity.
func (s Severity) Deduction() int {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 8
	case SeverityLow:
		return 3
	}
	return 0
}

// Environment is the deployment context a cycle or repair request runs in
type Environment string

const (
	EnvProd Environment = "prod"
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
)

// IsValid checks if the environment value is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvProd, EnvDev, EnvTest:
		return true
	}
	return false
}

// ParseEnvironment converts user input into an Environment.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if !env.IsValid() {
		return "", fmt.Errorf("invalid context %q (want prod, dev or test)", s)
	}
	return env, nil
}
