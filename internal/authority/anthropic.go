package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/steveyegge/selfheal/internal/types"
)

// DefaultModel is used when AnthropicOptions.Model is empty.
const DefaultModel = "claude-sonnet-4-5-20250929"

// completeFunc sends one prompt and returns the concatenated text reply.
type completeFunc func(ctx context.Context, prompt string) (string, error)

// AnthropicAuthority answers repair_guidance and optimization_advice requests
// with the Anthropic Messages API. Other request kinds return ErrUnsupportedRequest.
type AnthropicAuthority struct {
	complete completeFunc
	retry    *retrier
	model    string
	logger   *slog.Logger
}

// AnthropicOptions configures an AnthropicAuthority
type AnthropicOptions struct {
	// APIKey defaults to $ANTHROPIC_API_KEY
	APIKey string
	Model  string
	Retry  RetryConfig
	Logger *slog.Logger
}

// NewAnthropicAuthority creates an authority backed by the Anthropic API
func NewAnthropicAuthority(opts AnthropicOptions) (*AnthropicAuthority, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	a := &AnthropicAuthority{
		retry:  newRetrier(opts.Retry, opts.Logger),
		model:  opts.Model,
		logger: opts.Logger,
	}
	a.complete = func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			return "", err
		}
		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), nil
	}
	return a, nil
}

// Send implements Authority.
func (a *AnthropicAuthority) Send(ctx context.Context, req Request) (*Response, error) {
	switch r := req.(type) {
	case RepairGuidanceRequest:
		return a.repairGuidance(ctx, r)
	case *RepairGuidanceRequest:
		return a.repairGuidance(ctx, *r)
	case OptimizationAdviceRequest:
		return a.optimizationAdvice(ctx, r)
	case *OptimizationAdviceRequest:
		return a.optimizationAdvice(ctx, *r)
	case nil:
		return nil, fmt.Errorf("authority request is nil")
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRequest, req.Kind())
	}
}

// modelPatch is the JSON shape the model is asked to produce.
type modelPatch struct {
	Accepted        bool     `json:"accepted"`
	Message         string   `json:"message"`
	PatchType       string   `json:"patch_type"`
	ChangedFiles    []string `json:"changed_files"`
	CodeDiff        string   `json:"code_diff"`
	Reasoning       string   `json:"reasoning"`
	ExpectedOutcome string   `json:"expected_outcome"`
	Priority        int      `json:"priority"`
	RiskLevel       string   `json:"risk_level"`
}

func (a *AnthropicAuthority) repairGuidance(ctx context.Context, req RepairGuidanceRequest) (*Response, error) {
	started := time.Now()
	text, err := a.call(ctx, KindRepairGuidance, buildRepairPrompt(req.Request))
	if err != nil {
		return nil, err
	}
	parsed, err := parseModelJSON[modelPatch](text, "repair guidance reply", a.logger)
	if err != nil {
		return nil, err
	}

	out := RepairGuidanceResponse{Accepted: parsed.Accepted, Message: parsed.Message}
	if parsed.Accepted && strings.TrimSpace(parsed.CodeDiff) != "" {
		out.Patch = &types.PatchProposal{
			PatchType:       types.PatchType(parsed.PatchType),
			ChangedFiles:    parsed.ChangedFiles,
			CodeDiff:        parsed.CodeDiff,
			Reasoning:       parsed.Reasoning,
			ExpectedOutcome: parsed.ExpectedOutcome,
			Priority:        parsed.Priority,
			RiskLevel:       types.RiskLevel(parsed.RiskLevel),
			Timestamp:       time.Now(),
		}
	}

	a.logger.Info("repair guidance received",
		"request_id", req.Request.ID, "accepted", out.Accepted, "patch", out.Patch != nil,
		"duration", time.Since(started))
	return encodeResponse(KindRepairGuidance, out)
}

func (a *AnthropicAuthority) optimizationAdvice(ctx context.Context, req OptimizationAdviceRequest) (*Response, error) {
	suggestions, err := json.MarshalIndent(req.Suggestions, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding suggestions: %w", err)
	}
	prompt := fmt.Sprintf(`You are reviewing optimization suggestions for a web application.

System health: overall=%d ui=%d api=%d build=%d deploy=%d

Suggestions:
%s

Reply with JSON only, in the form {"advice": ["..."]}, one concrete action per entry, most valuable first.`,
		req.Report.SystemHealth.Overall, req.Report.SystemHealth.UI, req.Report.SystemHealth.API,
		req.Report.SystemHealth.Build, req.Report.SystemHealth.Deploy, suggestions)

	text, err := a.call(ctx, KindOptimizationAdvice, prompt)
	if err != nil {
		return nil, err
	}
	parsed, err := parseModelJSON[OptimizationAdviceResponse](text, "optimization advice reply", a.logger)
	if err != nil {
		return nil, err
	}
	return encodeResponse(KindOptimizationAdvice, parsed)
}

func (a *AnthropicAuthority) call(ctx context.Context, kind Kind, prompt string) (string, error) {
	var text string
	err := a.retry.do(ctx, string(kind), func(attemptCtx context.Context) error {
		t, err := a.complete(attemptCtx, prompt)
		if err != nil {
			return err
		}
		text = t
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}
	return text, nil
}

func buildRepairPrompt(req types.RepairRequest) string {
	var issues strings.Builder
	for _, issue := range req.Report.Issues.All() {
		fmt.Fprintf(&issues, "- [%s/%s] %s", issue.Kind, issue.Severity, issue.Message)
		if issue.Location != "" {
			fmt.Fprintf(&issues, " at %s", issue.Location)
		}
		issues.WriteString("\n")
		if issue.StackTrace != "" {
			fmt.Fprintf(&issues, "  stack: %s\n", truncate(issue.StackTrace, 500))
		}
	}
	if issues.Len() == 0 {
		issues.WriteString("(none)\n")
	}

	return fmt.Sprintf(`You are the remediation authority for a self-healing web application.
A health report fell below the repair threshold. Propose one minimal patch.

Severity: %s
Environment: %s
Affected routes: %s
Overall health: %d (ui=%d api=%d build=%d deploy=%d)
Build mismatch: %v

Issues:
%s
Reply with JSON only:
{
  "accepted": true,
  "message": "one sentence summary",
  "patch_type": "ui|api|build|deploy",
  "changed_files": ["path"],
  "code_diff": "unified diff",
  "reasoning": "why this fixes the issues",
  "expected_outcome": "what should change after applying",
  "priority": 1-10,
  "risk_level": "low|medium|high"
}
Set "accepted" to false with an explanatory message if no safe patch exists.`,
		req.Severity, req.Context, strings.Join(req.RoutesAffected, ", "),
		req.Report.SystemHealth.Overall, req.Report.SystemHealth.UI, req.Report.SystemHealth.API,
		req.Report.SystemHealth.Build, req.Report.SystemHealth.Deploy,
		req.Report.BuildMismatch, issues.String())
}

func encodeResponse(kind Kind, body interface{}) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s response: %w", kind, err)
	}
	return &Response{Kind: kind, StatusCode: 200, Body: data}, nil
}
