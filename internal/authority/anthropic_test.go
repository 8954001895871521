package authority

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/selfheal/internal/types"
)

func newFakeAnthropic(reply string, err error) (*AnthropicAuthority, *[]string) {
	var prompts []string
	retry := fastRetry()
	retry.MaxRetries = 0
	a := &AnthropicAuthority{
		retry:  newRetrier(retry, slog.Default()),
		model:  DefaultModel,
		logger: slog.Default(),
	}
	a.complete = func(ctx context.Context, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return reply, err
	}
	return a, &prompts
}

func TestAnthropicRepairGuidance(t *testing.T) {
	reply := "Here is the fix:\n```json\n" + `{
  "accepted": true,
  "message": "guard undefined render",
  "patch_type": "ui",
  "changed_files": ["src/components/Card.tsx"],
  "code_diff": "+ if (!data) return null;",
  "reasoning": "The component returns undefined when data is missing.",
  "expected_outcome": "Card renders nothing instead of crashing",
  "priority": 7,
  "risk_level": "low",
}` + "\n```"
	a, prompts := newFakeAnthropic(reply, nil)

	report := types.DiagnosticReport{}
	report.Issues.Add(types.DiagnosticIssue{Kind: types.KindUI, Severity: types.SeverityCritical, Message: "component returned undefined", Location: "/dashboard"})
	req := RepairGuidanceRequest{Request: types.RepairRequest{ID: "r1", Report: report, Severity: types.SeverityCritical, Context: types.EnvProd, RoutesAffected: []string{"/dashboard"}}}

	resp, err := a.Send(context.Background(), req)
	require.NoError(t, err)
	guidance, err := DecodeRepairGuidance(resp)
	require.NoError(t, err)

	assert.True(t, guidance.Accepted)
	require.NotNil(t, guidance.Patch)
	assert.Equal(t, types.PatchUI, guidance.Patch.PatchType)
	assert.Equal(t, types.RiskLow, guidance.Patch.RiskLevel)
	assert.Equal(t, 7, guidance.Patch.Priority)

	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "component returned undefined at /dashboard")
	assert.Contains(t, (*prompts)[0], "Affected routes: /dashboard")
}

func TestAnthropicRepairGuidanceDeclined(t *testing.T) {
	a, _ := newFakeAnthropic(`{"accepted": false, "message": "needs a human"}`, nil)

	resp, err := a.Send(context.Background(), &RepairGuidanceRequest{})
	require.NoError(t, err)
	guidance, err := DecodeRepairGuidance(resp)
	require.NoError(t, err)
	assert.False(t, guidance.Accepted)
	assert.Nil(t, guidance.Patch)
	assert.Equal(t, "needs a human", guidance.Message)
}

func TestAnthropicOptimizationAdvice(t *testing.T) {
	a, _ := newFakeAnthropic(`Sure. {"advice": ["lazy-load the chart bundle"]}`, nil)

	resp, err := a.Send(context.Background(), OptimizationAdviceRequest{})
	require.NoError(t, err)
	advice, err := DecodeOptimizationAdvice(resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"lazy-load the chart bundle"}, advice.Advice)
}

func TestAnthropicUnsupportedKinds(t *testing.T) {
	a, prompts := newFakeAnthropic("", nil)
	for _, req := range []Request{BuildDiffRequest{}, LPQALogsRequest{}, IndexJSStatusRequest{}, DeployStatusRequest{}} {
		_, err := a.Send(context.Background(), req)
		assert.ErrorIs(t, err, ErrUnsupportedRequest, string(req.Kind()))
	}
	assert.Empty(t, *prompts)
}

func TestAnthropicAPIError(t *testing.T) {
	a, _ := newFakeAnthropic("", errors.New("401 unauthorized"))
	_, err := a.Send(context.Background(), RepairGuidanceRequest{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "anthropic API call failed"))
}

func TestAnthropicUnparseableReply(t *testing.T) {
	a, _ := newFakeAnthropic("I cannot help with that.", nil)
	_, err := a.Send(context.Background(), RepairGuidanceRequest{})
	assert.Error(t, err)
}

func TestNewAnthropicAuthorityRequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicAuthority(AnthropicOptions{})
	assert.Error(t, err)
}

func TestParseModelJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare", `{"name":"a"}`, "a", false},
		{"fenced", "```json\n{\"name\":\"b\"}\n```", "b", false},
		{"fence without language", "```\n{\"name\":\"c\"}\n```", "c", false},
		{"trailing comma", `{"name":"d",}`, "d", false},
		{"comment line", "{\n// note\n\"name\":\"e\"\n}", "e", false},
		{"mixed prose", `The answer is {"name":"f"} as requested.`, "f", false},
		{"empty", "   ", "", true},
		{"prose only", "no json here", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseModelJSON[payload](tt.in, "test", slog.Default())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}
