package validation

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/selfheal/internal/types"
)

func uiReport() *types.DiagnosticReport {
	r := &types.DiagnosticReport{}
	r.Issues.Add(types.DiagnosticIssue{Kind: types.KindUI, Severity: types.SeverityCritical, Message: "component returned undefined"})
	return r
}

func goodPatch() *types.PatchProposal {
	return &types.PatchProposal{
		PatchType:       types.PatchUI,
		ChangedFiles:    []string{"src/components/Card.tsx"},
		CodeDiff:        "--- a/src/components/Card.tsx\n+++ b/src/components/Card.tsx\n@@ -1,3 +1,4 @@\n+  if (!data) return null;\n   return <div>{data.title}</div>;",
		Reasoning:       "Card dereferences data before the request resolves, so guard the render path.",
		ExpectedOutcome: "Card renders nothing until data arrives",
		Priority:        6,
		RiskLevel:       types.RiskLow,
	}
}

func TestValidateCleanPatch(t *testing.T) {
	v := New(Options{})
	res := v.Validate(goodPatch(), uiReport())
	assert.True(t, res.Valid)
	assert.Equal(t, 100, res.SafetyScore)
	assert.Empty(t, res.Warnings)
	assert.NotEmpty(t, res.Reason)
}

func TestValidateNilPatch(t *testing.T) {
	res := New(Options{}).Validate(nil, uiReport())
	assert.False(t, res.Valid)
	assert.Equal(t, 0, res.SafetyScore)
	assert.NotEmpty(t, res.Reason)
}

func TestValidateDeductions(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(p *types.PatchProposal)
		wantScore int
		wantRecs  int
	}{
		{"type mismatch is soft", func(p *types.PatchProposal) { p.PatchType = types.PatchAPI }, 80, 0},
		{"high risk low priority", func(p *types.PatchProposal) { p.RiskLevel = types.RiskHigh; p.Priority = 3 }, 85, 0},
		{"high risk high priority", func(p *types.PatchProposal) { p.RiskLevel = types.RiskHigh; p.Priority = 9 }, 100, 0},
		{"too many files", func(p *types.PatchProposal) {
			for i := 0; i < 11; i++ {
				p.ChangedFiles = append(p.ChangedFiles, fmt.Sprintf("src/f%d.tsx", i))
			}
		}, 90, 1},
		{"core file", func(p *types.PatchProposal) { p.ChangedFiles = append(p.ChangedFiles, "web/package.json") }, 85, 1},
		{"short outcome", func(p *types.PatchProposal) { p.ExpectedOutcome = "works" }, 90, 0},
		{"short reasoning", func(p *types.PatchProposal) { p.Reasoning = "fix" }, 90, 0},
		{"priority out of range", func(p *types.PatchProposal) { p.Priority = 0 }, 90, 0},
		{"unknown risk level", func(p *types.PatchProposal) { p.RiskLevel = "extreme" }, 90, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := goodPatch()
			tt.mutate(p)
			res := New(Options{}).Validate(p, uiReport())
			assert.Equal(t, tt.wantScore, res.SafetyScore)
			if tt.wantScore == 100 {
				assert.Empty(t, res.Warnings)
			} else {
				assert.Len(t, res.Warnings, 1)
			}
			assert.Len(t, res.Recommendations, tt.wantRecs)
			assert.True(t, res.Valid, "single deduction should not invalidate")
		})
	}
}

func TestValidateLargeHighRiskPatchRejected(t *testing.T) {
	// Minimal proposal: only type, files, risk and priority are set
	p := &types.PatchProposal{PatchType: types.PatchUI, RiskLevel: types.RiskHigh, Priority: 1}
	for i := 0; i < 15; i++ {
		p.ChangedFiles = append(p.ChangedFiles, fmt.Sprintf("src/module%d.ts", i))
	}

	res := New(Options{}).Validate(p, uiReport())
	assert.False(t, res.Valid)
	assert.GreaterOrEqual(t, len(res.Warnings), 2)
	assert.True(t, strings.HasPrefix(res.Reason, "patch rejected"))
}

func TestValidateMalformedFieldsOneWarning(t *testing.T) {
	p := goodPatch()
	p.PatchType = "frontend"
	p.RiskLevel = ""
	p.Priority = 11

	res := New(Options{}).Validate(p, uiReport())
	// Malformed fields and the type mismatch
	assert.Equal(t, 70, res.SafetyScore)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], `patch_type "frontend"`)
	assert.Contains(t, res.Warnings[0], `risk_level ""`)
	assert.Contains(t, res.Warnings[0], "priority 11")
}

func TestValidateThreeWarningsInvalid(t *testing.T) {
	p := goodPatch()
	p.PatchType = types.PatchDeploy
	p.ExpectedOutcome = ""
	p.Reasoning = ""

	res := New(Options{}).Validate(p, uiReport())
	assert.Equal(t, 60, res.SafetyScore)
	assert.Len(t, res.Warnings, 3)
	assert.False(t, res.Valid, "three warnings invalidate even with a passing score")
}

func TestValidateDeterministic(t *testing.T) {
	v := New(Options{})
	p := goodPatch()
	p.RiskLevel = types.RiskHigh
	p.ChangedFiles = append(p.ChangedFiles, "go.mod", "src/App.tsx")
	r := uiReport()

	first := v.Validate(p, r)
	for i := 0; i < 20; i++ {
		again := v.Validate(p, r)
		require.Equal(t, first.SafetyScore, again.SafetyScore)
		require.Equal(t, first.Warnings, again.Warnings)
	}
}

func TestCustomCoreFiles(t *testing.T) {
	v := New(Options{CoreFiles: []string{"config/app.yaml"}})
	p := goodPatch()
	p.ChangedFiles = []string{"./config/app.yaml", "package.json"}
	res := v.Validate(p, uiReport())
	assert.Equal(t, 85, res.SafetyScore)
	assert.Contains(t, res.Warnings[0], "./config/app.yaml")
}

func TestSafetyPrecheckPasses(t *testing.T) {
	res := New(Options{}).PerformSafetyPrecheck(goodPatch())
	assert.True(t, res.Passed, "issues: %v", res.Issues)
	assert.True(t, res.Checks.SyntaxValid)
	assert.True(t, res.Checks.TypeCheckPassed)
	assert.True(t, res.Checks.TestsPassed)
	assert.True(t, res.Checks.NoBreakingChanges)
	assert.Equal(t, types.ImpactNone, res.Checks.PerformanceImpact)
}

func TestSafetyPrecheckFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *types.PatchProposal)
		check  func(t *testing.T, c types.SafetyChecks)
	}{
		{
			name:   "empty diff",
			mutate: func(p *types.PatchProposal) { p.CodeDiff = "  " },
			check:  func(t *testing.T, c types.SafetyChecks) { assert.False(t, c.SyntaxValid) },
		},
		{
			name:   "empty fragment added",
			mutate: func(p *types.PatchProposal) { p.CodeDiff = "+  return <></>;" },
			check:  func(t *testing.T, c types.SafetyChecks) { assert.False(t, c.SyntaxValid) },
		},
		{
			name:   "empty catch added",
			mutate: func(p *types.PatchProposal) { p.CodeDiff = "+ try { load() } catch (e) {}" },
			check:  func(t *testing.T, c types.SafetyChecks) { assert.False(t, c.SyntaxValid) },
		},
		{
			name:   "untyped files only",
			mutate: func(p *types.PatchProposal) { p.ChangedFiles = []string{"src/legacy.js"} },
			check:  func(t *testing.T, c types.SafetyChecks) { assert.False(t, c.TypeCheckPassed) },
		},
		{
			name:   "test files touched",
			mutate: func(p *types.PatchProposal) { p.ChangedFiles = append(p.ChangedFiles, "src/Card.test.tsx") },
			check:  func(t *testing.T, c types.SafetyChecks) { assert.False(t, c.TestsPassed) },
		},
		{
			name: "exported function removed",
			mutate: func(p *types.PatchProposal) {
				p.CodeDiff = "-export function formatDate(d: Date) {\n+function formatDateInternal(d: Date) {"
			},
			check: func(t *testing.T, c types.SafetyChecks) { assert.False(t, c.NoBreakingChanges) },
		},
		{
			name: "high performance impact",
			mutate: func(p *types.PatchProposal) {
				p.CodeDiff = strings.Repeat("+ items.map(x => x).filter(Boolean);\n", 6)
			},
			check: func(t *testing.T, c types.SafetyChecks) { assert.Equal(t, types.ImpactHigh, c.PerformanceImpact) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := goodPatch()
			tt.mutate(p)
			res := New(Options{}).PerformSafetyPrecheck(p)
			assert.False(t, res.Passed)
			assert.NotEmpty(t, res.Issues)
			tt.check(t, res.Checks)
		})
	}
}

func TestSafetyPrecheckModifiedExportIsNotBreaking(t *testing.T) {
	p := goodPatch()
	p.CodeDiff = "-export function formatDate(d: Date) {\n+export function formatDate(d: Date, tz?: string) {"
	res := New(Options{}).PerformSafetyPrecheck(p)
	assert.True(t, res.Checks.NoBreakingChanges)
}

func TestTestRunnerPolicy(t *testing.T) {
	p := goodPatch()
	p.ChangedFiles = append(p.ChangedFiles, "src/__tests__/Card.tsx")

	passing := New(Options{Policies: Policies{Tests: TestImpact(func(*types.PatchProposal, []string) (bool, error) { return true, nil })}})
	assert.True(t, passing.PerformSafetyPrecheck(p).Checks.TestsPassed)

	failing := New(Options{Policies: Policies{Tests: TestImpact(func(*types.PatchProposal, []string) (bool, error) {
		return false, errors.New("jest not installed")
	})}})
	res := failing.PerformSafetyPrecheck(p)
	assert.False(t, res.Checks.TestsPassed)
	assert.Contains(t, strings.Join(res.Issues, " "), "jest not installed")
}

func TestPoliciesAreSwappable(t *testing.T) {
	alwaysFail := func(*types.PatchProposal, Diff) Outcome { return Outcome{Issues: []string{"custom veto"}} }
	v := New(Options{Policies: Policies{Syntax: alwaysFail}})
	res := v.PerformSafetyPrecheck(goodPatch())
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"custom veto"}, res.Issues)
	assert.True(t, res.Checks.TypeCheckPassed, "other policies keep their defaults")
}

func TestPerformanceBucket(t *testing.T) {
	tests := []struct {
		count int
		want  types.PerformanceImpact
	}{
		{0, types.ImpactNone},
		{1, types.ImpactLow},
		{5, types.ImpactLow},
		{6, types.ImpactMedium},
		{10, types.ImpactMedium},
		{11, types.ImpactHigh},
	}
	for _, tt := range tests {
		diff := Diff{Added: []string{strings.Repeat("useState() ", tt.count)}}
		assert.Equal(t, tt.want, PerformanceBucket(nil, diff), "count=%d", tt.count)
	}
}

func TestIsTestFile(t *testing.T) {
	for _, f := range []string{"pkg/x_test.go", "src/a.test.ts", "src/a.spec.tsx", "src/__tests__/a.ts", "tests/e2e.ts", "app/test/helpers.ts"} {
		assert.True(t, IsTestFile(f), f)
	}
	for _, f := range []string{"src/App.tsx", "src/contest.ts", "latest/x.go"} {
		assert.False(t, IsTestFile(f), f)
	}
}
