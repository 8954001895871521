// Package validation scores proposed patches and runs pre-application safety checks.
package validation

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/steveyegge/selfheal/internal/types"
)

// Deductions applied by Validate.
const (
	deductTypeMismatch  = 20
	deductRiskPriority  = 15
	deductTooManyFiles  = 10
	deductCoreFile      = 15
	deductShortOutcome  = 10
	deductShortReason   = 10
	deductMalformed     = 10
	minPriority         = 1
	maxPriority         = 10
	maxChangedFiles     = 10
	minOutcomeLength    = 20
	minReasoningLength  = 50
	minValidScore       = 50
	maxValidWarnings    = 3
	highRiskMinPriority = 8
)

// DefaultCoreFiles are files whose modification warrants full integration testing.
var DefaultCoreFiles = []string{
	"package.json",
	"package-lock.json",
	"tsconfig.json",
	"vite.config.ts",
	"src/main.tsx",
	"src/App.tsx",
	"server/index.ts",
	"server/routes.ts",
	"go.mod",
	"go.sum",
	"Dockerfile",
}

// Options configures a Validator
type Options struct {
	// CoreFiles replaces DefaultCoreFiles when non-nil
	CoreFiles []string
	// Policies replaces individual safety policies; nil fields keep the defaults
	Policies Policies
	Logger   *slog.Logger
}

// Validator scores patches against the report they are meant to fix.
// It holds no mutable state; the same inputs always give the same verdict.
type Validator struct {
	coreFiles []string
	policies  Policies
	logger    *slog.Logger
}

// New creates a validator
func New(opts Options) *Validator {
	if opts.CoreFiles == nil {
		opts.CoreFiles = DefaultCoreFiles
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Validator{
		coreFiles: opts.CoreFiles,
		policies:  opts.Policies.withDefaults(),
		logger:    opts.Logger,
	}
}

// Validate scores a patch. Each deduction adds exactly one warning; the patch
// is valid when the score is at least 50 with fewer than three warnings.
// A patch type with no matching issue kind is a soft warning, never a hard rejection.
func (v *Validator) Validate(patch *types.PatchProposal, report *types.DiagnosticReport) *types.PatchValidationResult {
	if patch == nil {
		return &types.PatchValidationResult{
			Valid:  false,
			Reason: "no patch supplied",
		}
	}

	result := &types.PatchValidationResult{
		Warnings:        []string{},
		Recommendations: []string{},
	}
	score := 100
	deduct := func(points int, warning string) {
		score -= points
		result.Warnings = append(result.Warnings, warning)
	}

	if bad := malformedFields(patch); len(bad) > 0 {
		deduct(deductMalformed, fmt.Sprintf("patch has out-of-range fields: %s", strings.Join(bad, ", ")))
	}

	if report == nil || !report.HasKind(patch.PatchType.IssueKind()) {
		deduct(deductTypeMismatch, fmt.Sprintf("patch type %q does not match any issue kind in the report", patch.PatchType))
	}

	if patch.RiskLevel == types.RiskHigh && patch.Priority < highRiskMinPriority {
		deduct(deductRiskPriority, fmt.Sprintf("high-risk patch has priority %d (below %d)", patch.Priority, highRiskMinPriority))
	}

	if n := len(patch.ChangedFiles); n > maxChangedFiles {
		deduct(deductTooManyFiles, fmt.Sprintf("patch changes %d files (more than %d)", n, maxChangedFiles))
		result.Recommendations = append(result.Recommendations, "Split the patch into smaller, independently verifiable changes")
	}

	if core := v.coreFilesTouched(patch.ChangedFiles); len(core) > 0 {
		deduct(deductCoreFile, fmt.Sprintf("patch modifies core files: %s", strings.Join(core, ", ")))
		result.Recommendations = append(result.Recommendations, "Run the full integration test suite before applying")
	}

	if len(strings.TrimSpace(patch.ExpectedOutcome)) < minOutcomeLength {
		deduct(deductShortOutcome, "expected outcome is missing or too short")
	}

	if len(strings.TrimSpace(patch.Reasoning)) < minReasoningLength {
		deduct(deductShortReason, "reasoning is missing or too short")
	}

	if score < 0 {
		score = 0
	}
	result.SafetyScore = score
	result.Valid = score >= minValidScore && len(result.Warnings) < maxValidWarnings

	switch {
	case result.Valid && len(result.Warnings) == 0:
		result.Reason = "patch passed all validation checks"
	case result.Valid:
		result.Reason = fmt.Sprintf("patch acceptable with %d warning(s) (safety score %d)", len(result.Warnings), score)
	default:
		result.Reason = fmt.Sprintf("patch rejected: safety score %d with %d warning(s): %s",
			score, len(result.Warnings), strings.Join(result.Warnings, "; "))
	}

	v.logger.Debug("validated patch", "patch_type", patch.PatchType, "score", score, "valid", result.Valid)
	return result
}

// coreFilesTouched returns the changed files that are core files, in input order.
// A core entry matches the file exactly or as a trailing path.
// malformedFields lists enum and range fields an authority reply got wrong.
func malformedFields(p *types.PatchProposal) []string {
	var bad []string
	if !p.PatchType.IsValid() {
		bad = append(bad, fmt.Sprintf("patch_type %q", p.PatchType))
	}
	if !p.RiskLevel.IsValid() {
		bad = append(bad, fmt.Sprintf("risk_level %q", p.RiskLevel))
	}
	if p.Priority < minPriority || p.Priority > maxPriority {
		bad = append(bad, fmt.Sprintf("priority %d (want %d-%d)", p.Priority, minPriority, maxPriority))
	}
	return bad
}

func (v *Validator) coreFilesTouched(files []string) []string {
	var touched []string
	for _, f := range files {
		norm := strings.TrimPrefix(path.Clean(strings.ReplaceAll(f, "\\", "/")), "./")
		for _, core := range v.coreFiles {
			if norm == core || strings.HasSuffix(norm, "/"+core) {
				touched = append(touched, f)
				break
			}
		}
	}
	return touched
}

// PerformSafetyPrecheck runs every safety policy against the patch.
// It passes only when every check passes and the performance impact is not high.
func (v *Validator) PerformSafetyPrecheck(patch *types.PatchProposal) *types.SafetyPrecheck {
	result := &types.SafetyPrecheck{
		Issues:          []string{},
		Recommendations: []string{},
	}
	if patch == nil {
		result.Checks.PerformanceImpact = types.ImpactNone
		result.Issues = append(result.Issues, "no patch supplied")
		return result
	}

	diff := parseDiff(patch.CodeDiff)
	run := func(p Policy) bool {
		out := p(patch, diff)
		result.Issues = append(result.Issues, out.Issues...)
		result.Recommendations = append(result.Recommendations, out.Recommendations...)
		return out.Passed
	}

	result.Checks.SyntaxValid = run(v.policies.Syntax)
	result.Checks.TypeCheckPassed = run(v.policies.TypeCheck)
	result.Checks.TestsPassed = run(v.policies.Tests)
	result.Checks.NoBreakingChanges = run(v.policies.BreakingChanges)
	result.Checks.PerformanceImpact = v.policies.Performance(patch, diff)

	if result.Checks.PerformanceImpact == types.ImpactHigh {
		result.Issues = append(result.Issues, "estimated performance impact is high")
		result.Recommendations = append(result.Recommendations, "Profile the change before applying it")
	}

	c := result.Checks
	result.Passed = c.SyntaxValid && c.TypeCheckPassed && c.TestsPassed && c.NoBreakingChanges &&
		c.PerformanceImpact != types.ImpactHigh

	v.logger.Debug("safety precheck", "patch_type", patch.PatchType, "passed", result.Passed,
		"impact", c.PerformanceImpact)
	return result
}
