package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/steveyegge/selfheal/internal/types"
)

// Diff holds the added and removed lines of a patch, without their +/- markers.
// A diff with no markers at all is treated as entirely added code.
type Diff struct {
	Added   []string
	Removed []string
}

func parseDiff(s string) Diff {
	var d Diff
	var plain []string
	marked := false
	for _, line := range strings.Split(s, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			marked = true
		case strings.HasPrefix(line, "+"):
			marked = true
			d.Added = append(d.Added, line[1:])
		case strings.HasPrefix(line, "-"):
			marked = true
			d.Removed = append(d.Removed, line[1:])
		default:
			plain = append(plain, line)
		}
	}
	if !marked {
		d.Added = plain
	}
	return d
}

// Outcome is the verdict of one safety policy.
type Outcome struct {
	Passed          bool
	Issues          []string
	Recommendations []string
}

// Policy is one replaceable safety check.
type Policy func(patch *types.PatchProposal, diff Diff) Outcome

// ImpactPolicy estimates the runtime cost of a patch.
type ImpactPolicy func(patch *types.PatchProposal, diff Diff) types.PerformanceImpact

// Policies is the set of safety checks run by PerformSafetyPrecheck.
type Policies struct {
	Syntax          Policy
	TypeCheck       Policy
	Tests           Policy
	BreakingChanges Policy
	Performance     ImpactPolicy
}

// DefaultPolicies returns the built-in heuristics.
func DefaultPolicies() Policies {
	return Policies{
		Syntax:          SyntaxSanity,
		TypeCheck:       TypeRelevance,
		Tests:           TestImpact(nil),
		BreakingChanges: BreakingChangeHeuristic,
		Performance:     PerformanceBucket,
	}
}

func (p Policies) withDefaults() Policies {
	d := DefaultPolicies()
	if p.Syntax == nil {
		p.Syntax = d.Syntax
	}
	if p.TypeCheck == nil {
		p.TypeCheck = d.TypeCheck
	}
	if p.Tests == nil {
		p.Tests = d.Tests
	}
	if p.BreakingChanges == nil {
		p.BreakingChanges = d.BreakingChanges
	}
	if p.Performance == nil {
		p.Performance = d.Performance
	}
	return p
}

var emptyConstructs = []struct {
	re   *regexp.Regexp
	desc string
}{
	{regexp.MustCompile(`<>\s*</>`), "empty fragment"},
	{regexp.MustCompile(`catch\s*(\([^)]*\))?\s*\{\s*\}`), "empty catch block"},
	{regexp.MustCompile(`\bfunction\b[^{]*\)\s*\{\s*\}`), "empty function body"},
	{regexp.MustCompile(`\bif\s*\([^)]*\)\s*\{\s*\}`), "empty if block"},
	{regexp.MustCompile(`^\s*(<{7}|={7}|>{7})`), "merge conflict marker"},
}

// SyntaxSanity requires a non-empty diff whose added lines hold no obviously empty constructs.
func SyntaxSanity(patch *types.PatchProposal, diff Diff) Outcome {
	if strings.TrimSpace(patch.CodeDiff) == "" {
		return Outcome{Issues: []string{"patch has an empty code diff"}}
	}
	out := Outcome{Passed: true}
	for _, line := range diff.Added {
		for _, c := range emptyConstructs {
			if c.re.MatchString(line) {
				out.Passed = false
				out.Issues = append(out.Issues, fmt.Sprintf("%s in added line: %s", c.desc, strings.TrimSpace(line)))
			}
		}
	}
	if !out.Passed {
		out.Recommendations = append(out.Recommendations, "Replace placeholder constructs with real implementations")
	}
	return out
}

var typedExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".mts": true, ".cts": true,
	".go": true, ".java": true, ".kt": true, ".rs": true,
	".cs": true, ".swift": true, ".scala": true,
}

// TypeRelevance passes when at least one changed file is in a statically typed language.
func TypeRelevance(patch *types.PatchProposal, _ Diff) Outcome {
	for _, f := range patch.ChangedFiles {
		if typedExtensions[strings.ToLower(path.Ext(f))] {
			return Outcome{Passed: true}
		}
	}
	return Outcome{
		Issues:          []string{"no statically typed files changed; type checking cannot vouch for this patch"},
		Recommendations: []string{"Review untyped changes manually"},
	}
}

// IsTestFile reports whether a path looks like a test file.
func IsTestFile(f string) bool {
	f = strings.ToLower(strings.ReplaceAll(f, "\\", "/"))
	base := path.Base(f)
	return strings.HasSuffix(base, "_test.go") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.Contains(f, "__tests__/") ||
		strings.HasPrefix(f, "test/") || strings.Contains(f, "/test/") ||
		strings.HasPrefix(f, "tests/") || strings.Contains(f, "/tests/")
}

// TestRunner runs the tests affected by a patch and reports whether they passed.
type TestRunner func(patch *types.PatchProposal, testFiles []string) (bool, error)

// TestImpact passes when no test files are touched. When test files are
// touched it fails unless a runner is supplied and reports success.
func TestImpact(runner TestRunner) Policy {
	return func(patch *types.PatchProposal, _ Diff) Outcome {
		var tests []string
		for _, f := range patch.ChangedFiles {
			if IsTestFile(f) {
				tests = append(tests, f)
			}
		}
		if len(tests) == 0 {
			return Outcome{Passed: true}
		}
		if runner == nil {
			return Outcome{
				Issues:          []string{fmt.Sprintf("patch touches test files (%s) and no test runner is configured", strings.Join(tests, ", "))},
				Recommendations: []string{"Run the affected tests before applying"},
			}
		}
		ok, err := runner(patch, tests)
		if err != nil {
			return Outcome{Issues: []string{fmt.Sprintf("test runner failed: %v", err)}}
		}
		if !ok {
			return Outcome{Issues: []string{"affected tests failed"}}
		}
		return Outcome{Passed: true}
	}
}

var exportedDecl = []*regexp.Regexp{
	regexp.MustCompile(`^\s*export\s+(?:default\s+)?(?:declare\s+)?(?:abstract\s+)?(?:async\s+)?(?:interface|type|function\*?|class|const|enum)\s+([A-Za-z_$][\w$]*)`),
	regexp.MustCompile(`^\s*func\s+(?:\([^)]*\)\s*)?([A-Z]\w*)`),
	regexp.MustCompile(`^\s*type\s+([A-Z]\w*)`),
}

func exportedName(line string) string {
	for _, re := range exportedDecl {
		if m := re.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return ""
}

// BreakingChangeHeuristic fails when an exported declaration is removed and not re-added.
func BreakingChangeHeuristic(_ *types.PatchProposal, diff Diff) Outcome {
	added := make(map[string]bool)
	for _, line := range diff.Added {
		if name := exportedName(line); name != "" {
			added[name] = true
		}
	}

	seen := make(map[string]bool)
	var gone []string
	for _, line := range diff.Removed {
		name := exportedName(line)
		if name == "" || added[name] || seen[name] {
			continue
		}
		seen[name] = true
		gone = append(gone, name)
	}
	if len(gone) == 0 {
		return Outcome{Passed: true}
	}
	return Outcome{
		Issues:          []string{fmt.Sprintf("exported declarations removed: %s", strings.Join(gone, ", "))},
		Recommendations: []string{"Keep removed exports as deprecated aliases or update every caller in the same patch"},
	}
}

var costlyConstruct = regexp.MustCompile(`\b(useState|useEffect|useReducer|useMemo|useCallback|setState|setInterval|for|while|forEach|map|filter|reduce)\b`)

// PerformanceBucket counts state and iteration constructs on added lines:
// more than 10 is high, more than 5 medium, any is low.
func PerformanceBucket(_ *types.PatchProposal, diff Diff) types.PerformanceImpact {
	n := 0
	for _, line := range diff.Added {
		n += len(costlyConstruct.FindAllString(line, -1))
	}
	switch {
	case n > 10:
		return types.ImpactHigh
	case n > 5:
		return types.ImpactMedium
	case n > 0:
		return types.ImpactLow
	default:
		return types.ImpactNone
	}
}
