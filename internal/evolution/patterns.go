package evolution

import (
	"regexp"
	"strings"

	"github.com/steveyegge/selfheal/internal/types"
)

// Failure patterns extracted from issue messages.
const (
	PatternUIUndefinedReturn   = "ui-undefined-return"
	PatternUIEmptyFragment     = "ui-empty-fragment"
	PatternAPIHTTPError        = "api-http-error"
	PatternBuildMismatch       = "build-mismatch"
	PatternAPITimeout          = "api-timeout"
	PatternBuildChunkLoad      = "build-chunk-load"
	PatternStateNullAccess     = "state-null-access"
	PatternUIHydrationMismatch = "ui-hydration-mismatch"
	PatternGeneric             = "generic-error"
)

var httpStatus = regexp.MustCompile(`\b[45]\d{2}\b`)

// patternRules are evaluated in order; the first match wins.
var patternRules = []struct {
	pattern string
	match   func(msg string) bool
}{
	{PatternUIUndefinedReturn, func(m string) bool { return strings.Contains(m, "undefined") && strings.Contains(m, "component") }},
	{PatternUIEmptyFragment, func(m string) bool { return strings.Contains(m, "fragment") && strings.Contains(m, "empty") }},
	{PatternAPIHTTPError, func(m string) bool {
		return strings.Contains(m, "4xx") || strings.Contains(m, "5xx") || httpStatus.MatchString(m)
	}},
	{PatternBuildMismatch, func(m string) bool { return strings.Contains(m, "build") && strings.Contains(m, "mismatch") }},
	{PatternAPITimeout, func(m string) bool { return strings.Contains(m, "timeout") || strings.Contains(m, "timed out") }},
	{PatternBuildChunkLoad, func(m string) bool { return strings.Contains(m, "chunk") && strings.Contains(m, "load") }},
	{PatternStateNullAccess, func(m string) bool { return strings.Contains(m, "cannot read propert") }},
	{PatternUIHydrationMismatch, func(m string) bool { return strings.Contains(m, "hydrat") }},
}

// ExtractPattern classifies an issue message into a failure pattern.
func ExtractPattern(issue types.DiagnosticIssue) string {
	msg := strings.ToLower(issue.Message)
	for _, r := range patternRules {
		if r.match(msg) {
			return r.pattern
		}
	}
	return PatternGeneric
}

var preventionStrategies = map[string]string{
	PatternUIUndefinedReturn:   "Return null or a placeholder from components until their data resolves",
	PatternUIEmptyFragment:     "Render an explicit empty state instead of an empty fragment",
	PatternAPIHTTPError:        "Validate inputs and add retries with backoff around failing endpoints",
	PatternBuildMismatch:       "Verify the deployed build identifier as part of every deploy",
	PatternAPITimeout:          "Set explicit client timeouts and cache slow upstream responses",
	PatternBuildChunkLoad:      "Keep previous asset chunks available across deploys",
	PatternStateNullAccess:     "Guard optional state with null checks before property access",
	PatternUIHydrationMismatch: "Keep server and client render output deterministic",
	PatternGeneric:             "Add targeted diagnostics to narrow down the failure",
}

// PreventionStrategy returns the standing advice for a pattern.
func PreventionStrategy(pattern string) string {
	if s, ok := preventionStrategies[pattern]; ok {
		return s
	}
	return preventionStrategies[PatternGeneric]
}
