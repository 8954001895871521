package authority

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Model replies are not guaranteed to be bare JSON; these patterns recover the common cases.
var (
	codeFenceRegex     = regexp.MustCompile("(?s)`{3}(?:json|javascript|js)?\\s*\\n?(.*?)\\n?`{3}")
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRegex   = regexp.MustCompile(`(?m)^\s*//.*$`)
	objectRegex        = regexp.MustCompile(`(?s)\{.*\}`)
)

// maxParseInput bounds the reply size handed to the parser.
const maxParseInput = 1 << 20

// parseModelJSON decodes a model reply into T, trying in order: the raw text,
// the contents of a code fence, the text with trailing commas and comment
// lines removed, and finally the outermost {...} span of the text.
func parseModelJSON[T any](text, context string, logger *slog.Logger) (T, error) {
	var zero T
	if len(text) > maxParseInput {
		return zero, fmt.Errorf("%s: reply exceeds %d bytes", context, maxParseInput)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, fmt.Errorf("%s: empty reply", context)
	}

	candidates := []string{trimmed}
	if m := codeFenceRegex.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	last := candidates[len(candidates)-1]
	cleaned := lineCommentRegex.ReplaceAllString(trailingCommaRegex.ReplaceAllString(last, "$1"), "")
	candidates = append(candidates, strings.TrimSpace(cleaned))
	if obj := objectRegex.FindString(cleaned); obj != "" {
		candidates = append(candidates, obj)
	}

	var firstErr error
	for i, candidate := range candidates {
		var out T
		err := json.Unmarshal([]byte(candidate), &out)
		if err == nil {
			if i > 0 {
				logger.Debug("recovered JSON from model reply", "context", context, "strategy", i)
			}
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return zero, fmt.Errorf("%s: no parse strategy succeeded (reply %q): %w", context, truncate(trimmed, 200), firstErr)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
