package repl

import (
	"strings"
	"time"

	"github.com/steveyegge/selfheal/internal/types"
)

const spinnerInterval = 100 * time.Millisecond

// completer completes command names, cycle contexts, issue kinds and
// severities, and retained cycle IDs.
type completer struct {
	repl *REPL
}

// Do implements readline.AutoCompleter
func (c *completer) Do(line []rune, pos int) ([][]rune, int) {
	input := string(line[:pos])
	fields := strings.Fields(input)
	// An empty last word when the cursor follows a space
	if len(fields) == 0 || strings.HasSuffix(input, " ") {
		fields = append(fields, "")
	}
	word := fields[len(fields)-1]
	return suffixes(c.candidates(fields), word), len([]rune(word))
}

func (c *completer) candidates(fields []string) []string {
	if len(fields) == 1 {
		return c.repl.commandNames()
	}
	cmd, arg := strings.TrimPrefix(fields[0], "/"), len(fields)-1
	switch {
	case cmd == "cycle" && arg == 1:
		return []string{string(types.EnvProd), string(types.EnvDev), string(types.EnvTest)}
	case cmd == "show" && arg == 1:
		hist := c.repl.loop.GetCycleHistory()
		ids := make([]string, 0, len(hist))
		for i := len(hist) - 1; i >= 0; i-- {
			ids = append(ids, hist[i].CycleID)
		}
		return ids
	case cmd == "issue" && arg == 1:
		out := make([]string, 0, len(types.AllIssueKinds))
		for _, k := range types.AllIssueKinds {
			out = append(out, string(k))
		}
		return out
	case cmd == "issue" && arg == 2:
		return []string{string(types.SeverityCritical), string(types.SeverityHigh), string(types.SeverityMedium), string(types.SeverityLow)}
	}
	return nil
}

// suffixes returns the remainder of every candidate that extends prefix
func suffixes(candidates []string, prefix string) [][]rune {
	var out [][]rune
	for _, cand := range candidates {
		if strings.HasPrefix(cand, prefix) && cand != prefix {
			out = append(out, []rune(cand[len(prefix):]+" "))
		}
	}
	return out
}
