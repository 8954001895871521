// Package repl is the interactive operator console for the self-heal loop.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/steveyegge/selfheal/internal/control"
)

// REPL represents the interactive shell
type REPL struct {
	loop        control.Loop
	rl          *readline.Instance
	ctx         context.Context
	out         io.Writer
	historyFile string
	commands    map[string]CommandHandler
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// Config holds REPL configuration
type Config struct {
	Loop control.Loop
	// Out defaults to stdout
	Out io.Writer
	// HistoryFile persists input history; empty keeps it in memory
	HistoryFile string
}

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Loop == nil {
		return nil, fmt.Errorf("self-heal loop is required")
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		loop:        cfg.Loop,
		ctx:         context.Background(),
		out:         out,
		historyFile: cfg.HistoryFile,
		commands:    make(map[string]CommandHandler),
	}
	r.registerCommands()
	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("selfheal> "),
		HistoryFile:       r.historyFile,
		AutoComplete:      &completer{repl: r},
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl
	r.out = rl.Stdout()

	r.printWelcome()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			} else if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := r.processInput(line); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
	}
}

// processInput processes a single line of input
func (r *REPL) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	command := strings.TrimPrefix(parts[0], "/")
	if handler, ok := r.commands[command]; ok {
		return handler(parts[1:])
	}
	fmt.Fprintf(r.out, "%s Unknown command %q. Use 'help' for available commands.\n", yellow("Note:"), parts[0])
	return nil
}

func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
	r.commands["status"] = r.cmdStatus
	r.commands["diagnose"] = r.cmdDiagnose
	r.commands["cycle"] = r.cmdCycle
	r.commands["history"] = r.cmdHistory
	r.commands["show"] = r.cmdShow
	r.commands["issue"] = r.cmdIssue
	r.commands["clear"] = r.cmdClear
	r.commands["build"] = r.cmdBuild
	r.commands["perf"] = r.cmdPerf
	r.commands["apply"] = r.cmdApply
	r.commands["advise"] = r.cmdAdvise
	r.commands["logs"] = r.cmdLogs
}

// commandNames returns registered commands, sorted
func (r *REPL) commandNames() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		if name != "?" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("selfheal console"))
	fmt.Fprintln(r.out, "Diagnose, repair and verify the running system")
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'exit' to quit")
	fmt.Fprintln(r.out)
}

func (r *REPL) cmdHelp(args []string) error {
	fmt.Fprintf(r.out, "\n%s\n\n", heading("Available Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{"status", "Show health, cycle counts, alerts and suggestions"},
		{"diagnose", "Generate a fresh diagnostic report"},
		{"cycle [prod|dev|test]", "Run one self-heal cycle (default prod)"},
		{"history", "List retained cycles, oldest first"},
		{"show <cycle-id>", "Show every step of one cycle"},
		{"issue <kind> <severity> <message>", "Record an observed issue"},
		{"clear", "Clear recorded issues"},
		{"build", "Refresh build identifiers and deploy status from the remediation authority"},
		{"perf <page_ms> <api_ms> <build_ms>", "Record a performance sample"},
		{"apply <n|text>", "Mark an optimization suggestion as applied"},
		{"advise", "Ask the remediation authority for optimization advice"},
		{"logs [limit]", "Show recent QA log lines from the remediation authority"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the console"},
	}
	for _, cmd := range commands {
		fmt.Fprintf(r.out, "  %s  %s\n", green(cmd.name), cmd.desc)
	}
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdExit(args []string) error {
	fmt.Fprintf(r.out, "\n%s Goodbye!\n", green("✓"))
	if r.rl != nil {
		r.rl.Close()
	}
	return io.EOF
}
