package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/selfheal/internal/mcpserver"
	"github.com/steveyegge/selfheal/internal/repl"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the interactive operator console",
	Long: `Start an interactive console for recording issues, running diagnostics
and cycles, and inspecting history. The console attaches to a running serve
process when one is reachable and otherwise runs the loop in-process.

Type 'help' in the console for available commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, done, err := openLoop(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		r, err := repl.New(&repl.Config{
			Loop:        loop,
			HistoryFile: filepath.Join(filepath.Dir(socketPath()), "console_history"),
		})
		if err != nil {
			return err
		}
		return r.Run(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the self-heal tools over MCP on stdio",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing diagnose,
run_cycle, get_status, get_cycle, cycle_history, record_issue and
clear_issues. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		loop, done, err := openLoop(ctx)
		if err != nil {
			return err
		}
		defer done()

		return mcpserver.Serve(ctx, mcpserver.New(loop, cfg.Version))
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd, mcpCmd)
}
