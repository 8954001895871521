package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/selfheal/internal/repl"
	"github.com/steveyegge/selfheal/internal/types"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Generate a diagnostic report",
	Long: `Aggregate every recorded issue into a report with per-subsystem health
scores and suggestions. With --refresh-build, build identifiers are re-queried
from the remediation authority first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh-build")
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		loop, done, err := openLoop(ctx)
		if err != nil {
			return err
		}
		defer done()

		if refresh {
			if _, err := loop.RefreshBuildInfo(ctx); err != nil {
				return err
			}
		}
		var report *types.DiagnosticReport
		withSpinner("running diagnostics...", func() { report = loop.RunDiagnostics(ctx) })
		if jsonOut {
			return printJSON(report)
		}
		repl.PrintReport(os.Stdout, report)
		return nil
	},
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one self-heal cycle",
	Long: `Run one end-to-end cycle: diagnose, request a repair when health is
below the threshold, validate and safety-check the patch, verify the result,
and learn from the outcome. Exits non-zero when the cycle fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, _ := cmd.Flags().GetString("context")
		jsonOut, _ := cmd.Flags().GetBool("json")
		cycleEnv := types.Environment(env)
		if !cycleEnv.IsValid() {
			return fmt.Errorf("--context must be prod, dev or test (got %q)", env)
		}
		ctx := cmd.Context()

		loop, done, err := openLoop(ctx)
		if err != nil {
			return err
		}
		defer done()

		var c *types.SelfHealCycle
		withSpinner("running self-heal cycle...", func() { c = loop.RunSelfHealCycle(ctx, cycleEnv) })
		if jsonOut {
			if err := printJSON(c); err != nil {
				return err
			}
		} else {
			repl.PrintCycle(os.Stdout, c)
		}
		if c.Status == types.CycleFailed {
			return fmt.Errorf("cycle failed: %s", c.Error)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loop health and cycle statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		st, err := newClient().Status()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(st)
		}
		repl.PrintStatus(os.Stdout, st)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List retained cycles, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		hist, err := newClient().History()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(hist)
		}
		repl.PrintHistory(os.Stdout, hist)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <cycle-id>",
	Short: "Show every step of one cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		c, err := newClient().GetCycle(args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(c)
		}
		repl.PrintCycle(os.Stdout, c)
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().Bool("refresh-build", false, "Re-query build identifiers before diagnosing")
	cycleCmd.Flags().String("context", string(types.EnvProd), "Deployment context: prod, dev or test")
	for _, c := range []*cobra.Command{diagnoseCmd, cycleCmd, statusCmd, historyCmd, showCmd} {
		c.Flags().Bool("json", false, "Print JSON instead of text")
		rootCmd.AddCommand(c)
	}
}
