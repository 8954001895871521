package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/repl"
	"github.com/steveyegge/selfheal/internal/types"
)

var perfCmd = &cobra.Command{
	Use:   "perf",
	Short: "Record performance samples on the serving loop",
}

var perfRecordCmd = &cobra.Command{
	Use:     "record",
	Short:   "Record one performance sample",
	Example: `  selfheal perf record --page-load-ms 4200 --api-response-ms 1300`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := perfFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := newClient().RecordPerformance(m); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Recorded performance sample\n", green("✓"))
		return nil
	},
}

var suggestionCmd = &cobra.Command{
	Use:   "suggestion",
	Short: "List or apply optimization suggestions on the serving loop",
}

var suggestionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent optimization suggestions, numbered for apply",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		st, err := newClient().Status()
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(st.OptimizationSuggestions)
		}
		if len(st.OptimizationSuggestions) == 0 {
			fmt.Println("No optimization suggestions")
			return nil
		}
		for i, s := range st.OptimizationSuggestions {
			fmt.Printf("%d. [P%d %s] %s\n", i+1, s.Priority, s.Category, s.Suggestion)
		}
		return nil
	},
}

var suggestionApplyCmd = &cobra.Command{
	Use:   "apply <number|text>",
	Short: "Mark an optimization suggestion as applied",
	Example: `  selfheal suggestion apply 2
  selfheal suggestion apply "Page load takes 4200ms; split large bundles and lazy-load routes"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		st, err := client.Status()
		if err != nil {
			return err
		}
		text, err := orchestrator.ResolveSuggestion(st, strings.Join(args, " "))
		if err != nil {
			return err
		}
		applied, err := client.ApplySuggestion(text)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Applied %s suggestion: %s\n", green("✓"), applied.Category, applied.Suggestion)
		return nil
	},
}

var adviseCmd = &cobra.Command{
	Use:   "advise",
	Short: "Ask the remediation authority for optimization advice",
	Long: `Run diagnostics, derive optimization suggestions from the recorded issues
and performance samples, and send them to the remediation authority for advice.
The authority is not called when there is nothing to advise on.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		loop, done, err := openLoop(ctx)
		if err != nil {
			return err
		}
		defer done()

		var advice *orchestrator.Advice
		withSpinner("asking for optimization advice...", func() { advice, err = loop.Advise(ctx) })
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(advice)
		}
		repl.PrintAdvice(os.Stdout, advice)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Fetch recent QA log lines from the remediation authority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 0 {
			return fmt.Errorf("--limit must be positive")
		}
		ctx := cmd.Context()

		loop, done, err := openLoop(ctx)
		if err != nil {
			return err
		}
		defer done()

		logs, err := loop.FetchLogs(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(logs)
	},
}

// perfFromFlags builds and validates a sample from the record flags
func perfFromFlags(cmd *cobra.Command) (types.PerformanceMetrics, error) {
	var m types.PerformanceMetrics
	m.PageLoadMs, _ = cmd.Flags().GetFloat64("page-load-ms")
	m.APIResponseMs, _ = cmd.Flags().GetFloat64("api-response-ms")
	m.BuildMs, _ = cmd.Flags().GetFloat64("build-ms")
	return m, m.Validate()
}

func init() {
	f := perfRecordCmd.Flags()
	f.Float64("page-load-ms", 0, "Page load time in milliseconds")
	f.Float64("api-response-ms", 0, "API response time in milliseconds")
	f.Float64("build-ms", 0, "Build duration in milliseconds")
	perfCmd.AddCommand(perfRecordCmd)

	suggestionListCmd.Flags().Bool("json", false, "Print JSON instead of text")
	suggestionCmd.AddCommand(suggestionListCmd, suggestionApplyCmd)

	adviseCmd.Flags().Bool("json", false, "Print JSON instead of text")
	logsCmd.Flags().Int("limit", orchestrator.DefaultLogLimit, "Number of log lines to fetch")

	rootCmd.AddCommand(perfCmd, suggestionCmd, adviseCmd, logsCmd)
}
