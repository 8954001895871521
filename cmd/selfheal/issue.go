package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/selfheal/internal/types"
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Record or clear observed issues on the serving loop",
}

var issueRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one observed issue",
	Example: `  selfheal issue record --kind ui --severity critical --message "component returned undefined" --location /dashboard
  selfheal issue record --kind api --severity high --message "502 from /api/cart" --source network`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := issueFromFlags(cmd)
		if err != nil {
			return err
		}
		if err := newClient().RecordIssue(issue); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Recorded %s %s issue\n", green("✓"), issue.Severity, issue.Kind)
		return nil
	},
}

var issueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear every recorded issue (build and performance info are kept)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().ClearIssues(); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Cleared recorded issues\n", green("✓"))
		return nil
	},
}

// issueFromFlags builds and validates an issue from the record flags
func issueFromFlags(cmd *cobra.Command) (*types.DiagnosticIssue, error) {
	kind, _ := cmd.Flags().GetString("kind")
	severity, _ := cmd.Flags().GetString("severity")
	message, _ := cmd.Flags().GetString("message")
	location, _ := cmd.Flags().GetString("location")
	source, _ := cmd.Flags().GetString("source")
	contextJSON, _ := cmd.Flags().GetString("context-json")

	issue := &types.DiagnosticIssue{
		Kind:     types.IssueKind(strings.ToLower(kind)),
		Severity: types.Severity(strings.ToLower(severity)),
		Message:  message,
		Location: location,
	}
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &issue.Context); err != nil {
			return nil, fmt.Errorf("--context-json must be a JSON object of strings: %w", err)
		}
	}
	if source != "" {
		if issue.Context == nil {
			issue.Context = map[string]string{}
		}
		issue.Context[types.ContextSource] = source
	}
	if err := issue.Validate(); err != nil {
		return nil, err
	}
	return issue, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	f := issueRecordCmd.Flags()
	f.String("kind", "", "Subsystem: ui, api, build, deploy, router, state, cache or dom")
	f.String("severity", "", "Severity: critical, high, medium or low")
	f.String("message", "", "What was observed")
	f.String("location", "", "Route, file or endpoint")
	f.String("source", "", "Observation point such as console or error_boundary")
	f.String("context-json", "", "Extra context as a JSON object of strings")
	_ = issueRecordCmd.MarkFlagRequired("kind")
	_ = issueRecordCmd.MarkFlagRequired("severity")
	_ = issueRecordCmd.MarkFlagRequired("message")

	issueCmd.AddCommand(issueRecordCmd, issueClearCmd)
	rootCmd.AddCommand(issueCmd)
}
