package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/repl"
	"github.com/steveyegge/selfheal/internal/sharedstate"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect the shared state records",
	Long: `Read the diagnostics, repair plan and cycle state records that the loop
mirrors for other processes. These commands read the configured backend
directly and work whether or not serve is running.`,
}

var stateShowCmd = &cobra.Command{
	Use:       "show [diagnostics|repairPlan|selfHealState]",
	Short:     "Print shared state records as JSON",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: sharedstate.RecordNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		ch, closeFn, err := orchestrator.OpenSharedState(ctx, cfg.SharedState, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		names := sharedstate.RecordNames
		if len(args) == 1 {
			names = args
		}
		out := map[string]any{}
		for _, name := range names {
			v, err := readRecord(ctx, ch, name)
			if errors.Is(err, sharedstate.ErrRecordNotFound) {
				out[name] = nil
				continue
			}
			if err != nil {
				return err
			}
			out[name] = v
		}
		return printJSON(out)
	},
}

func readRecord(ctx context.Context, ch *sharedstate.Channel, name string) (any, error) {
	switch name {
	case sharedstate.RecordDiagnostics:
		return ch.ReadDiagnostics(ctx)
	case sharedstate.RecordRepairPlan:
		return ch.ReadRepairPlan(ctx)
	case sharedstate.RecordSelfHealState:
		return ch.ReadState(ctx)
	}
	return nil, fmt.Errorf("unknown record %q (want one of %v)", name, sharedstate.RecordNames)
}

var stateClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every shared state record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ch, closeFn, err := orchestrator.OpenSharedState(cmd.Context(), cfg.SharedState, logger)
		if err != nil {
			return err
		}
		defer closeFn()
		if err := ch.Clear(cmd.Context()); err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Cleared shared state\n", green("✓"))
		return nil
	},
}

var stateWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow cycle progress as the loop publishes it",
	Long:  `Print the cycle state record every time it changes. Requires the file backend.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ch, closeFn, err := orchestrator.OpenSharedState(ctx, cfg.SharedState, logger)
		if err != nil {
			return err
		}
		defer closeFn()

		if st, err := ch.ReadState(ctx); err == nil {
			repl.PrintState(os.Stdout, st)
		}
		return ch.Watch(ctx, func(name string) {
			if name != sharedstate.RecordSelfHealState {
				return
			}
			st, err := ch.ReadState(ctx)
			if err != nil {
				// A clear or a partial view; the next event catches up
				logger.Debug("state read failed", "err", err)
				return
			}
			repl.PrintState(os.Stdout, st)
		})
	},
}

func init() {
	stateCmd.AddCommand(stateShowCmd, stateClearCmd, stateWatchCmd)
	rootCmd.AddCommand(stateCmd)
}
