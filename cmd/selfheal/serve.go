package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/selfheal/internal/control"
	"github.com/steveyegge/selfheal/internal/orchestrator"
	"github.com/steveyegge/selfheal/internal/storage"
	"github.com/steveyegge/selfheal/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the self-heal loop and its control socket",
	Long: `Run the orchestrator in the foreground and accept commands over the
control socket. With --interval, a self-heal cycle runs on every tick;
cycles on a healthy system complete without contacting the authority.

Only one serve process may run per workspace.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		env, _ := cmd.Flags().GetString("context")
		cycleEnv := types.Environment(env)
		if !cycleEnv.IsValid() {
			return fmt.Errorf("--context must be prod, dev or test (got %q)", env)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		lockPath, err := storage.AcquireExclusiveLock(filepath.Dir(socketPath()), cfg.Version)
		if err != nil {
			return err
		}
		defer func() { _ = storage.ReleaseExclusiveLock(lockPath) }()

		app, err := openLocal(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		srv, err := control.NewServer(socketPath(), control.NewHandler(app), logger.With("component", "control"))
		if err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer srv.Stop()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s selfheal serving on %s\n", green("✓"), srv.SocketPath())
		if interval > 0 {
			fmt.Printf("  Running a %s cycle every %s\n", cycleEnv, interval)
		}

		runPeriodic(ctx, app, interval, cycleEnv)
		fmt.Println("\nShutting down...")
		return nil
	},
}

// runPeriodic runs one cycle per tick until ctx is done. A zero interval just
// waits for ctx.
func runPeriodic(ctx context.Context, app *orchestrator.App, interval time.Duration, env types.Environment) {
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c := app.RunSelfHealCycle(ctx, env)
			logger.Info("periodic cycle finished", "cycle_id", c.CycleID, "status", c.Status, "err", c.Error)
		}
	}
}

func init() {
	serveCmd.Flags().Duration("interval", 0, "Run a self-heal cycle at this interval (0 disables)")
	serveCmd.Flags().String("context", string(types.EnvProd), "Context for periodic cycles: prod, dev or test")
	rootCmd.AddCommand(serveCmd)
}
