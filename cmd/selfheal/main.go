// Command selfheal runs and drives the autonomous self-heal loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/selfheal/internal/config"
	"github.com/steveyegge/selfheal/internal/control"
	"github.com/steveyegge/selfheal/internal/orchestrator"
)

var (
	configPath string
	logLevel   string
	logJSON    bool
	socketFlag string
	localMode  bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "selfheal",
	Short: "Autonomous self-heal loop",
	Long: `selfheal watches a running system, scores its health, asks a remediation
authority for repairs, validates and verifies them, and learns from every
outcome.

Run 'selfheal serve' to keep a loop running; the other commands talk to it
over the control socket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if logger, err = newLogger(os.Stderr, logLevel, logJSON); err != nil {
			return err
		}
		slog.SetDefault(logger)

		if cmd.Name() == "init" {
			return nil
		}
		if cfg, err = config.Load(resolveConfigPath()); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default .selfheal/config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Control socket path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&localMode, "local", false, "Run in-process instead of talking to 'selfheal serve'")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		if errors.Is(err, control.ErrNotServing) {
			fmt.Fprintf(os.Stderr, "Hint: start the loop with 'selfheal serve' or pass --local.\n")
		}
		os.Exit(1)
	}
}

const defaultConfigPath = ".selfheal/config.yaml"

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func newLogger(w io.Writer, level string, asJSON bool) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func socketPath() string {
	if socketFlag != "" {
		return socketFlag
	}
	return cfg.Control.SocketPath
}

func newClient() *control.Client {
	c := control.NewClient(socketPath())
	c.SetCycleTimeout(cfg.CycleDeadline.Std() + control.DefaultTimeout)
	return c
}

// serving reports whether a serve process answers on the control socket
func serving() bool {
	if localMode {
		return false
	}
	c := control.NewClient(socketPath())
	c.SetTimeout(time.Second)
	_, err := c.Status()
	return err == nil
}

// openLocal builds an in-process app from the loaded config
func openLocal(ctx context.Context) (*orchestrator.App, error) {
	return orchestrator.NewApp(ctx, cfg, orchestrator.AppOptions{Logger: logger})
}

// withSpinner runs fn while a spinner is shown on stderr
func withSpinner(msg string, fn func()) {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + msg
	s.Start()
	defer s.Stop()
	fn()
}
