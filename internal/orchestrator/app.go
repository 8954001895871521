package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/steveyegge/selfheal/internal/authority"
	"github.com/steveyegge/selfheal/internal/config"
	"github.com/steveyegge/selfheal/internal/diagnostics"
	"github.com/steveyegge/selfheal/internal/dispatch"
	"github.com/steveyegge/selfheal/internal/evolution"
	"github.com/steveyegge/selfheal/internal/sharedstate"
	"github.com/steveyegge/selfheal/internal/storage/sqlite"
	"github.com/steveyegge/selfheal/internal/validation"
	"github.com/steveyegge/selfheal/internal/verification"
)

// AppOptions carries the hooks that cannot come from configuration.
type AppOptions struct {
	PatchSource  PatchSource
	PatchApplier PatchApplier
	// Authority overrides the configured backend, mainly for tests
	Authority authority.Authority
	Logger    *slog.Logger
}

// App is the process-wide object graph, constructed once at startup and
// closed at shutdown.
type App struct {
	*Orchestrator

	Config      *config.Config
	Aggregator  *diagnostics.Aggregator
	Dispatcher  *dispatch.Dispatcher
	Verifier    *verification.Engine
	Evolution   *evolution.Engine
	SharedState *sharedstate.Channel
	Authority   authority.Authority

	stores []*sqlite.Store
}

// NewApp builds every component from cfg and restores persisted failure memory.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	auth := opts.Authority
	if auth == nil {
		var err error
		if auth, err = NewAuthority(cfg.Authority, logger); err != nil {
			return nil, err
		}
	}
	app.Authority = auth

	state, err := app.openSharedState(ctx, cfg.SharedState, logger)
	if err != nil {
		return nil, err
	}
	app.SharedState = state

	var memory evolution.MemoryStore
	if cfg.Memory.DBPath != "" {
		store, err := app.openStore(ctx, cfg.Memory.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open failure memory: %w", err)
		}
		memory = store
	}

	r := cfg.Retention
	app.Aggregator = diagnostics.New(diagnostics.Options{Capacity: r.MaxIssues, Logger: logger.With("component", "diagnostics")})
	app.Dispatcher = dispatch.New(dispatch.Options{Authority: auth, HistorySize: r.MaxRepairRequests, Logger: logger.With("component", "dispatch")})
	app.Verifier = verification.New(verification.Options{
		Source: app.Aggregator,
		Probe: verification.ProbeOptions{
			BaseURL:           cfg.Probes.BaseURL,
			Timeout:           cfg.Probes.Timeout.Std(),
			RequestsPerSecond: cfg.Probes.RequestsPerSecond,
			MaxConcurrent:     cfg.Probes.MaxConcurrentProbe,
		},
		CriticalEndpoints: cfg.Probes.CriticalEndpoints,
		CriticalRoutes:    cfg.Probes.CriticalRoutes,
		SmokeTestEndpoint: cfg.Probes.SmokeTestEndpoint,
		HistorySize:       r.MaxVerifications,
		Logger:            logger.With("component", "verification"),
	})
	app.Evolution = evolution.New(evolution.Options{
		Store:          memory,
		MaxAlerts:      r.MaxAlerts,
		MaxSuggestions: r.MaxSuggestions,
		HealthSamples:  r.HealthSamples,
		Logger:         logger.With("component", "evolution"),
	})
	if err := app.Evolution.Load(ctx); err != nil {
		return nil, err
	}

	app.Orchestrator, err = New(Options{
		Aggregator:   app.Aggregator,
		Dispatcher:   app.Dispatcher,
		Validator:    validation.New(validation.Options{Logger: logger.With("component", "validation")}),
		Verifier:     app.Verifier,
		Evolution:    app.Evolution,
		SharedState:  state,
		Authority:    auth,
		PatchSource:  opts.PatchSource,
		PatchApplier: opts.PatchApplier,
		Threshold:    cfg.AutoReportThreshold,
		Deadline:     cfg.CycleDeadline.Std(),
		MaxCycles:    r.MaxCycles,
		Version:      cfg.Version,
		Logger:       logger.With("component", "orchestrator"),
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return app, nil
}

// NewAuthority builds the configured remediation authority client.
func NewAuthority(cfg config.AuthorityConfig, logger *slog.Logger) (authority.Authority, error) {
	retry := authority.RetryConfig{
		MaxRetries:            cfg.MaxRetries,
		InitialBackoff:        cfg.InitialBackoff.Std(),
		MaxBackoff:            cfg.MaxBackoff.Std(),
		BackoffMultiplier:     2.0,
		Timeout:               cfg.Timeout.Std(),
		CircuitBreakerEnabled: cfg.CircuitBreakerEnabled,
		FailureThreshold:      cfg.FailureThreshold,
		SuccessThreshold:      cfg.SuccessThreshold,
		OpenTimeout:           cfg.OpenTimeout.Std(),
		MaxConcurrentCalls:    cfg.MaxConcurrentCalls,
	}
	logger = logger.With("component", "authority", "backend", cfg.Backend)

	switch cfg.Backend {
	case "", "http":
		return authority.NewHTTPClient(authority.HTTPOptions{BaseURL: cfg.URL, Retry: retry, Logger: logger})
	case "anthropic":
		return authority.NewAnthropicAuthority(authority.AnthropicOptions{Model: cfg.Model, Retry: retry, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown authority backend %q", cfg.Backend)
	}
}

// OpenSharedState opens the configured shared-state channel without building
// the rest of the app. The returned close function releases any database.
func OpenSharedState(ctx context.Context, cfg config.SharedStateConfig, logger *slog.Logger) (*sharedstate.Channel, func() error, error) {
	app := &App{}
	ch, err := app.openSharedState(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return ch, app.Close, nil
}

func (a *App) openSharedState(ctx context.Context, cfg config.SharedStateConfig, logger *slog.Logger) (*sharedstate.Channel, error) {
	logger = logger.With("component", "sharedstate")
	switch cfg.Backend {
	case "", "file":
		fb, err := sharedstate.NewFileBackend(cfg.Dir, logger)
		if err != nil {
			return nil, err
		}
		return sharedstate.New(fb, logger), nil
	case "sqlite":
		store, err := a.openStore(ctx, cfg.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open shared state database: %w", err)
		}
		return sharedstate.New(store, logger), nil
	default:
		return nil, fmt.Errorf("unknown shared state backend %q", cfg.Backend)
	}
}

// openStore opens each database path once per app.
func (a *App) openStore(ctx context.Context, path string, logger *slog.Logger) (*sqlite.Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	for _, s := range a.stores {
		if s.Path() == abs {
			return s, nil
		}
	}
	store, err := sqlite.Open(ctx, abs, logger)
	if err != nil {
		return nil, err
	}
	a.stores = append(a.stores, store)
	return store, nil
}

// Close releases every database opened by the app
func (a *App) Close() error {
	var first error
	for _, s := range a.stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	a.stores = nil
	return first
}
