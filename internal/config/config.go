// Package config loads selfheal configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of the self-healing loop.
type Config struct {
	// AutoReportThreshold is the overall health below which a repair is dispatched
	// Default: 70
	AutoReportThreshold int `yaml:"auto_report_threshold"`

	// CycleDeadline bounds a whole cycle; overrunning cycles are failed
	// Default: 2m
	CycleDeadline Duration `yaml:"cycle_deadline"`

	// Version is reported in SystemInfo on repair requests
	Version string `yaml:"version,omitempty"`

	Authority   AuthorityConfig   `yaml:"authority"`
	Probes      ProbeConfig       `yaml:"probes"`
	Retention   RetentionConfig   `yaml:"retention"`
	SharedState SharedStateConfig `yaml:"shared_state"`
	Memory      MemoryConfig      `yaml:"memory"`
	Control     ControlConfig     `yaml:"control"`
}

// AuthorityConfig configures the remediation authority client.
type AuthorityConfig struct {
	// Backend is "http" or "anthropic"
	Backend string `yaml:"backend"`

	// URL is the base URL of the HTTP authority
	URL string `yaml:"url"`

	// Timeout bounds each request attempt
	// Default: 10s
	Timeout Duration `yaml:"timeout"`

	MaxRetries     int      `yaml:"max_retries"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`

	// Circuit breaker settings
	CircuitBreakerEnabled bool     `yaml:"circuit_breaker_enabled"`
	FailureThreshold      int      `yaml:"failure_threshold"`
	SuccessThreshold      int      `yaml:"success_threshold"`
	OpenTimeout           Duration `yaml:"open_timeout"`

	// MaxConcurrentCalls caps in-flight authority calls (0 = unlimited)
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// Model is used by the anthropic backend
	Model string `yaml:"model,omitempty"`
}

// ProbeConfig configures the endpoints and routes probed during verification.
type ProbeConfig struct {
	// BaseURL is prefixed to every probe path; empty disables probing
	BaseURL            string   `yaml:"base_url"`
	CriticalEndpoints  []string `yaml:"critical_endpoints"`
	CriticalRoutes     []string `yaml:"critical_routes"`
	SmokeTestEndpoint  string   `yaml:"smoke_test_endpoint"`
	Timeout            Duration `yaml:"timeout"`
	RequestsPerSecond  float64  `yaml:"requests_per_second"`
	MaxConcurrentProbe int      `yaml:"max_concurrent"`
}

// SharedStateConfig configures the cross-process shared state channel.
type SharedStateConfig struct {
	// Backend is "file" or "sqlite"
	Backend string `yaml:"backend"`
	// Dir holds one JSON file per record for the file backend
	Dir string `yaml:"dir"`
	// DBPath is the database used by the sqlite backend
	DBPath string `yaml:"db_path"`
}

// MemoryConfig configures durable failure memory.
type MemoryConfig struct {
	// DBPath is the SQLite database for failure memory; empty keeps memory in-process
	DBPath string `yaml:"db_path"`
}

// ControlConfig configures the unix control socket.
type ControlConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// Default returns a configuration with conservative defaults.
func Default() *Config {
	return &Config{
		AutoReportThreshold: 70,
		CycleDeadline:       Duration(2 * time.Minute),
		Version:             "dev",
		Authority: AuthorityConfig{
			Backend:               "http",
			URL:                   "http://localhost:8787",
			Timeout:               Duration(10 * time.Second),
			MaxRetries:            2,
			InitialBackoff:        Duration(500 * time.Millisecond),
			MaxBackoff:            Duration(5 * time.Second),
			CircuitBreakerEnabled: true,
			FailureThreshold:      5,
			SuccessThreshold:      2,
			OpenTimeout:           Duration(30 * time.Second),
			MaxConcurrentCalls:    3,
			Model:                 "claude-sonnet-4-5-20250929",
		},
		Probes: ProbeConfig{
			CriticalEndpoints:  []string{"/api/health", "/api/status"},
			CriticalRoutes:     []string{"/"},
			SmokeTestEndpoint:  "/api/smoke",
			Timeout:            Duration(5 * time.Second),
			RequestsPerSecond:  10,
			MaxConcurrentProbe: 4,
		},
		Retention: DefaultRetentionConfig(),
		SharedState: SharedStateConfig{
			Backend: "file",
			Dir:     filepath.Join(".selfheal", "state"),
			DBPath:  filepath.Join(".selfheal", "state.db"),
		},
		Memory: MemoryConfig{
			DBPath: filepath.Join(".selfheal", "memory.db"),
		},
		Control: ControlConfig{
			SocketPath: filepath.Join(".selfheal", "selfheal.sock"),
		},
	}
}

// LoadFromFile loads configuration from a YAML file layered over the defaults.
// Returns the defaults if the file doesn't exist.
// Returns an error if the file exists but is invalid.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads the file at path (if any), applies SELFHEAL_ environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	if c.AutoReportThreshold < 0 || c.AutoReportThreshold > 100 {
		return fmt.Errorf("auto_report_threshold must be between 0 and 100 (got %d)", c.AutoReportThreshold)
	}
	if c.CycleDeadline <= 0 {
		return fmt.Errorf("cycle_deadline must be positive")
	}

	switch c.Authority.Backend {
	case "http":
		if c.Authority.URL == "" {
			return fmt.Errorf("authority.url is required for the http backend")
		}
	case "anthropic":
	default:
		return fmt.Errorf("authority.backend must be 'http' or 'anthropic' (got %q)", c.Authority.Backend)
	}
	if c.Authority.Timeout <= 0 {
		return fmt.Errorf("authority.timeout must be positive")
	}
	if c.Authority.MaxRetries < 0 {
		return fmt.Errorf("authority.max_retries cannot be negative (got %d)", c.Authority.MaxRetries)
	}
	if c.Authority.MaxConcurrentCalls < 0 {
		return fmt.Errorf("authority.max_concurrent_calls cannot be negative (got %d)", c.Authority.MaxConcurrentCalls)
	}
	if c.Authority.CircuitBreakerEnabled && (c.Authority.FailureThreshold < 1 || c.Authority.SuccessThreshold < 1) {
		return fmt.Errorf("circuit breaker thresholds must be at least 1")
	}

	if c.Probes.Timeout <= 0 {
		return fmt.Errorf("probes.timeout must be positive")
	}
	if c.Probes.RequestsPerSecond < 0 {
		return fmt.Errorf("probes.requests_per_second cannot be negative")
	}

	switch c.SharedState.Backend {
	case "file":
		if c.SharedState.Dir == "" {
			return fmt.Errorf("shared_state.dir is required for the file backend")
		}
	case "sqlite":
		if c.SharedState.DBPath == "" {
			return fmt.Errorf("shared_state.db_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("shared_state.backend must be 'file' or 'sqlite' (got %q)", c.SharedState.Backend)
	}

	return c.Retention.Validate()
}

// SaveDefault writes the default configuration to a file.
func SaveDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
