package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SELFHEAL_"

// Duration is a time.Duration that reads and writes as a string in YAML and
// accepts d/w suffixes in addition to the standard units.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// parseDuration extends time.ParseDuration to support days and weeks.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	var days int
	if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && strings.HasSuffix(s, "d") {
		return time.Duration(days) * 24 * time.Hour, nil
	}

	var weeks int
	if _, err := fmt.Sscanf(s, "%dw", &weeks); err == nil && strings.HasSuffix(s, "w") {
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

// ApplyEnv overrides configuration values from SELFHEAL_* environment variables.
// Unset variables leave the current value untouched.
func (c *Config) ApplyEnv() error {
	parsers := []func() error{
		func() error { return parseEnvInt(EnvPrefix+"AUTO_REPORT_THRESHOLD", &c.AutoReportThreshold) },
		func() error { return parseEnvDuration(EnvPrefix+"CYCLE_DEADLINE", &c.CycleDeadline) },
		func() error { return parseEnvString(EnvPrefix+"VERSION", &c.Version) },

		func() error { return parseEnvString(EnvPrefix+"AUTHORITY_BACKEND", &c.Authority.Backend) },
		func() error { return parseEnvString(EnvPrefix+"AUTHORITY_URL", &c.Authority.URL) },
		func() error { return parseEnvDuration(EnvPrefix+"AUTHORITY_TIMEOUT", &c.Authority.Timeout) },
		func() error { return parseEnvInt(EnvPrefix+"AUTHORITY_MAX_RETRIES", &c.Authority.MaxRetries) },
		func() error {
			return parseEnvBool(EnvPrefix+"AUTHORITY_CIRCUIT_BREAKER", &c.Authority.CircuitBreakerEnabled)
		},
		func() error { return parseEnvInt(EnvPrefix+"AUTHORITY_MAX_CONCURRENT", &c.Authority.MaxConcurrentCalls) },
		func() error { return parseEnvString(EnvPrefix+"AUTHORITY_MODEL", &c.Authority.Model) },

		func() error { return parseEnvString(EnvPrefix+"PROBE_BASE_URL", &c.Probes.BaseURL) },
		func() error { return parseEnvList(EnvPrefix+"PROBE_ENDPOINTS", &c.Probes.CriticalEndpoints) },
		func() error { return parseEnvList(EnvPrefix+"PROBE_ROUTES", &c.Probes.CriticalRoutes) },
		func() error { return parseEnvString(EnvPrefix+"PROBE_SMOKE_ENDPOINT", &c.Probes.SmokeTestEndpoint) },
		func() error { return parseEnvDuration(EnvPrefix+"PROBE_TIMEOUT", &c.Probes.Timeout) },

		func() error { return parseEnvInt(EnvPrefix+"RETENTION_MAX_ISSUES", &c.Retention.MaxIssues) },
		func() error { return parseEnvInt(EnvPrefix+"RETENTION_MAX_CYCLES", &c.Retention.MaxCycles) },

		func() error { return parseEnvString(EnvPrefix+"STATE_BACKEND", &c.SharedState.Backend) },
		func() error { return parseEnvString(EnvPrefix+"STATE_DIR", &c.SharedState.Dir) },
		func() error { return parseEnvString(EnvPrefix+"STATE_DB", &c.SharedState.DBPath) },
		func() error { return parseEnvString(EnvPrefix+"MEMORY_DB", &c.Memory.DBPath) },
		func() error { return parseEnvString(EnvPrefix+"SOCKET", &c.Control.SocketPath) },
	}

	for _, parse := range parsers {
		if err := parse(); err != nil {
			return err
		}
	}
	return nil
}

// parseEnvInt parses an integer from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvString(key string, dest *string) error {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
	return nil
}

func parseEnvDuration(key string, dest *Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = Duration(parsed)
	return nil
}

// parseEnvList reads a comma-separated list, dropping blank entries.
func parseEnvList(key string, dest *[]string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dest = out
	return nil
}
