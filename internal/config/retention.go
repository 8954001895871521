package config

import "fmt"

// RetentionConfig bounds every in-memory log kept by the loop. When a bound is
// reached the oldest entries are evicted first.
type RetentionConfig struct {
	// MaxIssues is the capacity of the issue store ring buffer
	// Default: 1000, Range: 10-100000
	MaxIssues int `yaml:"max_issues"`

	// MaxRepairRequests is the dispatch history size
	// Default: 100
	MaxRepairRequests int `yaml:"max_repair_requests"`

	// MaxVerifications is the verification history size
	// Default: 100
	MaxVerifications int `yaml:"max_verifications"`

	// MaxAlerts is the predictive alert log size
	// Default: 500
	MaxAlerts int `yaml:"max_alerts"`

	// MaxSuggestions is the optimization suggestion log size
	// Default: 500
	MaxSuggestions int `yaml:"max_suggestions"`

	// MaxCycles is the number of cycle records retained; running cycles are never evicted
	// Default: 200
	MaxCycles int `yaml:"max_cycles"`

	// HealthSamples is how many overall health scores feed trend detection
	// Default: 20
	HealthSamples int `yaml:"health_samples"`
}

// DefaultRetentionConfig returns the default retention bounds
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		MaxIssues:         1000,
		MaxRepairRequests: 100,
		MaxVerifications:  100,
		MaxAlerts:         500,
		MaxSuggestions:    500,
		MaxCycles:         200,
		HealthSamples:     20,
	}
}

// Validate checks if the retention bounds are usable
func (c RetentionConfig) Validate() error {
	if c.MaxIssues < 10 || c.MaxIssues > 100000 {
		return fmt.Errorf("max_issues must be between 10 and 100000 (got %d)", c.MaxIssues)
	}
	for name, v := range map[string]int{
		"max_repair_requests": c.MaxRepairRequests,
		"max_verifications":   c.MaxVerifications,
		"max_alerts":          c.MaxAlerts,
		"max_suggestions":     c.MaxSuggestions,
		"max_cycles":          c.MaxCycles,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be at least 1 (got %d)", name, v)
		}
	}
	if c.HealthSamples < 3 {
		return fmt.Errorf("health_samples must be at least 3 (got %d)", c.HealthSamples)
	}
	return nil
}

// String returns a human-readable representation of the bounds
func (c RetentionConfig) String() string {
	return fmt.Sprintf(
		"RetentionConfig{Issues: %d, RepairRequests: %d, Verifications: %d, "+
			"Alerts: %d, Suggestions: %d, Cycles: %d, HealthSamples: %d}",
		c.MaxIssues, c.MaxRepairRequests, c.MaxVerifications,
		c.MaxAlerts, c.MaxSuggestions, c.MaxCycles, c.HealthSamples,
	)
}
