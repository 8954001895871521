package types

import "time"

// MemoryKey identifies a failure memory entry.
type MemoryKey struct {
	Kind    IssueKind `json:"kind"`
	Pattern string    `json:"pattern"`
}

// String renders the key as kind/pattern.
func (k MemoryKey) String() string {
	return string(k.Kind) + "/" + k.Pattern
}

// FailureMemoryEntry is the learned record for one recurring failure pattern.
// OccurrenceCount only ever increases.
type FailureMemoryEntry struct {
	Key                MemoryKey `json:"key"`
	Solution           string    `json:"solution"`
	OccurrenceCount    int       `json:"occurrence_count"`
	FirstOccurrence    time.Time `json:"first_occurrence"`
	LastOccurrence     time.Time `json:"last_occurrence"`
	PreventionStrategy string    `json:"prevention_strategy"`
}

// AlertType is the urgency of a predictive alert
type AlertType string

const (
	AlertWarning  AlertType = "warning"
	AlertCritical AlertType = "critical"
)

// PredictiveAlert forecasts a failure before it happens.
type PredictiveAlert struct {
	AlertType  AlertType `json:"alert_type"`
	Prediction string    `json:"prediction"`
	// Confidence is in [0,1]; ConfidencePercent scales it for display
	Confidence         float64   `json:"confidence"`
	SuggestedAction    string    `json:"suggested_action"`
	PreventiveMeasures []string  `json:"preventive_measures"`
	Pattern            string    `json:"pattern,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ConfidencePercent returns the confidence scaled to 0-100.
func (a PredictiveAlert) ConfidencePercent() int {
	return int(a.Confidence*100 + 0.5)
}

// OptimizationCategory groups optimization suggestions
type OptimizationCategory string

const (
	CategoryPerformance OptimizationCategory = "performance"
	CategoryUX          OptimizationCategory = "ux"
	CategoryAPI         OptimizationCategory = "api"
	CategoryBuild       OptimizationCategory = "build"
)

// OptimizationSuggestion is an improvement derived from performance and quality signals.
type OptimizationSuggestion struct {
	Category   OptimizationCategory `json:"category"`
	Suggestion string               `json:"suggestion"`
	Impact     string               `json:"impact"`
	Effort     string               `json:"effort"`
	Priority   int                  `json:"priority"`
	CreatedAt  time.Time            `json:"created_at"`
}

// EvolutionMetrics summarises what the evolution engine has learned.
type EvolutionMetrics struct {
	SystemReliability    int `json:"system_reliability"`
	EvolutionScore       int `json:"evolution_score"`
	FailureMemorySize    int `json:"failure_memory_size"`
	PreventedFailures    int `json:"prevented_failures"`
	OptimizationsApplied int `json:"optimizations_applied"`
	AlertsIssued         int `json:"alerts_issued"`
	LearnedOutcomes      int `json:"learned_outcomes"`
}
