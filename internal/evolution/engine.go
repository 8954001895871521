// Package evolution learns from cycle outcomes, predicts failures before they
// happen, and suggests optimizations.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/selfheal/internal/types"
)

// Retention and scoring defaults.
const (
	DefaultMaxAlerts      = 500
	DefaultMaxSuggestions = 500
	DefaultHealthSamples  = 20

	// learnScore is the verification score above which a solution is recorded
	learnScore = 90
	// recurringCount is the occurrence count above which a pattern is predicted to recur
	recurringCount = 2
	trendWindow    = 3
)

// Errors returned by ApplySuggestion.
var (
	ErrSuggestionNotFound = errors.New("optimization suggestion not found")
	ErrSuggestionApplied  = errors.New("optimization suggestion already applied")
)

// MemoryStore persists failure memory entries. Implementations must upsert by key.
type MemoryStore interface {
	LoadMemory(ctx context.Context) ([]types.FailureMemoryEntry, error)
	SaveMemory(ctx context.Context, entry types.FailureMemoryEntry) error
}

// Options configures an Engine
type Options struct {
	// Store receives every memory update; nil keeps memory in process only
	Store          MemoryStore
	MaxAlerts      int
	MaxSuggestions int
	// HealthSamples bounds the overall-score samples kept for trend detection
	HealthSamples int
	Logger        *slog.Logger
	Now           func() time.Time
}

// Engine owns failure memory, predictive alerts and optimization suggestions.
type Engine struct {
	store          MemoryStore
	maxAlerts      int
	maxSuggestions int
	maxSamples     int
	logger         *slog.Logger
	now            func() time.Time

	// saveMu orders write-through so the store always ends on the newest entry
	saveMu sync.Mutex

	mu          sync.RWMutex
	memory      map[types.MemoryKey]types.FailureMemoryEntry
	alerts      []types.PredictiveAlert
	suggestions []types.OptimizationSuggestion
	samples     []int
	// applied maps suggestion text to when it was last applied
	applied map[string]time.Time

	alertsIssued         int
	prevented            int
	optimizationsApplied int
	learned              int
}

// New creates an engine with empty memory. Call Load to restore persisted memory.
func New(opts Options) *Engine {
	if opts.MaxAlerts <= 0 {
		opts.MaxAlerts = DefaultMaxAlerts
	}
	if opts.MaxSuggestions <= 0 {
		opts.MaxSuggestions = DefaultMaxSuggestions
	}
	if opts.HealthSamples < trendWindow {
		opts.HealthSamples = DefaultHealthSamples
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:          opts.Store,
		maxAlerts:      opts.MaxAlerts,
		maxSuggestions: opts.MaxSuggestions,
		maxSamples:     opts.HealthSamples,
		logger:         opts.Logger,
		now:            opts.Now,
		memory:         make(map[types.MemoryKey]types.FailureMemoryEntry),
		applied:        make(map[string]time.Time),
	}
}

// Load replaces in-process memory with the entries held by the store.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	entries, err := e.store.LoadMemory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load failure memory: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.memory = make(map[types.MemoryKey]types.FailureMemoryEntry, len(entries))
	for _, entry := range entries {
		e.memory[entry.Key] = entry
	}
	e.logger.Info("loaded failure memory", "entries", len(entries))
	return nil
}

// Learn records one occurrence of the issue's failure pattern. The solution
// and prevention strategy are only replaced when the fix verified with a
// score above 90. The in-process update always happens; the returned error
// reports a failed write-through.
func (e *Engine) Learn(ctx context.Context, issue types.DiagnosticIssue, patch *types.PatchProposal, verification *types.VerificationResult) (types.FailureMemoryEntry, error) {
	key := types.MemoryKey{Kind: issue.Kind, Pattern: ExtractPattern(issue)}
	verified := verification != nil && verification.Passed && verification.OverallScore > learnScore
	now := e.now()

	e.mu.Lock()
	entry, exists := e.memory[key]
	if exists {
		if entry.Solution != "" && verification != nil && verification.Passed {
			e.prevented++
		}
		entry.OccurrenceCount++
		entry.LastOccurrence = now
	} else {
		entry = types.FailureMemoryEntry{
			Key:                key,
			OccurrenceCount:    1,
			FirstOccurrence:    now,
			LastOccurrence:     now,
			PreventionStrategy: PreventionStrategy(key.Pattern),
		}
	}
	if verified && patch != nil {
		entry.Solution = solutionFrom(patch)
		entry.PreventionStrategy = preventionFrom(patch, key.Pattern)
	}
	e.memory[key] = entry
	e.learned++
	e.mu.Unlock()

	e.logger.Debug("learned failure pattern", "key", key.String(), "count", entry.OccurrenceCount, "verified", verified)

	if err := e.persist(ctx, key); err != nil {
		return entry, err
	}
	return entry, nil
}

// persist writes the current entry for key. Concurrent learns on one key
// each save the latest state, so a slow writer cannot leave an older entry.
func (e *Engine) persist(ctx context.Context, key types.MemoryKey) error {
	if e.store == nil {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.RLock()
	latest, ok := e.memory[key]
	e.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := e.store.SaveMemory(ctx, latest); err != nil {
		return fmt.Errorf("failed to persist failure memory %s: %w", key, err)
	}
	return nil
}

func solutionFrom(p *types.PatchProposal) string {
	if s := strings.TrimSpace(p.Reasoning); s != "" {
		return s
	}
	return strings.TrimSpace(p.CodeDiff)
}

func preventionFrom(p *types.PatchProposal, pattern string) string {
	if s := strings.TrimSpace(p.ExpectedOutcome); s != "" {
		return fmt.Sprintf("%s (expected: %s)", PreventionStrategy(pattern), s)
	}
	return PreventionStrategy(pattern)
}

// Predict forecasts failures from the report and learned memory. Every call
// records the report's overall score as a trend sample and appends the
// alerts it returns to the alert log.
func (e *Engine) Predict(report *types.DiagnosticReport) []types.PredictiveAlert {
	if report == nil {
		return nil
	}
	now := e.now()
	var alerts []types.PredictiveAlert
	add := func(a types.PredictiveAlert) {
		a.CreatedAt = now
		alerts = append(alerts, a)
	}

	overall := report.SystemHealth.Overall
	if overall >= 70 && overall < 85 {
		add(types.PredictiveAlert{
			AlertType:       types.AlertWarning,
			Prediction:      fmt.Sprintf("System health is degrading (overall %d) and may drop below the repair threshold", overall),
			Confidence:      0.7,
			SuggestedAction: "Address outstanding medium and high severity issues",
			PreventiveMeasures: []string{
				"Review the latest diagnostic report",
				"Schedule a self-heal cycle before health drops further",
			},
		})
	}

	for _, entry := range e.Memory() {
		if entry.OccurrenceCount <= recurringCount {
			continue
		}
		pct := 50 + 10*entry.OccurrenceCount
		if pct > 90 {
			pct = 90
		}
		action := "Investigate the root cause of this recurring failure"
		if entry.Solution != "" {
			action = "Apply the learned solution: " + entry.Solution
		}
		add(types.PredictiveAlert{
			AlertType:          types.AlertWarning,
			Prediction:         fmt.Sprintf("Failure pattern %s is likely to recur (seen %d times)", entry.Key, entry.OccurrenceCount),
			Confidence:         float64(pct) / 100,
			SuggestedAction:    action,
			PreventiveMeasures: []string{entry.PreventionStrategy},
			Pattern:            entry.Key.Pattern,
		})
	}

	if report.BuildMismatch {
		add(types.PredictiveAlert{
			AlertType:       types.AlertCritical,
			Prediction:      "Deployed build does not match the expected build; users may load stale or broken assets",
			Confidence:      0.95,
			SuggestedAction: "Redeploy the expected build",
			PreventiveMeasures: []string{
				"Verify build identifiers after every deploy",
				"Invalidate CDN caches on deploy",
			},
			Pattern: PatternBuildMismatch,
		})
	}

	if report.HasKind(types.KindAPI) && report.SystemHealth.API < 80 {
		add(types.PredictiveAlert{
			AlertType:       types.AlertWarning,
			Prediction:      fmt.Sprintf("API failures are likely to escalate (API health %d)", report.SystemHealth.API),
			Confidence:      0.75,
			SuggestedAction: "Inspect failing endpoints and their upstream dependencies",
			PreventiveMeasures: []string{
				"Add retries with backoff on idempotent calls",
				"Alert on API error rate",
			},
			Pattern: PatternAPIHTTPError,
		})
	}

	if w := e.observe(overall); w != nil {
		add(types.PredictiveAlert{
			AlertType:       types.AlertWarning,
			Prediction:      fmt.Sprintf("Overall health declined across the last %d observations (%d -> %d -> %d)", trendWindow, w[0], w[1], w[2]),
			Confidence:      0.6,
			SuggestedAction: "Run a self-heal cycle before the decline reaches the repair threshold",
			PreventiveMeasures: []string{
				"Correlate the decline with recent deploys",
			},
		})
	}

	e.mu.Lock()
	e.alerts = appendBounded(e.alerts, alerts, e.maxAlerts)
	e.alertsIssued += len(alerts)
	e.mu.Unlock()

	return cloneAlerts(alerts)
}

// observe records an overall score sample and returns the trailing window
// when it strictly declines.
func (e *Engine) observe(overall int) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = appendBounded(e.samples, []int{overall}, e.maxSamples)
	if len(e.samples) < trendWindow {
		return nil
	}
	w := e.samples[len(e.samples)-trendWindow:]
	if !degrading(w) {
		return nil
	}
	return append([]int(nil), w...)
}

func degrading(w []int) bool {
	for i := 1; i < len(w); i++ {
		if w[i] >= w[i-1] {
			return false
		}
	}
	return true
}

// appendBounded appends items and drops the oldest entries beyond max.
func appendBounded[T any](log, items []T, max int) []T {
	log = append(log, items...)
	if len(log) > max {
		n := len(log) - max
		copy(log, log[n:])
		log = log[:max]
	}
	return log
}

// SuggestOptimizations derives improvements from performance samples and
// issue counts. perf may be nil. Suggestions are appended to the suggestion log.
func (e *Engine) SuggestOptimizations(report *types.DiagnosticReport, perf *types.PerformanceMetrics) []types.OptimizationSuggestion {
	now := e.now()
	var out []types.OptimizationSuggestion
	add := func(cat types.OptimizationCategory, text, impact, effort string, priority int) {
		out = append(out, types.OptimizationSuggestion{
			Category:   cat,
			Suggestion: text,
			Impact:     impact,
			Effort:     effort,
			Priority:   priority,
			CreatedAt:  now,
		})
	}

	if perf != nil {
		if perf.PageLoadMs > 3000 {
			add(types.CategoryPerformance,
				fmt.Sprintf("Page load takes %.0fms; split large bundles and lazy-load routes", perf.PageLoadMs),
				"high", "medium", 8)
		}
		if perf.APIResponseMs > 1000 {
			add(types.CategoryAPI,
				fmt.Sprintf("API responses take %.0fms; cache or batch slow endpoints", perf.APIResponseMs),
				"high", "medium", 7)
		}
		if perf.BuildMs > 60000 {
			add(types.CategoryBuild,
				fmt.Sprintf("Builds take %.0fs; enable incremental compilation and build caching", perf.BuildMs/1000),
				"medium", "medium", 5)
		}
	}

	if report != nil {
		if n := len(report.Issues.UI); n > 0 {
			add(types.CategoryUX,
				fmt.Sprintf("Add error boundaries and loading states around failing components (%d UI issues)", n),
				"medium", "low", 6)
		}
		if n := len(report.Issues.API); n > 0 {
			add(types.CategoryAPI,
				fmt.Sprintf("Add request validation and retries on failing endpoints (%d API issues)", n),
				"medium", "medium", 6)
		}
		if n := len(report.Issues.Build); n > 0 {
			add(types.CategoryBuild,
				fmt.Sprintf("Pin dependencies and verify builds before deploy (%d build issues)", n),
				"medium", "low", 5)
		}
	}

	e.mu.Lock()
	e.suggestions = appendBounded(e.suggestions, out, e.maxSuggestions)
	e.mu.Unlock()

	res := make([]types.OptimizationSuggestion, len(out))
	copy(res, out)
	return res
}

// RecordOptimizationApplied counts one applied optimization suggestion.
func (e *Engine) RecordOptimizationApplied() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.optimizationsApplied++
}

// ApplySuggestion marks the newest logged suggestion with the given text as
// applied and counts it. A suggestion can be applied again only after a later
// diagnosis suggests it anew.
func (e *Engine) ApplySuggestion(text string) (types.OptimizationSuggestion, error) {
	text = strings.TrimSpace(text)
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := len(e.suggestions) - 1; i >= 0; i-- {
		s := e.suggestions[i]
		if !strings.EqualFold(s.Suggestion, text) {
			continue
		}
		if at, ok := e.applied[s.Suggestion]; ok && !s.CreatedAt.After(at) {
			return s, fmt.Errorf("%w: %q", ErrSuggestionApplied, s.Suggestion)
		}
		e.applied[s.Suggestion] = e.now()
		e.optimizationsApplied++
		e.logger.Info("optimization applied", "category", s.Category, "suggestion", s.Suggestion)
		return s, nil
	}
	return types.OptimizationSuggestion{}, fmt.Errorf("%w: %q", ErrSuggestionNotFound, text)
}

// Metrics summarises what the engine has learned.
func (e *Engine) Metrics() types.EvolutionMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	size := len(e.memory)
	return types.EvolutionMetrics{
		SystemReliability:    min(100, 70+min(20, 2*e.prevented)+min(10, size)),
		EvolutionScore:       min(100, min(40, 4*size)+min(30, 3*e.prevented)+min(30, 3*e.optimizationsApplied)),
		FailureMemorySize:    size,
		PreventedFailures:    e.prevented,
		OptimizationsApplied: e.optimizationsApplied,
		AlertsIssued:         e.alertsIssued,
		LearnedOutcomes:      e.learned,
	}
}

// Memory returns every memory entry sorted by key.
func (e *Engine) Memory() []types.FailureMemoryEntry {
	e.mu.RLock()
	out := make([]types.FailureMemoryEntry, 0, len(e.memory))
	for _, entry := range e.memory {
		out = append(out, entry)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Lookup returns the memory entry for a key
func (e *Engine) Lookup(key types.MemoryKey) (types.FailureMemoryEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.memory[key]
	return entry, ok
}

// RecentAlerts returns up to n of the newest alerts, oldest first. n <= 0 returns all.
func (e *Engine) RecentAlerts(n int) []types.PredictiveAlert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneAlerts(tail(e.alerts, n))
}

// RecentSuggestions returns up to n of the newest suggestions, oldest first. n <= 0 returns all.
func (e *Engine) RecentSuggestions(n int) []types.OptimizationSuggestion {
	e.mu.RLock()
	defer e.mu.RUnlock()
	src := tail(e.suggestions, n)
	out := make([]types.OptimizationSuggestion, len(src))
	copy(out, src)
	return out
}

func tail[T any](s []T, n int) []T {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

func cloneAlerts(src []types.PredictiveAlert) []types.PredictiveAlert {
	out := make([]types.PredictiveAlert, len(src))
	for i, a := range src {
		a.PreventiveMeasures = append([]string(nil), a.PreventiveMeasures...)
		out[i] = a
	}
	return out
}
