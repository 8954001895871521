package orchestrator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/steveyegge/selfheal/internal/types"
)

// statusListLimit caps the alerts and suggestions included in a status snapshot
const statusListLimit = 10

// Status is a point-in-time summary of the loop.
type Status struct {
	IsHealthy               bool                           `json:"is_healthy"`
	SystemHealth            types.SystemHealth             `json:"system_health"`
	ActiveCycleCount        int                            `json:"active_cycle_count"`
	CompletedCycleCount     int                            `json:"completed_cycle_count"`
	SuccessRate             float64                        `json:"success_rate"`
	EvolutionMetrics        types.EvolutionMetrics         `json:"evolution_metrics"`
	PredictiveAlerts        []types.PredictiveAlert        `json:"predictive_alerts"`
	OptimizationSuggestions []types.OptimizationSuggestion `json:"optimization_suggestions"`
	LastCycle               *types.SelfHealCycle           `json:"last_cycle,omitempty"`
}

// GetStatus summarises current health and cycle history. CompletedCycleCount
// counts finished cycles; SuccessRate is the percentage of those that completed.
func (o *Orchestrator) GetStatus() *Status {
	report := o.agg.GenerateReport()
	st := &Status{
		IsHealthy:               report.SystemHealth.Overall >= o.threshold,
		SystemHealth:            report.SystemHealth,
		EvolutionMetrics:        o.evolution.Metrics(),
		PredictiveAlerts:        o.evolution.RecentAlerts(statusListLimit),
		OptimizationSuggestions: o.evolution.RecentSuggestions(statusListLimit),
	}

	o.mu.RLock()
	succeeded := 0
	for _, id := range o.order {
		c := o.cycles[id]
		switch {
		case !c.Status.IsTerminal():
			st.ActiveCycleCount++
		case c.Status == types.CycleCompleted:
			st.CompletedCycleCount++
			succeeded++
		default:
			st.CompletedCycleCount++
		}
	}
	if n := len(o.order); n > 0 {
		st.LastCycle = cloneCycle(o.cycles[o.order[n-1]])
	}
	o.mu.RUnlock()

	if st.CompletedCycleCount > 0 {
		st.SuccessRate = 100 * float64(succeeded) / float64(st.CompletedCycleCount)
	}
	return st
}

// ResolveSuggestion maps an operator argument to suggestion text. A number is
// a 1-based index into st.OptimizationSuggestions; anything else is taken as
// the text itself.
func ResolveSuggestion(st *Status, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", errors.New("suggestion is required")
	}
	n, err := strconv.Atoi(arg)
	if err != nil {
		return arg, nil
	}
	if st == nil || n < 1 || n > len(st.OptimizationSuggestions) {
		return "", fmt.Errorf("no suggestion #%d", n)
	}
	return st.OptimizationSuggestions[n-1].Suggestion, nil
}
