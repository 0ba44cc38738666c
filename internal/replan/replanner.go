// Package replan decides whether and how to recompute a plan mid-execution.
// It penalizes failed actions, biases costs with learned per-action outcome
// statistics, finds substitute actions, and rolls execution state back to
// the last known-good point before invoking the planner again.
package replan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/planner"
	"github.com/meridian-ops/meridian/internal/state"
)

// Reason classifies why a replan is needed.
type Reason string

const (
	// ReasonActionFailed signals an explicit action failure.
	ReasonActionFailed Reason = "ACTION_FAILED"

	// ReasonCircuitBreaker signals that a required action's breaker is open.
	ReasonCircuitBreaker Reason = "CIRCUIT_BREAKER"

	// ReasonCostExceeded signals that actual cost overran the planned cost.
	ReasonCostExceeded Reason = "COST_EXCEEDED"
)

// ReasonMaxReplansExceeded is the terminal replan-refusal reason.
const ReasonMaxReplansExceeded = "MAX_REPLANS_EXCEEDED"

// Config holds replanner tunables.
type Config struct {
	// MaxReplanAttempts bounds how many times one workflow run may replan.
	MaxReplanAttempts int

	// EnableLearning biases adjusted costs with recorded outcome history.
	EnableLearning bool

	// CostPenalty multiplies a failed action's cost during adjustment.
	CostPenalty float64
}

// DefaultConfig returns the standard replanner configuration.
func DefaultConfig() Config {
	return Config{
		MaxReplanAttempts: 3,
		EnableLearning:    true,
		CostPenalty:       2.0,
	}
}

// ExecutionState summarizes a workflow run for replan triggering.
type ExecutionState struct {
	// FailedAction is the name of the action that failed, if any.
	FailedAction string

	// OpenCircuits lists remaining plan actions whose breakers are open.
	OpenCircuits []string

	// PlannedCost is the original plan's total cost.
	PlannedCost float64

	// ActualCost is the cost accumulated so far, including retries.
	ActualCost float64

	// ReplanAttempts counts replans already performed in this run.
	ReplanAttempts int
}

// Verdict is the outcome of a replan-needed check.
type Verdict struct {
	Needed  bool
	Reasons []Reason
}

// Result is the outcome of a replan invocation.
type Result struct {
	// Success reports whether a new plan was produced.
	Success bool

	// Plan is the substitute plan when Success is true.
	Plan *planner.Plan

	// Reason describes the refusal or failure when Success is false.
	Reason string

	// Attempts is the replan attempt count after this invocation.
	Attempts int
}

// learningRecord accumulates outcome history for one action.
type learningRecord struct {
	attempts      int
	successes     int
	totalDuration time.Duration
}

func (r *learningRecord) successRate() float64 {
	if r.attempts == 0 {
		return 1
	}
	return float64(r.successes) / float64(r.attempts)
}

func (r *learningRecord) avgDuration() time.Duration {
	if r.attempts == 0 {
		return 0
	}
	return r.totalDuration / time.Duration(r.attempts)
}

// LearningStat is the externally visible per-action learning summary.
type LearningStat struct {
	Attempts    int
	SuccessRate string
	AvgDuration string
}

// replanEvent logs one past replan for pattern analysis.
type replanEvent struct {
	timestamp    time.Time
	failedAction string
	costChange   float64
}

// ActionFailureCount pairs an action name with its replan-trigger count.
type ActionFailureCount struct {
	Action string
	Count  int
}

// PatternAnalysis aggregates the replanner's own history.
type PatternAnalysis struct {
	// MostFailedActions lists actions by descending replan-trigger count.
	MostFailedActions []ActionFailureCount

	// AvgCostIncrease is the mean cost delta applied across replans.
	AvgCostIncrease float64
}

// DynamicReplanner owns replan decisions, cost adjustment, substitute
// lookup, learning statistics, and rollback computation. All methods are
// safe for concurrent use.
type DynamicReplanner struct {
	cfg     Config
	planner *planner.Planner
	library *action.Library
	logger  *slog.Logger

	mu       sync.RWMutex
	learning map[string]*learningRecord
	history  []replanEvent
}

// ReplannerOption is a functional option for configuring a DynamicReplanner.
type ReplannerOption func(*DynamicReplanner)

// WithReplannerLogger configures the replanner to use the specified logger.
func WithReplannerLogger(logger *slog.Logger) ReplannerOption {
	return func(r *DynamicReplanner) {
		if logger != nil {
			r.logger = logger.With("component", "replanner")
		}
	}
}

// New creates a DynamicReplanner over the given planner and action library.
func New(cfg Config, p *planner.Planner, library *action.Library, opts ...ReplannerOption) *DynamicReplanner {
	if cfg.CostPenalty <= 1 {
		cfg.CostPenalty = DefaultConfig().CostPenalty
	}
	r := &DynamicReplanner{
		cfg:      cfg,
		planner:  p,
		library:  library,
		logger:   slog.Default().With("component", "replanner"),
		learning: make(map[string]*learningRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ShouldReplan evaluates the replan triggers against the execution state.
// Triggers are independent and combinable; no trigger means no replan.
func (r *DynamicReplanner) ShouldReplan(es ExecutionState) Verdict {
	var reasons []Reason
	if es.FailedAction != "" {
		reasons = append(reasons, ReasonActionFailed)
	}
	if len(es.OpenCircuits) > 0 {
		reasons = append(reasons, ReasonCircuitBreaker)
	}
	if es.ActualCost > es.PlannedCost {
		reasons = append(reasons, ReasonCostExceeded)
	}
	return Verdict{Needed: len(reasons) > 0, Reasons: reasons}
}

// AdjustActionCosts returns a new action list in which the failed action's
// cost is penalized and, when learning is enabled, further scaled by its
// learned success rate and average duration. Library originals are never
// mutated.
func (r *DynamicReplanner) AdjustActionCosts(failedActionName string) []action.Action {
	actions := r.library.All()
	for i, a := range actions {
		if a.Name != failedActionName {
			continue
		}

		cost := a.EffectiveCost() * r.cfg.CostPenalty
		if r.cfg.EnableLearning {
			cost = r.learnedCost(a.Name, cost)
		}
		actions[i] = a.WithCost(cost)
	}
	return actions
}

// learnedCost scales a cost by the action's recorded outcome history: a
// lower success rate raises the effective cost, and a long average duration
// adds a mild surcharge.
func (r *DynamicReplanner) learnedCost(actionName string, cost float64) float64 {
	r.mu.RLock()
	rec, ok := r.learning[actionName]
	if !ok {
		r.mu.RUnlock()
		return cost
	}
	rate := rec.successRate()
	avg := rec.avgDuration()
	r.mu.RUnlock()

	// A 0% success rate doubles the cost; 100% leaves it unchanged.
	cost *= 1 + (1 - rate)

	// One extra cost unit per 10s of average runtime.
	cost += avg.Seconds() / 10

	return cost
}

// FindAlternatives returns other catalog actions producing an overlapping
// effects set, excluding the action itself.
func (r *DynamicReplanner) FindAlternatives(a action.Action) []action.Action {
	var alternatives []action.Action
	for _, candidate := range r.library.All() {
		if candidate.Name == a.Name {
			continue
		}
		if a.OverlapsEffects(candidate) {
			alternatives = append(alternatives, candidate)
		}
	}
	return alternatives
}

// Replan computes a substitute plan from the current state toward the goal,
// using the cost-adjusted action set.
//
// The attempt budget is checked first: when es.ReplanAttempts has reached
// MaxReplanAttempts the planner is never invoked and the result carries
// reason MAX_REPLANS_EXCEEDED.
func (r *DynamicReplanner) Replan(ctx context.Context, current state.WorldState, goal state.Goal, es ExecutionState) Result {
	if es.ReplanAttempts >= r.cfg.MaxReplanAttempts {
		r.logger.Warn("replan budget exhausted",
			"attempts", es.ReplanAttempts,
			"max", r.cfg.MaxReplanAttempts,
		)
		return Result{
			Success:  false,
			Reason:   ReasonMaxReplansExceeded,
			Attempts: es.ReplanAttempts,
		}
	}

	adjusted := r.AdjustActionCosts(es.FailedAction)

	costChange := 0.0
	if orig, ok := r.library.Find(es.FailedAction); ok {
		for _, a := range adjusted {
			if a.Name == es.FailedAction {
				costChange = a.EffectiveCost() - orig.EffectiveCost()
				break
			}
		}
	}

	plan, err := r.planner.FindPlan(ctx, current, goal, adjusted)
	if err != nil {
		reason := fmt.Sprintf("replan failed: %v", err)
		if errors.Is(err, planner.ErrGoalUnreachable) {
			reason = fmt.Sprintf("goal %q unreachable from current state", goal.Name)
		}
		return Result{
			Success:  false,
			Reason:   reason,
			Attempts: es.ReplanAttempts,
		}
	}

	r.mu.Lock()
	r.history = append(r.history, replanEvent{
		timestamp:    time.Now(),
		failedAction: es.FailedAction,
		costChange:   costChange,
	})
	r.mu.Unlock()

	r.logger.Info("replanned around failure",
		"failed_action", es.FailedAction,
		"new_cost", plan.Cost,
		"attempt", es.ReplanAttempts+1,
	)

	return Result{
		Success:  true,
		Plan:     plan,
		Attempts: es.ReplanAttempts + 1,
	}
}

// RecordExecution appends one outcome to the action's learning record.
func (r *DynamicReplanner) RecordExecution(actionName string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.learning[actionName]
	if !ok {
		rec = &learningRecord{}
		r.learning[actionName] = rec
	}
	rec.attempts++
	if success {
		rec.successes++
	}
	rec.totalDuration += duration
}

// LearningStats returns the per-action learning summary, with success rate
// formatted as "NN.NN%" and average duration as "Nms".
func (r *DynamicReplanner) LearningStats() map[string]LearningStat {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]LearningStat, len(r.learning))
	for name, rec := range r.learning {
		out[name] = LearningStat{
			Attempts:    rec.attempts,
			SuccessRate: fmt.Sprintf("%.2f%%", rec.successRate()*100),
			AvgDuration: fmt.Sprintf("%dms", rec.avgDuration().Milliseconds()),
		}
	}
	return out
}

// HistoryEntry is one executed action's outcome plus the world state after
// its effects were applied (or not, on failure).
type HistoryEntry struct {
	ActionName string
	Success    bool
	State      state.WorldState
}

// Rollback describes where execution should resume after failure.
type Rollback struct {
	// RollbackPoint is the index of the last successful history entry, or
	// 0 when nothing succeeded.
	RollbackPoint int

	// ActionsToUndo counts the entries after the rollback point.
	ActionsToUndo int

	// State is the world state to resume from.
	State state.WorldState
}

// RollbackState scans the execution history from the most recent entry
// backward for the last success. With no successful entry the rollback
// target is the pristine initial state.
func (r *DynamicReplanner) RollbackState(initial state.WorldState, history []HistoryEntry) Rollback {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Success {
			return Rollback{
				RollbackPoint: i,
				ActionsToUndo: len(history) - 1 - i,
				State:         history[i].State,
			}
		}
	}
	return Rollback{
		RollbackPoint: 0,
		ActionsToUndo: len(history),
		State:         initial,
	}
}

// AnalyzeReplanPatterns aggregates the replanner's own history: which
// actions trigger replans most, and the average cost increase applied.
func (r *DynamicReplanner) AnalyzeReplanPatterns() PatternAnalysis {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	totalChange := 0.0
	for _, ev := range r.history {
		if ev.failedAction != "" {
			counts[ev.failedAction]++
		}
		totalChange += ev.costChange
	}

	most := make([]ActionFailureCount, 0, len(counts))
	for name, count := range counts {
		most = append(most, ActionFailureCount{Action: name, Count: count})
	}
	sort.SliceStable(most, func(i, j int) bool {
		if most[i].Count != most[j].Count {
			return most[i].Count > most[j].Count
		}
		return most[i].Action < most[j].Action
	})

	analysis := PatternAnalysis{MostFailedActions: most}
	if len(r.history) > 0 {
		analysis.AvgCostIncrease = totalChange / float64(len(r.history))
	}
	return analysis
}

// ReplanCount returns how many replans have been recorded.
func (r *DynamicReplanner) ReplanCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.history)
}
