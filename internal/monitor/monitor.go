package monitor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/meridian-ops/meridian/internal/action"
	"github.com/meridian-ops/meridian/internal/events"
	"github.com/meridian-ops/meridian/internal/types"
)

// Config holds the monitor's supervision thresholds.
type Config struct {
	// Timeout is the per-execution deadline. A running execution past this
	// duration is cancelled.
	Timeout time.Duration

	// SlowThreshold flags executions as slow without cancelling them.
	SlowThreshold time.Duration

	// ErrorRateThreshold triggers retry-with-backoff when an action's
	// recent failure fraction exceeds it.
	ErrorRateThreshold float64

	// FailureThreshold is the circuit breaker's consecutive failure limit.
	FailureThreshold int

	// Cooldown is the circuit breaker's open-state duration.
	Cooldown time.Duration

	// RetryBaseDelay is the first backoff delay; it grows linearly with
	// the retry count.
	RetryBaseDelay time.Duration

	// HistoryLimit bounds the completed-execution history kept in memory.
	HistoryLimit int
}

// DefaultConfig returns the standard supervision thresholds.
func DefaultConfig() Config {
	return Config{
		Timeout:            30 * time.Second,
		SlowThreshold:      5 * time.Second,
		ErrorRateThreshold: 0.5,
		FailureThreshold:   3,
		Cooldown:           60 * time.Second,
		RetryBaseDelay:     time.Second,
		HistoryLimit:       1000,
	}
}

// errorRateWindow is how many recent completions per action feed the
// error-rate calculation.
const errorRateWindow = 20

// DecisionType is a supervisory decision produced by the Decide phase.
type DecisionType string

const (
	// DecisionCancel terminates the execution.
	DecisionCancel DecisionType = "CANCEL"

	// DecisionWarn flags a slow execution without interfering.
	DecisionWarn DecisionType = "WARN"

	// DecisionSkip marks the action ineligible because its circuit is open.
	DecisionSkip DecisionType = "SKIP"

	// DecisionRetryWithBackoff schedules a delayed retry.
	DecisionRetryWithBackoff DecisionType = "RETRY_WITH_BACKOFF"
)

// Observation is the result of registering an execution with the monitor.
type Observation struct {
	ExecutionID types.ID
	ActionName  string
	StartTime   time.Time
	Status      string
	HeapBytes   uint64
}

// Analysis is the Orient phase's assessment of one active execution.
type Analysis struct {
	ExecutionID   types.ID
	ActionName    string
	Duration      time.Duration
	IsSlow        bool
	IsTimeout     bool
	ErrorRate     float64
	ResourceUsage float64
	CircuitState  CircuitState
	Anomalies     []string
}

// ActionTaken describes one supervisory action performed by Act.
type ActionTaken struct {
	ExecutionID types.ID
	Type        string
	Delay       time.Duration
}

// Record is a completed (or cancelled) execution's history entry.
type Record struct {
	ExecutionID types.ID
	ActionName  string
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Success     bool
	Error       string
	RetryCount  int
	Cancelled   bool
}

// Metrics aggregates completed executions per action name.
type Metrics struct {
	ActionName    string
	Count         int
	Successes     int
	Failures      int
	TotalDuration time.Duration
	AvgDuration   time.Duration
	MinDuration   time.Duration
	MaxDuration   time.Duration
}

// activeExecution is the monitor's bookkeeping for one running execution.
type activeExecution struct {
	id         types.ID
	actionName string
	startTime  time.Time
	retryCount int
	heapBytes  uint64
	timer      *time.Timer
}

// ExecutionMonitor supervises executions through an OODA loop and tracks
// per-action circuit breakers and aggregate metrics.
//
// The monitor supports many concurrently active executions keyed by
// execution id; all methods are safe for concurrent use. Completion always
// transitions an execution out of the active set before its outcome becomes
// visible to metrics or circuit readers.
type ExecutionMonitor struct {
	cfg     Config
	breaker *CircuitBreaker
	logger  *slog.Logger
	bus     events.Bus

	mu      sync.RWMutex
	active  map[types.ID]*activeExecution
	history []Record
	metrics map[string]*Metrics
}

// MonitorOption is a functional option for configuring an ExecutionMonitor.
type MonitorOption func(*ExecutionMonitor)

// WithMonitorLogger configures the monitor to use the specified logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *ExecutionMonitor) {
		if logger != nil {
			m.logger = logger.With("component", "monitor")
		}
	}
}

// WithEventBus configures the monitor to publish execution events.
// Observe events for an execution id always fire before any orient, decide,
// or act events for that id.
func WithEventBus(bus events.Bus) MonitorOption {
	return func(m *ExecutionMonitor) {
		m.bus = bus
	}
}

// New creates an ExecutionMonitor with the given configuration.
func New(cfg Config, opts ...MonitorOption) *ExecutionMonitor {
	m := &ExecutionMonitor{
		cfg:     cfg,
		breaker: NewCircuitBreaker(cfg.FailureThreshold, cfg.Cooldown),
		logger:  slog.Default().With("component", "monitor"),
		active:  make(map[types.ID]*activeExecution),
		metrics: make(map[string]*Metrics),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe registers an execution as active, captures the initial resource
// baseline, and arms the per-execution timeout timer.
func (m *ExecutionMonitor) Observe(ctx context.Context, executionID types.ID, act action.Action, startTime time.Time) *Observation {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	exec := &activeExecution{
		id:         executionID,
		actionName: act.Name,
		startTime:  startTime,
		heapBytes:  ms.HeapAlloc,
	}

	if m.cfg.Timeout > 0 {
		exec.timer = time.AfterFunc(m.cfg.Timeout, func() {
			m.onTimeout(executionID, act.Name)
		})
	}

	m.mu.Lock()
	m.active[executionID] = exec
	m.mu.Unlock()

	m.publish(ctx, events.Event{
		Type:        events.EventExecutionObserved,
		ExecutionID: executionID,
		ActionName:  act.Name,
		Data:        map[string]any{"tool": act.ToolName},
	})

	return &Observation{
		ExecutionID: executionID,
		ActionName:  act.Name,
		StartTime:   startTime,
		Status:      "running",
		HeapBytes:   ms.HeapAlloc,
	}
}

// onTimeout fires when an execution exceeds its deadline. It emits a timeout
// event; the supervising executor is expected to Orient and feed the
// resulting CANCEL decision through Act.
func (m *ExecutionMonitor) onTimeout(executionID types.ID, actionName string) {
	m.mu.RLock()
	_, stillActive := m.active[executionID]
	m.mu.RUnlock()
	if !stillActive {
		return
	}

	m.logger.Warn("execution timeout",
		"execution_id", executionID,
		"action", actionName,
		"timeout", m.cfg.Timeout,
	)
	m.publish(context.Background(), events.Event{
		Type:        events.EventExecutionTimeout,
		ExecutionID: executionID,
		ActionName:  actionName,
	})
}

// Orient computes the analysis for an active execution.
// Returns nil if the execution id is not active.
func (m *ExecutionMonitor) Orient(executionID types.ID) *Analysis {
	m.mu.RLock()
	exec, ok := m.active[executionID]
	if !ok {
		m.mu.RUnlock()
		return nil
	}

	duration := time.Since(exec.startTime)
	errorRate := m.recentErrorRateLocked(exec.actionName)
	actionName := exec.actionName
	m.mu.RUnlock()

	analysis := &Analysis{
		ExecutionID:   executionID,
		ActionName:    actionName,
		Duration:      duration,
		IsSlow:        duration >= m.cfg.SlowThreshold,
		IsTimeout:     m.cfg.Timeout > 0 && duration >= m.cfg.Timeout,
		ErrorRate:     errorRate,
		ResourceUsage: heapUsage(),
		CircuitState:  m.breaker.State(actionName),
	}

	if analysis.IsTimeout {
		analysis.Anomalies = append(analysis.Anomalies, "timeout")
	} else if analysis.IsSlow {
		analysis.Anomalies = append(analysis.Anomalies, "slow")
	}
	if analysis.ErrorRate > m.cfg.ErrorRateThreshold {
		analysis.Anomalies = append(analysis.Anomalies, "high_error_rate")
	}
	if analysis.CircuitState == StateOpen {
		analysis.Anomalies = append(analysis.Anomalies, "circuit_open")
	}

	return analysis
}

// Decide maps an analysis to supervisory decisions. Rules are evaluated
// independently and may combine: timeout cancels, slowness warns, an open
// circuit skips, a high error rate schedules a backoff retry.
func (m *ExecutionMonitor) Decide(analysis *Analysis) []DecisionType {
	if analysis == nil {
		return nil
	}

	var decisions []DecisionType
	if analysis.IsTimeout {
		decisions = append(decisions, DecisionCancel)
	} else if analysis.IsSlow {
		decisions = append(decisions, DecisionWarn)
	}
	if analysis.CircuitState == StateOpen {
		decisions = append(decisions, DecisionSkip)
	}
	if analysis.ErrorRate > m.cfg.ErrorRateThreshold {
		decisions = append(decisions, DecisionRetryWithBackoff)
	}
	return decisions
}

// Act applies supervisory decisions to an active execution.
//
// CANCEL removes the execution from active tracking (terminal for that id).
// RETRY_WITH_BACKOFF increments the retry counter and arms a delayed retry
// whose delay grows with the retry count. SKIP and WARN are logged without
// state change.
func (m *ExecutionMonitor) Act(ctx context.Context, executionID types.ID, decisions []DecisionType) []ActionTaken {
	var taken []ActionTaken

	for _, d := range decisions {
		switch d {
		case DecisionCancel:
			if rec := m.cancel(ctx, executionID); rec != nil {
				taken = append(taken, ActionTaken{ExecutionID: executionID, Type: "cancelled"})
			}

		case DecisionRetryWithBackoff:
			m.mu.Lock()
			exec, ok := m.active[executionID]
			if !ok {
				m.mu.Unlock()
				continue
			}
			exec.retryCount++
			delay := m.cfg.RetryBaseDelay * time.Duration(exec.retryCount)
			actionName := exec.actionName
			m.mu.Unlock()

			time.AfterFunc(delay, func() {
				m.publish(context.Background(), events.Event{
					Type:        events.EventExecutionRetryScheduled,
					ExecutionID: executionID,
					ActionName:  actionName,
					Data:        map[string]any{"delay": delay.String()},
				})
			})
			taken = append(taken, ActionTaken{ExecutionID: executionID, Type: "retry_scheduled", Delay: delay})

		case DecisionSkip:
			m.logger.Warn("action skipped: circuit open", "execution_id", executionID)
			taken = append(taken, ActionTaken{ExecutionID: executionID, Type: "skipped"})

		case DecisionWarn:
			m.logger.Warn("slow execution", "execution_id", executionID)
			taken = append(taken, ActionTaken{ExecutionID: executionID, Type: "warned"})
		}

		m.publish(ctx, events.Event{
			Type:        events.EventExecutionDecision,
			ExecutionID: executionID,
			Data:        map[string]any{"decision": string(d)},
		})
	}

	return taken
}

// cancel removes an execution from active tracking and records a cancelled
// history entry. Returns nil if the id was not active.
func (m *ExecutionMonitor) cancel(ctx context.Context, executionID types.ID) *Record {
	m.mu.Lock()
	exec, ok := m.active[executionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if exec.timer != nil {
		exec.timer.Stop()
	}
	delete(m.active, executionID)

	now := time.Now()
	rec := Record{
		ExecutionID: executionID,
		ActionName:  exec.actionName,
		StartTime:   exec.startTime,
		EndTime:     now,
		Duration:    now.Sub(exec.startTime),
		Success:     false,
		Error:       "cancelled",
		RetryCount:  exec.retryCount,
		Cancelled:   true,
	}
	m.appendHistoryLocked(rec)
	m.updateMetricsLocked(rec.ActionName, rec.Duration, false)
	m.mu.Unlock()

	m.breaker.RecordFailure(rec.ActionName)
	m.publish(ctx, events.Event{
		Type:        events.EventExecutionCancelled,
		ExecutionID: executionID,
		ActionName:  rec.ActionName,
	})
	return &rec
}

// Complete finishes an execution: it leaves the active set, its outcome is
// appended to history, per-action metrics are updated, and the circuit
// breaker records the result. Returns nil if the id is not active.
func (m *ExecutionMonitor) Complete(ctx context.Context, executionID types.ID, err error) *Record {
	m.mu.Lock()
	exec, ok := m.active[executionID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if exec.timer != nil {
		exec.timer.Stop()
	}
	delete(m.active, executionID)

	now := time.Now()
	rec := Record{
		ExecutionID: executionID,
		ActionName:  exec.actionName,
		StartTime:   exec.startTime,
		EndTime:     now,
		Duration:    now.Sub(exec.startTime),
		Success:     err == nil,
		RetryCount:  exec.retryCount,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	m.appendHistoryLocked(rec)
	m.updateMetricsLocked(rec.ActionName, rec.Duration, rec.Success)
	m.mu.Unlock()

	if rec.Success {
		m.breaker.RecordSuccess(rec.ActionName)
	} else {
		m.breaker.RecordFailure(rec.ActionName)
	}

	m.publish(ctx, events.Event{
		Type:        events.EventExecutionCompleted,
		ExecutionID: executionID,
		ActionName:  rec.ActionName,
		Data:        map[string]any{"success": rec.Success, "duration": rec.Duration.String()},
	})
	return &rec
}

// Allow reports whether the named action is currently eligible for
// execution, consulting its circuit breaker.
func (m *ExecutionMonitor) Allow(actionName string) error {
	return m.breaker.Allow(actionName)
}

// CircuitState returns the circuit state for the named action.
func (m *ExecutionMonitor) CircuitState(actionName string) CircuitState {
	return m.breaker.State(actionName)
}

// Breaker exposes the underlying circuit breaker for stats and reports.
func (m *ExecutionMonitor) Breaker() *CircuitBreaker {
	return m.breaker
}

// ActiveCount returns the number of currently active executions.
func (m *ExecutionMonitor) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// IsActive reports whether the execution id is currently tracked.
func (m *ExecutionMonitor) IsActive(executionID types.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[executionID]
	return ok
}

// ActionMetrics returns a copy of the aggregate metrics for one action, or
// false if the action has no completed executions.
func (m *ExecutionMonitor) ActionMetrics(actionName string) (Metrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mt, ok := m.metrics[actionName]
	if !ok {
		return Metrics{}, false
	}
	return *mt, true
}

// AllMetrics returns a copy of the aggregate metrics for every action.
func (m *ExecutionMonitor) AllMetrics() map[string]Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Metrics, len(m.metrics))
	for name, mt := range m.metrics {
		out[name] = *mt
	}
	return out
}

// History returns a copy of the completed-execution history, oldest first.
func (m *ExecutionMonitor) History() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.history))
	copy(out, m.history)
	return out
}

// appendHistoryLocked appends a record, trimming to the configured limit.
// Must be called with mu held.
func (m *ExecutionMonitor) appendHistoryLocked(rec Record) {
	m.history = append(m.history, rec)
	if m.cfg.HistoryLimit > 0 && len(m.history) > m.cfg.HistoryLimit {
		m.history = m.history[len(m.history)-m.cfg.HistoryLimit:]
	}
}

// updateMetricsLocked maintains the running count/avg/min/max for an action.
// Must be called with mu held.
func (m *ExecutionMonitor) updateMetricsLocked(actionName string, duration time.Duration, success bool) {
	mt, ok := m.metrics[actionName]
	if !ok {
		mt = &Metrics{ActionName: actionName, MinDuration: duration, MaxDuration: duration}
		m.metrics[actionName] = mt
	}

	mt.Count++
	if success {
		mt.Successes++
	} else {
		mt.Failures++
	}
	mt.TotalDuration += duration
	mt.AvgDuration = mt.TotalDuration / time.Duration(mt.Count)
	if duration < mt.MinDuration {
		mt.MinDuration = duration
	}
	if duration > mt.MaxDuration {
		mt.MaxDuration = duration
	}
}

// recentErrorRateLocked computes the failure fraction over the most recent
// completions of the named action. Must be called with mu held (read lock
// is sufficient).
func (m *ExecutionMonitor) recentErrorRateLocked(actionName string) float64 {
	total := 0
	failures := 0
	for i := len(m.history) - 1; i >= 0 && total < errorRateWindow; i-- {
		if m.history[i].ActionName != actionName {
			continue
		}
		total++
		if !m.history[i].Success {
			failures++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

// publish emits an event when a bus is configured.
func (m *ExecutionMonitor) publish(ctx context.Context, event events.Event) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(ctx, event)
}

// heapUsage returns the current heap allocation as a fraction of the heap
// obtained from the OS.
func heapUsage() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.HeapSys == 0 {
		return 0
	}
	return float64(ms.HeapAlloc) / float64(ms.HeapSys)
}
