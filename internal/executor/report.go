package executor

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/meridian-ops/meridian/internal/monitor"
	"github.com/meridian-ops/meridian/internal/replan"
)

// ActionReport is one action's aggregate execution record.
type ActionReport struct {
	ActionName  string
	Count       int
	Successes   int
	Failures    int
	SuccessRate float64
	AvgDuration time.Duration
	Circuit     string
}

// Report is the post-run operational summary across all executions the
// monitor has seen.
type Report struct {
	GeneratedAt time.Time
	Actions     []ActionReport
	Breaker     monitor.BreakerStats

	// Learning and Patterns are populated by the adaptive executor only.
	Learning map[string]replan.LearningStat
	Patterns replan.PatternAnalysis
}

// GenerateReport snapshots per-action metrics and breaker state, sorted by
// action name for stable output.
func (e *MonitoredExecutor) GenerateReport() Report {
	all := e.monitor.AllMetrics()

	actions := make([]ActionReport, 0, len(all))
	for name, m := range all {
		rate := 0.0
		if m.Count > 0 {
			rate = float64(m.Successes) / float64(m.Count)
		}
		actions = append(actions, ActionReport{
			ActionName:  name,
			Count:       m.Count,
			Successes:   m.Successes,
			Failures:    m.Failures,
			SuccessRate: rate,
			AvgDuration: m.AvgDuration,
			Circuit:     e.monitor.CircuitState(name).String(),
		})
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].ActionName < actions[j].ActionName
	})

	return Report{
		GeneratedAt: time.Now(),
		Actions:     actions,
		Breaker:     e.monitor.Breaker().Stats(),
	}
}

// String renders the report as an operator-readable table.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "execution report (%s)\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "%-20s %6s %6s %6s %8s %12s %s\n",
		"action", "runs", "ok", "fail", "rate", "avg", "circuit")
	for _, a := range r.Actions {
		fmt.Fprintf(&b, "%-20s %6d %6d %6d %7.1f%% %12s %s\n",
			a.ActionName, a.Count, a.Successes, a.Failures,
			a.SuccessRate*100, a.AvgDuration.Round(time.Microsecond), a.Circuit)
	}
	if len(r.Learning) > 0 {
		b.WriteString("learning:\n")
		names := make([]string, 0, len(r.Learning))
		for name := range r.Learning {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			stat := r.Learning[name]
			fmt.Fprintf(&b, "  %-20s attempts=%d success=%s avg=%s\n",
				name, stat.Attempts, stat.SuccessRate, stat.AvgDuration)
		}
	}
	return b.String()
}
