package config

import "time"

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Planner: PlannerConfig{
			MaxDepth: 15,
		},
		Monitor: MonitorConfig{
			Timeout:            30 * time.Second,
			SlowThreshold:      5 * time.Second,
			ErrorRateThreshold: 0.5,
			FailureThreshold:   3,
			Cooldown:           60 * time.Second,
			RetryBaseDelay:     time.Second,
			HistoryLimit:       1000,
		},
		Replanner: ReplannerConfig{
			MaxReplanAttempts: 3,
			EnableLearning:    true,
			CostPenalty:       2.0,
		},
		Executor: ExecutorConfig{
			MaxParallel: 4,
			MaxRetries:  2,
			StopOnError: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
