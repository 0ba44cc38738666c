// Package config loads, interpolates, and validates the runtime
// configuration for the planner, monitor, replanner, and executor.
package config

import (
	"time"

	"github.com/meridian-ops/meridian/internal/monitor"
	"github.com/meridian-ops/meridian/internal/replan"
)

// Config is the root configuration structure.
type Config struct {
	Planner   PlannerConfig   `mapstructure:"planner" validate:"required"`
	Monitor   MonitorConfig   `mapstructure:"monitor" validate:"required"`
	Replanner ReplannerConfig `mapstructure:"replanner" validate:"required"`
	Executor  ExecutorConfig  `mapstructure:"executor" validate:"required"`
	Logging   LoggingConfig   `mapstructure:"logging" validate:"required"`
}

// PlannerConfig tunes plan search.
type PlannerConfig struct {
	// MaxDepth bounds the action count of any plan.
	MaxDepth int `mapstructure:"max_depth" validate:"min=1,max=100"`
}

// MonitorConfig tunes execution supervision.
type MonitorConfig struct {
	Timeout            time.Duration `mapstructure:"timeout" validate:"min=1ms"`
	SlowThreshold      time.Duration `mapstructure:"slow_threshold" validate:"min=1ms"`
	ErrorRateThreshold float64       `mapstructure:"error_rate_threshold" validate:"gt=0,lte=1"`
	FailureThreshold   int           `mapstructure:"failure_threshold" validate:"min=1"`
	Cooldown           time.Duration `mapstructure:"cooldown" validate:"min=1ms"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay" validate:"min=1ms"`
	HistoryLimit       int           `mapstructure:"history_limit" validate:"min=1"`
}

// ReplannerConfig tunes failure recovery.
type ReplannerConfig struct {
	MaxReplanAttempts int     `mapstructure:"max_replan_attempts" validate:"min=0,max=20"`
	EnableLearning    bool    `mapstructure:"enable_learning"`
	CostPenalty       float64 `mapstructure:"cost_penalty" validate:"gt=1"`
}

// ExecutorConfig tunes workflow execution.
type ExecutorConfig struct {
	MaxParallel int  `mapstructure:"max_parallel" validate:"min=1,max=64"`
	MaxRetries  int  `mapstructure:"max_retries" validate:"min=0,max=10"`
	StopOnError bool `mapstructure:"stop_on_error"`
}

// LoggingConfig tunes the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// MonitorSettings converts to the monitor package's configuration type.
func (c MonitorConfig) MonitorSettings() monitor.Config {
	return monitor.Config{
		Timeout:            c.Timeout,
		SlowThreshold:      c.SlowThreshold,
		ErrorRateThreshold: c.ErrorRateThreshold,
		FailureThreshold:   c.FailureThreshold,
		Cooldown:           c.Cooldown,
		RetryBaseDelay:     c.RetryBaseDelay,
		HistoryLimit:       c.HistoryLimit,
	}
}

// ReplanSettings converts to the replan package's configuration type.
func (c ReplannerConfig) ReplanSettings() replan.Config {
	return replan.Config{
		MaxReplanAttempts: c.MaxReplanAttempts,
		EnableLearning:    c.EnableLearning,
		CostPenalty:       c.CostPenalty,
	}
}
