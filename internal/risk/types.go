// Package risk owns the guardrails around position admission: the
// versioned risk configuration, the halt state machine, and the pure
// admission evaluator the engine consults before opening anything.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Trading statuses for the per-account state machine.
const (
	StatusActive       = "ACTIVE"
	StatusHaltedDaily  = "HALTED_DAILY"
	StatusHaltedWeekly = "HALTED_WEEKLY"
	StatusStopped      = "STOPPED"
)

// Halt reasons recorded on automatic transitions.
const (
	ReasonDailyStop  = "daily_stop"
	ReasonWeeklyStop = "weekly_stop"
)

// Config is the versioned set of risk thresholds for one account.
// Stops are expressed in R-multiples and stored negative; exposure
// and reserve limits are fractions of equity.
type Config struct {
	Version int64 `json:"version" yaml:"-"`

	RPct        float64 `json:"r_pct" yaml:"r_pct"`
	DailyStopR  float64 `json:"daily_stop_r" yaml:"daily_stop_r"`
	WeeklyStopR float64 `json:"weekly_stop_r" yaml:"weekly_stop_r"`

	MaxOpenR       float64 `json:"max_open_r" yaml:"max_open_r"`
	MaxExposurePct float64 `json:"max_exposure_pct" yaml:"max_exposure_pct"`
	MaxPositions   int     `json:"max_positions" yaml:"max_positions"`

	CorrelationGuard      bool    `json:"correlation_guard" yaml:"correlation_guard"`
	CorrelationThreshold  float64 `json:"correlation_threshold" yaml:"correlation_threshold"`
	MaxCorrelatedExposure float64 `json:"max_correlated_exposure" yaml:"max_correlated_exposure"`

	ReserveTargetPct float64 `json:"reserve_target_pct" yaml:"reserve_target_pct"`
	ReserveFloorPct  float64 `json:"reserve_floor_pct" yaml:"reserve_floor_pct"`

	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// DefaultConfig returns the documented defaults used when no config
// has ever been written for the account.
func DefaultConfig() Config {
	return Config{
		RPct:                  0.006,
		DailyStopR:            -2.0,
		WeeklyStopR:           -5.0,
		MaxOpenR:              5.0,
		MaxExposurePct:        0.75,
		MaxPositions:          10,
		CorrelationGuard:      true,
		CorrelationThreshold:  0.7,
		MaxCorrelatedExposure: 0.3,
		ReserveTargetPct:      0.25,
		ReserveFloorPct:       0.10,
	}
}

// FieldError is one rejected field in a config write.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every rejected field so a bad write is
// refused wholesale instead of partially applied.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, fe := range v {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "invalid risk config: " + strings.Join(parts, "; ")
}

// Normalize flips stop thresholds to their stored negative form so
// operators may submit either sign.
func (c *Config) Normalize() {
	c.DailyStopR = -math.Abs(c.DailyStopR)
	c.WeeklyStopR = -math.Abs(c.WeeklyStopR)
}

// Validate checks every accepted range and returns the full list of
// violations, or nil when the config is writable.
func (c Config) Validate() error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.RPct < 0.001 || c.RPct > 0.10 {
		add("r_pct", "%.4f outside [0.001, 0.10]", c.RPct)
	}
	daily := math.Abs(c.DailyStopR)
	if daily < 1 || daily > 50 {
		add("daily_stop_r", "magnitude %.2f outside [1, 50]", daily)
	}
	weekly := math.Abs(c.WeeklyStopR)
	if weekly < 1 || weekly > 100 {
		add("weekly_stop_r", "magnitude %.2f outside [1, 100]", weekly)
	}
	if weekly < daily {
		add("weekly_stop_r", "magnitude %.2f below daily stop %.2f", weekly, daily)
	}
	if c.MaxOpenR <= 0 {
		add("max_open_r", "%.2f must be positive", c.MaxOpenR)
	}
	if c.MaxExposurePct < 0.1 || c.MaxExposurePct > 1.0 {
		add("max_exposure_pct", "%.2f outside [0.1, 1.0]", c.MaxExposurePct)
	}
	if c.MaxPositions < 1 || c.MaxPositions > 50 {
		add("max_positions", "%d outside [1, 50]", c.MaxPositions)
	}
	if c.CorrelationThreshold < 0 || c.CorrelationThreshold > 1 {
		add("correlation_threshold", "%.2f outside [0, 1]", c.CorrelationThreshold)
	}
	if c.MaxCorrelatedExposure <= 0 || c.MaxCorrelatedExposure > 1 {
		add("max_correlated_exposure", "%.2f outside (0, 1]", c.MaxCorrelatedExposure)
	}
	if c.ReserveTargetPct < c.ReserveFloorPct {
		add("reserve_target_pct", "target %.2f below floor %.2f", c.ReserveTargetPct, c.ReserveFloorPct)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
