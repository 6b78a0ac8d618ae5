package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidateCronSchedule validates a standard 5-field cron expression
// ("minute hour day month weekday") with the same parser the worker schedules with.
func ValidateCronSchedule(schedule string) error {
	if schedule == "" {
		return fmt.Errorf("invalid cron schedule: cannot be empty")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}
	return nil
}

// ValidateTimezone validates an IANA timezone name by loading it.
// This depends on tzdata being present in the image.
func ValidateTimezone(timezone string) error {
	if timezone == "" {
		return fmt.Errorf("invalid timezone: cannot be empty")
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("invalid timezone '%s': %w", timezone, err)
	}
	return nil
}

// ValidateDuration checks that duration lies within [min, max].
func ValidateDuration(duration, min, max time.Duration) error {
	if duration < min || duration > max {
		return fmt.Errorf("duration %v out of range [%v, %v]", duration, min, max)
	}
	return nil
}

// ValidateIntRange checks that value lies within [min, max].
func ValidateIntRange(value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("value %d out of range [%d, %d]", value, min, max)
	}
	return nil
}

// ValidateFloatRange checks that value lies within [min, max].
func ValidateFloatRange(value, min, max float64) error {
	if value < min || value > max {
		return fmt.Errorf("value %g out of range [%g, %g]", value, min, max)
	}
	return nil
}

// ValidatePositiveDuration rejects zero and negative durations.
func ValidatePositiveDuration(duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", duration)
	}
	return nil
}
