package recurrence

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrFrequencyTooFine rejects rules that repeat more often than daily.
	ErrFrequencyTooFine = errors.New("recurrence: frequency finer than daily is not supported")
	// ErrTimeOfDayConstraint rejects BYHOUR, BYMINUTE and BYSECOND parts.
	ErrTimeOfDayConstraint = errors.New("recurrence: time of day constraints are not supported")
	// ErrWeekdayMismatch rejects BYDAY lists that exclude the weekday of the event start.
	ErrWeekdayMismatch = errors.New("recurrence: weekdays must include the start weekday")
)

// RuleError reports which rule of a set failed.
type RuleError struct {
	Index int
	Err   error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.Index, e.Err)
}

func (e *RuleError) Unwrap() error {
	return e.Err
}

// Validate checks every rule of set against the event start it will be anchored to.
func (e *Engine) Validate(set RuleSet, start time.Time) error {
	if set.IsZero() {
		return fmt.Errorf("%w: empty rule set", ErrMalformedRule)
	}
	weekday := e.Naive(start).Weekday()
	var errs []error
	for i, rule := range set.Rules {
		if rule.Frequency == FrequencyUnspecified {
			errs = append(errs, &RuleError{Index: i, Err: ErrInvalidFrequency})
			continue
		}
		if rule.Frequency > FrequencyDaily {
			errs = append(errs, &RuleError{Index: i, Err: ErrFrequencyTooFine})
		}
		if len(rule.ByHour) > 0 || len(rule.ByMinute) > 0 || len(rule.BySecond) > 0 {
			errs = append(errs, &RuleError{Index: i, Err: ErrTimeOfDayConstraint})
		}
		if len(rule.Weekdays) > 0 && !containsWeekday(rule.Weekdays, weekday) {
			errs = append(errs, &RuleError{Index: i, Err: ErrWeekdayMismatch})
		}
	}
	return errors.Join(errs...)
}

func containsWeekday(days []WeekdayNum, target time.Weekday) bool {
	for _, d := range days {
		if d.Day == target {
			return true
		}
	}
	return false
}
