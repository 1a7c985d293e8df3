package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// DateKeyLayout formats occurrence dates as stored in an event's occurrence map.
const DateKeyLayout = "2006-01-02"

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ErrInvalidWindow indicates the generation window ends before it starts.
var ErrInvalidWindow = errors.New("recurrence: window end precedes window start")

// Engine expands recurrence rule sets into occurrences.
//
// All arithmetic happens on naive wall-clock values: instants are converted to the
// engine's location and re-expressed in UTC without offset, so daylight saving
// transitions are not modelled.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that interprets instants in the provided location.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the wall-clock location used by the engine.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// Naive returns t's wall-clock reading in the engine location, expressed in UTC.
func (e *Engine) Naive(t time.Time) time.Time {
	l := t.In(e.Location())
	return time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second(), l.Nanosecond(), time.UTC)
}

// Localize is the inverse of Naive.
func (e *Engine) Localize(naive time.Time) time.Time {
	return time.Date(naive.Year(), naive.Month(), naive.Day(), naive.Hour(), naive.Minute(), naive.Second(), naive.Nanosecond(), e.Location())
}

// Occurrences yields occurrence starts of set anchored at dtstart inside the
// window (from-1d, to+1d). The padding absorbs time-of-day drift at the edges.
// The sequence is finite and may be ranged over more than once.
func (e *Engine) Occurrences(set RuleSet, dtstart, from, to time.Time) (iter.Seq[time.Time], error) {
	if to.Before(from) {
		return nil, ErrInvalidWindow
	}
	rs, err := e.build(set, dtstart)
	if err != nil {
		return nil, err
	}
	after := e.Naive(from).AddDate(0, 0, -1)
	before := e.Naive(to).AddDate(0, 0, 1)
	return func(yield func(time.Time) bool) {
		for _, occ := range rs.Between(after, before, false) {
			if !yield(occ) {
				return
			}
		}
	}, nil
}

// Between collects Occurrences into a slice of naive times.
func (e *Engine) Between(set RuleSet, dtstart, from, to time.Time) ([]time.Time, error) {
	seq, err := e.Occurrences(set, dtstart, from, to)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for occ := range seq {
		out = append(out, occ)
	}
	return out, nil
}

// NextAfter returns the first occurrence after (or at, when inclusive) the given
// instant. The boolean is false when the rule set is exhausted.
func (e *Engine) NextAfter(set RuleSet, dtstart, after time.Time, inclusive bool) (time.Time, bool, error) {
	rs, err := e.build(set, dtstart)
	if err != nil {
		return time.Time{}, false, err
	}
	next := rs.After(e.Naive(after), inclusive)
	if next.IsZero() {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// UntilBound returns the UNTIL of the first bounded rule. The boolean is false when
// no rule carries an UNTIL, meaning the recurrence is unbounded.
func (e *Engine) UntilBound(set RuleSet) (time.Time, bool) {
	for _, rule := range set.Rules {
		if rule.Until != nil {
			return *rule.Until, true
		}
	}
	return time.Time{}, false
}

// Materialize converts occurrence instants into the date-keyed map stored on events.
func Materialize(occurrences []time.Time) map[string]bool {
	out := make(map[string]bool, len(occurrences))
	for _, occ := range occurrences {
		out[occ.Format(DateKeyLayout)] = true
	}
	return out
}

// Dates returns the sorted dates marked true in a materialized occurrence map.
func Dates(occurrences map[string]bool) []time.Time {
	out := make([]time.Time, 0, len(occurrences))
	for key, ok := range occurrences {
		if !ok {
			continue
		}
		d, err := time.Parse(DateKeyLayout, key)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (e *Engine) build(set RuleSet, dtstart time.Time) (*rrule.Set, error) {
	if set.IsZero() {
		return nil, fmt.Errorf("%w: empty rule set", ErrMalformedRule)
	}
	anchor := e.Naive(dtstart)
	rs := &rrule.Set{}
	for i, rule := range set.Rules {
		opt, err := rule.option(anchor)
		if err != nil {
			return nil, &RuleError{Index: i, Err: err}
		}
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, &RuleError{Index: i, Err: fmt.Errorf("%w: %v", ErrMalformedRule, err)}
		}
		rs.RRule(r)
	}
	for _, ex := range set.ExDates {
		rs.ExDate(ex)
	}
	return rs, nil
}

var rruleFrequencies = map[Frequency]rrule.Frequency{
	FrequencyYearly:   rrule.YEARLY,
	FrequencyMonthly:  rrule.MONTHLY,
	FrequencyWeekly:   rrule.WEEKLY,
	FrequencyDaily:    rrule.DAILY,
	FrequencyHourly:   rrule.HOURLY,
	FrequencyMinutely: rrule.MINUTELY,
	FrequencySecondly: rrule.SECONDLY,
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

func (r Rule) option(dtstart time.Time) (rrule.ROption, error) {
	freq, ok := rruleFrequencies[r.Frequency]
	if !ok {
		return rrule.ROption{}, ErrInvalidFrequency
	}
	opt := rrule.ROption{
		Freq:       freq,
		Dtstart:    dtstart,
		Interval:   r.Interval,
		Count:      r.Count,
		Bymonth:    r.ByMonth,
		Bymonthday: r.ByMonthDay,
		Byhour:     r.ByHour,
		Byminute:   r.ByMinute,
		Bysecond:   r.BySecond,
	}
	if r.Until != nil {
		opt.Until = *r.Until
	}
	for _, wd := range r.Weekdays {
		day := rruleWeekdays[wd.Day]
		if wd.N != 0 {
			day = day.Nth(wd.N)
		}
		opt.Byweekday = append(opt.Byweekday, day)
	}
	return opt, nil
}
