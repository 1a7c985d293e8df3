package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency represents supported recurrence intervals, ordered from coarsest to finest.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	FrequencyYearly
	FrequencyMonthly
	FrequencyWeekly
	FrequencyDaily
	FrequencyHourly
	FrequencyMinutely
	FrequencySecondly
)

var frequencyNames = map[Frequency]string{
	FrequencyYearly:   "YEARLY",
	FrequencyMonthly:  "MONTHLY",
	FrequencyWeekly:   "WEEKLY",
	FrequencyDaily:    "DAILY",
	FrequencyHourly:   "HOURLY",
	FrequencyMinutely: "MINUTELY",
	FrequencySecondly: "SECONDLY",
}

// String returns the RFC 5545 name of the frequency.
func (f Frequency) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return "UNSPECIFIED"
}

func parseFrequency(value string) (Frequency, error) {
	for freq, name := range frequencyNames {
		if strings.EqualFold(name, value) {
			return freq, nil
		}
	}
	return FrequencyUnspecified, fmt.Errorf("%w: %q", ErrInvalidFrequency, value)
}

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// WeekdayNum is a BYDAY entry. N is the optional ordinal ("1MO", "-1FR"); zero means every.
type WeekdayNum struct {
	Day time.Weekday
	N   int
}

func (w WeekdayNum) String() string {
	if w.N == 0 {
		return weekdayCodes[w.Day]
	}
	return strconv.Itoa(w.N) + weekdayCodes[w.Day]
}

// Rule is a single RRULE.
type Rule struct {
	Frequency  Frequency
	Interval   int
	Count      int
	Until      *time.Time
	Weekdays   []WeekdayNum
	ByMonth    []int
	ByMonthDay []int
	ByHour     []int
	ByMinute   []int
	BySecond   []int
}

// RuleSet is the recurrence attached to an event: one or more rules plus excluded dates.
type RuleSet struct {
	Rules   []Rule
	ExDates []time.Time
}

// IsZero reports whether the set carries no rules.
func (s RuleSet) IsZero() bool {
	return len(s.Rules) == 0
}

const (
	naiveLayout = "20060102T150405"
	utcLayout   = "20060102T150405Z"
	dateLayout  = "20060102"
)

// ErrMalformedRule indicates the recurrence text could not be parsed.
var ErrMalformedRule = errors.New("recurrence: malformed rule")

// Parse reads RFC 5545 RRULE and EXDATE lines. DTSTART lines are ignored; the
// anchor always comes from the event start.
func Parse(text string) (RuleSet, error) {
	var set RuleSet
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			// bare "FREQ=..." is accepted as an RRULE body
			name, value = "RRULE", line
		}
		switch strings.ToUpper(name) {
		case "RRULE":
			rule, err := parseRule(value)
			if err != nil {
				return RuleSet{}, err
			}
			set.Rules = append(set.Rules, rule)
		case "EXDATE":
			for _, item := range strings.Split(value, ",") {
				t, err := parseStamp(item)
				if err != nil {
					return RuleSet{}, err
				}
				set.ExDates = append(set.ExDates, t)
			}
		case "DTSTART":
		default:
			return RuleSet{}, fmt.Errorf("%w: unsupported property %q", ErrMalformedRule, name)
		}
	}
	if len(set.Rules) == 0 {
		return RuleSet{}, fmt.Errorf("%w: no RRULE found", ErrMalformedRule)
	}
	return set, nil
}

func parseRule(body string) (Rule, error) {
	rule := Rule{Interval: 1}
	for _, part := range strings.Split(body, ";") {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, fmt.Errorf("%w: %q", ErrMalformedRule, part)
		}
		var err error
		switch strings.ToUpper(key) {
		case "FREQ":
			rule.Frequency, err = parseFrequency(value)
		case "INTERVAL":
			rule.Interval, err = strconv.Atoi(value)
			if err == nil && rule.Interval <= 0 {
				err = fmt.Errorf("%w: interval must be positive", ErrMalformedRule)
			}
		case "COUNT":
			rule.Count, err = strconv.Atoi(value)
		case "UNTIL":
			var until time.Time
			until, err = parseStamp(value)
			rule.Until = &until
		case "BYDAY":
			rule.Weekdays, err = parseWeekdays(value)
		case "BYMONTH":
			rule.ByMonth, err = parseInts(value)
		case "BYMONTHDAY":
			rule.ByMonthDay, err = parseInts(value)
		case "BYHOUR":
			rule.ByHour, err = parseInts(value)
		case "BYMINUTE":
			rule.ByMinute, err = parseInts(value)
		case "BYSECOND":
			rule.BySecond, err = parseInts(value)
		case "WKST":
		default:
			err = fmt.Errorf("%w: unsupported part %q", ErrMalformedRule, key)
		}
		if err != nil {
			return Rule{}, err
		}
	}
	if rule.Frequency == FrequencyUnspecified {
		return Rule{}, fmt.Errorf("%w: FREQ is required", ErrMalformedRule)
	}
	return rule, nil
}

func parseStamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{utcLayout, naiveLayout, dateLayout} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrMalformedRule, value)
}

func parseWeekdays(value string) ([]WeekdayNum, error) {
	items := strings.Split(value, ",")
	out := make([]WeekdayNum, 0, len(items))
	for _, item := range items {
		item = strings.ToUpper(strings.TrimSpace(item))
		if len(item) < 2 {
			return nil, fmt.Errorf("%w: BYDAY %q", ErrMalformedRule, item)
		}
		code, ordinal := item[len(item)-2:], item[:len(item)-2]
		day := -1
		for i, c := range weekdayCodes {
			if c == code {
				day = i
			}
		}
		if day < 0 {
			return nil, fmt.Errorf("%w: BYDAY %q", ErrMalformedRule, item)
		}
		wd := WeekdayNum{Day: time.Weekday(day)}
		if ordinal != "" {
			n, err := strconv.Atoi(strings.TrimPrefix(ordinal, "+"))
			if err != nil {
				return nil, fmt.Errorf("%w: BYDAY %q", ErrMalformedRule, item)
			}
			wd.N = n
		}
		out = append(out, wd)
	}
	return out, nil
}

func parseInts(value string) ([]int, error) {
	items := strings.Split(value, ",")
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrMalformedRule, item)
		}
		out = append(out, n)
	}
	return out, nil
}

// String renders the rule body (without the RRULE: prefix).
func (r Rule) String() string {
	parts := []string{"FREQ=" + r.Frequency.String()}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.Format(naiveLayout))
	}
	if len(r.Weekdays) > 0 {
		days := make([]string, len(r.Weekdays))
		for i, wd := range r.Weekdays {
			days[i] = wd.String()
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	parts = appendInts(parts, "BYMONTH", r.ByMonth)
	parts = appendInts(parts, "BYMONTHDAY", r.ByMonthDay)
	parts = appendInts(parts, "BYHOUR", r.ByHour)
	parts = appendInts(parts, "BYMINUTE", r.ByMinute)
	parts = appendInts(parts, "BYSECOND", r.BySecond)
	return strings.Join(parts, ";")
}

func appendInts(parts []string, key string, values []int) []string {
	if len(values) == 0 {
		return parts
	}
	items := make([]string, len(values))
	for i, v := range values {
		items[i] = strconv.Itoa(v)
	}
	return append(parts, key+"="+strings.Join(items, ","))
}

// String renders the set as newline separated RRULE and EXDATE lines.
func (s RuleSet) String() string {
	lines := make([]string, 0, len(s.Rules)+1)
	for _, rule := range s.Rules {
		lines = append(lines, "RRULE:"+rule.String())
	}
	if len(s.ExDates) > 0 {
		dates := make([]time.Time, len(s.ExDates))
		copy(dates, s.ExDates)
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		items := make([]string, len(dates))
		for i, d := range dates {
			items[i] = d.Format(naiveLayout)
		}
		lines = append(lines, "EXDATE:"+strings.Join(items, ","))
	}
	return strings.Join(lines, "\n")
}
