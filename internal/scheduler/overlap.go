// Package scheduler holds the pure interval logic behind room bookings: the overlap
// predicates used for conflict checks and the availability resolver.
package scheduler

import (
	"time"

	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/recurrence"
)

// Mode selects how touching boundaries are treated.
type Mode int

const (
	// Strict uses half-open intervals: an event ending exactly when another starts
	// does not overlap it.
	Strict Mode = iota
	// Inclusive also counts touching endpoints.
	Inclusive
)

// Event is the subset of a stored event the overlap engine inspects.
type Event struct {
	ID           string
	Start        time.Time
	End          *time.Time
	Recurring    bool
	Occurrences  map[string]bool
	Availability persistence.Availability
}

// Window is the candidate period. A nil End makes it a point query.
type Window struct {
	Start time.Time
	End   *time.Time
}

// Query bundles a window with its matching regime. Location decides the local
// calendar date and time of day used for recurring events.
type Query struct {
	Window   Window
	Mode     Mode
	Location *time.Location
}

// Overlapping returns the events matched by q, preserving input order.
func Overlapping(events []Event, q Query) []Event {
	out := make([]Event, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if !q.Matches(e) {
			continue
		}
		if e.ID != "" {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
		}
		out = append(out, e)
	}
	return out
}

// Matches reports whether a single event falls inside the query.
//
// Non-recurring events compare absolute instants. Recurring events must have an
// occurrence on the calendar date of the window start, after which only the time of
// day of the event and the window are compared.
func (q Query) Matches(e Event) bool {
	if !e.Recurring {
		return intersects(
			span{start: e.Start, end: deref(e.End), open: e.End == nil},
			q.Window,
			q.Mode,
		)
	}

	engine := recurrence.NewEngine(q.Location)
	start := engine.Naive(q.Window.Start)
	if !e.Occurrences[start.Format(recurrence.DateKeyLayout)] {
		return false
	}

	ev := span{start: timeOfDay(engine.Naive(e.Start)), open: e.End == nil}
	if e.End != nil {
		ev.end = timeOfDay(engine.Naive(*e.End))
	}
	w := Window{Start: timeOfDay(start)}
	if q.Window.End != nil {
		end := timeOfDay(engine.Naive(*q.Window.End))
		w.End = &end
	}
	return intersects(ev, w, q.Mode)
}

// span is an event interval; open means the end is unknown and treated as +inf.
type span struct {
	start time.Time
	end   time.Time
	open  bool
}

func (s span) endsAfter(t time.Time) bool {
	return s.open || s.end.After(t)
}

func (s span) endsAtOrAfter(t time.Time) bool {
	return s.open || !s.end.Before(t)
}

func (s span) endsAtOrBefore(t time.Time) bool {
	return !s.open && !s.end.After(t)
}

// intersects evaluates the overlap of an event (SD..ED) with a window (S..E).
//
//	(1|2) S------E
//	(1|2)         S----------E
//	(1|2)        S---E
//	#3         S-----------E
//	#4     S------------------E
//	           SD---------ED
func intersects(ev span, w Window, mode Mode) bool {
	sd, s := ev.start, w.Start

	if w.End == nil {
		if mode == Inclusive {
			return !sd.After(s) && ev.endsAtOrAfter(s)
		}
		return sd.Before(s) && ev.endsAfter(s)
	}

	e := *w.End
	if mode == Inclusive {
		return (!sd.After(s) && ev.endsAtOrAfter(s)) ||
			(!sd.After(e) && ev.endsAtOrAfter(e)) ||
			sd.Equal(s) ||
			(!sd.Before(s) && ev.endsAtOrBefore(e))
	}
	return (sd.Before(s) && ev.endsAfter(s)) ||
		(sd.Before(e) && ev.endsAfter(e)) ||
		sd.Equal(s) ||
		(sd.After(s) && ev.endsAtOrBefore(e))
}

// timeOfDay projects t onto a fixed reference date so only its clock reading counts.
func timeOfDay(t time.Time) time.Time {
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
