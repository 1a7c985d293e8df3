package scheduler

import (
	"time"

	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/recurrence"
)

// Resolve derives a room's availability at the given instant from the events that
// overlap it (inclusive point query).
//
// An event ending exactly at the instant's time of day frees the room at that
// moment. Mixed availabilities resolve to UNKNOWN.
func Resolve(matches []Event, at time.Time, loc *time.Location) persistence.Availability {
	if len(matches) == 0 {
		return persistence.AvailabilityFree
	}

	engine := recurrence.NewEngine(loc)
	if latest, ok := latestEnding(matches, engine); ok {
		if timeOfDay(latest).Equal(timeOfDay(engine.Naive(at))) {
			return persistence.AvailabilityFree
		}
	}

	distinct := make(map[persistence.Availability]struct{}, 2)
	for _, m := range matches {
		distinct[m.Availability] = struct{}{}
	}
	if len(distinct) > 1 {
		return persistence.AvailabilityUnknown
	}
	switch matches[0].Availability {
	case persistence.AvailabilityUnavailable:
		return persistence.AvailabilityUnavailable
	case persistence.AvailabilityBusy:
		return persistence.AvailabilityBusy
	default:
		return persistence.AvailabilityUnknown
	}
}

// latestEnding returns the naive end of the event whose end has the greatest time of
// day. An open event outlasts every closed one, so no end is reported in that case.
func latestEnding(events []Event, engine *recurrence.Engine) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, e := range events {
		if e.End == nil {
			return time.Time{}, false
		}
		end := engine.Naive(*e.End)
		if !found || timeOfDay(end).After(timeOfDay(latest)) {
			latest = end
			found = true
		}
	}
	return latest, found
}
