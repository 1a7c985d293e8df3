package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/room-tracker/internal/persistence"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	busy := closed("busy", at(12, 0), at(13, 0))
	unavailable := Event{ID: "off", Start: at(11, 0), End: ptr(at(14, 0)), Availability: persistence.AvailabilityUnavailable}
	open := Event{ID: "open", Start: at(10, 0), Availability: persistence.AvailabilityBusy}

	cases := []struct {
		name    string
		matches []Event
		probe   int
		want    persistence.Availability
	}{
		{name: "no events", matches: nil, probe: 12, want: persistence.AvailabilityFree},
		{name: "single busy", matches: []Event{busy}, probe: 12, want: persistence.AvailabilityBusy},
		{name: "ends exactly now", matches: []Event{busy}, probe: 13, want: persistence.AvailabilityFree},
		{name: "single unavailable", matches: []Event{unavailable}, probe: 12, want: persistence.AvailabilityUnavailable},
		{name: "mixed", matches: []Event{busy, unavailable}, probe: 12, want: persistence.AvailabilityUnknown},
		{name: "open occupation stays busy", matches: []Event{open}, probe: 12, want: persistence.AvailabilityBusy},
		{name: "unknown availability", matches: []Event{{ID: "u", Start: at(12, 0), End: ptr(at(13, 0)), Availability: persistence.AvailabilityUnknown}}, probe: 12, want: persistence.AvailabilityUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Resolve(tc.matches, at(tc.probe, 0), nil))
		})
	}
}

func TestResolve_LatestEndingDecides(t *testing.T) {
	t.Parallel()

	// Both events end at or before 13:00; the later one ends exactly at the probe.
	early := Event{ID: "early", Start: at(11, 0), End: ptr(at(12, 30)), Availability: persistence.AvailabilityBusy}
	late := closed("late", at(12, 0), at(13, 0))

	assert.Equal(t, persistence.AvailabilityFree, Resolve([]Event{early, late}, at(13, 0), nil))
}
