package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/persistence/memory"
	"github.com/example/room-tracker/internal/tasks"
	"github.com/example/room-tracker/internal/testfixtures"
)

var base = time.Date(2024, time.May, 6, 12, 30, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2024, time.May, 6, hour, minute, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

// storeBackends runs a flow over both storage implementations.
var storeBackends = []struct {
	name string
	open func(t *testing.T) persistence.Store
}{
	{"memory", func(*testing.T) persistence.Store { return memory.New() }},
	{"sqlite", func(t *testing.T) persistence.Store { return testfixtures.NewSQLiteStore(t) }},
}

func newHarness(t *testing.T) (*testfixtures.Harness, application.RoomDetails) {
	t.Helper()
	return newHarnessOn(t, memory.New())
}

func newHarnessOn(t *testing.T, store persistence.Store) (*testfixtures.Harness, application.RoomDetails) {
	t.Helper()
	h := testfixtures.NewServiceFactory(
		testfixtures.WithClock(testfixtures.NewClock(base)),
		testfixtures.WithStore(store),
	).NewHarness()
	room, err := h.Rooms.CreateRoom(context.Background(), application.CreateRoomParams{Name: "Library"})
	require.NoError(t, err)
	return h, room
}

func resolvesAt(h *testfixtures.Harness, eta time.Time) int {
	n := 0
	for _, s := range h.Queue.Pending() {
		if s.Task.Name == application.TaskSetRoomAvailability && s.ETA.Equal(eta) {
			n++
		}
	}
	return n
}

func TestOccupyRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("creates busy event and records change", func(t *testing.T) {
		h, room := newHarness(t)

		event, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID:   room.Room.ID,
			AuthorID: "user-1",
			Start:    at(13, 0),
			End:      ptr(at(14, 0)),
			Name:     "  Study group ",
		})
		require.NoError(t, err)
		assert.Equal(t, persistence.AvailabilityBusy, event.Availability)
		assert.Equal(t, room.EventRoom.ID, event.RoomID)
		assert.Equal(t, "Study group", event.Name)
		assert.Equal(t, int64(3600), event.Duration)

		history, err := h.History.History(ctx, room.EventRoom.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, application.ChangeOccupyRoomCreated, history[0].Type)
		assert.Equal(t, `user-1 created busy room "Library"`, history[0].Name)
		assert.Equal(t, event.ID, history[0].SubjectID)

		assert.Equal(t, 1, resolvesAt(h, at(13, 0)))
		assert.Equal(t, 1, resolvesAt(h, at(14, 0)))
	})

	t.Run("partial overlap is rejected without side effects", func(t *testing.T) {
		h, room := newHarness(t)
		_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(13, 0), End: ptr(at(14, 0)),
		})
		require.NoError(t, err)
		pending := h.Queue.Len()

		_, err = h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(13, 30), End: ptr(at(14, 30)),
		})
		var conflict *application.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.ErrorIs(t, err, application.ErrOverlapExists)

		events, err := h.Rooms.ListEvents(ctx, room.Room.ID)
		require.NoError(t, err)
		assert.Len(t, events, 1)
		history, err := h.History.History(ctx, room.EventRoom.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
		assert.Equal(t, pending, h.Queue.Len())
	})

	t.Run("touching intervals are allowed", func(t *testing.T) {
		h, room := newHarness(t)
		_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(13, 0), End: ptr(at(14, 0)),
		})
		require.NoError(t, err)
		_, err = h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(14, 0), End: ptr(at(15, 0)),
		})
		require.NoError(t, err)
	})

	t.Run("open occupation blocks another", func(t *testing.T) {
		h, room := newHarness(t)
		_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(12, 0),
		})
		require.NoError(t, err)
		_, err = h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(18, 0), End: ptr(at(19, 0)),
		})
		assert.ErrorIs(t, err, application.ErrOpenEventExists)
	})

	t.Run("other authors do not conflict", func(t *testing.T) {
		h, room := newHarness(t)
		_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(13, 0), End: ptr(at(14, 0)),
		})
		require.NoError(t, err)
		_, err = h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-2", Start: at(13, 0), End: ptr(at(14, 0)),
		})
		require.NoError(t, err)
	})

	t.Run("validation", func(t *testing.T) {
		h, room := newHarness(t)
		cases := []struct {
			name   string
			params application.OccupyRoomParams
			field  string
		}{
			{"missing room", application.OccupyRoomParams{AuthorID: "user-1", Start: at(13, 0)}, "room_id"},
			{"missing start", application.OccupyRoomParams{RoomID: room.Room.ID, AuthorID: "user-1"}, "start_date"},
			{"end before start", application.OccupyRoomParams{RoomID: room.Room.ID, AuthorID: "user-1", Start: at(13, 0), End: ptr(at(12, 0))}, "end_date"},
			{"too long", application.OccupyRoomParams{RoomID: room.Room.ID, AuthorID: "user-1", Start: at(0, 0), End: ptr(at(17, 0))}, "end_date"},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := h.Booking.OccupyRoom(ctx, tc.params)
				var vErr *application.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Contains(t, vErr.FieldErrors, tc.field)
			})
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		h, _ := newHarness(t)
		_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: "missing", AuthorID: "user-1", Start: at(13, 0),
		})
		assert.ErrorIs(t, err, application.ErrNotFound)
	})
}

func TestFreeRoom(t *testing.T) {
	ctx := context.Background()

	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			newHarness := func(t *testing.T) (*testfixtures.Harness, application.RoomDetails) {
				return newHarnessOn(t, backend.open(t))
			}

			t.Run("closes the open occupation and frees the room at its end", func(t *testing.T) {
				h, room := newHarness(t)
				_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
					RoomID: room.Room.ID, AuthorID: "user-1", Start: at(12, 0),
				})
				require.NoError(t, err)
				h.RunDue(ctx)

				details, err := h.Rooms.GetRoom(ctx, room.Room.ID)
				require.NoError(t, err)
				assert.Equal(t, persistence.AvailabilityBusy, details.EventRoom.Availability)

				event, err := h.Booking.FreeRoom(ctx, application.FreeRoomParams{
					RoomID: room.Room.ID, AuthorID: "user-1", End: at(13, 0),
				})
				require.NoError(t, err)
				require.NotNil(t, event.EndDate)
				assert.True(t, event.EndDate.Equal(at(13, 0)))
				assert.Equal(t, int64(3600), event.Duration)
				assert.Equal(t, 1, resolvesAt(h, at(13, 0)))

				h.RunDue(ctx)
				details, err = h.Rooms.GetRoom(ctx, room.Room.ID)
				require.NoError(t, err)
				assert.Equal(t, persistence.AvailabilityBusy, details.EventRoom.Availability)

				h.AdvanceAndRun(ctx, 30*time.Minute)
				details, err = h.Rooms.GetRoom(ctx, room.Room.ID)
				require.NoError(t, err)
				assert.Equal(t, persistence.AvailabilityFree, details.EventRoom.Availability)

				history, err := h.History.History(ctx, room.EventRoom.ID)
				require.NoError(t, err)
				require.Len(t, history, 2)
				assert.Equal(t, application.ChangeOccupyRoomEdited, history[1].Type)
				assert.Equal(t, `user-1 released room "Library" at 2024-05-06 13:00`, history[1].Name)
			})

			t.Run("nothing to free", func(t *testing.T) {
				h, room := newHarness(t)
				_, err := h.Booking.FreeRoom(ctx, application.FreeRoomParams{
					RoomID: room.Room.ID, AuthorID: "user-1", End: at(13, 0),
				})
				assert.ErrorIs(t, err, application.ErrNoOpenEvent)
			})

			t.Run("open occupation of another room", func(t *testing.T) {
				h, room := newHarness(t)
				other, err := h.Rooms.CreateRoom(ctx, application.CreateRoomParams{Name: "Lab"})
				require.NoError(t, err)
				_, err = h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
					RoomID: other.Room.ID, AuthorID: "user-1", Start: at(12, 0),
				})
				require.NoError(t, err)

				_, err = h.Booking.FreeRoom(ctx, application.FreeRoomParams{
					RoomID: room.Room.ID, AuthorID: "user-1", End: at(13, 0),
				})
				assert.ErrorIs(t, err, application.ErrWrongRoom)
			})

			t.Run("end before start", func(t *testing.T) {
				h, room := newHarness(t)
				_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
					RoomID: room.Room.ID, AuthorID: "user-1", Start: at(12, 0),
				})
				require.NoError(t, err)
				_, err = h.Booking.FreeRoom(ctx, application.FreeRoomParams{
					RoomID: room.Room.ID, AuthorID: "user-1", End: at(11, 0),
				})
				var vErr *application.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Contains(t, vErr.FieldErrors, "end_date")

				open, err := h.Store.ListEvents(ctx, persistence.EventFilter{AuthorID: "user-1", OpenOnly: true})
				require.NoError(t, err)
				assert.Len(t, open, 1)
			})
		})
	}
}

func TestReportUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("without end stores a report", func(t *testing.T) {
		h, room := newHarness(t)
		result, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(12, 0),
		})
		require.NoError(t, err)
		require.NotNil(t, result.Report)
		assert.Nil(t, result.Event)
		assert.Equal(t, "Unavailable", result.Report.Name)
		assert.Equal(t, persistence.AvailabilityUnavailable, result.Report.Availability)

		history, err := h.History.History(ctx, room.EventRoom.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, application.ChangeReportRoomUnavailableCreated, history[0].Type)
		assert.Equal(t, application.SubjectKindReport, history[0].SubjectKind)
	})

	t.Run("with end creates an all day event", func(t *testing.T) {
		h, room := newHarness(t)
		start := time.Date(2024, time.May, 7, 0, 0, 0, 0, time.UTC)
		result, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: start, End: ptr(start.Add(24 * time.Hour)), Name: "Painting",
		})
		require.NoError(t, err)
		require.NotNil(t, result.Event)
		assert.Nil(t, result.Report)
		assert.True(t, result.Event.IsAllDay)
		assert.False(t, result.Event.IsRecurring)
		assert.Equal(t, persistence.AvailabilityUnavailable, result.Event.Availability)
		assert.Equal(t, 1, resolvesAt(h, start))
		assert.Equal(t, 1, resolvesAt(h, start.Add(24*time.Hour)))
	})

	t.Run("recurrence requires end", func(t *testing.T) {
		h, room := newHarness(t)
		_, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(9, 0), Recurrence: "RRULE:FREQ=DAILY",
		})
		var vErr *application.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "recurrence")
	})

	t.Run("invalid recurrence", func(t *testing.T) {
		h, room := newHarness(t)
		_, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(9, 0), End: ptr(at(10, 0)), Recurrence: "RRULE:FREQ=HOURLY",
		})
		var vErr *application.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "recurrence")
	})

	t.Run("recurring event starts occurrence materialization", func(t *testing.T) {
		h, room := newHarness(t)
		result, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(9, 0), End: ptr(at(10, 0)), Recurrence: "RRULE:FREQ=DAILY",
		})
		require.NoError(t, err)
		require.NotNil(t, result.Event)
		assert.True(t, result.Event.IsRecurring)

		found := false
		for _, s := range h.Queue.Pending() {
			if s.Task.Name == application.TaskSetEventOccurrences && s.Task.Arg("event_id") == result.Event.ID {
				found = true
			}
		}
		assert.True(t, found, "expected a pending occurrence task")
	})
}

func TestReportFreeAndBusy(t *testing.T) {
	ctx := context.Background()
	h, room := newHarness(t)

	free, err := h.Booking.ReportFree(ctx, application.ReportParams{
		RoomID: room.Room.ID, AuthorID: "user-1", ReportedUsers: []string{"ignored"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Free", free.Name)
	assert.Empty(t, free.ReportedUsers)
	assert.True(t, free.Date.Equal(base))

	busy, err := h.Booking.ReportBusy(ctx, application.ReportParams{
		RoomID: room.Room.ID, AuthorID: "user-1", Date: at(11, 0), ReportedUsers: []string{"user-2", "user-3"},
	})
	require.NoError(t, err)
	assert.Equal(t, persistence.AvailabilityBusy, busy.Availability)
	assert.Equal(t, []string{"user-2", "user-3"}, busy.ReportedUsers)

	reports, err := h.Rooms.ListReports(ctx, room.Room.ID)
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	history, err := h.History.History(ctx, room.EventRoom.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, application.ChangeReportRoomFreeCreated, history[0].Type)
	assert.Equal(t, `user-1 reported busy room "Library" at 2024-05-06 11:00`, history[1].Name)

	_, err = h.Booking.ReportBusy(ctx, application.ReportParams{
		RoomID: room.Room.ID, AuthorID: "user-1", ReportedUsers: []string{""},
	})
	var vErr *application.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestEditAndDeleteEvents(t *testing.T) {
	ctx := context.Background()

	occupy := func(t *testing.T, h *testfixtures.Harness, room application.RoomDetails) persistence.Event {
		t.Helper()
		event, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(13, 0), End: ptr(at(14, 0)),
		})
		require.NoError(t, err)
		return event
	}

	t.Run("edit changes dates and records the change", func(t *testing.T) {
		h, room := newHarness(t)
		event := occupy(t, h, room)

		edited, err := h.Booking.EditOccupyRoom(ctx, application.EditEventParams{
			EventID: event.ID, AuthorID: "user-1", End: ptr(at(15, 0)),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7200), edited.Duration)

		history, err := h.History.History(ctx, room.EventRoom.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, application.ChangeOccupyRoomEdited, history[1].Type)
	})

	t.Run("edit without changes is a no-op", func(t *testing.T) {
		h, room := newHarness(t)
		event := occupy(t, h, room)

		same, err := h.Booking.EditOccupyRoom(ctx, application.EditEventParams{
			EventID: event.ID, AuthorID: "user-1", End: ptr(at(14, 0)),
		})
		require.NoError(t, err)
		assert.Equal(t, event.ID, same.ID)

		history, err := h.History.History(ctx, room.EventRoom.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("edit into an overlap is rejected", func(t *testing.T) {
		h, room := newHarness(t)
		event := occupy(t, h, room)
		_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
			RoomID: room.Room.ID, AuthorID: "user-1", Start: at(15, 0), End: ptr(at(16, 0)),
		})
		require.NoError(t, err)

		_, err = h.Booking.EditOccupyRoom(ctx, application.EditEventParams{
			EventID: event.ID, AuthorID: "user-1", End: ptr(at(15, 30)),
		})
		assert.ErrorIs(t, err, application.ErrOverlapExists)
	})

	t.Run("wrong kind", func(t *testing.T) {
		h, room := newHarness(t)
		event := occupy(t, h, room)

		_, err := h.Booking.EditReportUnavailableEvent(ctx, application.EditEventParams{
			EventID: event.ID, AuthorID: "user-1", Name: ptr("x"),
		})
		var sErr *application.StateError
		require.ErrorAs(t, err, &sErr)
		assert.ErrorIs(t, err, application.ErrNotUnavailable)

		_, err = h.Booking.DeleteReportUnavailableEvent(ctx, application.DeleteEventParams{EventID: event.ID, AuthorID: "user-1"})
		assert.ErrorIs(t, err, application.ErrNotUnavailable)
	})

	t.Run("recurrence on an occupation", func(t *testing.T) {
		h, room := newHarness(t)
		event := occupy(t, h, room)
		_, err := h.Booking.EditOccupyRoom(ctx, application.EditEventParams{
			EventID: event.ID, AuthorID: "user-1", Recurrence: ptr("RRULE:FREQ=DAILY"),
		})
		var vErr *application.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "recurrence")
	})

	t.Run("delete hides the event", func(t *testing.T) {
		h, room := newHarness(t)
		event := occupy(t, h, room)

		deleted, err := h.Booking.DeleteOccupyRoom(ctx, application.DeleteEventParams{EventID: event.ID, AuthorID: "user-1"})
		require.NoError(t, err)
		assert.True(t, deleted.Deleted)
		require.NotNil(t, deleted.DeletedAt)

		_, err = h.Booking.Event(ctx, event.ID)
		assert.ErrorIs(t, err, application.ErrNotFound)
		_, err = h.Booking.EditOccupyRoom(ctx, application.EditEventParams{EventID: event.ID, AuthorID: "user-1", Name: ptr("x")})
		assert.ErrorIs(t, err, application.ErrNotFound)
		_, err = h.Booking.DeleteOccupyRoom(ctx, application.DeleteEventParams{EventID: event.ID, AuthorID: "user-1"})
		assert.ErrorIs(t, err, application.ErrNotFound)

		events, err := h.Rooms.ListEvents(ctx, room.Room.ID)
		require.NoError(t, err)
		assert.Empty(t, events)

		history, err := h.History.History(ctx, room.EventRoom.ID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, application.ChangeOccupyRoomDeleted, history[1].Type)
		assert.Equal(t, `user-1 deleted busy room "Library"`, history[1].Name)
	})

	t.Run("unknown event", func(t *testing.T) {
		h, _ := newHarness(t)
		_, err := h.Booking.DeleteOccupyRoom(ctx, application.DeleteEventParams{EventID: "missing", AuthorID: "user-1"})
		assert.ErrorIs(t, err, application.ErrNotFound)
	})
}

func TestSetEventOccurrences(t *testing.T) {
	ctx := context.Background()

	for _, backend := range storeBackends {
		t.Run(backend.name, func(t *testing.T) {
			newHarness := func(t *testing.T) (*testfixtures.Harness, application.RoomDetails) {
				return newHarnessOn(t, backend.open(t))
			}

			t.Run("non recurring events have nothing to schedule", func(t *testing.T) {
				h, room := newHarness(t)
				result, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
					RoomID: room.Room.ID, AuthorID: "user-1", Start: at(9, 0), End: ptr(at(10, 0)),
				})
				require.NoError(t, err)

				next, err := h.Booking.SetEventOccurrences(ctx, application.SetOccurrencesParams{EventID: result.Event.ID})
				require.NoError(t, err)
				assert.Nil(t, next)
			})

			t.Run("daily rule over a week", func(t *testing.T) {
				h, room := newHarness(t)
				result, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
					RoomID: room.Room.ID, AuthorID: "user-1", Start: at(9, 0), End: ptr(at(10, 0)), Recurrence: "RRULE:FREQ=DAILY",
				})
				require.NoError(t, err)
				h.Queue.Clear()

				window := at(9, 0)
				next, err := h.Booking.SetEventOccurrences(ctx, application.SetOccurrencesParams{
					EventID:     result.Event.ID,
					WindowStart: &window,
					Period:      7 * 24 * time.Hour,
				})
				require.NoError(t, err)
				require.NotNil(t, next)
				assert.True(t, next.Equal(time.Date(2024, time.May, 13, 9, 0, 0, 0, time.UTC)), "next sync %v", next)

				event, err := h.Booking.Event(ctx, result.Event.ID)
				require.NoError(t, err)
				assert.Len(t, event.Occurrences, 8)
				assert.True(t, event.Occurrences["2024-05-06"])
				assert.True(t, event.Occurrences["2024-05-13"])
				require.NotNil(t, event.NextOccurrence)
				assert.True(t, event.NextOccurrence.Equal(at(9, 0)))

				chain := 0
				for _, s := range h.Queue.Pending() {
					if s.Task.Name == application.TaskScheduleRecurringAvailability {
						chain++
						assert.Equal(t, "2024-05-06", s.Task.Arg("date"))
						assert.Equal(t, "2024-05-13", s.Task.Arg("until"))
					}
				}
				assert.Equal(t, 1, chain)
			})

			t.Run("short period is widened to two days", func(t *testing.T) {
				h, room := newHarness(t)
				result, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
					RoomID: room.Room.ID, AuthorID: "user-1", Start: at(9, 0), End: ptr(at(10, 0)), Recurrence: "RRULE:FREQ=DAILY",
				})
				require.NoError(t, err)

				window := at(9, 0)
				next, err := h.Booking.SetEventOccurrences(ctx, application.SetOccurrencesParams{
					EventID:     result.Event.ID,
					WindowStart: &window,
					Period:      time.Nanosecond,
				})
				require.NoError(t, err)
				require.NotNil(t, next)
				assert.True(t, next.After(base), "next sync %v is not after now", next)
				assert.True(t, next.Equal(time.Date(2024, time.May, 8, 9, 0, 0, 0, time.UTC)), "next sync %v", next)

				event, err := h.Booking.Event(ctx, result.Event.ID)
				require.NoError(t, err)
				assert.True(t, event.Occurrences["2024-05-07"])
			})

			t.Run("rule exhausted before the window", func(t *testing.T) {
				h, room := newHarness(t)
				result, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
					RoomID: room.Room.ID, AuthorID: "user-1", Start: at(9, 0), End: ptr(at(10, 0)), Recurrence: "RRULE:FREQ=DAILY;UNTIL=20240507T090000Z",
				})
				require.NoError(t, err)

				window := time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)
				next, err := h.Booking.SetEventOccurrences(ctx, application.SetOccurrencesParams{EventID: result.Event.ID, WindowStart: &window})
				require.NoError(t, err)
				assert.Nil(t, next)
			})
		})
	}
}

func TestRecurringAvailability(t *testing.T) {
	ctx := context.Background()
	h, room := newHarness(t)

	result, err := h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
		RoomID: room.Room.ID, AuthorID: "user-1", Start: at(9, 0), End: ptr(at(10, 0)), Recurrence: "RRULE:FREQ=DAILY",
	})
	require.NoError(t, err)
	h.RunDue(ctx)

	event, err := h.Booking.Event(ctx, result.Event.ID)
	require.NoError(t, err)
	assert.True(t, event.Occurrences["2024-05-07"])

	tomorrow := time.Date(2024, time.May, 7, 9, 0, 0, 0, time.UTC)
	assert.GreaterOrEqual(t, resolvesAt(h, tomorrow), 1)

	availability, err := h.Availability.AvailabilityAt(ctx, room.Room.ID, tomorrow.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, persistence.AvailabilityUnavailable, availability)

	availability, err = h.Availability.AvailabilityAt(ctx, room.Room.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, persistence.AvailabilityFree, availability)
}

func TestAvailabilityAt(t *testing.T) {
	ctx := context.Background()
	h, room := newHarness(t)

	_, err := h.Booking.OccupyRoom(ctx, application.OccupyRoomParams{
		RoomID: room.Room.ID, AuthorID: "user-1", Start: at(13, 0), End: ptr(at(14, 0)),
	})
	require.NoError(t, err)
	_, err = h.Booking.ReportUnavailable(ctx, application.ReportUnavailableParams{
		RoomID: room.Room.ID, AuthorID: "user-2", Start: at(13, 30), End: ptr(at(15, 0)),
	})
	require.NoError(t, err)

	cases := []struct {
		at   time.Time
		want persistence.Availability
	}{
		{at(12, 0), persistence.AvailabilityFree},
		{at(13, 0), persistence.AvailabilityBusy},
		{at(13, 45), persistence.AvailabilityUnknown},
		{at(14, 30), persistence.AvailabilityUnavailable},
		{at(15, 0), persistence.AvailabilityFree},
	}
	for _, tc := range cases {
		got, err := h.Availability.AvailabilityAt(ctx, room.Room.ID, tc.at)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "at %s", tc.at.Format(time.Kitchen))
	}

	_, err = h.Availability.AvailabilityAt(ctx, "missing", at(12, 0))
	assert.ErrorIs(t, err, application.ErrNotFound)
}

func TestSetRoomAvailabilityPublishesOnChange(t *testing.T) {
	ctx := context.Background()
	h, room := newHarness(t)

	var changes []application.AvailabilityChanged
	h.Signals.RoomAvailabilityChanged.Subscribe(func(_ context.Context, c application.AvailabilityChanged) error {
		changes = append(changes, c)
		return nil
	})

	eventRoom, changed, err := h.Availability.SetRoomAvailability(ctx, room.EventRoom.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, persistence.AvailabilityFree, eventRoom.Availability)

	_, changed, err = h.Availability.SetRoomAvailability(ctx, room.EventRoom.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	require.Len(t, changes, 1)
	assert.Equal(t, persistence.AvailabilityUnknown, changes[0].Previous)
}

func TestTaskHandlersAreRegistered(t *testing.T) {
	h, room := newHarness(t)
	err := h.Registry.Handle(context.Background(), tasks.New(application.TaskSetRoomAvailability, map[string]string{
		"event_room_id": room.EventRoom.ID,
	}))
	require.NoError(t, err)

	err = h.Registry.Handle(context.Background(), tasks.New(application.TaskSetRoomAvailability, map[string]string{
		"event_room_id": "missing",
	}))
	assert.True(t, errors.Is(err, application.ErrNotFound))
}
