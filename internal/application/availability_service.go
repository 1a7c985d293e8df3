package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/room-tracker/internal/notify"
	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/recurrence"
	"github.com/example/room-tracker/internal/scheduler"
	"github.com/example/room-tracker/internal/tasks"
)

// Task names handled by the availability workers.
const (
	TaskSetRoomAvailability           = "set_event_room_availability"
	TaskSetEventOccurrences           = "set_event_occurrences"
	TaskScheduleRecurringAvailability = "schedule_recurring_availability"
)

// AvailabilityService keeps each room's cached availability in step with its
// events. Booking signals schedule resolve tasks at the instants where the
// answer can change; the tasks recompute and store the result.
type AvailabilityService struct {
	store   persistence.Store
	signals *Signals
	queue   tasks.Scheduler
	booking *BookingService
	engine  *recurrence.Engine
	cache   *resolveCache
	now     func() time.Time
	logger  *slog.Logger
}

// NewAvailabilityService wires the service. booking supplies the signals and
// the occurrence materialization used by the occurrence task.
func NewAvailabilityService(store persistence.Store, booking *BookingService, queue tasks.Scheduler, now func() time.Time, logger *slog.Logger) *AvailabilityService {
	if now == nil {
		now = time.Now
	}
	return &AvailabilityService{
		store:   store,
		signals: booking.Signals(),
		queue:   queue,
		booking: booking,
		engine:  booking.engine,
		cache:   newResolveCache(0, 0, now),
		now:     now,
		logger:  defaultLogger(logger),
	}
}

func (s *AvailabilityService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AvailabilityService", operation, attrs...)
}

// ResolveRoom computes the availability of an event room at the given instant.
func (s *AvailabilityService) ResolveRoom(ctx context.Context, eventRoomID string, at time.Time) (persistence.Availability, error) {
	if _, err := s.store.GetEventRoom(ctx, eventRoomID); err != nil {
		return persistence.AvailabilityUnknown, mapRepoError(err)
	}
	events, err := s.store.ListEvents(ctx, persistence.EventFilter{RoomID: eventRoomID})
	if err != nil {
		return persistence.AvailabilityUnknown, err
	}
	matches := scheduler.Overlapping(toSchedulerEvents(events), scheduler.Query{
		Window:   scheduler.Window{Start: at},
		Mode:     scheduler.Inclusive,
		Location: s.engine.Location(),
	})
	return scheduler.Resolve(matches, at, s.engine.Location()), nil
}

// AvailabilityAt answers a read query for a catalog room. A zero at means now.
// Answers are cached until an event of the room changes.
func (s *AvailabilityService) AvailabilityAt(ctx context.Context, roomID string, at time.Time) (persistence.Availability, error) {
	eventRoom, err := s.store.GetEventRoomByRoom(ctx, roomID)
	if err != nil {
		return persistence.AvailabilityUnknown, mapRepoError(err)
	}
	if at.IsZero() {
		at = s.now().Truncate(time.Second)
	}
	if cached, ok := s.cache.Get(eventRoom.ID, at); ok {
		return cached, nil
	}
	availability, err := s.ResolveRoom(ctx, eventRoom.ID, at)
	if err != nil {
		return persistence.AvailabilityUnknown, err
	}
	s.cache.Store(eventRoom.ID, at, availability)
	return availability, nil
}

// SetRoomAvailability recomputes an event room's availability now and stores
// it when it moved. The boolean reports whether it did.
func (s *AvailabilityService) SetRoomAvailability(ctx context.Context, eventRoomID string) (eventRoom persistence.EventRoom, changed bool, err error) {
	logger := s.loggerWith(ctx, "SetRoomAvailability", "event_room_id", eventRoomID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to set room availability", err)
			return
		}
		if changed {
			logger.InfoContext(ctx, "room availability changed", "availability", eventRoom.Availability)
		}
	}()

	var previous persistence.Availability
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		eventRoom, err = s.store.GetEventRoom(ctx, eventRoomID)
		if err != nil {
			return mapRepoError(err)
		}
		now := s.now()
		availability, err := s.ResolveRoom(ctx, eventRoomID, now)
		if err != nil {
			return err
		}
		if availability == eventRoom.Availability {
			return nil
		}
		if err := s.store.UpdateEventRoomAvailability(ctx, eventRoomID, availability, now); err != nil {
			return mapRepoError(err)
		}
		previous = eventRoom.Availability
		eventRoom.Availability = availability
		eventRoom.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil || !changed {
		return
	}

	if perr := s.signals.RoomAvailabilityChanged.Publish(ctx, AvailabilityChanged{EventRoom: eventRoom, Previous: previous}); perr != nil {
		logger.WarnContext(ctx, "availability subscribers failed", "error", perr)
	}
	return
}

// Subscribe attaches the scheduling policy to the booking signals.
func (s *AvailabilityService) Subscribe() {
	for _, topic := range []*notify.Topic[persistence.Event]{
		s.signals.OccupyCreated, s.signals.OccupyEdited, s.signals.OccupyEnded, s.signals.OccupyDeleted,
		s.signals.UnavailableCreated, s.signals.UnavailableEdited, s.signals.UnavailableDeleted,
	} {
		topic.Subscribe(s.invalidate)
	}
	s.signals.OccurrencesSet.Subscribe(func(ctx context.Context, set OccurrencesSet) error {
		return s.invalidate(ctx, set.Event)
	})

	s.signals.OccupyCreated.Subscribe(s.scheduleResolves)
	s.signals.OccupyEdited.Subscribe(s.scheduleResolves)
	s.signals.OccupyEnded.Subscribe(s.scheduleResolves)
	s.signals.OccupyDeleted.Subscribe(s.resolveNow)

	s.signals.UnavailableCreated.Subscribe(s.unavailableChanged)
	s.signals.UnavailableEdited.Subscribe(s.unavailableChanged)
	s.signals.UnavailableDeleted.Subscribe(s.resolveNow)

	s.signals.OccurrencesSet.Subscribe(s.startRecurringChain)
}

// RegisterTasks binds the task handlers to registry.
func (s *AvailabilityService) RegisterTasks(registry *tasks.Registry) {
	registry.Register(TaskSetRoomAvailability, s.handleSetRoomAvailability)
	registry.Register(TaskSetEventOccurrences, s.handleSetEventOccurrences)
	registry.Register(TaskScheduleRecurringAvailability, s.handleScheduleRecurringAvailability)
}

func (s *AvailabilityService) invalidate(_ context.Context, event persistence.Event) error {
	s.cache.InvalidateRoom(event.RoomID)
	return nil
}

func resolveTask(eventRoomID string) tasks.Task {
	return tasks.New(TaskSetRoomAvailability, map[string]string{"event_room_id": eventRoomID})
}

// scheduleResolves resolves at the event start (now when already started)
// and again at its end.
func (s *AvailabilityService) scheduleResolves(ctx context.Context, event persistence.Event) error {
	if event.IsRecurring {
		return nil
	}
	now := s.now()
	if event.StartDate.After(now) {
		if err := s.queue.Schedule(ctx, resolveTask(event.RoomID), event.StartDate); err != nil {
			return err
		}
	} else if err := s.queue.RunNow(ctx, resolveTask(event.RoomID)); err != nil {
		return err
	}
	if event.EndDate != nil {
		return s.queue.Schedule(ctx, resolveTask(event.RoomID), *event.EndDate)
	}
	return nil
}

func (s *AvailabilityService) resolveNow(ctx context.Context, event persistence.Event) error {
	return s.queue.RunNow(ctx, resolveTask(event.RoomID))
}

func (s *AvailabilityService) unavailableChanged(ctx context.Context, event persistence.Event) error {
	if !event.IsRecurring {
		return s.scheduleResolves(ctx, event)
	}
	return s.queue.RunNow(ctx, tasks.New(TaskSetEventOccurrences, map[string]string{"event_id": event.ID}))
}

// startRecurringChain begins the per-occurrence chain at the first
// materialized date not before today, bounded by the last materialized date.
func (s *AvailabilityService) startRecurringChain(ctx context.Context, set OccurrencesSet) error {
	dates := recurrence.Dates(set.Event.Occurrences)
	if len(dates) == 0 {
		return nil
	}
	today := truncateDay(s.engine.Naive(s.now()))
	first := dates[0]
	for _, d := range dates {
		if !d.Before(today) {
			first = d
			break
		}
	}
	if first.Before(today) {
		return nil
	}
	return s.queue.RunNow(ctx, tasks.New(TaskScheduleRecurringAvailability, map[string]string{
		"event_id": set.Event.ID,
		"date":     first.Format(recurrence.DateKeyLayout),
		"until":    dates[len(dates)-1].Format(recurrence.DateKeyLayout),
	}))
}

func (s *AvailabilityService) handleSetRoomAvailability(ctx context.Context, task tasks.Task) error {
	_, _, err := s.SetRoomAvailability(ctx, task.Arg("event_room_id"))
	return err
}

// handleSetEventOccurrences materializes the current window and reschedules
// itself for the next one.
func (s *AvailabilityService) handleSetEventOccurrences(ctx context.Context, task tasks.Task) error {
	eventID := task.Arg("event_id")
	next, err := s.booking.SetEventOccurrences(ctx, SetOccurrencesParams{EventID: eventID})
	if err != nil || next == nil {
		return err
	}
	return s.queue.Schedule(ctx, tasks.New(TaskSetEventOccurrences, map[string]string{"event_id": eventID}), *next)
}

// handleScheduleRecurringAvailability schedules the resolves of one
// occurrence, then chains itself to the next occurrence at this one's end.
// Stale chains whose event stopped recurring end quietly.
func (s *AvailabilityService) handleScheduleRecurringAvailability(ctx context.Context, task tasks.Task) error {
	event, err := s.store.GetEvent(ctx, task.Arg("event_id"))
	if err != nil {
		return mapRepoError(err)
	}
	if event.Deleted || !event.IsRecurring {
		return nil
	}
	date, err := time.Parse(recurrence.DateKeyLayout, task.Arg("date"))
	if err != nil {
		return fmt.Errorf("task %s: date: %w", task.ID, err)
	}
	var until time.Time
	if raw := task.Arg("until"); raw != "" {
		if until, err = time.Parse(recurrence.DateKeyLayout, raw); err != nil {
			return fmt.Errorf("task %s: until: %w", task.ID, err)
		}
	}

	startNaive := s.engine.Naive(event.StartDate)
	start := s.engine.Localize(date.Add(startNaive.Sub(truncateDay(startNaive))))
	end := start.Add(time.Duration(event.Duration) * time.Second)

	if event.Occurrences[date.Format(recurrence.DateKeyLayout)] {
		if err := s.queue.Schedule(ctx, resolveTask(event.RoomID), start); err != nil {
			return err
		}
		if err := s.queue.Schedule(ctx, resolveTask(event.RoomID), end); err != nil {
			return err
		}
	}

	for _, d := range recurrence.Dates(event.Occurrences) {
		if !d.After(date) {
			continue
		}
		if !until.IsZero() && d.After(until) {
			break
		}
		return s.queue.Schedule(ctx, tasks.New(TaskScheduleRecurringAvailability, map[string]string{
			"event_id": event.ID,
			"date":     d.Format(recurrence.DateKeyLayout),
			"until":    task.Arg("until"),
		}), end)
	}
	return nil
}
