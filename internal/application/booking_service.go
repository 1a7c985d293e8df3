package application

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/recurrence"
	"github.com/example/room-tracker/internal/scheduler"
)

const (
	// DefaultMaxOccupyDuration bounds a single occupation.
	DefaultMaxOccupyDuration = 16 * time.Hour
	// DefaultOccurrencesPeriod is the occurrence materialization window.
	DefaultOccurrencesPeriod = 7 * 24 * time.Hour
	// MinOccurrencesPeriod keeps the window wider than the ±1 day generation padding.
	MinOccurrencesPeriod = 2 * 24 * time.Hour

	messageTimeLayout = "2006-01-02 15:04"
)

// BookingOptions tune the booking rules.
type BookingOptions struct {
	MaxOccupyDuration time.Duration
	OccurrencesPeriod time.Duration
	Location          *time.Location
}

// BookingService implements room occupations and availability reports.
//
// Every mutation validates and writes inside one transaction while holding the
// author's lock, then publishes the internal signal followed by ChangeDone.
type BookingService struct {
	store             persistence.Store
	signals           *Signals
	engine            *recurrence.Engine
	locks             *keyedLock
	maxOccupy         time.Duration
	occurrencesPeriod time.Duration
	idGenerator       func() string
	now               func() time.Time
	logger            *slog.Logger
}

// NewBookingService wires the booking service.
func NewBookingService(store persistence.Store, signals *Signals, opts BookingOptions, idGenerator func() string, now func() time.Time, logger *slog.Logger) *BookingService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if signals == nil {
		signals = NewSignals(logger)
	}
	if opts.MaxOccupyDuration <= 0 {
		opts.MaxOccupyDuration = DefaultMaxOccupyDuration
	}
	if opts.OccurrencesPeriod <= 0 {
		opts.OccurrencesPeriod = DefaultOccurrencesPeriod
	}
	if opts.OccurrencesPeriod < MinOccurrencesPeriod {
		opts.OccurrencesPeriod = MinOccurrencesPeriod
	}
	return &BookingService{
		store:             store,
		signals:           signals,
		engine:            recurrence.NewEngine(opts.Location),
		locks:             newKeyedLock(),
		maxOccupy:         opts.MaxOccupyDuration,
		occurrencesPeriod: opts.OccurrencesPeriod,
		idGenerator:       idGenerator,
		now:               now,
		logger:            defaultLogger(logger),
	}
}

// Signals returns the topics the service publishes on.
func (s *BookingService) Signals() *Signals {
	return s.signals
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "BookingService", operation, attrs...)
}

// OccupyRoom books a room for the author.
func (s *BookingService) OccupyRoom(ctx context.Context, params OccupyRoomParams) (event persistence.Event, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "OccupyRoom",
		"room_id", params.RoomID,
		"author_id", params.AuthorID,
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to occupy room", err)
			return
		}
		logger.With("event_id", event.ID).InfoContext(ctx, "room occupied")
	}()

	vErr := validateParams(params)
	validateDates(vErr, params.Start, params.End, s.maxOccupy)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var room persistence.Room
	unlock := s.locks.lock(params.AuthorID)
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var (
			eventRoom persistence.EventRoom
			err       error
		)
		room, eventRoom, err = s.lookupRoom(ctx, params.RoomID)
		if err != nil {
			return err
		}
		if err := s.checkAuthorSchedule(ctx, params.AuthorID, "", params.Start, params.End, true); err != nil {
			return err
		}

		now := s.now()
		author := params.AuthorID
		event = persistence.Event{
			ID:           s.idGenerator(),
			RoomID:       eventRoom.ID,
			AuthorID:     &author,
			Name:         strings.TrimSpace(params.Name),
			Description:  strings.TrimSpace(params.Description),
			StartDate:    params.Start,
			EndDate:      params.End,
			Availability: persistence.AvailabilityBusy,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		event.Duration = durationSeconds(event.StartDate, event.EndDate)
		return mapRepoError(s.store.CreateEvent(ctx, event))
	})
	unlock()
	if err != nil {
		event = persistence.Event{}
		return
	}

	s.notify(ctx, params.Replay,
		func(ctx context.Context) error { return s.signals.OccupyCreated.Publish(ctx, event) },
		ChangeDone{
			AuthorID:   params.AuthorID,
			Subject:    &EventSubject{Event: event},
			Type:       ChangeOccupyRoomCreated,
			Message:    fmt.Sprintf("%s created busy room %q", s.displayName(ctx, params.AuthorID), room.Name),
			ObjectUUID: event.RoomID,
		},
	)
	return
}

// FreeRoom ends the author's open occupation of the room at params.End.
func (s *BookingService) FreeRoom(ctx context.Context, params FreeRoomParams) (event persistence.Event, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "FreeRoom",
		"room_id", params.RoomID,
		"author_id", params.AuthorID,
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to free room", err)
			return
		}
		logger.With("event_id", event.ID).InfoContext(ctx, "room freed")
	}()

	vErr := validateParams(params)
	if params.End.IsZero() {
		vErr.add("end_date", "is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var room persistence.Room
	unlock := s.locks.lock(params.AuthorID)
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var (
			eventRoom persistence.EventRoom
			err       error
		)
		room, eventRoom, err = s.lookupRoom(ctx, params.RoomID)
		if err != nil {
			return err
		}

		open, err := s.store.ListEvents(ctx, persistence.EventFilter{
			AuthorID:       params.AuthorID,
			Availabilities: []persistence.Availability{persistence.AvailabilityBusy},
			OpenOnly:       true,
		})
		if err != nil {
			return err
		}
		switch {
		case len(open) == 0:
			return conflict(ErrNoOpenEvent)
		case len(open) > 1:
			return conflict(ErrMultipleOpenEvents)
		}
		event = open[0]
		if event.RoomID != eventRoom.ID {
			return conflict(ErrWrongRoom)
		}

		vErr := &ValidationError{}
		validateDates(vErr, event.StartDate, &params.End, s.maxOccupy)
		if vErr.HasErrors() {
			return vErr
		}

		end := params.End
		event.EndDate = &end
		event.Duration = durationSeconds(event.StartDate, event.EndDate)
		event.UpdatedAt = s.now()
		return mapRepoError(s.store.UpdateEvent(ctx, event))
	})
	unlock()
	if err != nil {
		event = persistence.Event{}
		return
	}

	s.notify(ctx, params.Replay,
		func(ctx context.Context) error { return s.signals.OccupyEnded.Publish(ctx, event) },
		ChangeDone{
			AuthorID: params.AuthorID,
			Subject:  &EventSubject{Event: event},
			Type:     ChangeOccupyRoomEdited,
			Message: fmt.Sprintf("%s released room %q at %s",
				s.displayName(ctx, params.AuthorID), room.Name, s.formatTime(params.End)),
			ObjectUUID: event.RoomID,
		},
	)
	return
}

// ReportUnavailable records that a room cannot be used. Without an end the
// observation is stored as a Report; otherwise an UNAVAILABLE event is created,
// optionally recurring.
func (s *BookingService) ReportUnavailable(ctx context.Context, params ReportUnavailableParams) (result UnavailableReport, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ReportUnavailable",
		"room_id", params.RoomID,
		"author_id", params.AuthorID,
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to report unavailable room", err)
			return
		}
		if result.Event != nil {
			logger.With("event_id", result.Event.ID).InfoContext(ctx, "unavailability period reported")
			return
		}
		logger.With("report_id", result.Report.ID).InfoContext(ctx, "unavailable room reported")
	}()

	vErr := validateParams(params)
	validateDates(vErr, params.Start, params.End, 0)
	var rules recurrence.RuleSet
	if params.Recurrence != "" {
		if params.End == nil {
			vErr.add("recurrence", "requires end_date")
		} else {
			rules = s.validateRecurrence(vErr, params.Recurrence, params.Start)
		}
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var room persistence.Room
	unlock := s.locks.lock(params.AuthorID)
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var (
			eventRoom persistence.EventRoom
			err       error
		)
		room, eventRoom, err = s.lookupRoom(ctx, params.RoomID)
		if err != nil {
			return err
		}

		now := s.now()
		author := params.AuthorID
		name := strings.TrimSpace(params.Name)
		if name == "" {
			name = "Unavailable"
		}

		if params.End == nil {
			report := persistence.Report{
				ID:            s.idGenerator(),
				RoomID:        eventRoom.ID,
				AuthorID:      &author,
				Date:          params.Start,
				Name:          name,
				Description:   strings.TrimSpace(params.Description),
				Availability:  persistence.AvailabilityUnavailable,
				ReportedUsers: []string{},
				CreatedAt:     now,
			}
			if err := s.store.CreateReport(ctx, report); err != nil {
				return mapRepoError(err)
			}
			result.Report = &report
			return nil
		}

		event := persistence.Event{
			ID:           s.idGenerator(),
			RoomID:       eventRoom.ID,
			AuthorID:     &author,
			Name:         name,
			Description:  strings.TrimSpace(params.Description),
			StartDate:    params.Start,
			EndDate:      params.End,
			Availability: persistence.AvailabilityUnavailable,
			Occurrences:  map[string]bool{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if !rules.IsZero() {
			event.IsRecurring = true
			event.Recurrence = rules.String()
		}
		deriveSpan(&event)
		if err := s.store.CreateEvent(ctx, event); err != nil {
			return mapRepoError(err)
		}
		result.Event = &event
		return nil
	})
	unlock()
	if err != nil {
		result = UnavailableReport{}
		return
	}

	who := s.displayName(ctx, params.AuthorID)
	if result.Report != nil {
		report := *result.Report
		s.notify(ctx, params.Replay,
			func(ctx context.Context) error { return s.signals.ReportCreated.Publish(ctx, report) },
			ChangeDone{
				AuthorID:   params.AuthorID,
				Subject:    &ReportSubject{Report: report},
				Type:       ChangeReportRoomUnavailableCreated,
				Message:    fmt.Sprintf("%s reported unavailable room %q at %s", who, room.Name, s.formatTime(report.Date)),
				ObjectUUID: report.RoomID,
			},
		)
		return
	}

	event := *result.Event
	s.notify(ctx, params.Replay,
		func(ctx context.Context) error { return s.signals.UnavailableCreated.Publish(ctx, event) },
		ChangeDone{
			AuthorID:   params.AuthorID,
			Subject:    &EventSubject{Event: event},
			Type:       ChangeReportRoomUnavailableEventCreated,
			Message:    fmt.Sprintf("%s reported unavailable room %q", who, room.Name),
			ObjectUUID: event.RoomID,
		},
	)
	return
}

// ReportFree records that a room was seen free.
func (s *BookingService) ReportFree(ctx context.Context, params ReportParams) (persistence.Report, error) {
	return s.report(ctx, "ReportFree", params, persistence.AvailabilityFree, "Free", ChangeReportRoomFreeCreated, "free")
}

// ReportBusy records that a room was seen in use, optionally naming the occupants.
func (s *BookingService) ReportBusy(ctx context.Context, params ReportParams) (persistence.Report, error) {
	return s.report(ctx, "ReportBusy", params, persistence.AvailabilityBusy, "Busy", ChangeReportRoomBusyCreated, "busy")
}

func (s *BookingService) report(ctx context.Context, operation string, params ReportParams, availability persistence.Availability, defaultName, changeType, word string) (report persistence.Report, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, operation,
		"room_id", params.RoomID,
		"author_id", params.AuthorID,
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to report room", err)
			return
		}
		logger.With("report_id", report.ID).InfoContext(ctx, "room reported")
	}()

	vErr := validateParams(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}
	date := params.Date
	if date.IsZero() {
		date = s.now()
	}

	var room persistence.Room
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var (
			eventRoom persistence.EventRoom
			err       error
		)
		room, eventRoom, err = s.lookupRoom(ctx, params.RoomID)
		if err != nil {
			return err
		}
		author := params.AuthorID
		name := strings.TrimSpace(params.Name)
		if name == "" {
			name = defaultName
		}
		users := []string{}
		if availability == persistence.AvailabilityBusy {
			users = append(users, params.ReportedUsers...)
		}
		report = persistence.Report{
			ID:            s.idGenerator(),
			RoomID:        eventRoom.ID,
			AuthorID:      &author,
			Date:          date,
			Name:          name,
			Description:   strings.TrimSpace(params.Description),
			Availability:  availability,
			ReportedUsers: users,
			CreatedAt:     s.now(),
		}
		return mapRepoError(s.store.CreateReport(ctx, report))
	})
	if err != nil {
		report = persistence.Report{}
		return
	}

	s.notify(ctx, params.Replay,
		func(ctx context.Context) error { return s.signals.ReportCreated.Publish(ctx, report) },
		ChangeDone{
			AuthorID: params.AuthorID,
			Subject:  &ReportSubject{Report: report},
			Type:     changeType,
			Message: fmt.Sprintf("%s reported %s room %q at %s",
				s.displayName(ctx, params.AuthorID), word, room.Name, s.formatTime(report.Date)),
			ObjectUUID: report.RoomID,
		},
	)
	return
}

// eventKind captures what distinguishes edits of occupations from edits of
// unavailability periods.
type eventKind struct {
	availability   persistence.Availability
	wrongKind      error
	maxDuration    time.Duration
	checkOverlap   bool
	recurring      bool
	requireEnd     bool
	editedType     string
	deletedType    string
	editedMessage  func(who, room string, event persistence.Event) string
	deletedMessage func(who, room string) string
}

func (s *BookingService) occupyKind() eventKind {
	return eventKind{
		availability: persistence.AvailabilityBusy,
		wrongKind:    ErrNotBusy,
		maxDuration:  s.maxOccupy,
		checkOverlap: true,
		editedType:   ChangeOccupyRoomEdited,
		deletedType:  ChangeOccupyRoomDeleted,
		editedMessage: func(who, room string, event persistence.Event) string {
			if event.EndDate == nil {
				return fmt.Sprintf("%s edited busy room %q", who, room)
			}
			return fmt.Sprintf("%s edited busy room %q at %s", who, room, s.formatTime(*event.EndDate))
		},
		deletedMessage: func(who, room string) string {
			return fmt.Sprintf("%s deleted busy room %q", who, room)
		},
	}
}

func (s *BookingService) unavailableKind() eventKind {
	return eventKind{
		availability: persistence.AvailabilityUnavailable,
		wrongKind:    ErrNotUnavailable,
		recurring:    true,
		requireEnd:   true,
		editedType:   ChangeReportRoomUnavailableEventEdited,
		deletedType:  ChangeReportRoomUnavailableEventDeleted,
		editedMessage: func(who, room string, _ persistence.Event) string {
			return fmt.Sprintf("%s edited unavailable room %q", who, room)
		},
		deletedMessage: func(who, room string) string {
			return fmt.Sprintf("%s deleted unavailable room event %q", who, room)
		},
	}
}

// EditOccupyRoom changes an occupation. Date changes re-derive the duration and
// are checked against the author's other events.
func (s *BookingService) EditOccupyRoom(ctx context.Context, params EditEventParams) (persistence.Event, error) {
	return s.editEvent(ctx, "EditOccupyRoom", params, s.occupyKind(),
		s.signals.OccupyEdited.Publish)
}

// EditReportUnavailableEvent changes an unavailability period, including its
// recurrence.
func (s *BookingService) EditReportUnavailableEvent(ctx context.Context, params EditEventParams) (persistence.Event, error) {
	return s.editEvent(ctx, "EditReportUnavailableEvent", params, s.unavailableKind(),
		s.signals.UnavailableEdited.Publish)
}

// DeleteOccupyRoom soft-deletes an occupation.
func (s *BookingService) DeleteOccupyRoom(ctx context.Context, params DeleteEventParams) (persistence.Event, error) {
	return s.deleteEvent(ctx, "DeleteOccupyRoom", params, s.occupyKind(),
		s.signals.OccupyDeleted.Publish)
}

// DeleteReportUnavailableEvent soft-deletes an unavailability period.
func (s *BookingService) DeleteReportUnavailableEvent(ctx context.Context, params DeleteEventParams) (persistence.Event, error) {
	return s.deleteEvent(ctx, "DeleteReportUnavailableEvent", params, s.unavailableKind(),
		s.signals.UnavailableDeleted.Publish)
}

func (s *BookingService) editEvent(ctx context.Context, operation string, params EditEventParams, kind eventKind, publish func(context.Context, persistence.Event) error) (event persistence.Event, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, operation,
		"event_id", params.EventID,
		"author_id", params.AuthorID,
		"replay", params.Replay,
	)
	changed := false
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to edit event", err)
			return
		}
		if !changed {
			logger.DebugContext(ctx, "event unchanged")
			return
		}
		logger.InfoContext(ctx, "event edited")
	}()

	vErr := validateParams(params)
	if params.Recurrence != nil && !kind.recurring {
		vErr.add("recurrence", "is only supported for unavailability events")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	unlock := s.lockFor(params.AuthorID, params.EventID, params.Replay)
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.store.GetEvent(ctx, params.EventID)
		if err != nil {
			return mapRepoError(err)
		}
		if current.Deleted && params.Restored == nil {
			return fmt.Errorf("%w: event %s is deleted", ErrNotFound, current.ID)
		}

		updated := current
		if params.Restored != nil {
			updated = restoredEvent(current, *params.Restored)
			changed = true
		}
		if updated.Availability != kind.availability {
			return &StateError{EventID: current.ID, Err: kind.wrongKind}
		}

		datesChanged := params.Restored != nil
		if params.Start != nil && !params.Start.Equal(updated.StartDate) {
			updated.StartDate = *params.Start
			datesChanged = true
		}
		if params.End != nil && (updated.EndDate == nil || !params.End.Equal(*updated.EndDate)) {
			end := *params.End
			updated.EndDate = &end
			datesChanged = true
		}
		if params.Name != nil && strings.TrimSpace(*params.Name) != updated.Name {
			updated.Name = strings.TrimSpace(*params.Name)
			changed = true
		}
		if params.Description != nil && strings.TrimSpace(*params.Description) != updated.Description {
			updated.Description = strings.TrimSpace(*params.Description)
			changed = true
		}
		recurrenceChanged := false
		if params.Recurrence != nil {
			text := strings.TrimSpace(*params.Recurrence)
			switch {
			case text == "" && updated.IsRecurring:
				updated.IsRecurring = false
				updated.Recurrence = ""
				updated.Occurrences = map[string]bool{}
				updated.NextOccurrence = nil
				recurrenceChanged = true
			case text != "" && text != updated.Recurrence:
				updated.IsRecurring = true
				updated.Recurrence = text
				recurrenceChanged = true
			}
		}
		changed = changed || datesChanged || recurrenceChanged
		if !changed && !params.Force {
			event = current
			return nil
		}

		vErr := &ValidationError{}
		validateDates(vErr, updated.StartDate, updated.EndDate, kind.maxDuration)
		if kind.requireEnd && updated.EndDate == nil {
			vErr.add("end_date", "is required")
		}
		if updated.IsRecurring && (recurrenceChanged || datesChanged) {
			if rules := s.validateRecurrence(vErr, updated.Recurrence, updated.StartDate); !rules.IsZero() {
				updated.Recurrence = rules.String()
			}
		}
		if vErr.HasErrors() {
			return vErr
		}

		if datesChanged {
			updated.Duration = durationSeconds(updated.StartDate, updated.EndDate)
			if kind.recurring {
				deriveSpan(&updated)
			}
			if kind.checkOverlap && updated.AuthorID != nil {
				if err := s.checkAuthorSchedule(ctx, *updated.AuthorID, updated.ID, updated.StartDate, updated.EndDate, false); err != nil {
					return err
				}
			}
		}

		changed = true
		updated.UpdatedAt = s.now()
		if err := s.store.UpdateEvent(ctx, updated); err != nil {
			return mapRepoError(err)
		}
		event = updated
		return nil
	})
	unlock()
	if err != nil {
		event = persistence.Event{}
		return
	}
	if !changed {
		return
	}

	author := params.AuthorID
	if author == "" && event.AuthorID != nil {
		author = *event.AuthorID
	}
	edited := event
	s.notify(ctx, params.Replay,
		func(ctx context.Context) error { return publish(ctx, edited) },
		ChangeDone{
			AuthorID:   author,
			Subject:    &EventSubject{Event: edited},
			Type:       kind.editedType,
			Message:    kind.editedMessage(s.displayName(ctx, author), s.roomName(ctx, edited.RoomID), edited),
			ObjectUUID: edited.RoomID,
		},
	)
	return
}

func (s *BookingService) deleteEvent(ctx context.Context, operation string, params DeleteEventParams, kind eventKind, publish func(context.Context, persistence.Event) error) (event persistence.Event, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, operation,
		"event_id", params.EventID,
		"author_id", params.AuthorID,
		"replay", params.Replay,
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to delete event", err)
			return
		}
		logger.InfoContext(ctx, "event deleted")
	}()

	vErr := validateParams(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	unlock := s.lockFor(params.AuthorID, params.EventID, params.Replay)
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.store.GetEvent(ctx, params.EventID)
		if err != nil {
			return mapRepoError(err)
		}
		if current.Availability != kind.availability {
			return &StateError{EventID: current.ID, Err: kind.wrongKind}
		}
		if current.Deleted {
			if params.Replay {
				event = current
				return nil
			}
			return fmt.Errorf("%w: event %s is deleted", ErrNotFound, current.ID)
		}

		now := s.now()
		current.Deleted = true
		current.DeletedAt = &now
		current.UpdatedAt = now
		if err := s.store.UpdateEvent(ctx, current); err != nil {
			return mapRepoError(err)
		}
		event = current
		return nil
	})
	unlock()
	if err != nil {
		event = persistence.Event{}
		return
	}

	author := params.AuthorID
	if author == "" && event.AuthorID != nil {
		author = *event.AuthorID
	}
	deleted := event
	s.notify(ctx, params.Replay,
		func(ctx context.Context) error { return publish(ctx, deleted) },
		ChangeDone{
			AuthorID:   author,
			Subject:    &EventSubject{Event: deleted},
			Type:       kind.deletedType,
			Message:    kind.deletedMessage(s.displayName(ctx, author), s.roomName(ctx, deleted.RoomID)),
			ObjectUUID: deleted.RoomID,
		},
	)
	return
}

// SetEventOccurrences materializes the occurrences of a recurring event for
// [WindowStart, WindowStart+Period). It returns when the next window should be
// materialized, or nil when nothing remains to schedule.
func (s *BookingService) SetEventOccurrences(ctx context.Context, params SetOccurrencesParams) (next *time.Time, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}

	logger := s.loggerWith(ctx, "SetEventOccurrences", "event_id", params.EventID)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to set event occurrences", err)
			return
		}
		if next != nil {
			logger.DebugContext(ctx, "event occurrences set", "next_sync", *next)
		}
	}()

	vErr := validateParams(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	period := params.Period
	if period <= 0 {
		period = s.occurrencesPeriod
	}
	period = max(period, MinOccurrencesPeriod)
	windowStart := s.now()
	if params.WindowStart != nil {
		windowStart = *params.WindowStart
	}
	windowEnd := windowStart.Add(period)

	var (
		event   persistence.Event
		emitted bool
	)
	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		event, err = s.store.GetEvent(ctx, params.EventID)
		if err != nil {
			return mapRepoError(err)
		}
		if event.Deleted || !event.IsRecurring {
			return nil
		}

		rules, err := recurrence.Parse(event.Recurrence)
		if err != nil {
			return fmt.Errorf("event %s: %w", event.ID, err)
		}
		occurrences, err := s.engine.Between(rules, event.StartDate, windowStart, windowEnd)
		if err != nil {
			return fmt.Errorf("event %s: %w", event.ID, err)
		}
		if len(occurrences) == 0 {
			return nil
		}

		materialized := recurrence.Materialize(occurrences)
		var nextOccurrence *time.Time
		dayStart := s.engine.Localize(truncateDay(s.engine.Naive(windowStart)))
		if at, ok, err := s.engine.NextAfter(rules, event.StartDate, dayStart, true); err == nil && ok {
			localized := s.engine.Localize(at)
			nextOccurrence = &localized
		}

		if !maps.Equal(materialized, event.Occurrences) || !sameInstant(nextOccurrence, event.NextOccurrence) {
			event.Occurrences = materialized
			event.NextOccurrence = nextOccurrence
			event.UpdatedAt = s.now()
			if err := s.store.UpdateEvent(ctx, event); err != nil {
				return mapRepoError(err)
			}
		}
		emitted = true

		if until, bounded := s.engine.UntilBound(rules); bounded && until.Before(s.engine.Naive(windowStart)) {
			return nil
		}
		endDay := truncateDay(s.engine.Naive(windowEnd))
		startNaive := s.engine.Naive(event.StartDate)
		resync := s.engine.Localize(endDay.Add(startNaive.Sub(truncateDay(startNaive))))
		next = &resync
		return nil
	})
	if err != nil {
		next = nil
		return
	}

	if emitted {
		payload := OccurrencesSet{Event: event, WindowStart: windowStart, WindowEnd: windowEnd}
		if perr := s.signals.OccurrencesSet.Publish(ctx, payload); perr != nil {
			logger.WarnContext(ctx, "occurrence subscribers failed", "error", perr)
		}
	}
	return
}

// Event returns a live event.
func (s *BookingService) Event(ctx context.Context, id string) (persistence.Event, error) {
	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return persistence.Event{}, mapRepoError(err)
	}
	if event.Deleted {
		return persistence.Event{}, fmt.Errorf("%w: event %s is deleted", ErrNotFound, id)
	}
	return event, nil
}

// notify publishes the internal signal, then ChangeDone unless replaying.
// Subscriber failures are logged and never undo the committed mutation.
func (s *BookingService) notify(ctx context.Context, replay bool, internal func(context.Context) error, change ChangeDone) {
	logger := s.loggerWith(ctx, "notify", "change_type", change.Type)
	if err := internal(ctx); err != nil {
		logger.WarnContext(ctx, "internal subscribers failed", "error", err)
	}
	if replay {
		return
	}
	if err := s.signals.ChangeDone.Publish(ctx, change); err != nil {
		logger.WarnContext(ctx, "change subscribers failed", "error", err)
	}
}

// lockFor returns the unlock function of the author lock. Replays run inside
// the revert transaction, which already serializes writers, so they skip it.
func (s *BookingService) lockFor(authorID, eventID string, replay bool) func() {
	if replay {
		return func() {}
	}
	key := authorID
	if key == "" {
		key = "event:" + eventID
	}
	return s.locks.lock(key)
}

func (s *BookingService) lookupRoom(ctx context.Context, roomID string) (persistence.Room, persistence.EventRoom, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return persistence.Room{}, persistence.EventRoom{}, mapRepoError(err)
	}
	eventRoom, err := s.store.GetEventRoomByRoom(ctx, roomID)
	if err != nil {
		return persistence.Room{}, persistence.EventRoom{}, mapRepoError(err)
	}
	return room, eventRoom, nil
}

func (s *BookingService) roomName(ctx context.Context, eventRoomID string) string {
	eventRoom, err := s.store.GetEventRoom(ctx, eventRoomID)
	if err != nil {
		return eventRoomID
	}
	room, err := s.store.GetRoom(ctx, eventRoom.RoomID)
	if err != nil {
		return eventRoomID
	}
	return room.Name
}

func (s *BookingService) displayName(ctx context.Context, userID string) string {
	if userID == "" {
		return "someone"
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil || user.Username == "" {
		return userID
	}
	return user.Username
}

func (s *BookingService) formatTime(t time.Time) string {
	return t.In(s.engine.Location()).Format(messageTimeLayout)
}

// checkAuthorSchedule rejects a candidate interval that collides with the
// author's other BUSY or UNAVAILABLE events.
func (s *BookingService) checkAuthorSchedule(ctx context.Context, authorID, excludeID string, start time.Time, end *time.Time, rejectOpen bool) error {
	existing, err := s.store.ListEvents(ctx, persistence.EventFilter{
		AuthorID: authorID,
		Availabilities: []persistence.Availability{
			persistence.AvailabilityBusy,
			persistence.AvailabilityUnavailable,
		},
		ExcludeID: excludeID,
	})
	if err != nil {
		return err
	}
	if rejectOpen {
		for _, e := range existing {
			if e.EndDate == nil {
				return conflict(ErrOpenEventExists)
			}
		}
	}
	matches := scheduler.Overlapping(toSchedulerEvents(existing), scheduler.Query{
		Window:   scheduler.Window{Start: start, End: end},
		Mode:     scheduler.Strict,
		Location: s.engine.Location(),
	})
	if len(matches) > 0 {
		return conflict(ErrOverlapExists)
	}
	return nil
}

func (s *BookingService) validateRecurrence(vErr *ValidationError, text string, start time.Time) recurrence.RuleSet {
	rules, err := recurrence.Parse(text)
	if err != nil {
		vErr.add("recurrence", err.Error())
		return recurrence.RuleSet{}
	}
	if err := s.engine.Validate(rules, start); err != nil {
		vErr.add("recurrence", err.Error())
		return recurrence.RuleSet{}
	}
	return rules
}

// restoredEvent overlays a state rebuilt from the change log onto the stored
// event. Identity, derived occurrences and creation time stay with the store.
func restoredEvent(current, restored persistence.Event) persistence.Event {
	restored.ID = current.ID
	restored.CreatedAt = current.CreatedAt
	restored.Occurrences = current.Occurrences
	restored.NextOccurrence = current.NextOccurrence
	restored.Deleted = false
	restored.DeletedAt = nil
	if !restored.IsRecurring {
		restored.Recurrence = ""
		restored.Occurrences = map[string]bool{}
		restored.NextOccurrence = nil
	}
	return restored
}

func toSchedulerEvents(events []persistence.Event) []scheduler.Event {
	out := make([]scheduler.Event, 0, len(events))
	for _, e := range events {
		out = append(out, scheduler.Event{
			ID:           e.ID,
			Start:        e.StartDate,
			End:          e.EndDate,
			Recurring:    e.IsRecurring,
			Occurrences:  e.Occurrences,
			Availability: e.Availability,
		})
	}
	return out
}

// durationSeconds is the absolute length of an interval, 0 while open.
func durationSeconds(start time.Time, end *time.Time) int64 {
	if end == nil {
		return 0
	}
	d := end.Sub(start)
	if d < 0 {
		d = -d
	}
	return int64(d / time.Second)
}

// deriveSpan sets Duration and IsAllDay of an unavailability period.
func deriveSpan(e *persistence.Event) {
	e.Duration = durationSeconds(e.StartDate, e.EndDate)
	day := int64(24 * time.Hour / time.Second)
	e.IsAllDay = e.Duration >= day && e.Duration%day == 0
}

func truncateDay(naive time.Time) time.Time {
	return time.Date(naive.Year(), naive.Month(), naive.Day(), 0, 0, 0, 0, time.UTC)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
