package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/room-tracker/internal/changelog"
	"github.com/example/room-tracker/internal/persistence"
)

// HistoryService records every ChangeDone in the change log and replays
// reverted changes through the booking operations so derived state follows.
type HistoryService struct {
	log     *changelog.Log
	booking *BookingService
	logger  *slog.Logger
}

// NewHistoryService subscribes the service to booking and change log signals.
func NewHistoryService(log *changelog.Log, booking *BookingService, logger *slog.Logger) *HistoryService {
	s := &HistoryService{log: log, booking: booking, logger: defaultLogger(logger)}
	booking.Signals().ChangeDone.Subscribe(s.record)
	log.Reverted().Subscribe(s.replay)
	return s
}

func (s *HistoryService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "HistoryService", operation, attrs...)
}

func (s *HistoryService) record(ctx context.Context, done ChangeDone) error {
	var author *string
	if done.AuthorID != "" {
		id := done.AuthorID
		author = &id
	}
	_, _, err := s.log.Record(ctx, changelog.RecordParams{
		AuthorID:   author,
		Subject:    done.Subject,
		Type:       done.Type,
		Name:       done.Message,
		ObjectUUID: done.ObjectUUID,
	})
	return err
}

// replay persists a reverted subject through the operation matching the
// change type being restored. Report changes need nothing: reports are
// immutable.
func (s *HistoryService) replay(ctx context.Context, r changelog.Reverted) error {
	author := ""
	if r.AuthorID != nil {
		author = *r.AuthorID
	}

	switch r.Target.Type {
	case ChangeOccupyRoomCreated, ChangeOccupyRoomEdited,
		ChangeReportRoomUnavailableEventCreated, ChangeReportRoomUnavailableEventEdited:
		subject, ok := r.Subject.(*EventSubject)
		if !ok {
			return fmt.Errorf("revert %s: unexpected subject %T", r.Target.ID, r.Subject)
		}
		restored := subject.Event
		params := EditEventParams{
			EventID:  restored.ID,
			AuthorID: author,
			Restored: &restored,
			Force:    true,
			Replay:   true,
		}
		var err error
		if r.Target.Type == ChangeOccupyRoomCreated || r.Target.Type == ChangeOccupyRoomEdited {
			_, err = s.booking.EditOccupyRoom(ctx, params)
		} else {
			_, err = s.booking.EditReportUnavailableEvent(ctx, params)
		}
		return err

	case ChangeOccupyRoomDeleted:
		_, err := s.booking.DeleteOccupyRoom(ctx, DeleteEventParams{EventID: r.Target.SubjectID, AuthorID: author, Replay: true})
		return err

	case ChangeReportRoomUnavailableEventDeleted:
		_, err := s.booking.DeleteReportUnavailableEvent(ctx, DeleteEventParams{EventID: r.Target.SubjectID, AuthorID: author, Replay: true})
		return err
	}
	return nil
}

// Revert restores the subject of a change to the state it recorded.
func (s *HistoryService) Revert(ctx context.Context, params RevertParams) (change persistence.Change, err error) {
	if s == nil {
		err = fmt.Errorf("HistoryService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Revert",
		"change_id", params.ChangeID,
		"author_id", params.AuthorID,
	)
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to revert change", err)
			return
		}
		logger.With("latest_change_id", change.ID).InfoContext(ctx, "change reverted")
	}()

	vErr := validateParams(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var author *string
	if params.AuthorID != "" {
		author = &params.AuthorID
	}
	name := ""
	if params.AuthorID != "" {
		name = fmt.Sprintf("%s reverted change %s", s.booking.displayName(ctx, params.AuthorID), params.ChangeID)
	}
	change, _, err = s.log.Revert(ctx, changelog.RevertParams{ToID: params.ChangeID, AuthorID: author, Name: name})
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) && !errors.Is(err, ErrNotFound) {
			err = mapRepoError(err)
		}
		change = persistence.Change{}
	}
	return
}

// History lists the changes of an object, oldest first. An empty objectUUID
// lists every change.
func (s *HistoryService) History(ctx context.Context, objectUUID string) ([]persistence.Change, error) {
	return s.log.History(ctx, objectUUID)
}

// ChangeFields decodes the snapshot stored with a change.
func (s *HistoryService) ChangeFields(change persistence.Change) (changelog.Fields, error) {
	return s.log.Fields(change)
}
