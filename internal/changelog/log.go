// Package changelog keeps an append-only history of mutations to domain
// objects and reverts objects to any earlier recorded state.
//
// Changes are chained per object identity (ObjectUUID) through their parent.
// The identity is decoupled from the subject's own key so that several
// subjects, e.g. every event of a room, can share one history.
package changelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/room-tracker/internal/notify"
	"github.com/example/room-tracker/internal/persistence"
)

// ErrMissingSubject is returned when Record is called without a subject.
var ErrMissingSubject = errors.New("changelog: subject is required")

// Store is the persistence the log needs.
type Store interface {
	persistence.Transactor
	persistence.ChangeRepository
}

// RecordParams describes one mutation.
type RecordParams struct {
	AuthorID *string
	Subject  Subject
	// Type defaults to the subject kind.
	Type string
	Name string
	// Changes defaults to the subject's full snapshot.
	Changes Fields
	// ObjectUUID defaults to the subject's own ID.
	ObjectUUID string
	// KeepDuplicate records the change even when it equals the latest one.
	KeepDuplicate bool
}

// RevertParams selects the change to go back to.
type RevertParams struct {
	ToID     string
	AuthorID *string
	Name     string
}

// Reverted is dispatched after a subject took back an earlier snapshot. The
// subject is not saved; subscribers persist it through domain operations.
type Reverted struct {
	Target   persistence.Change
	Previous persistence.Change
	Change   persistence.Change
	Subject  Restorable
	Fields   Fields
	AuthorID *string
}

// Options tune a Log. Zero values select defaults.
type Options struct {
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Log records and reverts changes.
type Log struct {
	store    Store
	registry *Registry
	codec    *Codec
	reverted *notify.Topic[Reverted]
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// New creates a Log.
func New(store Store, registry *Registry, codec *Codec, opts Options) *Log {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	logger := opts.Logger.With("component", "changelog")
	return &Log{
		store:    store,
		registry: registry,
		codec:    codec,
		reverted: notify.NewTopic[Reverted]("change_reverted", logger),
		now:      opts.Now,
		newID:    opts.NewID,
		logger:   logger,
	}
}

// Reverted returns the strict topic fired by Revert.
func (l *Log) Reverted() *notify.Topic[Reverted] {
	return l.reverted
}

// Codec returns the snapshot codec.
func (l *Log) Codec() *Codec {
	return l.codec
}

// Record appends a change. It returns false without error when the payload
// equals the latest change of the object and KeepDuplicate is unset.
func (l *Log) Record(ctx context.Context, p RecordParams) (persistence.Change, bool, error) {
	if p.Subject == nil {
		return persistence.Change{}, false, ErrMissingSubject
	}
	fields := p.Changes
	if fields == nil {
		fields = p.Subject.Snapshot()
	}
	payload, err := l.codec.Encode(fields)
	if err != nil {
		return persistence.Change{}, false, err
	}
	digest := l.codec.Digest(payload)

	objectUUID := p.ObjectUUID
	if objectUUID == "" {
		objectUUID = p.Subject.SubjectID()
	}
	changeType := p.Type
	if changeType == "" {
		changeType = p.Subject.SubjectKind()
	}

	var (
		recorded persistence.Change
		created  bool
	)
	err = l.store.WithinTransaction(ctx, func(ctx context.Context) error {
		parent, err := l.latest(ctx, objectUUID)
		if err != nil {
			return err
		}
		if parent != nil && !p.KeepDuplicate && parent.Digest == digest {
			return nil
		}

		change := persistence.Change{
			ID:          l.newID(),
			AuthorID:    p.AuthorID,
			Name:        p.Name,
			Type:        changeType,
			Changes:     payload,
			Digest:      digest,
			ObjectUUID:  objectUUID,
			SubjectKind: p.Subject.SubjectKind(),
			SubjectID:   p.Subject.SubjectID(),
			CreatedAt:   l.now(),
		}
		if parent != nil {
			change.ParentID = &parent.ID
		}
		recorded, err = l.store.AppendChange(ctx, change)
		if err != nil {
			return fmt.Errorf("changelog: append: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return persistence.Change{}, false, err
	}
	if created {
		l.logger.DebugContext(ctx, "change recorded", "change_id", recorded.ID, "type", recorded.Type, "object_uuid", objectUUID)
	}
	return recorded, created, nil
}

func (l *Log) latest(ctx context.Context, objectUUID string) (*persistence.Change, error) {
	change, err := l.store.LatestChange(ctx, objectUUID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("changelog: latest: %w", err)
	}
	return &change, nil
}

// Latest returns the newest change of an object.
func (l *Log) Latest(ctx context.Context, objectUUID string) (persistence.Change, error) {
	return l.store.LatestChange(ctx, objectUUID)
}

// Get returns a change by ID.
func (l *Log) Get(ctx context.Context, id string) (persistence.Change, error) {
	return l.store.GetChange(ctx, id)
}

// History returns the changes of an object, oldest first.
func (l *Log) History(ctx context.Context, objectUUID string) ([]persistence.Change, error) {
	return l.store.ListChanges(ctx, objectUUID)
}

// Fields decodes the snapshot carried by change.
func (l *Log) Fields(change persistence.Change) (Fields, error) {
	return l.codec.Decode(change.Changes)
}

// Revert brings the subject of change p.ToID back to the state it recorded.
//
// When the target is already the latest change of its object nothing happens
// and the latest change is returned. Otherwise a forward change mirroring the
// target is appended, the snapshot is applied to the live subject and
// Reverted is dispatched. Everything runs in one transaction, so a failing
// subscriber leaves the history untouched.
func (l *Log) Revert(ctx context.Context, p RevertParams) (persistence.Change, Restorable, error) {
	var (
		result  persistence.Change
		subject Restorable
	)
	err := l.store.WithinTransaction(ctx, func(ctx context.Context) error {
		target, err := l.store.GetChange(ctx, p.ToID)
		if err != nil {
			return err
		}
		latest, err := l.store.LatestChange(ctx, target.ObjectUUID)
		if err != nil {
			return fmt.Errorf("changelog: latest: %w", err)
		}
		subject, err = l.registry.Resolve(ctx, target.SubjectKind, target.SubjectID)
		if err != nil {
			return err
		}
		if latest.ID == target.ID {
			result = latest
			return nil
		}

		fields, err := l.codec.Decode(target.Changes)
		if err != nil {
			return err
		}

		author := p.AuthorID
		if author == nil {
			author = target.AuthorID
		}
		name := p.Name
		if name == "" {
			name = target.Name
		}
		forward := persistence.Change{
			ID:          l.newID(),
			AuthorID:    author,
			Name:        name,
			Type:        target.Type,
			Changes:     target.Changes,
			Digest:      target.Digest,
			ObjectUUID:  target.ObjectUUID,
			SubjectKind: target.SubjectKind,
			SubjectID:   target.SubjectID,
			ParentID:    &latest.ID,
			Metadata:    persistence.ChangeMetadata{RevertedFrom: target.ID},
			CreatedAt:   l.now(),
		}
		if result, err = l.store.AppendChange(ctx, forward); err != nil {
			return fmt.Errorf("changelog: append: %w", err)
		}

		if err := subject.Apply(fields); err != nil {
			return fmt.Errorf("changelog: apply %s %s: %w", target.SubjectKind, target.SubjectID, err)
		}

		return l.reverted.Dispatch(ctx, Reverted{
			Target:   target,
			Previous: latest,
			Change:   result,
			Subject:  subject,
			Fields:   fields,
			AuthorID: author,
		})
	})
	if err != nil {
		return persistence.Change{}, nil, err
	}
	l.logger.InfoContext(ctx, "change reverted", "to", p.ToID, "change_id", result.ID)
	return result, subject, nil
}
