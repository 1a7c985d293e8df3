package changelog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/persistence/memory"
)

type note struct {
	id    string
	title string
	tags  []string
}

func (n *note) SubjectKind() string { return "note" }
func (n *note) SubjectID() string   { return n.id }

func (n *note) Snapshot() Fields {
	return Fields{"title": n.title, "tags": append([]string(nil), n.tags...)}
}

func (n *note) Apply(fields Fields) error {
	if fields.Has("title") {
		n.title = fields.String("title")
	}
	if fields.Has("tags") {
		n.tags = fields.Strings("tags")
	}
	return nil
}

type fixture struct {
	log   *Log
	store *memory.Storage
	notes map[string]*note
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := NewCodec([]byte("test-key"))
	require.NoError(t, err)

	f := &fixture{store: memory.New(), notes: map[string]*note{}}
	registry := NewRegistry()
	registry.Register("note", func(ctx context.Context, id string) (Restorable, error) {
		n, ok := f.notes[id]
		if !ok {
			return nil, persistence.ErrNotFound
		}
		// a copy, like a freshly loaded row
		cp := *n
		return &cp, nil
	})

	seq := 0
	f.log = New(f.store, registry, codec, Options{
		Now: func() time.Time { return time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			seq++
			return fmt.Sprintf("change-%d", seq)
		},
	})
	return f
}

func TestCodec_DeterministicAndDecodable(t *testing.T) {
	codec, err := NewCodec([]byte("k"))
	require.NoError(t, err)

	start := time.Date(2024, 3, 4, 12, 30, 0, 500, time.UTC)
	a := Fields{"name": "x", "count": int64(3), "start": TimeValue(&start), "end": TimeValue(nil), "occ": map[string]bool{"2024-03-04": true}}
	b := Fields{"occ": map[string]bool{"2024-03-04": true}, "end": nil, "start": TimeValue(&start), "count": int64(3), "name": "x"}

	ea, err := codec.Encode(a)
	require.NoError(t, err)
	eb, err := codec.Encode(b)
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
	assert.Equal(t, codec.Digest(ea), codec.Digest(eb))

	decoded, err := codec.Decode(ea)
	require.NoError(t, err)
	assert.Equal(t, "x", decoded.String("name"))
	assert.Equal(t, int64(3), decoded.Int("count"))
	assert.Equal(t, map[string]bool{"2024-03-04": true}, decoded.BoolMap("occ"))
	got, err := decoded.Time("start")
	require.NoError(t, err)
	assert.True(t, start.Equal(*got))
	end, err := decoded.Time("end")
	require.NoError(t, err)
	assert.Nil(t, end)
	assert.True(t, decoded.Has("end"))

	other, err := NewCodec([]byte("other"))
	require.NoError(t, err)
	assert.NotEqual(t, codec.Digest(ea), other.Digest(ea))
}

func TestLog_RecordSkipsDuplicatePayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := &note{id: "n1", title: "draft"}

	first, created, err := f.log.Record(ctx, RecordParams{Subject: n, Type: "NOTE_CREATED"})
	require.NoError(t, err)
	require.True(t, created)
	assert.Nil(t, first.ParentID)
	assert.Equal(t, "n1", first.ObjectUUID)

	_, created, err = f.log.Record(ctx, RecordParams{Subject: n, Type: "NOTE_EDITED"})
	require.NoError(t, err)
	assert.False(t, created)

	history, err := f.log.History(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	second, created, err := f.log.Record(ctx, RecordParams{Subject: n, Type: "NOTE_EDITED", KeepDuplicate: true})
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, second.ParentID)
	assert.Equal(t, first.ID, *second.ParentID)

	history, err = f.log.History(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestLog_RecordDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.log.Record(ctx, RecordParams{})
	assert.ErrorIs(t, err, ErrMissingSubject)

	n := &note{id: "n1", title: "draft"}
	change, created, err := f.log.Record(ctx, RecordParams{Subject: n, ObjectUUID: "room-1", Changes: Fields{"title": "explicit"}})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "note", change.Type)
	assert.Equal(t, "room-1", change.ObjectUUID)
	assert.Equal(t, "n1", change.SubjectID)

	fields, err := f.log.Fields(change)
	require.NoError(t, err)
	assert.Equal(t, "explicit", fields.String("title"))
}

func TestLog_RevertIsInvolutive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := &note{id: "n1", title: "original", tags: []string{"a", "b"}}
	f.notes[n.id] = n
	created, _, err := f.log.Record(ctx, RecordParams{Subject: n, Type: "NOTE_CREATED"})
	require.NoError(t, err)

	n.title = "X"
	n.tags = []string{"c"}
	edited, _, err := f.log.Record(ctx, RecordParams{Subject: n, Type: "NOTE_EDITED"})
	require.NoError(t, err)

	// persist reverted notes the way a domain subscriber would
	var replayed []string
	f.log.Reverted().Subscribe(func(ctx context.Context, r Reverted) error {
		restored := r.Subject.(*note)
		f.notes[restored.id] = restored
		replayed = append(replayed, r.Target.Type)
		return nil
	})

	change, subject, err := f.log.Revert(ctx, RevertParams{ToID: created.ID})
	require.NoError(t, err)
	assert.Equal(t, created.ID, change.Metadata.RevertedFrom)
	assert.Equal(t, "NOTE_CREATED", change.Type)
	assert.Equal(t, edited.ID, *change.ParentID)
	assert.Equal(t, "original", subject.(*note).title)
	assert.Equal(t, []string{"a", "b"}, f.notes["n1"].tags)

	change, _, err = f.log.Revert(ctx, RevertParams{ToID: edited.ID})
	require.NoError(t, err)
	assert.Equal(t, edited.ID, change.Metadata.RevertedFrom)
	assert.Equal(t, "X", f.notes["n1"].title)
	assert.Equal(t, []string{"c"}, f.notes["n1"].tags)
	assert.Equal(t, []string{"NOTE_CREATED", "NOTE_EDITED"}, replayed)

	history, err := f.log.History(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestLog_RevertToLatestIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := &note{id: "n1", title: "only"}
	f.notes[n.id] = n

	created, _, err := f.log.Record(ctx, RecordParams{Subject: n})
	require.NoError(t, err)

	dispatched := false
	f.log.Reverted().Subscribe(func(ctx context.Context, r Reverted) error {
		dispatched = true
		return nil
	})

	change, _, err := f.log.Revert(ctx, RevertParams{ToID: created.ID})
	require.NoError(t, err)
	assert.Equal(t, created.ID, change.ID)
	assert.False(t, dispatched)

	history, err := f.log.History(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLog_RevertRollsBackOnSubscriberFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := &note{id: "n1", title: "v1"}
	f.notes[n.id] = n

	first, _, err := f.log.Record(ctx, RecordParams{Subject: n})
	require.NoError(t, err)
	n.title = "v2"
	_, _, err = f.log.Record(ctx, RecordParams{Subject: n})
	require.NoError(t, err)

	boom := errors.New("replay failed")
	f.log.Reverted().Subscribe(func(ctx context.Context, r Reverted) error { return boom })

	_, _, err = f.log.Revert(ctx, RevertParams{ToID: first.ID})
	assert.ErrorIs(t, err, boom)

	history, err := f.log.History(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestLog_RevertUnknownKind(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.AppendChange(ctx, persistence.Change{ID: "c", ObjectUUID: "o", SubjectKind: "ghost", SubjectID: "g"})
	require.NoError(t, err)

	_, _, err = f.log.Revert(ctx, RevertParams{ToID: "c"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, _, err = f.log.Revert(ctx, RevertParams{ToID: "missing"})
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}
