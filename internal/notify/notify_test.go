package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_PublishRunsEveryHandler(t *testing.T) {
	topic := NewTopic[string]("room.changed", nil)

	var calls []string
	boom := errors.New("boom")
	topic.Subscribe(func(ctx context.Context, p string) error {
		calls = append(calls, "first:"+p)
		return boom
	})
	topic.Subscribe(func(ctx context.Context, p string) error {
		calls = append(calls, "second:"+p)
		panic("unexpected")
	})
	topic.Subscribe(func(ctx context.Context, p string) error {
		calls = append(calls, "third:"+p)
		return nil
	})

	err := topic.Publish(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"first:x", "second:x", "third:x"}, calls)

	var handlerErr *HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, "room.changed", handlerErr.Topic)
}

func TestTopic_PublishWithoutHandlers(t *testing.T) {
	topic := NewTopic[int]("empty", nil)
	assert.NoError(t, topic.Publish(context.Background(), 1))
	assert.NoError(t, topic.Dispatch(context.Background(), 1))
}

func TestTopic_DispatchStopsAtFirstFailure(t *testing.T) {
	topic := NewTopic[int]("strict", nil)
	boom := errors.New("boom")

	calls := 0
	topic.Subscribe(func(ctx context.Context, p int) error { calls++; return nil })
	topic.Subscribe(func(ctx context.Context, p int) error { calls++; return boom })
	topic.Subscribe(func(ctx context.Context, p int) error { calls++; return nil })

	err := topic.Dispatch(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)

	var handlerErr *HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, 1, handlerErr.Index)
}

func TestTopic_SubscribeIgnoresNil(t *testing.T) {
	topic := NewTopic[int]("nil", nil)
	topic.Subscribe(nil)
	assert.Equal(t, 0, topic.Len())
}

func TestCommand_Execute(t *testing.T) {
	cmd := NewCommand[string]("email.verification", nil)

	err := cmd.Execute(context.Background(), "a@example.com")
	assert.ErrorIs(t, err, ErrNoHandlers)

	var got string
	cmd.Handle(func(ctx context.Context, p string) error { got = p; return nil })
	require.NoError(t, cmd.Execute(context.Background(), "a@example.com"))
	assert.Equal(t, "a@example.com", got)

	boom := errors.New("smtp down")
	cmd.Handle(func(ctx context.Context, p string) error { return boom })
	assert.ErrorIs(t, cmd.Execute(context.Background(), "b@example.com"), boom)
}
