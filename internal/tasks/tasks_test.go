package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func TestRegistry_UnknownTask(t *testing.T) {
	r := NewRegistry()
	err := r.Handle(context.Background(), New("missing", nil))
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestEncodeTask_RoundTripIsDeterministic(t *testing.T) {
	task := Task{ID: "t1", Name: "resolve", Args: map[string]string{"b": "2", "a": "1"}}
	first, err := encodeTask(task)
	require.NoError(t, err)
	second, err := encodeTask(Task{ID: "t1", Name: "resolve", Args: map[string]string{"a": "1", "b": "2"}})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	decoded, err := decodeTask(first)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)
}

func TestMemoryQueue_RunsInETAOrder(t *testing.T) {
	registry := NewRegistry()
	var ran []string
	registry.Register("resolve", func(ctx context.Context, task Task) error {
		ran = append(ran, task.Arg("room"))
		return nil
	})

	q := NewMemoryQueue(registry, nil, func() time.Time { return base })
	ctx := context.Background()
	require.NoError(t, q.Schedule(ctx, New("resolve", map[string]string{"room": "late"}), base.Add(2*time.Hour)))
	require.NoError(t, q.Schedule(ctx, New("resolve", map[string]string{"room": "soon"}), base.Add(time.Hour)))
	require.NoError(t, q.RunNow(ctx, New("resolve", map[string]string{"room": "now"})))

	pending := q.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, base, pending[0].ETA)

	assert.Equal(t, 1, q.RunDue(ctx, base))
	assert.Equal(t, []string{"now"}, ran)

	assert.Equal(t, 2, q.RunDue(ctx, base.Add(3*time.Hour)))
	assert.Equal(t, []string{"now", "soon", "late"}, ran)
	assert.Equal(t, 0, q.Len())
}

func TestMemoryQueue_HandlersMayScheduleDueWork(t *testing.T) {
	registry := NewRegistry()
	q := NewMemoryQueue(registry, nil, func() time.Time { return base })
	calls := 0
	registry.Register("chain", func(ctx context.Context, task Task) error {
		calls++
		if calls < 3 {
			return q.RunNow(ctx, New("chain", nil))
		}
		return nil
	})

	require.NoError(t, q.RunNow(context.Background(), New("chain", nil)))
	assert.Equal(t, 3, q.RunDue(context.Background(), base))
}

func TestMemoryQueue_RetriesFailedTask(t *testing.T) {
	registry := NewRegistry()
	registry.Register("flaky", func(ctx context.Context, task Task) error {
		return errors.New("boom")
	})
	q := NewMemoryQueue(registry, nil, func() time.Time { return base })
	q.retry = RetryPolicy{MaxAttempts: 2, Backoff: time.Minute}

	require.NoError(t, q.RunNow(context.Background(), New("flaky", nil)))
	assert.Equal(t, 1, q.RunDue(context.Background(), base))

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Task.Attempt)
	assert.Equal(t, base.Add(time.Minute), pending[0].ETA)

	assert.Equal(t, 1, q.RunDue(context.Background(), base.Add(time.Minute)))
	assert.Equal(t, 0, q.Len())
}

func setupRedisQueue(t *testing.T, registry *Registry) (*miniredis.Miniredis, *RedisQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := NewRedisQueue(client, registry, nil,
		WithKey("test:tasks"),
		WithClock(func() time.Time { return base }),
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3, Backoff: time.Minute}),
	)
	return mr, q
}

func TestRedisQueue_ScheduleAndRunDue(t *testing.T) {
	registry := NewRegistry()
	var ran []string
	registry.Register("resolve", func(ctx context.Context, task Task) error {
		ran = append(ran, task.Arg("room"))
		return nil
	})
	_, q := setupRedisQueue(t, registry)
	ctx := context.Background()

	require.NoError(t, q.Ping(ctx))
	require.NoError(t, q.Schedule(ctx, New("resolve", map[string]string{"room": "later"}), base.Add(time.Hour)))
	require.NoError(t, q.RunNow(ctx, New("resolve", map[string]string{"room": "now"})))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "now", pending[0].Task.Arg("room"))
	assert.True(t, pending[1].ETA.Equal(base.Add(time.Hour)))

	n, err := q.RunDue(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"now"}, ran)

	n, err = q.RunDue(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"now", "later"}, ran)

	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedisQueue_FailedTaskIsRequeued(t *testing.T) {
	registry := NewRegistry()
	attempts := 0
	registry.Register("flaky", func(ctx context.Context, task Task) error {
		attempts++
		if attempts == 1 {
			return errors.New("boom")
		}
		return nil
	})
	_, q := setupRedisQueue(t, registry)
	ctx := context.Background()

	require.NoError(t, q.RunNow(ctx, New("flaky", nil)))
	n, err := q.RunDue(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Task.Attempt)
	assert.True(t, pending[0].ETA.Equal(base.Add(time.Minute)))

	n, err = q.RunDue(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, attempts)
}

func TestRedisQueue_RunDueReportsRedisErrors(t *testing.T) {
	mr, q := setupRedisQueue(t, NewRegistry())
	mr.Close()

	_, err := q.RunDue(context.Background(), base)
	assert.Error(t, err)
}

func TestRedisQueue_AcknowledgesCompletedTasks(t *testing.T) {
	registry := NewRegistry()
	registry.Register("resolve", func(ctx context.Context, task Task) error { return nil })
	_, q := setupRedisQueue(t, registry)
	ctx := context.Background()

	require.NoError(t, q.RunNow(ctx, New("resolve", nil)))
	n, err := q.RunDue(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inFlight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, inFlight)
}

func TestRedisQueue_ShutdownDuringHandlerKeepsTask(t *testing.T) {
	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registry.Register("resolve", func(ctx context.Context, task Task) error {
		cancel()
		return ctx.Err()
	})
	_, q := setupRedisQueue(t, registry)

	require.NoError(t, q.RunNow(context.Background(), New("resolve", map[string]string{"room": "r1"})))
	_, err := q.RunDue(ctx, base)
	assert.ErrorIs(t, err, context.Canceled)

	pending, err := q.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].Task.Arg("room"))
	assert.Equal(t, 1, pending[0].Task.Attempt)

	inFlight, err := q.InFlight(context.Background())
	require.NoError(t, err)
	assert.Zero(t, inFlight)
}

func TestRedisQueue_ExpiredLeaseIsRedelivered(t *testing.T) {
	registry := NewRegistry()
	runs := 0
	registry.Register("resolve", func(ctx context.Context, task Task) error {
		runs++
		return nil
	})
	_, q := setupRedisQueue(t, registry)
	ctx := context.Background()

	require.NoError(t, q.RunNow(ctx, New("resolve", nil)))
	members, err := q.client.ZRange(ctx, q.key, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, members, 1)

	// a worker that claims and then dies never acknowledges
	claimed, err := q.claim(ctx, members[0], base)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := q.RunDue(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "lease still held")

	n, err = q.RunDue(ctx, base.Add(DefaultLease))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, runs)

	inFlight, err := q.InFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, inFlight)
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
