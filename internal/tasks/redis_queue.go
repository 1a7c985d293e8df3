package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is the sorted set holding pending tasks.
const DefaultRedisKey = "roomtracker:tasks"

// DefaultLease is how long a claimed task may run before another worker
// takes it back.
const DefaultLease = 5 * time.Minute

// claimScript moves a due member from the pending set to the in-flight set,
// scored by its lease deadline.
var claimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
	redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

// recoverScript returns in-flight members whose lease ended to the pending set.
var recoverScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, member in ipairs(expired) do
	redis.call('ZREM', KEYS[2], member)
	redis.call('ZADD', KEYS[1], ARGV[1], member)
end
return #expired
`)

// RedisQueue is a durable Scheduler backed by a Redis sorted set scored by ETA
// in Unix milliseconds. A worker claims a task by moving it into an in-flight
// set under a lease and acknowledges it once the handler succeeds. Failed
// tasks go back to the pending set with backoff; tasks whose lease expires,
// for instance after a crash, are picked up again on the next poll.
type RedisQueue struct {
	client   *redis.Client
	key      string
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
	retry    RetryPolicy
	lease    time.Duration
	batch    int64
}

var _ Scheduler = (*RedisQueue)(nil)

// RedisOption customises a RedisQueue.
type RedisOption func(*RedisQueue)

// WithKey overrides the sorted set key.
func WithKey(key string) RedisOption {
	return func(q *RedisQueue) { q.key = key }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RedisOption {
	return func(q *RedisQueue) { q.now = now }
}

// WithLease overrides how long a claimed task stays reserved.
func WithLease(d time.Duration) RedisOption {
	return func(q *RedisQueue) { q.lease = d }
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) RedisOption {
	return func(q *RedisQueue) { q.retry = p }
}

// NewRedisClient opens a client for addr.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client *redis.Client, registry *Registry, logger *slog.Logger, opts ...RedisOption) *RedisQueue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	q := &RedisQueue{
		client:   client,
		key:      DefaultRedisKey,
		registry: registry,
		logger:   logger.With("component", "redis_queue"),
		now:      time.Now,
		retry:    DefaultRetryPolicy(),
		lease:    DefaultLease,
		batch:    100,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Ping checks the connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Schedule implements Scheduler.
func (q *RedisQueue) Schedule(ctx context.Context, task Task, eta time.Time) error {
	member, err := encodeTask(task)
	if err != nil {
		return fmt.Errorf("tasks: encode %s: %w", task.Name, err)
	}
	z := &redis.Z{Score: float64(eta.UnixMilli()), Member: member}
	if err := q.client.ZAdd(ctx, q.key, z).Err(); err != nil {
		return fmt.Errorf("tasks: schedule %s: %w", task.Name, err)
	}
	q.logger.DebugContext(ctx, "task scheduled", "task", task.Name, "task_id", task.ID, "eta", eta)
	return nil
}

// RunNow implements Scheduler by scheduling at the current instant.
func (q *RedisQueue) RunNow(ctx context.Context, task Task) error {
	return q.Schedule(ctx, task, q.now())
}

// Pending returns queued tasks ordered by ETA.
func (q *RedisQueue) Pending(ctx context.Context) ([]Scheduled, error) {
	members, err := q.client.ZRangeWithScores(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("tasks: list pending: %w", err)
	}
	out := make([]Scheduled, 0, len(members))
	for _, z := range members {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}
		task, err := decodeTask([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, Scheduled{Task: task, ETA: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return out, nil
}

func (q *RedisQueue) inFlightKey() string {
	return q.key + ":inflight"
}

// InFlight returns the number of claimed tasks not yet acknowledged.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inFlightKey()).Result()
}

// Recover returns tasks whose lease ended at or before now to the pending set.
func (q *RedisQueue) Recover(ctx context.Context, now time.Time) (int, error) {
	n, err := recoverScript.Run(ctx, q.client, []string{q.key, q.inFlightKey()}, now.UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("tasks: recover expired leases: %w", err)
	}
	if n > 0 {
		q.logger.WarnContext(ctx, "re-queued tasks with expired leases", "count", n)
	}
	return n, nil
}

func (q *RedisQueue) claim(ctx context.Context, member string, now time.Time) (bool, error) {
	deadline := now.Add(q.lease).UnixMilli()
	n, err := claimScript.Run(ctx, q.client, []string{q.key, q.inFlightKey()}, member, deadline).Int()
	if err != nil {
		return false, fmt.Errorf("tasks: claim: %w", err)
	}
	return n == 1, nil
}

// ack drops a claimed member. It runs even when ctx is cancelled; if it still
// fails the lease expires and the task runs again.
func (q *RedisQueue) ack(ctx context.Context, member string) {
	if err := q.client.ZRem(context.WithoutCancel(ctx), q.inFlightKey(), member).Err(); err != nil {
		q.logger.ErrorContext(ctx, "failed to acknowledge task", "error", err)
	}
}

// RunDue recovers expired leases, then claims and executes tasks due at now.
// It returns the number of tasks run.
func (q *RedisQueue) RunDue(ctx context.Context, now time.Time) (int, error) {
	if _, err := q.Recover(ctx, now); err != nil {
		return 0, err
	}

	ran := 0
	for {
		members, err := q.client.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatInt(now.UnixMilli(), 10),
			Count: q.batch,
		}).Result()
		if err != nil {
			return ran, fmt.Errorf("tasks: fetch due: %w", err)
		}
		if len(members) == 0 {
			return ran, nil
		}

		for _, member := range members {
			claimed, err := q.claim(ctx, member, now)
			if err != nil {
				return ran, err
			}
			if !claimed {
				// another worker took it
				continue
			}
			task, err := decodeTask([]byte(member))
			if err != nil {
				q.logger.ErrorContext(ctx, "dropping undecodable task", "error", err)
				q.ack(ctx, member)
				continue
			}
			ran++
			if err := q.registry.Handle(ctx, task); err != nil {
				q.fail(ctx, member, task, now, err)
				continue
			}
			q.ack(ctx, member)
		}
		if ctx.Err() != nil {
			return ran, ctx.Err()
		}
	}
}

// fail moves a claimed task back to the pending set with backoff, or drops it
// once the retry policy is exhausted. It outlives ctx so that a shutdown
// during the handler does not lose the task.
func (q *RedisQueue) fail(ctx context.Context, member string, task Task, now time.Time, err error) {
	retried, eta, ok := q.retry.next(task, now)
	if !ok {
		q.logger.ErrorContext(ctx, "task failed, giving up", "task", task.Name, "task_id", task.ID, "attempt", retried.Attempt, "error", err)
		q.ack(ctx, member)
		return
	}
	q.logger.WarnContext(ctx, "task failed, retrying", "task", task.Name, "task_id", task.ID, "attempt", retried.Attempt, "eta", eta, "error", err)

	encoded, encErr := encodeTask(retried)
	if encErr != nil {
		q.logger.ErrorContext(ctx, "failed to encode retried task", "task", task.Name, "task_id", task.ID, "error", encErr)
		return
	}
	bg := context.WithoutCancel(ctx)
	_, txErr := q.client.TxPipelined(bg, func(pipe redis.Pipeliner) error {
		pipe.ZRem(bg, q.inFlightKey(), member)
		pipe.ZAdd(bg, q.key, &redis.Z{Score: float64(eta.UnixMilli()), Member: encoded})
		return nil
	})
	if txErr != nil {
		// the lease brings the original delivery back
		q.logger.ErrorContext(ctx, "failed to re-queue task", "task", task.Name, "task_id", task.ID, "error", txErr)
	}
}

// Run polls for due tasks until ctx is cancelled. Redis errors are logged and
// the loop continues.
func (q *RedisQueue) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := q.RunDue(ctx, q.now()); err != nil && ctx.Err() == nil {
			q.logger.ErrorContext(ctx, "task poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
