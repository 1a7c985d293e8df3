package tasks

import (
	"container/heap"
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-process Scheduler ordered by ETA. Pending tasks are
// lost when the process exits.
type MemoryQueue struct {
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
	retry    RetryPolicy

	mu    sync.Mutex
	items taskHeap
	seq   int64
}

var _ Scheduler = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue dispatching to registry. A nil now uses time.Now.
func NewMemoryQueue(registry *Registry, logger *slog.Logger, now func() time.Time) *MemoryQueue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{
		registry: registry,
		logger:   logger.With("component", "memory_queue"),
		now:      now,
		retry:    DefaultRetryPolicy(),
	}
}

// Schedule implements Scheduler.
func (q *MemoryQueue) Schedule(ctx context.Context, task Task, eta time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.items, &queued{Scheduled: Scheduled{Task: task, ETA: eta}, seq: q.seq})
	q.logger.DebugContext(ctx, "task scheduled", "task", task.Name, "task_id", task.ID, "eta", eta)
	return nil
}

// RunNow implements Scheduler by scheduling at the current instant.
func (q *MemoryQueue) RunNow(ctx context.Context, task Task) error {
	return q.Schedule(ctx, task, q.now())
}

// Pending returns queued tasks ordered by ETA.
func (q *MemoryQueue) Pending() []Scheduled {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Scheduled, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item.Scheduled)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ETA.Before(out[j].ETA) })
	return out
}

// Len returns the number of queued tasks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops every queued task.
func (q *MemoryQueue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *MemoryQueue) popDue(now time.Time) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].ETA.After(now) {
		return Task{}, false
	}
	item := heap.Pop(&q.items).(*queued)
	return item.Task, true
}

// RunDue executes every task due at now, including tasks that handlers schedule
// for an instant not after now. It returns the number of tasks run.
func (q *MemoryQueue) RunDue(ctx context.Context, now time.Time) int {
	ran := 0
	for {
		if ctx.Err() != nil {
			return ran
		}
		task, ok := q.popDue(now)
		if !ok {
			return ran
		}
		ran++
		if err := q.registry.Handle(ctx, task); err != nil {
			q.fail(ctx, task, now, err)
		}
	}
}

func (q *MemoryQueue) fail(ctx context.Context, task Task, now time.Time, err error) {
	retried, eta, ok := q.retry.next(task, now)
	if !ok {
		q.logger.ErrorContext(ctx, "task failed, giving up", "task", task.Name, "task_id", task.ID, "attempt", retried.Attempt, "error", err)
		return
	}
	q.logger.WarnContext(ctx, "task failed, retrying", "task", task.Name, "task_id", task.ID, "attempt", retried.Attempt, "eta", eta, "error", err)
	_ = q.Schedule(ctx, retried, eta)
}

// Run polls for due tasks until ctx is cancelled.
func (q *MemoryQueue) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		q.RunDue(ctx, q.now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type queued struct {
	Scheduled
	seq int64
}

// taskHeap orders by ETA, then by insertion.
type taskHeap []*queued

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].ETA.Equal(h[j].ETA) {
		return h[i].seq < h[j].seq
	}
	return h[i].ETA.Before(h[j].ETA)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
