// Package tasks runs named background jobs at a point in time.
//
// Handlers are looked up by task name in a Registry and must be idempotent:
// the Redis queue delivers at least once and both queues may run a task that
// was scheduled twice for the same instant.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ErrUnknownTask is returned when no handler is registered for a task name.
var ErrUnknownTask = errors.New("tasks: unknown task")

// Task is a unit of deferred work.
type Task struct {
	ID      string            `cbor:"1,keyasint"`
	Name    string            `cbor:"2,keyasint"`
	Args    map[string]string `cbor:"3,keyasint,omitempty"`
	Attempt int               `cbor:"4,keyasint,omitempty"`
}

// New builds a task with a fresh ID.
func New(name string, args map[string]string) Task {
	return Task{ID: uuid.NewString(), Name: name, Args: args}
}

// Arg returns the named argument or an empty string.
func (t Task) Arg(key string) string {
	return t.Args[key]
}

// Scheduled pairs a task with the instant it becomes due.
type Scheduled struct {
	Task Task
	ETA  time.Time
}

// Scheduler enqueues tasks.
type Scheduler interface {
	// Schedule runs task at or after eta.
	Schedule(ctx context.Context, task Task, eta time.Time) error
	// RunNow enqueues task for immediate execution.
	RunNow(ctx context.Context, task Task) error
}

// Handler executes a task.
type Handler func(ctx context.Context, task Task) error

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Handle runs the handler registered for task.Name.
func (r *Registry) Handle(ctx context.Context, task Task) error {
	r.mu.RLock()
	h, ok := r.handlers[task.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, task.Name)
	}
	return h(ctx, task)
}

var taskEncoding = mustEncMode()

func mustEncMode() cbor.EncMode {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

func encodeTask(task Task) ([]byte, error) {
	return taskEncoding.Marshal(task)
}

func decodeTask(data []byte) (Task, error) {
	var task Task
	if err := cbor.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("tasks: decode: %w", err)
	}
	return task, nil
}

// RetryPolicy bounds re-delivery of failed tasks.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries a failed task up to five times with linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Backoff: 10 * time.Second}
}

// next reports when a task that failed at now should run again, if at all.
func (p RetryPolicy) next(task Task, now time.Time) (Task, time.Time, bool) {
	task.Attempt++
	if task.Attempt >= p.MaxAttempts {
		return task, time.Time{}, false
	}
	return task, now.Add(time.Duration(task.Attempt) * p.Backoff), true
}
