// Package notify provides typed, ordered observer lists.
//
// A Topic delivers a payload to every subscriber in subscription order. Publish
// is tolerant: it runs all handlers, logs failures and reports them joined.
// Dispatch is strict and stops at the first failing handler, which lets callers
// running inside a transaction roll back. A Command is a Topic that must have at
// least one handler.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrNoHandlers is returned by Command.Execute when nothing is registered.
var ErrNoHandlers = errors.New("notify: no handlers registered")

// Handler consumes a payload.
type Handler[T any] func(ctx context.Context, payload T) error

// HandlerError identifies the handler that failed.
type HandlerError struct {
	Topic string
	Index int
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("notify: %s handler %d: %v", e.Topic, e.Index, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// Topic is an ordered list of handlers for one payload type.
type Topic[T any] struct {
	name   string
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []Handler[T]
}

// NewTopic creates a topic. A nil logger discards handler failures.
func NewTopic[T any](name string, logger *slog.Logger) *Topic[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Topic[T]{name: name, logger: logger.With("topic", name)}
}

// Name returns the topic name.
func (t *Topic[T]) Name() string {
	return t.name
}

// Subscribe appends h to the handler list.
func (t *Topic[T]) Subscribe(h Handler[T]) {
	if h == nil {
		return
	}
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// Len reports the number of subscribed handlers.
func (t *Topic[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

func (t *Topic[T]) snapshot() []Handler[T] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Handler[T](nil), t.handlers...)
}

// Publish calls every handler. Failures, panics included, are logged and
// returned joined; they never stop later handlers.
func (t *Topic[T]) Publish(ctx context.Context, payload T) error {
	var errs []error
	for i, h := range t.snapshot() {
		if err := t.call(ctx, i, h, payload); err != nil {
			t.logger.ErrorContext(ctx, "handler failed", "handler", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatch calls handlers in order and returns the first failure.
func (t *Topic[T]) Dispatch(ctx context.Context, payload T) error {
	for i, h := range t.snapshot() {
		if err := t.call(ctx, i, h, payload); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topic[T]) call(ctx context.Context, i int, h Handler[T], payload T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &HandlerError{Topic: t.name, Index: i, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := h(ctx, payload); err != nil {
		return &HandlerError{Topic: t.name, Index: i, Err: err}
	}
	return nil
}

// Command is a strict topic that requires at least one handler.
type Command[T any] struct {
	topic *Topic[T]
}

// NewCommand creates a command.
func NewCommand[T any](name string, logger *slog.Logger) *Command[T] {
	return &Command[T]{topic: NewTopic[T](name, logger)}
}

// Name returns the command name.
func (c *Command[T]) Name() string {
	return c.topic.Name()
}

// Handle registers h.
func (c *Command[T]) Handle(h Handler[T]) {
	c.topic.Subscribe(h)
}

// Execute runs every handler in order, stopping at the first failure.
func (c *Command[T]) Execute(ctx context.Context, payload T) error {
	if c.topic.Len() == 0 {
		return fmt.Errorf("%w: %s", ErrNoHandlers, c.topic.Name())
	}
	return c.topic.Dispatch(ctx, payload)
}
