package changelog

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownKind is returned when no resolver is registered for a subject kind.
var ErrUnknownKind = errors.New("changelog: unknown subject kind")

// Subject is a tracked domain object.
type Subject interface {
	SubjectKind() string
	SubjectID() string
	// Snapshot returns the full field set of the subject.
	Snapshot() Fields
}

// Restorable is a Subject that can take back a prior snapshot. Apply mutates
// the in-memory value only; collection fields are replaced, never merged.
type Restorable interface {
	Subject
	Apply(fields Fields) error
}

// Resolver loads the live subject of a kind, including soft-deleted ones.
type Resolver func(ctx context.Context, id string) (Restorable, error)

// Registry maps subject kinds to resolvers.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register binds kind to r.
func (r *Registry) Register(kind string, resolver Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[kind] = resolver
}

// Resolve loads the subject identified by kind and id.
func (r *Registry) Resolve(ctx context.Context, kind, id string) (Restorable, error) {
	r.mu.RLock()
	resolver, ok := r.resolvers[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return resolver(ctx, id)
}
