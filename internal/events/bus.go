// Package events fans out entity-changed notifications after version
// commits. The versioning core only emits; dependents such as the resolver
// cache subscribe and invalidate on their own, keeping observers out of
// the write transaction.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
)

// Change describes one committed version-producing operation.
type Change struct {
	EntityType string
	EntityID   uuid.UUID
	BranchID   uuid.UUID
	VersionID  uuid.UUID
	Operation  domain.Operation
}

// Handler receives committed changes. Handlers run synchronously on the
// publishing goroutine and must not block.
type Handler func(Change)

// Bus is a minimal in-process publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all future changes.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish delivers a change to every subscriber. Callers publish only
// after their transaction commits.
func (b *Bus) Publish(change Change) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(change)
	}
}
