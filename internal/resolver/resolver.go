// Package resolver answers as-of queries, walking branch ancestry when an
// entity has no version in the queried branch itself.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/events"
	"github.com/arcway/chronicle/internal/repository"
)

const defaultCacheSize = 4096

type cacheKey struct {
	entityType string
	entityID   uuid.UUID
	branchID   uuid.UUID
	asOf       domain.WorldTime
}

// Resolver resolves (entityType, entityId, branchId, asOf) to the
// applicable version. Hits are cached; the cache subscribes to the change
// bus and drops every entry for a written entity, across all branches,
// since descendants resolve through ancestors.
type Resolver struct {
	store repository.Store
	cache *lru.Cache[cacheKey, domain.Version]
}

// New creates a resolver and wires its cache invalidation into the bus.
func New(store repository.Store, bus *events.Bus) (*Resolver, error) {
	cache, err := lru.New[cacheKey, domain.Version](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver cache: %w", err)
	}

	r := &Resolver{store: store, cache: cache}
	if bus != nil {
		bus.Subscribe(r.invalidate)
	}
	return r, nil
}

// Resolve walks the branch ancestry iteratively: a local interval covering
// asOf wins; otherwise the parent branch is consulted with the same asOf
// until the root reports domain.ErrVersionNotFound. validFrom <= asOf is
// inclusive, so a version opened exactly at a fork point is visible at
// that instant.
func (r *Resolver) Resolve(ctx context.Context, entityType string, entityID, branchID uuid.UUID, asOf domain.WorldTime) (domain.Version, error) {
	key := cacheKey{entityType: entityType, entityID: entityID, branchID: branchID, asOf: asOf}
	if version, ok := r.cache.Get(key); ok {
		version.Payload = domain.ClonePayload(version.Payload)
		return version, nil
	}

	current := branchID
	visited := map[uuid.UUID]bool{}
	for {
		if visited[current] {
			return domain.Version{}, fmt.Errorf("branch ancestry contains a cycle at %s", current)
		}
		visited[current] = true

		version, err := r.store.Versions().ResolveLocal(ctx, entityType, entityID, current, asOf)
		if err == nil {
			r.cache.Add(key, version)
			version.Payload = domain.ClonePayload(version.Payload)
			return version, nil
		}
		if !errors.Is(err, domain.ErrVersionNotFound) {
			return domain.Version{}, err
		}

		branch, err := r.store.Branches().GetByID(ctx, current)
		if err != nil {
			return domain.Version{}, err
		}
		if branch.ParentBranchID == nil {
			return domain.Version{}, domain.ErrVersionNotFound
		}
		current = *branch.ParentBranchID
	}
}

// Current resolves the branch's latest state of the entity.
func (r *Resolver) Current(ctx context.Context, entityType string, entityID, branchID uuid.UUID) (domain.Version, error) {
	return r.Resolve(ctx, entityType, entityID, branchID, domain.MaxWorldTime)
}

// invalidate drops every cached resolution of the changed entity. Branch
// is ignored on purpose: child branches inherit through the written one.
func (r *Resolver) invalidate(change events.Change) {
	for _, key := range r.cache.Keys() {
		if key.entityType == change.EntityType && key.entityID == change.EntityID {
			r.cache.Remove(key)
		}
	}
}
