package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/events"
	"github.com/arcway/chronicle/internal/repository"
)

type fixture struct {
	store *repository.MemoryStore
	bus   *events.Bus
	res   *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	bus := events.NewBus()
	res, err := New(store, bus)
	if err != nil {
		t.Fatalf("create resolver: %v", err)
	}
	return &fixture{store: store, bus: bus, res: res}
}

func (f *fixture) branch(t *testing.T, parent *uuid.UUID, forkPoint domain.WorldTime) domain.Branch {
	t.Helper()
	branch, err := f.store.Branches().Create(context.Background(), domain.Branch{
		Name:           "b-" + uuid.NewString()[:8],
		ParentBranchID: parent,
		ForkPoint:      forkPoint,
	})
	if err != nil {
		t.Fatalf("create branch: %v", err)
	}
	return branch
}

func (f *fixture) version(t *testing.T, entityID, branchID uuid.UUID, validFrom domain.WorldTime, validTo *domain.WorldTime, seq int64, payload map[string]any) domain.Version {
	t.Helper()
	version, err := f.store.Versions().Create(context.Background(), domain.Version{
		EntityType:     "settlement",
		EntityID:       entityID,
		BranchID:       branchID,
		ValidFrom:      validFrom,
		Payload:        payload,
		SequenceNumber: seq,
		CreatedBy:      "test",
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	if validTo != nil {
		if err := f.store.Versions().Close(context.Background(), version.ID, *validTo); err != nil {
			t.Fatalf("close version: %v", err)
		}
	}
	return version
}

func TestResolveInheritsFromParentBranch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	main := f.branch(t, nil, 0)
	entityID := uuid.New()
	f.version(t, entityID, main.ID, 100, nil, 1, map[string]any{"level": float64(3)})

	child := f.branch(t, &main.ID, 200)

	version, err := f.res.Resolve(ctx, "settlement", entityID, child.ID, 250)
	if err != nil {
		t.Fatalf("resolve through parent: %v", err)
	}
	if version.BranchID != main.ID {
		t.Errorf("a fresh fork should see the parent's version, got branch %s", version.BranchID)
	}
	if version.Payload["level"] != float64(3) {
		t.Errorf("payload wrong: %+v", version.Payload)
	}
}

func TestResolveLocalShadowsParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	main := f.branch(t, nil, 0)
	entityID := uuid.New()
	f.version(t, entityID, main.ID, 100, nil, 1, map[string]any{"level": float64(3)})

	child := f.branch(t, &main.ID, 200)
	f.version(t, entityID, child.ID, 300, nil, 2, map[string]any{"level": float64(9)})

	version, err := f.res.Resolve(ctx, "settlement", entityID, child.ID, 400)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if version.BranchID != child.ID || version.Payload["level"] != float64(9) {
		t.Errorf("local version should shadow parent, got %+v", version)
	}

	// before the local version opens, the parent still answers
	earlier, err := f.res.Resolve(ctx, "settlement", entityID, child.ID, 250)
	if err != nil {
		t.Fatalf("resolve before local open: %v", err)
	}
	if earlier.BranchID != main.ID {
		t.Errorf("expected the parent's version before 300, got branch %s", earlier.BranchID)
	}
}

func TestResolveValidFromInclusive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	main := f.branch(t, nil, 0)
	entityID := uuid.New()
	f.version(t, entityID, main.ID, 100, nil, 1, map[string]any{"level": float64(3)})

	if _, err := f.res.Resolve(ctx, "settlement", entityID, main.ID, 100); err != nil {
		t.Errorf("version should be visible at its own validFrom: %v", err)
	}
	if _, err := f.res.Resolve(ctx, "settlement", entityID, main.ID, 99); !errors.Is(err, domain.ErrVersionNotFound) {
		t.Errorf("version should not be visible before validFrom, got %v", err)
	}
}

func TestResolveClosedIntervalExclusiveEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	main := f.branch(t, nil, 0)
	entityID := uuid.New()
	closeAt := domain.WorldTime(200)
	f.version(t, entityID, main.ID, 100, &closeAt, 1, map[string]any{"level": float64(3)})
	f.version(t, entityID, main.ID, 200, nil, 2, map[string]any{"level": float64(4)})

	version, err := f.res.Resolve(ctx, "settlement", entityID, main.ID, 200)
	if err != nil {
		t.Fatalf("resolve at boundary: %v", err)
	}
	if version.Payload["level"] != float64(4) {
		t.Errorf("at validTo the successor version applies, got %+v", version.Payload)
	}
}

func TestResolveMissingEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	main := f.branch(t, nil, 0)
	child := f.branch(t, &main.ID, 100)

	_, err := f.res.Resolve(ctx, "settlement", uuid.New(), child.ID, 500)
	if !errors.Is(err, domain.ErrVersionNotFound) {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestCacheInvalidatedOnPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	main := f.branch(t, nil, 0)
	entityID := uuid.New()
	f.version(t, entityID, main.ID, 100, nil, 1, map[string]any{"level": float64(3)})

	// prime the cache
	if _, err := f.res.Resolve(ctx, "settlement", entityID, main.ID, domain.MaxWorldTime); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	// a new write lands and its change event fires
	closeAt := domain.WorldTime(500)
	v, _ := f.store.Versions().OpenVersion(ctx, "settlement", entityID, main.ID)
	if err := f.store.Versions().Close(ctx, v.ID, closeAt); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.version(t, entityID, main.ID, 500, nil, 2, map[string]any{"level": float64(8)})
	f.bus.Publish(events.Change{EntityType: "settlement", EntityID: entityID, BranchID: main.ID})

	version, err := f.res.Current(ctx, "settlement", entityID, main.ID)
	if err != nil {
		t.Fatalf("resolve after invalidation: %v", err)
	}
	if version.Payload["level"] != float64(8) {
		t.Errorf("stale cache entry survived invalidation: %+v", version.Payload)
	}
}
