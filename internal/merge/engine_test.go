package merge

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/branchgraph"
	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/events"
	"github.com/arcway/chronicle/internal/repository"
	"github.com/arcway/chronicle/internal/resolver"
	"github.com/arcway/chronicle/internal/versioning"
)

type fixture struct {
	store   *repository.MemoryStore
	service *versioning.Service
	engine  *Engine
	main    domain.Branch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	bus := events.NewBus()
	res, err := resolver.New(store, bus)
	if err != nil {
		t.Fatalf("create resolver: %v", err)
	}
	graph := branchgraph.New(store.Branches())
	service := versioning.NewService(store, graph, res, bus)
	engine := NewEngine(store, graph, res, bus)

	main, err := graph.CreateRoot(ctx, "main")
	if err != nil {
		t.Fatalf("create main: %v", err)
	}
	return &fixture{store: store, service: service, engine: engine, main: main}
}

func (f *fixture) write(t *testing.T, entityID, branchID uuid.UUID, validFrom domain.WorldTime, expected int64, payload map[string]any) domain.Version {
	t.Helper()
	version, err := f.service.CreateVersion(context.Background(), versioning.CreateVersionRequest{
		EntityType:       "settlement",
		EntityID:         entityID,
		BranchID:         branchID,
		ValidFrom:        validFrom,
		Payload:          payload,
		ExpectedSequence: expected,
		Actor:            "gm",
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}
	return version
}

func (f *fixture) fork(t *testing.T, at domain.WorldTime) domain.Branch {
	t.Helper()
	branch, err := f.service.ForkBranch(context.Background(), f.main.ID, "what-if", at, "gm")
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	return branch
}

func TestMergeDisjointEditsAutoResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	f.write(t, entityID, f.main.ID, 100, 0, map[string]any{"level": float64(3), "population": float64(8000)})
	child := f.fork(t, 150)
	f.write(t, entityID, child.ID, 200, 1, map[string]any{"level": float64(4), "population": float64(8000)})
	f.write(t, entityID, f.main.ID, 180, 2, map[string]any{"level": float64(3), "population": float64(9000)})

	preview, err := f.engine.Preview(ctx, child.ID, f.main.ID)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview.Conflicts()) != 0 {
		t.Fatalf("disjoint edits should not conflict: %+v", preview.Conflicts())
	}

	result, err := f.engine.Execute(ctx, child.ID, f.main.ID, 300, nil, "gm")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Versions) != 1 {
		t.Fatalf("expected one merged version, got %d", len(result.Versions))
	}

	merged, err := f.service.ResolveAsOf(ctx, "settlement", entityID, f.main.ID, domain.MaxWorldTime)
	if err != nil {
		t.Fatalf("resolve merged: %v", err)
	}
	if merged.Payload["level"] != float64(4) || merged.Payload["population"] != float64(9000) {
		t.Errorf("merged state should combine both edits, got %+v", merged.Payload)
	}
}

func TestMergeConflictRequiresResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	f.write(t, entityID, f.main.ID, 100, 0, map[string]any{"level": float64(3), "morale": "steady"})
	child := f.fork(t, 150)
	f.write(t, entityID, child.ID, 200, 1, map[string]any{"level": float64(5), "morale": "high"})
	f.write(t, entityID, f.main.ID, 180, 2, map[string]any{"level": float64(6), "morale": "steady"})

	_, err := f.engine.Execute(ctx, child.ID, f.main.ID, 300, nil, "gm")
	var unresolvedErr *domain.UnresolvedConflictError
	if !errors.As(err, &unresolvedErr) {
		t.Fatalf("expected UnresolvedConflictError, got %v", err)
	}
	if len(unresolvedErr.Conflicts) != 1 || unresolvedErr.Conflicts[0].Path.String() != "level" {
		t.Fatalf("expected a single conflict on level, got %+v", unresolvedErr.Conflicts)
	}

	// a rejected merge writes nothing
	history, _ := f.service.GetHistory(ctx, "settlement", entityID, f.main.ID)
	if len(history) != 2 {
		t.Errorf("rejected merge must not write, history has %d versions", len(history))
	}

	resolutions := domain.EntityResolutions{
		"settlement:" + entityID.String(): {"level": {Value: float64(6)}},
	}
	result, err := f.engine.Execute(ctx, child.ID, f.main.ID, 300, resolutions, "gm")
	if err != nil {
		t.Fatalf("execute with resolution: %v", err)
	}
	if len(result.Versions) != 1 {
		t.Fatalf("expected one merged version, got %d", len(result.Versions))
	}

	merged, err := f.service.ResolveAsOf(ctx, "settlement", entityID, f.main.ID, domain.MaxWorldTime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if merged.Payload["level"] != float64(6) || merged.Payload["morale"] != "high" {
		t.Errorf("merged state should carry the resolution plus the auto change, got %+v", merged.Payload)
	}
	if len(result.Record.Conflicts) != 1 {
		t.Errorf("merge record should retain the conflict, got %+v", result.Record.Conflicts)
	}
}

func TestMergeIsIdempotentWhenTargetCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	f.write(t, entityID, f.main.ID, 100, 0, map[string]any{"level": float64(3)})
	child := f.fork(t, 150)
	f.write(t, entityID, child.ID, 200, 1, map[string]any{"level": float64(4)})

	first, err := f.engine.Execute(ctx, child.ID, f.main.ID, 300, nil, "gm")
	if err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if len(first.Versions) != 1 {
		t.Fatalf("first merge should write one version, got %d", len(first.Versions))
	}

	second, err := f.engine.Execute(ctx, child.ID, f.main.ID, 400, nil, "gm")
	if err != nil {
		t.Fatalf("second merge: %v", err)
	}
	if len(second.Versions) != 0 {
		t.Errorf("re-merging with no new edits should write nothing, got %d versions", len(second.Versions))
	}
}

func TestMergeSameBranchIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.engine.Execute(ctx, f.main.ID, f.main.ID, 100, nil, "gm")
	if err != nil {
		t.Fatalf("self merge: %v", err)
	}
	if len(result.Versions) != 0 {
		t.Errorf("merging a branch into itself should write nothing, got %d", len(result.Versions))
	}
}

func TestMergeDisjointBranchesFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	graph := branchgraph.New(f.store.Branches())
	other, err := graph.CreateRoot(ctx, "other-campaign")
	if err != nil {
		t.Fatalf("create second root: %v", err)
	}

	_, err = f.engine.Preview(ctx, f.main.ID, other.ID)
	var ancestryErr *domain.NoCommonAncestorError
	if !errors.As(err, &ancestryErr) {
		t.Fatalf("expected NoCommonAncestorError, got %v", err)
	}
}

func TestMergeEntityCreatedOnlyInSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	child := f.fork(t, 100)
	f.write(t, entityID, child.ID, 200, 0, map[string]any{"name": "outpost"})

	result, err := f.engine.Execute(ctx, child.ID, f.main.ID, 300, nil, "gm")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(result.Versions) != 1 {
		t.Fatalf("new entity should merge cleanly, got %d versions", len(result.Versions))
	}

	merged, err := f.service.ResolveAsOf(ctx, "settlement", entityID, f.main.ID, domain.MaxWorldTime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if merged.Payload["name"] != "outpost" {
		t.Errorf("merged entity payload wrong: %+v", merged.Payload)
	}
}

func TestMergeDeletedInSourceModifiedInTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	f.write(t, entityID, f.main.ID, 100, 0, map[string]any{"name": "tavern"})
	child := f.fork(t, 150)
	f.write(t, entityID, child.ID, 200, 1, nil) // tombstone
	f.write(t, entityID, f.main.ID, 180, 2, map[string]any{"name": "inn"})

	_, err := f.engine.Execute(ctx, child.ID, f.main.ID, 300, nil, "gm")
	var unresolvedErr *domain.UnresolvedConflictError
	if !errors.As(err, &unresolvedErr) {
		t.Fatalf("expected UnresolvedConflictError, got %v", err)
	}
	if unresolvedErr.Conflicts[0].Kind != domain.DeletedModified {
		t.Errorf("expected %s, got %s", domain.DeletedModified, unresolvedErr.Conflicts[0].Kind)
	}

	// resolve in favor of the deletion
	resolutions := domain.EntityResolutions{
		"settlement:" + entityID.String(): {"$": {Delete: true}},
	}
	if _, err := f.engine.Execute(ctx, child.ID, f.main.ID, 300, resolutions, "gm"); err != nil {
		t.Fatalf("execute with delete resolution: %v", err)
	}

	merged, err := f.service.ResolveAsOf(ctx, "settlement", entityID, f.main.ID, domain.MaxWorldTime)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !merged.Deleted() {
		t.Errorf("resolved deletion should leave a tombstone, got %+v", merged.Payload)
	}
}

func TestCherryPickOntoCleanTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	child := f.fork(t, 100)
	picked := f.write(t, entityID, child.ID, 200, 0, map[string]any{"name": "outpost"})

	result, err := f.engine.CherryPick(ctx, picked.ID, f.main.ID, 300, nil, "gm")
	if err != nil {
		t.Fatalf("cherry-pick: %v", err)
	}
	if !result.Applied || result.Version == nil {
		t.Fatalf("pick onto a clean target should apply, got %+v", result)
	}
	if result.Version.BranchID != f.main.ID {
		t.Errorf("picked version should land in the target branch, got %s", result.Version.BranchID)
	}
}

func TestCherryPickConflictWhenTargetDiverged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	f.write(t, entityID, f.main.ID, 100, 0, map[string]any{"name": "tavern"})
	child := f.fork(t, 150)
	picked := f.write(t, entityID, child.ID, 200, 1, map[string]any{"name": "outpost"})
	f.write(t, entityID, f.main.ID, 180, 2, map[string]any{"name": "inn"})

	_, err := f.engine.CherryPick(ctx, picked.ID, f.main.ID, 300, nil, "gm")
	var unresolvedErr *domain.UnresolvedConflictError
	if !errors.As(err, &unresolvedErr) {
		t.Fatalf("expected UnresolvedConflictError, got %v", err)
	}

	resolutions := map[string]domain.Resolution{
		"$": {Value: map[string]any{"name": "outpost"}},
	}
	result, err := f.engine.CherryPick(ctx, picked.ID, f.main.ID, 300, resolutions, "gm")
	if err != nil {
		t.Fatalf("cherry-pick with resolution: %v", err)
	}
	if !result.Applied {
		t.Fatal("resolved pick should apply")
	}
	if result.Version.Payload["name"] != "outpost" {
		t.Errorf("picked payload wrong: %+v", result.Version.Payload)
	}
}

func TestCherryPickAlreadyApplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	f.write(t, entityID, f.main.ID, 100, 0, map[string]any{"name": "outpost"})
	child := f.fork(t, 150)
	picked := f.write(t, entityID, child.ID, 200, 1, map[string]any{"name": "outpost"})

	before, _ := f.service.GetHistory(ctx, "settlement", entityID, f.main.ID)

	result, err := f.engine.CherryPick(ctx, picked.ID, f.main.ID, 300, nil, "gm")
	if err != nil {
		t.Fatalf("cherry-pick: %v", err)
	}
	if result.Applied || result.Version != nil {
		t.Errorf("a pick the target already carries should not write, got %+v", result)
	}

	after, _ := f.service.GetHistory(ctx, "settlement", entityID, f.main.ID)
	if len(after) != len(before) {
		t.Errorf("no-op pick must not grow history: %d -> %d", len(before), len(after))
	}
}

func TestMergeRejectsBackdatedCommitTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	f.write(t, entityID, f.main.ID, 100, 0, map[string]any{"level": float64(3)})
	child := f.fork(t, 150)
	f.write(t, entityID, child.ID, 200, 1, map[string]any{"level": float64(4)})

	// the target's open version starts at 100; committing earlier would
	// invert its interval
	_, err := f.engine.Execute(ctx, child.ID, f.main.ID, 50, nil, "gm")
	var backdatedErr *domain.BackdatedVersionError
	if !errors.As(err, &backdatedErr) {
		t.Fatalf("expected BackdatedVersionError, got %v", err)
	}

	history, err := f.service.GetHistory(ctx, "settlement", entityID, f.main.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ValidTo != nil {
		t.Errorf("failed merge must roll back fully, got %+v", history)
	}

	records, err := f.engine.ListMerges(ctx, child.ID, f.main.ID)
	if err != nil {
		t.Fatalf("list merges: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("failed merge must not be recorded, got %d records", len(records))
	}
}

func TestListMergesRecordsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	entityID := uuid.New()

	f.write(t, entityID, f.main.ID, 100, 0, map[string]any{"level": float64(3)})
	child := f.fork(t, 150)
	f.write(t, entityID, child.ID, 200, 1, map[string]any{"level": float64(4)})

	if _, err := f.engine.Execute(ctx, child.ID, f.main.ID, 300, nil, "gm"); err != nil {
		t.Fatalf("execute: %v", err)
	}

	records, err := f.engine.ListMerges(ctx, child.ID, f.main.ID)
	if err != nil {
		t.Fatalf("list merges: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one merge record, got %d", len(records))
	}
	if len(records[0].VersionIDs) != 1 {
		t.Errorf("record should reference the written version, got %+v", records[0].VersionIDs)
	}
}
