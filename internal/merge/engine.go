// Package merge orchestrates full-campaign merges and cherry-picks over
// the version store. The engine runs in two passes: a read-only analysis
// that builds the merge plan, and a transactional commit that writes every
// produced version and the merge record together or not at all.
package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/branchgraph"
	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/events"
	"github.com/arcway/chronicle/internal/repository"
	"github.com/arcway/chronicle/internal/resolver"
)

// Engine performs branch merges and cherry-picks.
type Engine struct {
	store    repository.Store
	graph    *branchgraph.Graph
	resolver *resolver.Resolver
	bus      *events.Bus
}

// NewEngine wires the engine together.
func NewEngine(store repository.Store, graph *branchgraph.Graph, res *resolver.Resolver, bus *events.Bus) *Engine {
	return &Engine{store: store, graph: graph, resolver: res, bus: bus}
}

// entityAnalysis is one entity's plan entry with the payloads the commit
// pass needs.
type entityAnalysis struct {
	ref  domain.EntityRef
	base *domain.Version
	src  *domain.Version
	tgt  *domain.Version
	diff domain.DiffResult
}

func (a entityAnalysis) plan() domain.EntityMergePlan {
	plan := domain.EntityMergePlan{Entity: a.ref, Diff: a.diff}
	if a.base != nil {
		plan.BaseVersion = &a.base.ID
	}
	if a.src != nil {
		plan.SourceVersion = &a.src.ID
	}
	if a.tgt != nil {
		plan.TargetVersion = &a.tgt.ID
	}
	return plan
}

// Preview runs the read-only analysis pass: find the divergence point,
// enumerate every entity either branch touched since, and partition each
// entity's differences. It writes nothing and needs no cleanup when
// abandoned.
func (e *Engine) Preview(ctx context.Context, sourceID, targetID uuid.UUID) (domain.MergePreview, error) {
	analyses, ancestorID, divergedAt, err := e.analyze(ctx, sourceID, targetID)
	if err != nil {
		return domain.MergePreview{}, err
	}

	preview := domain.MergePreview{
		SourceBranchID: sourceID,
		TargetBranchID: targetID,
		AncestorID:     ancestorID,
		DivergedAt:     divergedAt,
	}
	for _, analysis := range analyses {
		preview.Entities = append(preview.Entities, analysis.plan())
	}
	return preview, nil
}

func (e *Engine) analyze(ctx context.Context, sourceID, targetID uuid.UUID) ([]entityAnalysis, uuid.UUID, domain.WorldTime, error) {
	if _, err := e.graph.Get(ctx, sourceID); err != nil {
		return nil, uuid.Nil, 0, err
	}
	if _, err := e.graph.Get(ctx, targetID); err != nil {
		return nil, uuid.Nil, 0, err
	}

	// merging a branch into itself is a no-op by definition
	if sourceID == targetID {
		return nil, sourceID, 0, nil
	}

	ancestorID, divergedAt, err := e.graph.CommonAncestor(ctx, sourceID, targetID)
	if err != nil {
		return nil, uuid.Nil, 0, err
	}

	refs, err := e.changedEntities(ctx, sourceID, targetID, divergedAt)
	if err != nil {
		return nil, uuid.Nil, 0, err
	}

	var analyses []entityAnalysis
	for _, ref := range refs {
		analysis, err := e.analyzeEntity(ctx, ref, ancestorID, divergedAt, sourceID, targetID)
		if err != nil {
			return nil, uuid.Nil, 0, err
		}
		if len(analysis.diff.Conflicts) == 0 && len(analysis.diff.AutoResolved) == 0 {
			continue
		}
		analyses = append(analyses, analysis)
	}
	return analyses, ancestorID, divergedAt, nil
}

func (e *Engine) changedEntities(ctx context.Context, sourceID, targetID uuid.UUID, since domain.WorldTime) ([]domain.EntityRef, error) {
	fromSource, err := e.store.Versions().ChangedEntities(ctx, sourceID, since)
	if err != nil {
		return nil, err
	}
	fromTarget, err := e.store.Versions().ChangedEntities(ctx, targetID, since)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var refs []domain.EntityRef
	for _, ref := range append(fromSource, fromTarget...) {
		if seen[ref.Key()] {
			continue
		}
		seen[ref.Key()] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

func (e *Engine) analyzeEntity(ctx context.Context, ref domain.EntityRef, ancestorID uuid.UUID, divergedAt domain.WorldTime, sourceID, targetID uuid.UUID) (entityAnalysis, error) {
	base, err := e.resolveOrNil(ctx, ref, ancestorID, divergedAt)
	if err != nil {
		return entityAnalysis{}, err
	}
	src, err := e.resolveOrNil(ctx, ref, sourceID, domain.MaxWorldTime)
	if err != nil {
		return entityAnalysis{}, err
	}
	tgt, err := e.resolveOrNil(ctx, ref, targetID, domain.MaxWorldTime)
	if err != nil {
		return entityAnalysis{}, err
	}

	analysis := entityAnalysis{ref: ref, base: base, src: src, tgt: tgt}
	analysis.diff = domain.DiffEntityStates(payloadOf(base), payloadOf(src), payloadOf(tgt))
	return analysis, nil
}

// resolveOrNil maps "no version" and tombstones alike to an absent state
// for diffing, while keeping the version handle for plan reporting.
func (e *Engine) resolveOrNil(ctx context.Context, ref domain.EntityRef, branchID uuid.UUID, asOf domain.WorldTime) (*domain.Version, error) {
	version, err := e.resolver.Resolve(ctx, ref.EntityType, ref.EntityID, branchID, asOf)
	if err != nil {
		if errors.Is(err, domain.ErrVersionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &version, nil
}

func payloadOf(version *domain.Version) map[string]any {
	if version == nil {
		return nil
	}
	return version.Payload
}

// Execute validates that every conflict carries a resolution, then commits
// the merged payloads into the target branch at the given world time. All
// versions plus the merge record are written in one transaction; any
// failure rolls back the entire merge.
func (e *Engine) Execute(ctx context.Context, sourceID, targetID uuid.UUID, at domain.WorldTime, resolutions domain.EntityResolutions, actor string) (domain.MergeResult, error) {
	analyses, _, _, err := e.analyze(ctx, sourceID, targetID)
	if err != nil {
		return domain.MergeResult{}, err
	}

	if unresolved := missingResolutions(analyses, resolutions); len(unresolved) > 0 {
		return domain.MergeResult{}, &domain.UnresolvedConflictError{Conflicts: unresolved}
	}

	var (
		record  domain.MergeRecord
		written []domain.Version
	)
	err = e.store.WithinTx(ctx, func(ctx context.Context, stores repository.Stores) error {
		written = written[:0]
		var (
			touched    []domain.EntityRef
			conflicts  []domain.Conflict
			versionIDs []uuid.UUID
		)

		for _, analysis := range analyses {
			conflicts = append(conflicts, analysis.diff.Conflicts...)

			merged := domain.ApplyChanges(payloadOf(analysis.base), analysis.diff.AutoResolved, analysis.diff.Conflicts, resolutions[analysis.ref.Key()])
			if domain.EqualPayloads(merged, payloadOf(analysis.tgt)) {
				continue
			}

			version, err := e.writeVersion(ctx, stores, analysis.ref, targetID, at, merged, actor,
				fmt.Sprintf("merged from branch %s", sourceID))
			if err != nil {
				return err
			}

			touched = append(touched, analysis.ref)
			versionIDs = append(versionIDs, version.ID)
			written = append(written, version)

			if _, err := stores.Audit().Record(ctx, domain.AuditEntry{
				Operation:  domain.OpMerge,
				EntityType: analysis.ref.EntityType,
				EntityID:   analysis.ref.EntityID,
				BranchID:   targetID,
				VersionID:  version.ID,
				Actor:      actor,
			}); err != nil {
				return err
			}
		}

		var err error
		record, err = stores.Merges().Create(ctx, domain.MergeRecord{
			SourceBranchID: sourceID,
			TargetBranchID: targetID,
			Entities:       touched,
			Conflicts:      conflicts,
			Resolutions:    resolutions,
			VersionIDs:     versionIDs,
			Actor:          actor,
		})
		return err
	})
	if err != nil {
		return domain.MergeResult{}, err
	}

	for _, version := range written {
		e.publish(version, domain.OpMerge)
	}
	return domain.MergeResult{Record: record, Versions: written}, nil
}

// CherryPick applies one historical version onto the target branch's
// current state. With no natural three-way base the diff is two-way, so
// any disagreement between the picked payload and the target's present
// value is a conflict.
func (e *Engine) CherryPick(ctx context.Context, sourceVersionID, targetID uuid.UUID, at domain.WorldTime, resolutions map[string]domain.Resolution, actor string) (domain.CherryPickResult, error) {
	picked, err := e.store.Versions().GetByID(ctx, sourceVersionID)
	if err != nil {
		return domain.CherryPickResult{}, err
	}
	if _, err := e.graph.Get(ctx, targetID); err != nil {
		return domain.CherryPickResult{}, err
	}

	ref := domain.EntityRef{EntityType: picked.EntityType, EntityID: picked.EntityID}
	tgt, err := e.resolveOrNil(ctx, ref, targetID, domain.MaxWorldTime)
	if err != nil {
		return domain.CherryPickResult{}, err
	}

	diff := domain.DiffEntityStates(nil, picked.Payload, payloadOf(tgt))
	if unresolvedLeft := unresolvedConflicts(diff.Conflicts, resolutions); len(unresolvedLeft) > 0 {
		return domain.CherryPickResult{}, &domain.UnresolvedConflictError{Conflicts: unresolvedLeft}
	}

	merged := domain.ApplyChanges(map[string]any{}, diff.AutoResolved, diff.Conflicts, resolutions)
	if domain.EqualPayloads(merged, payloadOf(tgt)) {
		// target already carries the picked change; nothing to write
		record, err := e.store.Merges().Create(ctx, domain.MergeRecord{
			SourceBranchID: picked.BranchID,
			TargetBranchID: targetID,
			Entities:       []domain.EntityRef{ref},
			Conflicts:      diff.Conflicts,
			Actor:          actor,
		})
		if err != nil {
			return domain.CherryPickResult{}, err
		}
		return domain.CherryPickResult{Record: record}, nil
	}

	var (
		record  domain.MergeRecord
		version domain.Version
	)
	err = e.store.WithinTx(ctx, func(ctx context.Context, stores repository.Stores) error {
		var err error
		version, err = e.writeVersion(ctx, stores, ref, targetID, at, merged, actor,
			fmt.Sprintf("cherry-picked from version %s", picked.ID))
		if err != nil {
			return err
		}

		if _, err := stores.Audit().Record(ctx, domain.AuditEntry{
			Operation:  domain.OpCherryPick,
			EntityType: ref.EntityType,
			EntityID:   ref.EntityID,
			BranchID:   targetID,
			VersionID:  version.ID,
			Actor:      actor,
			Detail:     map[string]any{"source_version": picked.ID.String()},
		}); err != nil {
			return err
		}

		entityResolutions := domain.EntityResolutions{}
		if len(resolutions) > 0 {
			entityResolutions[ref.Key()] = resolutions
		}
		record, err = stores.Merges().Create(ctx, domain.MergeRecord{
			SourceBranchID: picked.BranchID,
			TargetBranchID: targetID,
			Entities:       []domain.EntityRef{ref},
			Conflicts:      diff.Conflicts,
			Resolutions:    entityResolutions,
			VersionIDs:     []uuid.UUID{version.ID},
			Actor:          actor,
		})
		return err
	})
	if err != nil {
		return domain.CherryPickResult{}, err
	}

	e.publish(version, domain.OpCherryPick)
	return domain.CherryPickResult{Record: record, Version: &version, Applied: true}, nil
}

// writeVersion closes the target's open version (if any) and inserts the
// merged payload, advancing the entity's sequence number.
func (e *Engine) writeVersion(ctx context.Context, stores repository.Stores, ref domain.EntityRef, branchID uuid.UUID, at domain.WorldTime, payload map[string]any, actor, comment string) (domain.Version, error) {
	sequence, err := stores.Versions().LatestSequence(ctx, ref.EntityType, ref.EntityID)
	if err != nil {
		return domain.Version{}, err
	}

	open, err := stores.Versions().OpenVersion(ctx, ref.EntityType, ref.EntityID, branchID)
	switch {
	case err == nil:
		if at < open.ValidFrom {
			return domain.Version{}, &domain.BackdatedVersionError{
				EntityType: ref.EntityType,
				EntityID:   ref.EntityID,
				OpenFrom:   open.ValidFrom,
				ValidFrom:  at,
			}
		}
		if err := stores.Versions().Close(ctx, open.ID, at); err != nil {
			return domain.Version{}, err
		}
	case !errors.Is(err, domain.ErrVersionNotFound):
		return domain.Version{}, err
	}

	return stores.Versions().Create(ctx, domain.Version{
		EntityType:     ref.EntityType,
		EntityID:       ref.EntityID,
		BranchID:       branchID,
		ValidFrom:      at,
		Payload:        payload,
		SequenceNumber: sequence + 1,
		Comment:        &comment,
		CreatedBy:      actor,
	})
}

func missingResolutions(analyses []entityAnalysis, resolutions domain.EntityResolutions) []domain.Conflict {
	var unresolved []domain.Conflict
	for _, analysis := range analyses {
		unresolved = append(unresolved, unresolvedConflicts(analysis.diff.Conflicts, resolutions[analysis.ref.Key()])...)
	}
	return unresolved
}

func unresolvedConflicts(conflicts []domain.Conflict, resolutions map[string]domain.Resolution) []domain.Conflict {
	var unresolved []domain.Conflict
	for _, conflict := range conflicts {
		if _, ok := resolutions[conflict.Path.String()]; !ok {
			unresolved = append(unresolved, conflict)
		}
	}
	return unresolved
}

func (e *Engine) publish(version domain.Version, operation domain.Operation) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Change{
		EntityType: version.EntityType,
		EntityID:   version.EntityID,
		BranchID:   version.BranchID,
		VersionID:  version.ID,
		Operation:  operation,
	})
}

// ListMerges returns the merge history between two branches.
func (e *Engine) ListMerges(ctx context.Context, sourceID, targetID uuid.UUID) ([]domain.MergeRecord, error) {
	return e.store.Merges().List(ctx, sourceID, targetID)
}
