// Package versioning exposes the version-producing operations of the
// bitemporal store: create, history, as-of resolution, diff, restore, and
// branch management. Every write runs inside one transaction; nothing is
// partially persisted.
package versioning

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

// Service orchestrates the version store, branch graph and resolver.
type Service struct {
	store    repository.Store
	graph    *branchgraph.Graph
	resolver *resolver.Resolver
	bus      *events.Bus
}

// NewService wires the service together.
func NewService(store repository.Store, graph *branchgraph.Graph, res *resolver.Resolver, bus *events.Bus) *Service {
	return &Service{store: store, graph: graph, resolver: res, bus: bus}
}

// CreateVersionRequest carries one entity mutation.
type CreateVersionRequest struct {
	EntityType string
	EntityID   uuid.UUID
	BranchID   uuid.UUID
	ValidFrom  domain.WorldTime
	// Payload is the full entity snapshot. nil marks the entity deleted
	// in the branch from ValidFrom onward.
	Payload map[string]any
	// ExpectedSequence must match the entity's latest stored sequence
	// number; 0 means the caller expects a brand-new entity.
	ExpectedSequence int64
	Actor            string
	Comment          *string
}

// CreateVersion validates the caller's optimistic-lock expectation, closes
// the previously open version, inserts the new one and records the audit
// entry, all in one transaction. A sequence mismatch fails the whole write
// with *domain.OptimisticLockError and no partial effect.
func (s *Service) CreateVersion(ctx context.Context, req CreateVersionRequest) (domain.Version, error) {
	if _, err := s.graph.Get(ctx, req.BranchID); err != nil {
		return domain.Version{}, err
	}

	var created domain.Version
	err := s.store.WithinTx(ctx, func(ctx context.Context, stores repository.Stores) error {
		actual, err := stores.Versions().LatestSequence(ctx, req.EntityType, req.EntityID)
		if err != nil {
			return err
		}
		if actual != req.ExpectedSequence {
			return &domain.OptimisticLockError{
				EntityType: req.EntityType,
				EntityID:   req.EntityID,
				Expected:   req.ExpectedSequence,
				Actual:     actual,
			}
		}

		operation := domain.OpUpdate
		if actual == 0 {
			operation = domain.OpCreate
		}

		open, err := stores.Versions().OpenVersion(ctx, req.EntityType, req.EntityID, req.BranchID)
		switch {
		case err == nil:
			if req.ValidFrom < open.ValidFrom {
				return &domain.BackdatedVersionError{
					EntityType: req.EntityType,
					EntityID:   req.EntityID,
					OpenFrom:   open.ValidFrom,
					ValidFrom:  req.ValidFrom,
				}
			}
			if err := stores.Versions().Close(ctx, open.ID, req.ValidFrom); err != nil {
				return err
			}
		case !errors.Is(err, domain.ErrVersionNotFound):
			return err
		}

		created, err = stores.Versions().Create(ctx, domain.Version{
			EntityType:     req.EntityType,
			EntityID:       req.EntityID,
			BranchID:       req.BranchID,
			ValidFrom:      req.ValidFrom,
			Payload:        req.Payload,
			SequenceNumber: actual + 1,
			Comment:        req.Comment,
			CreatedBy:      req.Actor,
		})
		if err != nil {
			return err
		}

		_, err = stores.Audit().Record(ctx, domain.AuditEntry{
			Operation:  operation,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			BranchID:   req.BranchID,
			VersionID:  created.ID,
			Actor:      req.Actor,
		})
		return err
	})
	if err != nil {
		return domain.Version{}, err
	}

	s.publish(created, opForSequence(created.SequenceNumber))
	return created, nil
}

// GetVersion fetches a single version row by id.
func (s *Service) GetVersion(ctx context.Context, versionID uuid.UUID) (domain.Version, error) {
	return s.store.Versions().GetByID(ctx, versionID)
}

// GetHistory returns the entity's versions within one branch, oldest first.
func (s *Service) GetHistory(ctx context.Context, entityType string, entityID, branchID uuid.UUID) ([]domain.Version, error) {
	return s.store.Versions().History(ctx, entityType, entityID, branchID)
}

// ResolveAsOf returns the version applicable at a world time, walking
// branch ancestry when the branch has no local interval covering it.
func (s *Service) ResolveAsOf(ctx context.Context, entityType string, entityID, branchID uuid.UUID, asOf domain.WorldTime) (domain.Version, error) {
	return s.resolver.Resolve(ctx, entityType, entityID, branchID, asOf)
}

// DiffVersions computes the structural diff between two versions.
func (s *Service) DiffVersions(ctx context.Context, versionA, versionB uuid.UUID) (domain.StructuralDiff, error) {
	a, err := s.store.Versions().GetByID(ctx, versionA)
	if err != nil {
		return domain.StructuralDiff{}, err
	}
	b, err := s.store.Versions().GetByID(ctx, versionB)
	if err != nil {
		return domain.StructuralDiff{}, err
	}
	return domain.DiffVersionPayloads(a, b), nil
}

// RestoreVersion creates a new version in the historical version's branch
// carrying its payload, opening at the given world time. The sequence
// advances past whatever is stored, so no expected-sequence argument is
// needed: restore states intent explicitly.
func (s *Service) RestoreVersion(ctx context.Context, versionID uuid.UUID, at domain.WorldTime, actor string) (domain.Version, error) {
	historical, err := s.store.Versions().GetByID(ctx, versionID)
	if err != nil {
		return domain.Version{}, err
	}

	var restored domain.Version
	err = s.store.WithinTx(ctx, func(ctx context.Context, stores repository.Stores) error {
		actual, err := stores.Versions().LatestSequence(ctx, historical.EntityType, historical.EntityID)
		if err != nil {
			return err
		}

		open, err := stores.Versions().OpenVersion(ctx, historical.EntityType, historical.EntityID, historical.BranchID)
		switch {
		case err == nil:
			if at < open.ValidFrom {
				return &domain.BackdatedVersionError{
					EntityType: historical.EntityType,
					EntityID:   historical.EntityID,
					OpenFrom:   open.ValidFrom,
					ValidFrom:  at,
				}
			}
			if err := stores.Versions().Close(ctx, open.ID, at); err != nil {
				return err
			}
		case !errors.Is(err, domain.ErrVersionNotFound):
			return err
		}

		comment := fmt.Sprintf("restored from version %s", historical.ID)
		restored, err = stores.Versions().Create(ctx, domain.Version{
			EntityType:     historical.EntityType,
			EntityID:       historical.EntityID,
			BranchID:       historical.BranchID,
			ValidFrom:      at,
			Payload:        historical.Payload,
			SequenceNumber: actual + 1,
			Comment:        &comment,
			CreatedBy:      actor,
		})
		if err != nil {
			return err
		}

		_, err = stores.Audit().Record(ctx, domain.AuditEntry{
			Operation:  domain.OpRestore,
			EntityType: restored.EntityType,
			EntityID:   restored.EntityID,
			BranchID:   restored.BranchID,
			VersionID:  restored.ID,
			Actor:      actor,
			Detail:     map[string]any{"restored_from": historical.ID.String()},
		})
		return err
	})
	if err != nil {
		return domain.Version{}, err
	}

	s.publish(restored, domain.OpRestore)
	return restored, nil
}

// ForkBranch creates a new branch off a parent at a world time.
func (s *Service) ForkBranch(ctx context.Context, parentID uuid.UUID, name string, at domain.WorldTime, actor string) (domain.Branch, error) {
	branch, err := s.graph.Fork(ctx, parentID, name, at)
	if err != nil {
		return domain.Branch{}, err
	}

	_, err = s.store.Audit().Record(ctx, domain.AuditEntry{
		Operation: domain.OpFork,
		BranchID:  branch.ID,
		Actor:     actor,
		Detail:    map[string]any{"parent_branch": parentID.String(), "fork_point": int64(at)},
	})
	if err != nil {
		return domain.Branch{}, err
	}
	return branch, nil
}

// ListBranches returns every branch.
func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.graph.List(ctx)
}

// DeleteBranch removes a leaf branch.
func (s *Service) DeleteBranch(ctx context.Context, branchID uuid.UUID) error {
	return s.graph.Delete(ctx, branchID)
}

// ListAudit returns audit entries matching the filter.
func (s *Service) ListAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	return s.store.Audit().List(ctx, filter)
}

func (s *Service) publish(version domain.Version, operation domain.Operation) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Change{
		EntityType: version.EntityType,
		EntityID:   version.EntityID,
		BranchID:   version.BranchID,
		VersionID:  version.ID,
		Operation:  operation,
	})
}

func opForSequence(sequence int64) domain.Operation {
	if sequence == 1 {
		return domain.OpCreate
	}
	return domain.OpUpdate
}
