package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
)

// VersionStore is the append-only store of immutable version records.
// Implementations decode stored payloads before returning versions.
type VersionStore interface {
	// Create compresses the payload and inserts a new open version.
	Create(ctx context.Context, version domain.Version) (domain.Version, error)
	// Close sets validTo on an open version. Closing a closed version
	// fails with *domain.AlreadyClosedError.
	Close(ctx context.Context, versionID uuid.UUID, validTo domain.WorldTime) error
	GetByID(ctx context.Context, versionID uuid.UUID) (domain.Version, error)
	// History returns every version of the entity in the branch, oldest
	// first. Re-querying yields the same values unless new writes occur.
	History(ctx context.Context, entityType string, entityID, branchID uuid.UUID) ([]domain.Version, error)
	// OpenVersion returns the single version with validTo null, or
	// domain.ErrVersionNotFound.
	OpenVersion(ctx context.Context, entityType string, entityID, branchID uuid.UUID) (domain.Version, error)
	// ResolveLocal finds the version covering asOf within the branch
	// itself, without walking ancestry: validFrom <= asOf (inclusive) and
	// validTo > asOf or null.
	ResolveLocal(ctx context.Context, entityType string, entityID, branchID uuid.UUID, asOf domain.WorldTime) (domain.Version, error)
	// LatestSequence returns the highest sequence number recorded for the
	// entity across all branches, or 0 when the entity has no versions.
	LatestSequence(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error)
	// ChangedEntities lists the distinct entities versioned in the branch
	// at or after the given world time.
	ChangedEntities(ctx context.Context, branchID uuid.UUID, since domain.WorldTime) ([]domain.EntityRef, error)
}

// BranchStore persists the branch tree.
type BranchStore interface {
	Create(ctx context.Context, branch domain.Branch) (domain.Branch, error)
	GetByID(ctx context.Context, branchID uuid.UUID) (domain.Branch, error)
	List(ctx context.Context) ([]domain.Branch, error)
	// HasChildren guards leaf-only deletion.
	HasChildren(ctx context.Context, branchID uuid.UUID) (bool, error)
	Delete(ctx context.Context, branchID uuid.UUID) error
}

// MergeStore persists merge and cherry-pick records.
type MergeStore interface {
	Create(ctx context.Context, record domain.MergeRecord) (domain.MergeRecord, error)
	List(ctx context.Context, sourceBranchID, targetBranchID uuid.UUID) ([]domain.MergeRecord, error)
}

// AuditStore is the append-only operation trail.
type AuditStore interface {
	Record(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error)
}

// Stores bundles the four stores so transactional code paths can address
// them through one handle.
type Stores interface {
	Versions() VersionStore
	Branches() BranchStore
	Merges() MergeStore
	Audit() AuditStore
}

// Store adds transaction scoping on top of Stores. WithinTx runs fn against
// transaction-bound stores; any error rolls back every write made inside fn.
type Store interface {
	Stores
	WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
