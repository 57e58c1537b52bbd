package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityMergePlan is the per-entity outcome of merge analysis: the three
// states that were compared and the partitioned differences between them.
type EntityMergePlan struct {
	Entity        EntityRef  `json:"entity"`
	BaseVersion   *uuid.UUID `json:"base_version,omitempty"`
	SourceVersion *uuid.UUID `json:"source_version,omitempty"`
	TargetVersion *uuid.UUID `json:"target_version,omitempty"`
	Diff          DiffResult `json:"diff"`
}

// MergePreview is the read-only result of merge analysis. It performs no
// writes and can be discarded without cleanup.
type MergePreview struct {
	SourceBranchID uuid.UUID         `json:"source_branch_id"`
	TargetBranchID uuid.UUID         `json:"target_branch_id"`
	AncestorID     uuid.UUID         `json:"ancestor_branch_id"`
	DivergedAt     WorldTime         `json:"diverged_at"`
	Entities       []EntityMergePlan `json:"entities"`
}

// Conflicts flattens every unresolved conflict across the plan.
func (p MergePreview) Conflicts() []Conflict {
	var all []Conflict
	for _, entity := range p.Entities {
		all = append(all, entity.Diff.Conflicts...)
	}
	return all
}

// MergeRecord is the immutable audit of a completed merge or cherry-pick,
// created atomically with the versions it produced.
type MergeRecord struct {
	ID             uuid.UUID         `json:"id"`
	SourceBranchID uuid.UUID         `json:"source_branch_id"`
	TargetBranchID uuid.UUID         `json:"target_branch_id"`
	Entities       []EntityRef       `json:"entities"`
	Conflicts      []Conflict        `json:"conflicts"`
	Resolutions    EntityResolutions `json:"resolutions,omitempty"`
	VersionIDs     []uuid.UUID       `json:"version_ids"`
	Actor          string            `json:"actor"`
	CreatedAt      time.Time         `json:"created_at"`
}

// MergeResult reports what an executed merge committed.
type MergeResult struct {
	Record   MergeRecord `json:"record"`
	Versions []Version   `json:"versions"`
}

// CherryPickResult reports what a cherry-pick committed. Version is nil
// when the target already carried every picked change.
type CherryPickResult struct {
	Record  MergeRecord `json:"record"`
	Version *Version    `json:"version,omitempty"`
	Applied bool        `json:"applied"`
}

// EntityResolutions maps EntityRef.Key() to the per-path resolutions chosen
// for that entity's conflicts.
type EntityResolutions map[string]map[string]Resolution
