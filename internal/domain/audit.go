package domain

import (
	"time"

	"github.com/google/uuid"
)

// Operation names a version-producing action in the audit trail.
type Operation string

const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpMerge      Operation = "merge"
	OpCherryPick Operation = "cherry-pick"
	OpRestore    Operation = "restore"
	OpFork       Operation = "fork"
)

// AuditEntry records one version-producing operation with its actor and
// system timestamp. Entries are append-only.
type AuditEntry struct {
	ID         uuid.UUID      `json:"id"`
	Operation  Operation      `json:"operation"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   uuid.UUID      `json:"entity_id,omitempty"`
	BranchID   uuid.UUID      `json:"branch_id"`
	VersionID  uuid.UUID      `json:"version_id,omitempty"`
	Actor      string         `json:"actor"`
	Detail     map[string]any `json:"detail,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditFilter narrows audit queries; zero values match everything.
type AuditFilter struct {
	EntityType string
	EntityID   uuid.UUID
	BranchID   uuid.UUID
	Operation  Operation
	Limit      int
}
