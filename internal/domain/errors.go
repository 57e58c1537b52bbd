package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors shared across stores and services.
var (
	ErrVersionNotFound = errors.New("version not found")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrBranchNotLeaf   = errors.New("branch has child branches")
)

// OptimisticLockError reports a sequence mismatch between the caller's
// expectation and the stored state. The caller must re-fetch and retry;
// the write is never retried internally.
type OptimisticLockError struct {
	EntityType string
	EntityID   uuid.UUID
	Expected   int64
	Actual     int64
}

func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("optimistic lock failed for %s %s: expected sequence %d, have %d",
		e.EntityType, e.EntityID, e.Expected, e.Actual)
}

// NoCommonAncestorError reports that two branches belong to disjoint trees.
// Fatal, not retryable.
type NoCommonAncestorError struct {
	BranchA uuid.UUID
	BranchB uuid.UUID
}

func (e *NoCommonAncestorError) Error() string {
	return fmt.Sprintf("branches %s and %s share no common ancestor", e.BranchA, e.BranchB)
}

// UnresolvedConflictError carries the full conflict list back to the caller
// when a merge or cherry-pick is attempted without resolving every conflict.
type UnresolvedConflictError struct {
	Conflicts []Conflict
}

func (e *UnresolvedConflictError) Error() string {
	return fmt.Sprintf("merge has %d unresolved conflicts", len(e.Conflicts))
}

// BackdatedVersionError reports a write whose validFrom precedes the open
// version's validFrom on the same branch. Accepting it would close the open
// version with validTo earlier than its validFrom, inverting the interval.
// Writes at exactly the open validFrom are allowed and leave the
// predecessor with an empty interval.
type BackdatedVersionError struct {
	EntityType string
	EntityID   uuid.UUID
	OpenFrom   WorldTime
	ValidFrom  WorldTime
}

func (e *BackdatedVersionError) Error() string {
	return fmt.Sprintf("write for %s %s at %d predates the open version at %d",
		e.EntityType, e.EntityID, e.ValidFrom, e.OpenFrom)
}

// AlreadyClosedError reports an attempt to close a version that already has
// a validTo. It indicates a logic bug upstream and fails the transaction.
type AlreadyClosedError struct {
	VersionID uuid.UUID
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("version %s is already closed", e.VersionID)
}
