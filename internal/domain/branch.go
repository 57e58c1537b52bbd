package domain

import (
	"time"

	"github.com/google/uuid"
)

// Branch is a named timeline. Every branch except the root forks off a
// parent at a world-time fork point; the parent graph forms a tree.
type Branch struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	ParentBranchID *uuid.UUID `json:"parent_branch_id,omitempty"`
	ForkPoint      WorldTime  `json:"fork_point"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Root reports whether the branch is the tree root (no parent).
func (b Branch) Root() bool {
	return b.ParentBranchID == nil
}
