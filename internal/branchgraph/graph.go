// Package branchgraph maintains the branch parent/child tree and answers
// common-ancestor queries for the merge engine.
package branchgraph

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/repository"
)

// Graph wraps the branch store with tree-level operations.
type Graph struct {
	branches repository.BranchStore
}

// New creates a graph over the given branch store.
func New(branches repository.BranchStore) *Graph {
	return &Graph{branches: branches}
}

// CreateRoot creates the main branch of a fresh campaign.
func (g *Graph) CreateRoot(ctx context.Context, name string) (domain.Branch, error) {
	return g.branches.Create(ctx, domain.Branch{Name: name})
}

// Fork creates a child branch diverging from parent at the given world
// time. The parent must exist, which keeps the tree acyclic: a new node
// can only attach below existing ones.
func (g *Graph) Fork(ctx context.Context, parentID uuid.UUID, name string, at domain.WorldTime) (domain.Branch, error) {
	parent, err := g.branches.GetByID(ctx, parentID)
	if err != nil {
		return domain.Branch{}, fmt.Errorf("failed to load parent branch: %w", err)
	}

	return g.branches.Create(ctx, domain.Branch{
		Name:           name,
		ParentBranchID: &parent.ID,
		ForkPoint:      at,
	})
}

// Get returns one branch.
func (g *Graph) Get(ctx context.Context, branchID uuid.UUID) (domain.Branch, error) {
	return g.branches.GetByID(ctx, branchID)
}

// List returns every branch, oldest first.
func (g *Graph) List(ctx context.Context) ([]domain.Branch, error) {
	return g.branches.List(ctx)
}

// Delete removes a branch. Only leaves may be deleted so the tree never
// loses interior nodes that descendants resolve through.
func (g *Graph) Delete(ctx context.Context, branchID uuid.UUID) error {
	hasChildren, err := g.branches.HasChildren(ctx, branchID)
	if err != nil {
		return err
	}
	if hasChildren {
		return domain.ErrBranchNotLeaf
	}
	return g.branches.Delete(ctx, branchID)
}

// AncestorChain returns the branch and its ancestors, self first, root
// last. The walk is an explicit loop bounded by tree depth, with a visited
// set guarding against corrupted parent links.
func (g *Graph) AncestorChain(ctx context.Context, branchID uuid.UUID) ([]domain.Branch, error) {
	var chain []domain.Branch
	visited := map[uuid.UUID]bool{}

	current := branchID
	for {
		if visited[current] {
			return nil, fmt.Errorf("branch ancestry contains a cycle at %s", current)
		}
		visited[current] = true

		branch, err := g.branches.GetByID(ctx, current)
		if err != nil {
			return nil, err
		}
		chain = append(chain, branch)

		if branch.ParentBranchID == nil {
			return chain, nil
		}
		current = *branch.ParentBranchID
	}
}

// CommonAncestor finds the lowest branch shared by both ancestor chains and
// the world time at which the two lines diverged below it. Each chain is
// walked once and membership is checked against a set, so the cost is
// O(depth_a + depth_b). Disjoint trees yield *domain.NoCommonAncestorError.
func (g *Graph) CommonAncestor(ctx context.Context, branchA, branchB uuid.UUID) (uuid.UUID, domain.WorldTime, error) {
	chainA, err := g.AncestorChain(ctx, branchA)
	if err != nil {
		return uuid.Nil, 0, err
	}
	chainB, err := g.AncestorChain(ctx, branchB)
	if err != nil {
		return uuid.Nil, 0, err
	}

	positionB := make(map[uuid.UUID]int, len(chainB))
	for idx, branch := range chainB {
		positionB[branch.ID] = idx
	}

	for idxA, branch := range chainA {
		idxB, shared := positionB[branch.ID]
		if !shared {
			continue
		}

		divergence := divergenceTime(chainA, idxA, chainB, idxB, branch)
		return branch.ID, divergence, nil
	}

	return uuid.Nil, 0, &domain.NoCommonAncestorError{BranchA: branchA, BranchB: branchB}
}

// divergenceTime picks the earliest fork point among the edges leaving the
// common ancestor toward each query branch. When one branch is an ancestor
// of the other, only the descending edge exists; when both queries name the
// same branch there is no edge and its own fork point stands in.
func divergenceTime(chainA []domain.Branch, idxA int, chainB []domain.Branch, idxB int, ancestor domain.Branch) domain.WorldTime {
	divergence := domain.MaxWorldTime
	found := false

	if idxA > 0 {
		divergence = chainA[idxA-1].ForkPoint
		found = true
	}
	if idxB > 0 && chainB[idxB-1].ForkPoint < divergence {
		divergence = chainB[idxB-1].ForkPoint
		found = true
	}
	if !found {
		return ancestor.ForkPoint
	}
	return divergence
}
