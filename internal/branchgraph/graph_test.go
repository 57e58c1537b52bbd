package branchgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/repository"
)

func newGraph(t *testing.T) *Graph {
	t.Helper()
	return New(repository.NewMemoryStore().Branches())
}

func TestForkRequiresParent(t *testing.T) {
	graph := newGraph(t)
	ctx := context.Background()

	main, err := graph.CreateRoot(ctx, "main")
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	if !main.Root() {
		t.Error("main branch should be a root")
	}

	child, err := graph.Fork(ctx, main.ID, "what-if", 100)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if child.ParentBranchID == nil || *child.ParentBranchID != main.ID {
		t.Errorf("child should point at main, got %+v", child.ParentBranchID)
	}
	if child.ForkPoint != 100 {
		t.Errorf("fork point should be 100, got %d", child.ForkPoint)
	}

	if _, err := graph.Fork(ctx, child.ID, "deeper", 150); err != nil {
		t.Fatalf("fork from child: %v", err)
	}

	ghost := domain.Branch{}
	if _, err := graph.Fork(ctx, ghost.ID, "orphan", 10); !errors.Is(err, domain.ErrBranchNotFound) {
		t.Errorf("fork from missing parent should fail with ErrBranchNotFound, got %v", err)
	}
}

func TestCommonAncestorSiblings(t *testing.T) {
	graph := newGraph(t)
	ctx := context.Background()

	main, _ := graph.CreateRoot(ctx, "main")
	left, err := graph.Fork(ctx, main.ID, "left", 100)
	if err != nil {
		t.Fatalf("fork left: %v", err)
	}
	right, err := graph.Fork(ctx, main.ID, "right", 200)
	if err != nil {
		t.Fatalf("fork right: %v", err)
	}

	ancestorID, divergedAt, err := graph.CommonAncestor(ctx, left.ID, right.ID)
	if err != nil {
		t.Fatalf("common ancestor: %v", err)
	}
	if ancestorID != main.ID {
		t.Errorf("expected main as ancestor, got %s", ancestorID)
	}
	if divergedAt != 100 {
		t.Errorf("divergence should be the earliest fork point 100, got %d", divergedAt)
	}
}

func TestCommonAncestorWhenOneIsAncestor(t *testing.T) {
	graph := newGraph(t)
	ctx := context.Background()

	main, _ := graph.CreateRoot(ctx, "main")
	child, _ := graph.Fork(ctx, main.ID, "child", 100)
	grandchild, _ := graph.Fork(ctx, child.ID, "grandchild", 300)

	ancestorID, divergedAt, err := graph.CommonAncestor(ctx, grandchild.ID, main.ID)
	if err != nil {
		t.Fatalf("common ancestor: %v", err)
	}
	if ancestorID != main.ID {
		t.Errorf("expected main as ancestor, got %s", ancestorID)
	}
	if divergedAt != 100 {
		t.Errorf("divergence should be the edge below main, got %d", divergedAt)
	}
}

func TestCommonAncestorDisjointTrees(t *testing.T) {
	graph := newGraph(t)
	ctx := context.Background()

	a, _ := graph.CreateRoot(ctx, "campaign-a")
	b, _ := graph.CreateRoot(ctx, "campaign-b")

	_, _, err := graph.CommonAncestor(ctx, a.ID, b.ID)
	var ancestryErr *domain.NoCommonAncestorError
	if !errors.As(err, &ancestryErr) {
		t.Fatalf("expected NoCommonAncestorError, got %v", err)
	}
}

func TestDeleteOnlyLeaves(t *testing.T) {
	graph := newGraph(t)
	ctx := context.Background()

	main, _ := graph.CreateRoot(ctx, "main")
	child, _ := graph.Fork(ctx, main.ID, "child", 100)

	if err := graph.Delete(ctx, main.ID); !errors.Is(err, domain.ErrBranchNotLeaf) {
		t.Errorf("deleting an interior branch should fail with ErrBranchNotLeaf, got %v", err)
	}
	if err := graph.Delete(ctx, child.ID); err != nil {
		t.Errorf("deleting a leaf should succeed: %v", err)
	}
	if err := graph.Delete(ctx, main.ID); err != nil {
		t.Errorf("main is a leaf after its child is gone: %v", err)
	}
}

func TestAncestorChainOrder(t *testing.T) {
	graph := newGraph(t)
	ctx := context.Background()

	main, _ := graph.CreateRoot(ctx, "main")
	child, _ := graph.Fork(ctx, main.ID, "child", 100)
	grandchild, _ := graph.Fork(ctx, child.ID, "grandchild", 200)

	chain, err := graph.AncestorChain(ctx, grandchild.ID)
	if err != nil {
		t.Fatalf("ancestor chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected chain of 3, got %d", len(chain))
	}
	if chain[0].ID != grandchild.ID || chain[2].ID != main.ID {
		t.Errorf("chain should run self first, root last: %+v", chain)
	}
}
