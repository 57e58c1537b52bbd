package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arcway/chronicle/internal/domain"
)

type branchRepository struct {
	db dbtx
}

func (r *branchRepository) Create(ctx context.Context, branch domain.Branch) (domain.Branch, error) {
	if branch.ID == uuid.Nil {
		branch.ID = uuid.New()
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO branches (id, name, parent_branch_id, fork_point, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		branch.ID, branch.Name, branch.ParentBranchID, int64(branch.ForkPoint), branch.CreatedAt,
	)
	if err != nil {
		return domain.Branch{}, fmt.Errorf("failed to create branch: %w", err)
	}
	return branch, nil
}

func (r *branchRepository) GetByID(ctx context.Context, branchID uuid.UUID) (domain.Branch, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, parent_branch_id, fork_point, created_at
		FROM branches WHERE id = $1`, branchID)

	branch, err := scanBranch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Branch{}, domain.ErrBranchNotFound
		}
		return domain.Branch{}, fmt.Errorf("failed to get branch: %w", err)
	}
	return branch, nil
}

func (r *branchRepository) List(ctx context.Context) ([]domain.Branch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, parent_branch_id, fork_point, created_at
		FROM branches ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	var branches []domain.Branch
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan branch: %w", err)
		}
		branches = append(branches, branch)
	}
	return branches, rows.Err()
}

func (r *branchRepository) HasChildren(ctx context.Context, branchID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM branches WHERE parent_branch_id = $1)`, branchID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check branch children: %w", err)
	}
	return exists, nil
}

func (r *branchRepository) Delete(ctx context.Context, branchID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	if err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBranchNotFound
	}
	return nil
}

func scanBranch(row pgx.Row) (domain.Branch, error) {
	var (
		branch    domain.Branch
		forkPoint int64
	)
	if err := row.Scan(&branch.ID, &branch.Name, &branch.ParentBranchID, &forkPoint, &branch.CreatedAt); err != nil {
		return domain.Branch{}, err
	}
	branch.ForkPoint = domain.WorldTime(forkPoint)
	return branch, nil
}
