package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
)

type mergeRepository struct {
	db dbtx
}

func (r *mergeRepository) Create(ctx context.Context, record domain.MergeRecord) (domain.MergeRecord, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	entitiesJSON, err := json.Marshal(record.Entities)
	if err != nil {
		return domain.MergeRecord{}, fmt.Errorf("failed to marshal merged entities: %w", err)
	}
	conflictsJSON, err := json.Marshal(record.Conflicts)
	if err != nil {
		return domain.MergeRecord{}, fmt.Errorf("failed to marshal conflicts: %w", err)
	}
	resolutionsJSON, err := json.Marshal(record.Resolutions)
	if err != nil {
		return domain.MergeRecord{}, fmt.Errorf("failed to marshal resolutions: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO merge_records (id, source_branch_id, target_branch_id, merged_entities,
			conflicts, resolutions, version_ids, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID, record.SourceBranchID, record.TargetBranchID, entitiesJSON,
		conflictsJSON, resolutionsJSON, record.VersionIDs, record.Actor, record.CreatedAt,
	)
	if err != nil {
		return domain.MergeRecord{}, fmt.Errorf("failed to create merge record: %w", err)
	}
	return record, nil
}

func (r *mergeRepository) List(ctx context.Context, sourceBranchID, targetBranchID uuid.UUID) ([]domain.MergeRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, source_branch_id, target_branch_id, merged_entities,
			conflicts, resolutions, version_ids, actor, created_at
		FROM merge_records
		WHERE source_branch_id = $1 AND target_branch_id = $2
		ORDER BY created_at ASC`,
		sourceBranchID, targetBranchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge records: %w", err)
	}
	defer rows.Close()

	var records []domain.MergeRecord
	for rows.Next() {
		var (
			record          domain.MergeRecord
			entitiesJSON    []byte
			conflictsJSON   []byte
			resolutionsJSON []byte
		)
		err := rows.Scan(&record.ID, &record.SourceBranchID, &record.TargetBranchID,
			&entitiesJSON, &conflictsJSON, &resolutionsJSON, &record.VersionIDs,
			&record.Actor, &record.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merge record: %w", err)
		}
		if err := json.Unmarshal(entitiesJSON, &record.Entities); err != nil {
			return nil, fmt.Errorf("failed to decode merged entities for record %s: %w", record.ID, err)
		}
		if err := json.Unmarshal(conflictsJSON, &record.Conflicts); err != nil {
			return nil, fmt.Errorf("failed to decode conflicts for record %s: %w", record.ID, err)
		}
		if err := json.Unmarshal(resolutionsJSON, &record.Resolutions); err != nil {
			return nil, fmt.Errorf("failed to decode resolutions for record %s: %w", record.ID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
