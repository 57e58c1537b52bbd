package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arcway/chronicle/internal/domain"
)

type auditRepository struct {
	db dbtx
}

func (r *auditRepository) Record(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO audit_log (id, operation, entity_type, entity_id, branch_id,
			version_id, actor, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.Operation), entry.EntityType, entry.EntityID,
		entry.BranchID, entry.VersionID, entry.Actor, detailJSON, entry.CreatedAt,
	)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("failed to record audit entry: %w", err)
	}
	return entry, nil
}

func (r *auditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEntry, error) {
	var (
		clauses []string
		args    []any
	)
	addClause := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.EntityType != "" {
		addClause("entity_type", filter.EntityType)
	}
	if filter.EntityID != uuid.Nil {
		addClause("entity_id", filter.EntityID)
	}
	if filter.BranchID != uuid.Nil {
		addClause("branch_id", filter.BranchID)
	}
	if filter.Operation != "" {
		addClause("operation", string(filter.Operation))
	}

	query := `SELECT id, operation, entity_type, entity_id, branch_id, version_id, actor, detail, created_at FROM audit_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			entry      domain.AuditEntry
			operation  string
			detailJSON []byte
		)
		err := rows.Scan(&entry.ID, &operation, &entry.EntityType, &entry.EntityID,
			&entry.BranchID, &entry.VersionID, &entry.Actor, &detailJSON, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Operation = domain.Operation(operation)
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &entry.Detail); err != nil {
				return nil, fmt.Errorf("failed to decode audit detail for entry %s: %w", entry.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
