package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arcway/chronicle/internal/codec"
	"github.com/arcway/chronicle/internal/domain"
)

const versionColumns = `id, entity_type, entity_id, branch_id, valid_from, valid_to,
	payload, sequence_number, comment, created_by, created_at`

type versionRepository struct {
	db dbtx
}

func (r *versionRepository) Create(ctx context.Context, version domain.Version) (domain.Version, error) {
	compressed, err := codec.Compress(version.Payload)
	if err != nil {
		return domain.Version{}, fmt.Errorf("failed to compress payload: %w", err)
	}

	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now()
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO versions (id, entity_type, entity_id, branch_id, valid_from, valid_to,
			payload, sequence_number, comment, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, $8, $9, $10)`,
		version.ID, version.EntityType, version.EntityID, version.BranchID,
		int64(version.ValidFrom), compressed, version.SequenceNumber,
		version.Comment, version.CreatedBy, version.CreatedAt,
	)
	if err != nil {
		return domain.Version{}, fmt.Errorf("failed to create version: %w", err)
	}

	version.ValidTo = nil
	return version, nil
}

func (r *versionRepository) Close(ctx context.Context, versionID uuid.UUID, validTo domain.WorldTime) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE versions SET valid_to = $2 WHERE id = $1 AND valid_to IS NULL`,
		versionID, int64(validTo),
	)
	if err != nil {
		return fmt.Errorf("failed to close version: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM versions WHERE id = $1)`, versionID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check version: %w", err)
	}
	if !exists {
		return domain.ErrVersionNotFound
	}
	return &domain.AlreadyClosedError{VersionID: versionID}
}

func (r *versionRepository) GetByID(ctx context.Context, versionID uuid.UUID) (domain.Version, error) {
	row := r.db.QueryRow(ctx, `SELECT `+versionColumns+` FROM versions WHERE id = $1`, versionID)
	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Version{}, domain.ErrVersionNotFound
		}
		return domain.Version{}, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

func (r *versionRepository) History(ctx context.Context, entityType string, entityID, branchID uuid.UUID) ([]domain.Version, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+versionColumns+` FROM versions
		WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3
		ORDER BY valid_from ASC, sequence_number ASC`,
		entityType, entityID, branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list version history: %w", err)
	}
	defer rows.Close()

	var versions []domain.Version
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (r *versionRepository) OpenVersion(ctx context.Context, entityType string, entityID, branchID uuid.UUID) (domain.Version, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM versions
		WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3 AND valid_to IS NULL`,
		entityType, entityID, branchID,
	)
	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Version{}, domain.ErrVersionNotFound
		}
		return domain.Version{}, fmt.Errorf("failed to get open version: %w", err)
	}
	return version, nil
}

func (r *versionRepository) ResolveLocal(ctx context.Context, entityType string, entityID, branchID uuid.UUID, asOf domain.WorldTime) (domain.Version, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+versionColumns+` FROM versions
		WHERE entity_type = $1 AND entity_id = $2 AND branch_id = $3
			AND valid_from <= $4 AND (valid_to IS NULL OR valid_to > $4)
		ORDER BY valid_from DESC LIMIT 1`,
		entityType, entityID, branchID, int64(asOf),
	)
	version, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Version{}, domain.ErrVersionNotFound
		}
		return domain.Version{}, fmt.Errorf("failed to resolve version: %w", err)
	}
	return version, nil
}

func (r *versionRepository) LatestSequence(ctx context.Context, entityType string, entityID uuid.UUID) (int64, error) {
	var sequence int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence_number), 0) FROM versions
		WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID,
	).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest sequence: %w", err)
	}
	return sequence, nil
}

func (r *versionRepository) ChangedEntities(ctx context.Context, branchID uuid.UUID, since domain.WorldTime) ([]domain.EntityRef, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT entity_type, entity_id FROM versions
		WHERE branch_id = $1 AND valid_from >= $2
		ORDER BY entity_type, entity_id`,
		branchID, int64(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed entities: %w", err)
	}
	defer rows.Close()

	var refs []domain.EntityRef
	for rows.Next() {
		var ref domain.EntityRef
		if err := rows.Scan(&ref.EntityType, &ref.EntityID); err != nil {
			return nil, fmt.Errorf("failed to scan entity ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func scanVersion(row pgx.Row) (domain.Version, error) {
	var (
		version    domain.Version
		validFrom  int64
		validTo    *int64
		compressed []byte
	)
	err := row.Scan(
		&version.ID, &version.EntityType, &version.EntityID, &version.BranchID,
		&validFrom, &validTo, &compressed, &version.SequenceNumber,
		&version.Comment, &version.CreatedBy, &version.CreatedAt,
	)
	if err != nil {
		return domain.Version{}, err
	}

	version.ValidFrom = domain.WorldTime(validFrom)
	if validTo != nil {
		to := domain.WorldTime(*validTo)
		version.ValidTo = &to
	}

	payload, err := codec.Decompress(compressed)
	if err != nil {
		return domain.Version{}, fmt.Errorf("failed to decode payload for version %s: %w", version.ID, err)
	}
	version.Payload = payload
	return version, nil
}
