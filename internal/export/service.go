// Package export renders version history, audit trails and merge records
// as spreadsheet downloads for campaign reviewers.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/merge"
	"github.com/arcway/chronicle/internal/versioning"
)

const sheetName = "Sheet1"

type Service struct {
	versions *versioning.Service
	merges   *merge.Engine
}

func NewService(versions *versioning.Service, merges *merge.Engine) *Service {
	return &Service{versions: versions, merges: merges}
}

// WriteHistory streams an xlsx workbook holding the full version history of
// one entity on one branch, one row per version, oldest first.
func (s *Service) WriteHistory(ctx context.Context, w io.Writer, entityType string, entityID, branchID uuid.UUID) error {
	history, err := s.versions.GetHistory(ctx, entityType, entityID, branchID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	rows := make([][]any, 0, len(history)+1)
	rows = append(rows, []any{"version_id", "sequence", "valid_from", "valid_to", "deleted", "created_by", "created_at", "comment", "payload"})
	for _, version := range history {
		validTo := ""
		if version.ValidTo != nil {
			validTo = fmt.Sprintf("%d", *version.ValidTo)
		}
		comment := ""
		if version.Comment != nil {
			comment = *version.Comment
		}
		rows = append(rows, []any{
			version.ID.String(),
			version.SequenceNumber,
			int64(version.ValidFrom),
			validTo,
			version.Deleted(),
			version.CreatedBy,
			version.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			comment,
			encodePayload(version.Payload),
		})
	}
	return writeWorkbook(w, rows)
}

// WriteAudit streams an xlsx workbook of audit log entries matching the filter.
func (s *Service) WriteAudit(ctx context.Context, w io.Writer, filter domain.AuditFilter) error {
	entries, err := s.versions.ListAudit(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to load audit entries: %w", err)
	}

	rows := make([][]any, 0, len(entries)+1)
	rows = append(rows, []any{"id", "operation", "entity_type", "entity_id", "branch_id", "version_id", "actor", "created_at", "detail"})
	for _, entry := range entries {
		rows = append(rows, []any{
			entry.ID.String(),
			string(entry.Operation),
			entry.EntityType,
			entry.EntityID.String(),
			entry.BranchID.String(),
			entry.VersionID.String(),
			entry.Actor,
			entry.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			encodeDetail(entry.Detail),
		})
	}
	return writeWorkbook(w, rows)
}

// WriteMerges streams an xlsx workbook of merge records between two branches.
func (s *Service) WriteMerges(ctx context.Context, w io.Writer, sourceID, targetID uuid.UUID) error {
	records, err := s.merges.ListMerges(ctx, sourceID, targetID)
	if err != nil {
		return fmt.Errorf("failed to load merge records: %w", err)
	}

	rows := make([][]any, 0, len(records)+1)
	rows = append(rows, []any{"id", "source_branch", "target_branch", "actor", "created_at", "entities", "versions_written", "conflicts", "resolutions"})
	for _, record := range records {
		versionIDs := make([]string, 0, len(record.VersionIDs))
		for _, id := range record.VersionIDs {
			versionIDs = append(versionIDs, id.String())
		}
		entities := make([]string, 0, len(record.Entities))
		for _, ref := range record.Entities {
			entities = append(entities, ref.Key())
		}
		rows = append(rows, []any{
			record.ID.String(),
			record.SourceBranchID.String(),
			record.TargetBranchID.String(),
			record.Actor,
			record.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			strings.Join(entities, "\n"),
			strings.Join(versionIDs, "\n"),
			len(record.Conflicts),
			encodeResolutions(record.Resolutions),
		})
	}
	return writeWorkbook(w, rows)
}

func writeWorkbook(w io.Writer, rows [][]any) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	for idx, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		if err != nil {
			return fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", idx+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func encodePayload(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("<unencodable: %v>", err)
	}
	return string(raw)
}

func encodeDetail(detail map[string]any) string {
	if len(detail) == 0 {
		return ""
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Sprintf("<unencodable: %v>", err)
	}
	return string(raw)
}

func encodeResolutions(resolutions domain.EntityResolutions) string {
	if len(resolutions) == 0 {
		return ""
	}
	raw, err := json.Marshal(resolutions)
	if err != nil {
		return fmt.Sprintf("<unencodable: %v>", err)
	}
	return string(raw)
}
