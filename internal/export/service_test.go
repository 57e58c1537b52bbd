package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/arcway/chronicle/internal/branchgraph"
	"github.com/arcway/chronicle/internal/domain"
	"github.com/arcway/chronicle/internal/events"
	"github.com/arcway/chronicle/internal/merge"
	"github.com/arcway/chronicle/internal/repository"
	"github.com/arcway/chronicle/internal/resolver"
	"github.com/arcway/chronicle/internal/versioning"
)

func newService(t *testing.T) (*Service, *versioning.Service, domain.Branch) {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemoryStore()
	bus := events.NewBus()
	res, err := resolver.New(store, bus)
	if err != nil {
		t.Fatalf("create resolver: %v", err)
	}
	graph := branchgraph.New(store.Branches())
	versions := versioning.NewService(store, graph, res, bus)
	engine := merge.NewEngine(store, graph, res, bus)

	main, err := graph.CreateRoot(ctx, "main")
	if err != nil {
		t.Fatalf("create main: %v", err)
	}
	return NewService(versions, engine), versions, main
}

func readRows(t *testing.T, workbook []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(workbook))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		t.Fatal("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	return rows
}

func TestWriteHistoryWorkbook(t *testing.T) {
	svc, versions, main := newService(t)
	ctx := context.Background()
	entityID := uuid.New()

	for i, level := range []float64{1, 2} {
		_, err := versions.CreateVersion(ctx, versioning.CreateVersionRequest{
			EntityType:       "settlement",
			EntityID:         entityID,
			BranchID:         main.ID,
			ValidFrom:        domain.WorldTime(100 * (i + 1)),
			Payload:          map[string]any{"level": level},
			ExpectedSequence: int64(i),
			Actor:            "gm",
		})
		if err != nil {
			t.Fatalf("create version: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := svc.WriteHistory(ctx, &buf, "settlement", entityID, main.ID); err != nil {
		t.Fatalf("write history: %v", err)
	}

	rows := readRows(t, buf.Bytes())
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 versions, got %d rows", len(rows))
	}
	if rows[0][0] != "version_id" {
		t.Errorf("header row wrong: %+v", rows[0])
	}
	if rows[1][1] != "1" || rows[2][1] != "2" {
		t.Errorf("sequence column wrong: %+v %+v", rows[1], rows[2])
	}
}

func TestWriteAuditWorkbook(t *testing.T) {
	svc, versions, main := newService(t)
	ctx := context.Background()
	entityID := uuid.New()

	_, err := versions.CreateVersion(ctx, versioning.CreateVersionRequest{
		EntityType: "settlement",
		EntityID:   entityID,
		BranchID:   main.ID,
		ValidFrom:  100,
		Payload:    map[string]any{"level": float64(1)},
		Actor:      "gm",
	})
	if err != nil {
		t.Fatalf("create version: %v", err)
	}

	var buf bytes.Buffer
	if err := svc.WriteAudit(ctx, &buf, domain.AuditFilter{EntityID: entityID}); err != nil {
		t.Fatalf("write audit: %v", err)
	}

	rows := readRows(t, buf.Bytes())
	if len(rows) != 2 {
		t.Fatalf("expected header plus one entry, got %d rows", len(rows))
	}
	if rows[1][1] != string(domain.OpCreate) {
		t.Errorf("operation column wrong: %+v", rows[1])
	}
}
