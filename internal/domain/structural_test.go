package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func versionWithPayload(payload map[string]any) Version {
	return Version{
		ID:         uuid.New(),
		EntityType: "settlement",
		EntityID:   uuid.New(),
		BranchID:   uuid.New(),
		ValidFrom:  100,
		Payload:    payload,
	}
}

func TestDiffVersionPayloadsClassifiesChanges(t *testing.T) {
	a := versionWithPayload(map[string]any{"name": "tavern", "level": float64(3), "old": true})
	b := versionWithPayload(map[string]any{"name": "tavern", "level": float64(4), "banner": "red"})

	diff := DiffVersionPayloads(a, b)

	kinds := map[string]FieldChangeKind{}
	for _, change := range diff.Changes {
		kinds[change.Path.String()] = change.Kind
	}
	if kinds["level"] != FieldChanged {
		t.Errorf("level should be changed, got %s", kinds["level"])
	}
	if kinds["old"] != FieldRemoved {
		t.Errorf("old should be removed, got %s", kinds["old"])
	}
	if kinds["banner"] != FieldAdded {
		t.Errorf("banner should be added, got %s", kinds["banner"])
	}
	if _, touched := kinds["name"]; touched {
		t.Errorf("name is unchanged and should not appear in the diff")
	}
}

func TestDiffVersionPayloadsUnifiedOutput(t *testing.T) {
	a := versionWithPayload(map[string]any{"level": float64(3)})
	b := versionWithPayload(map[string]any{"level": float64(4)})

	diff := DiffVersionPayloads(a, b)
	if !strings.Contains(diff.Unified, "-  level: 3") || !strings.Contains(diff.Unified, "+  level: 4") {
		t.Errorf("unified diff missing level change:\n%s", diff.Unified)
	}
	if !strings.HasPrefix(diff.Unified, "--- ") {
		t.Errorf("unified diff missing header:\n%s", diff.Unified)
	}
}

func TestDiffVersionPayloadsTombstone(t *testing.T) {
	a := versionWithPayload(map[string]any{"name": "tavern"})
	b := versionWithPayload(nil)

	diff := DiffVersionPayloads(a, b)
	if !strings.Contains(diff.Unified, "(deleted)") {
		t.Errorf("tombstone should render as deleted:\n%s", diff.Unified)
	}
	if len(diff.Changes) != 1 || diff.Changes[0].Kind != FieldRemoved {
		t.Errorf("expected a single removal, got %+v", diff.Changes)
	}
}

func TestEqualPayloads(t *testing.T) {
	a := map[string]any{"stats": map[string]any{"level": float64(3)}}
	b := map[string]any{"stats": map[string]any{"level": float64(3)}}
	if !EqualPayloads(a, b) {
		t.Error("structurally equal payloads should compare equal")
	}
	if EqualPayloads(a, nil) {
		t.Error("non-nil payload should not equal a tombstone")
	}
	if !EqualPayloads(nil, nil) {
		t.Error("two tombstones should compare equal")
	}
}
