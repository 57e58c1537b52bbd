package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FieldChangeKind classifies a single-field difference between two versions.
type FieldChangeKind string

const (
	FieldAdded   FieldChangeKind = "added"
	FieldRemoved FieldChangeKind = "removed"
	FieldChanged FieldChangeKind = "changed"
)

// FieldChange is one leaf-level difference between two version payloads.
type FieldChange struct {
	Path Path            `json:"path"`
	Kind FieldChangeKind `json:"kind"`
	From any             `json:"from,omitempty"`
	To   any             `json:"to,omitempty"`
}

// StructuralDiff compares two versions of the same or different entities:
// a structured per-path change list plus a human-readable unified diff.
type StructuralDiff struct {
	VersionA uuid.UUID     `json:"version_a"`
	VersionB uuid.UUID     `json:"version_b"`
	Changes  []FieldChange `json:"changes"`
	Unified  string        `json:"unified"`
}

// DiffVersionPayloads computes the structural diff from version a to b.
func DiffVersionPayloads(a, b Version) StructuralDiff {
	diff := StructuralDiff{VersionA: a.ID, VersionB: b.ID}

	for _, path := range unionLeafPaths(a.Payload, b.Payload) {
		fromVal, inA := lookupPath(a.Payload, path)
		toVal, inB := lookupPath(b.Payload, path)

		switch {
		case inA && !inB:
			diff.Changes = append(diff.Changes, FieldChange{Path: path, Kind: FieldRemoved, From: fromVal})
		case !inA && inB:
			diff.Changes = append(diff.Changes, FieldChange{Path: path, Kind: FieldAdded, To: toVal})
		case !deepEqualJSON(fromVal, toVal):
			diff.Changes = append(diff.Changes, FieldChange{Path: path, Kind: FieldChanged, From: fromVal, To: toVal})
		}
	}

	diff.Unified = buildUnifiedDiff(
		fmt.Sprintf("version %s (seq %d)", a.ID, a.SequenceNumber),
		fmt.Sprintf("version %s (seq %d)", b.ID, b.SequenceNumber),
		canonicalLines(a), canonicalLines(b),
	)
	return diff
}

// EqualPayloads compares two decoded payloads by canonical JSON form. Two
// nil payloads (tombstones) are equal; nil never equals non-nil.
func EqualPayloads(a, b map[string]any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return deepEqualJSON(a, b)
}

func deepEqualJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// canonicalLines flattens a version into a deterministic line set suitable
// for line diffing.
func canonicalLines(v Version) []string {
	lines := []string{
		fmt.Sprintf("EntityType: %s", v.EntityType),
		fmt.Sprintf("EntityID: %s", v.EntityID),
		fmt.Sprintf("Branch: %s", v.BranchID),
		fmt.Sprintf("ValidFrom: %d", v.ValidFrom),
		"Payload:",
	}

	if v.Deleted() {
		return append(lines, "  (deleted)")
	}

	flattened := map[string]string{}
	for _, path := range unionLeafPaths(v.Payload) {
		value, _ := lookupPath(v.Payload, path)
		encoded, err := json.Marshal(value)
		if err != nil {
			flattened[path.String()] = fmt.Sprintf("%v", value)
			continue
		}
		flattened[path.String()] = string(encoded)
	}

	if len(flattened) == 0 {
		return append(lines, "  (empty)")
	}

	keys := make([]string, 0, len(flattened))
	for key := range flattened {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("  %s: %s", key, flattened[key]))
	}
	return lines
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(labelA, labelB string, linesA, linesB []string) string {
	ops := diffLines(linesA, linesB)

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("--- %s\n", labelA))
	builder.WriteString(fmt.Sprintf("+++ %s\n", labelB))
	for _, op := range ops {
		builder.WriteString(op.prefix)
		builder.WriteString(op.line)
		builder.WriteString("\n")
	}
	return builder.String()
}

// diffLines is an LCS-based line diff.
func diffLines(base, target []string) []diffOp {
	m := len(base)
	n := len(target)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if base[i] == target[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		if base[i] == target[j] {
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
			continue
		}
		if dp[i+1][j] >= dp[i][j+1] {
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		} else {
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}
	for i < m {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
		i++
	}
	for j < n {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
		j++
	}
	return ops
}
