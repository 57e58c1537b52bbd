package domain

import (
	"fmt"
	"reflect"
	"sort"
)

// ConflictKind classifies how the source and target branches disagree at a
// path relative to their common base.
type ConflictKind string

const (
	BothModified    ConflictKind = "BOTH_MODIFIED"
	ModifiedDeleted ConflictKind = "MODIFIED_DELETED"
	DeletedModified ConflictKind = "DELETED_MODIFIED"
	BothDeleted     ConflictKind = "BOTH_DELETED"
)

// Resolution is a caller-chosen outcome for one conflicting path: either a
// concrete value or an explicit deletion.
type Resolution struct {
	Value  any  `json:"value,omitempty"`
	Delete bool `json:"delete,omitempty"`
}

// Conflict is one path where source and target both diverged from the base
// and disagree with each other.
type Conflict struct {
	Path        Path         `json:"path"`
	Kind        ConflictKind `json:"kind"`
	BaseValue   any          `json:"base_value,omitempty"`
	SourceValue any          `json:"source_value,omitempty"`
	TargetValue any          `json:"target_value,omitempty"`
	Description string       `json:"description"`
	Suggestion  Resolution   `json:"suggestion"`
}

// AutoResolved is one path whose merged value follows without caller input.
type AutoResolved struct {
	Path     Path `json:"path"`
	Value    any  `json:"value,omitempty"`
	Delete   bool `json:"delete,omitempty"`
	// FromTarget marks changes the target branch already carries.
	FromTarget bool `json:"from_target,omitempty"`
}

// DiffResult partitions the differences between two sibling states into
// conflicting and auto-resolvable paths.
type DiffResult struct {
	Conflicts    []Conflict     `json:"conflicts"`
	AutoResolved []AutoResolved `json:"auto_resolved"`
}

// HasConflicts reports whether any path needs caller resolution.
func (d DiffResult) HasConflicts() bool {
	return len(d.Conflicts) > 0
}

// ThreeWayDiff walks every scalar leaf path present in base, source or
// target and classifies each difference. Changes on one side only, and
// identical changes on both sides, auto-resolve; disagreements become
// conflicts.
func ThreeWayDiff(base, source, target map[string]any) DiffResult {
	paths := unionLeafPaths(base, source, target)

	var result DiffResult
	for _, path := range paths {
		baseVal, inBase := lookupPath(base, path)
		srcVal, inSrc := lookupPath(source, path)
		tgtVal, inTgt := lookupPath(target, path)

		srcChanged := inBase != inSrc || (inBase && !reflect.DeepEqual(baseVal, srcVal))
		tgtChanged := inBase != inTgt || (inBase && !reflect.DeepEqual(baseVal, tgtVal))

		switch {
		case !srcChanged && !tgtChanged:
			// untouched on both sides

		case srcChanged && !tgtChanged:
			result.AutoResolved = append(result.AutoResolved, AutoResolved{Path: path, Value: srcVal, Delete: !inSrc})

		case tgtChanged && !srcChanged:
			result.AutoResolved = append(result.AutoResolved, AutoResolved{Path: path, Value: tgtVal, Delete: !inTgt, FromTarget: true})

		case inSrc == inTgt && (!inSrc || reflect.DeepEqual(srcVal, tgtVal)):
			// both sides made the same change
			result.AutoResolved = append(result.AutoResolved, AutoResolved{Path: path, Value: srcVal, Delete: !inSrc})

		default:
			result.Conflicts = append(result.Conflicts, classifyConflict(path, baseVal, srcVal, tgtVal, inSrc, inTgt))
		}
	}

	return result
}

// TwoWayDiff compares source against target with an empty base, the shape
// used by cherry-pick: with no shared history, any disagreement between the
// two sides is a conflict.
func TwoWayDiff(source, target map[string]any) DiffResult {
	return ThreeWayDiff(map[string]any{}, source, target)
}

// DiffEntityStates handles the entity-level special cases before leaf
// diffing. A nil map means the entity is absent (never created, or
// tombstoned) on that side.
func DiffEntityStates(base, source, target map[string]any) DiffResult {
	switch {
	case source == nil && target == nil:
		if base == nil {
			return DiffResult{}
		}
		return DiffResult{Conflicts: []Conflict{{
			Path:        Path{},
			Kind:        BothDeleted,
			BaseValue:   base,
			Description: "entity deleted in both branches",
			Suggestion:  Resolution{Delete: true},
		}}}

	case base == nil && source != nil && target != nil:
		if reflect.DeepEqual(source, target) {
			return DiffResult{AutoResolved: []AutoResolved{{Path: Path{}, Value: source}}}
		}
		return DiffResult{Conflicts: []Conflict{{
			Path:        Path{},
			Kind:        BothModified,
			SourceValue: source,
			TargetValue: target,
			Description: "entity created independently in both branches",
			Suggestion:  Resolution{Value: source},
		}}}

	case base == nil && source != nil:
		return DiffResult{AutoResolved: []AutoResolved{{Path: Path{}, Value: source}}}

	case base == nil && target != nil:
		return DiffResult{AutoResolved: []AutoResolved{{Path: Path{}, Value: target, FromTarget: true}}}

	case source == nil:
		if reflect.DeepEqual(base, target) {
			return DiffResult{AutoResolved: []AutoResolved{{Path: Path{}, Delete: true}}}
		}
		return DiffResult{Conflicts: []Conflict{{
			Path:        Path{},
			Kind:        DeletedModified,
			BaseValue:   base,
			TargetValue: target,
			Description: "entity deleted in source branch but modified in target branch",
			Suggestion:  Resolution{Value: target},
		}}}

	case target == nil:
		if reflect.DeepEqual(base, source) {
			return DiffResult{AutoResolved: []AutoResolved{{Path: Path{}, Delete: true, FromTarget: true}}}
		}
		return DiffResult{Conflicts: []Conflict{{
			Path:        Path{},
			Kind:        ModifiedDeleted,
			BaseValue:   base,
			SourceValue: source,
			Description: "entity modified in source branch but deleted in target branch",
			Suggestion:  Resolution{Value: source},
		}}}

	default:
		return ThreeWayDiff(base, source, target)
	}
}

func classifyConflict(path Path, baseVal, srcVal, tgtVal any, inSrc, inTgt bool) Conflict {
	conflict := Conflict{
		Path:        path,
		BaseValue:   baseVal,
		SourceValue: srcVal,
		TargetValue: tgtVal,
	}

	switch {
	case inSrc && inTgt:
		conflict.Kind = BothModified
		conflict.Description = fmt.Sprintf("%s changed in both branches: source %v, target %v (base %v)", path, srcVal, tgtVal, baseVal)
		conflict.Suggestion = Resolution{Value: srcVal}
	case inSrc && !inTgt:
		conflict.Kind = ModifiedDeleted
		conflict.Description = fmt.Sprintf("%s changed to %v in source but deleted in target", path, srcVal)
		conflict.Suggestion = Resolution{Value: srcVal}
	case !inSrc && inTgt:
		conflict.Kind = DeletedModified
		conflict.Description = fmt.Sprintf("%s deleted in source but changed to %v in target", path, tgtVal)
		conflict.Suggestion = Resolution{Delete: true}
	default:
		conflict.Kind = BothDeleted
		conflict.Description = fmt.Sprintf("%s deleted in both branches", path)
		conflict.Suggestion = Resolution{Delete: true}
	}

	return conflict
}

// ApplyChanges builds the merged payload: a clone of base with every
// auto-resolved value and every caller resolution applied on top. Value
// writes apply shortest path first so container values land before their
// children; deletions apply afterwards, deepest and rightmost first, so
// array splices do not shift indexes that are still pending. A nil return
// marks the merged entity as deleted.
//
// Resolution keys are matched against the conflicted paths before falling
// back to ParsePath, so a literal field name containing dots addresses the
// conflict it answers rather than a nested reparse of the display form.
func ApplyChanges(base map[string]any, auto []AutoResolved, conflicts []Conflict, resolutions map[string]Resolution) map[string]any {
	type change struct {
		path   Path
		value  any
		delete bool
	}

	var sets, deletes []change
	record := func(ch change) {
		if ch.delete {
			deletes = append(deletes, ch)
		} else {
			sets = append(sets, ch)
		}
	}
	for _, entry := range auto {
		record(change{path: entry.Path, value: entry.Value, delete: entry.Delete})
	}
	for key, res := range resolutions {
		record(change{path: resolutionPath(key, conflicts), value: res.Value, delete: res.Delete})
	}

	sort.SliceStable(sets, func(i, j int) bool {
		return len(sets[i].path) < len(sets[j].path)
	})
	sort.SliceStable(deletes, func(i, j int) bool {
		return deletes[j].path.less(deletes[i].path)
	})

	result := ClonePayload(base)
	apply := func(ch change) {
		if ch.path.Root() {
			if ch.delete {
				result = nil
			} else if value, ok := ch.value.(map[string]any); ok {
				result = ClonePayload(value)
			}
			return
		}
		if result == nil {
			result = map[string]any{}
		}
		if ch.delete {
			deleteAtPath(result, ch.path)
		} else {
			setAtPath(result, ch.path, cloneValue(ch.value))
		}
	}
	for _, ch := range sets {
		apply(ch)
	}
	for _, ch := range deletes {
		apply(ch)
	}

	return result
}

// resolutionPath maps a caller's resolution key onto the conflict it
// answers. Display strings are ambiguous for field names containing dots;
// the conflicted path carries the exact segments.
func resolutionPath(key string, conflicts []Conflict) Path {
	for _, conflict := range conflicts {
		if conflict.Path.String() == key {
			return conflict.Path
		}
	}
	return ParsePath(key)
}

// unionLeafPaths collects every scalar leaf path present in any of the
// documents, ordered deterministically. Deduplication keys on the encoded
// segment list, never the display form: a literal "a.b" field and the
// nested path a -> b are distinct leaves.
func unionLeafPaths(docs ...map[string]any) []Path {
	byKey := map[string]Path{}
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		collectLeafPaths(Path{}, doc, byKey)
	}

	paths := make([]Path, 0, len(byKey))
	for _, path := range byKey {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		return paths[i].less(paths[j])
	})
	return paths
}

func collectLeafPaths(prefix Path, value any, acc map[string]Path) {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if !prefix.Root() {
				acc[prefix.encode()] = prefix
			}
			return
		}
		for key, item := range typed {
			collectLeafPaths(prefix.Child(Field(key)), item, acc)
		}
	case []any:
		if len(typed) == 0 {
			if !prefix.Root() {
				acc[prefix.encode()] = prefix
			}
			return
		}
		for idx, item := range typed {
			collectLeafPaths(prefix.Child(Index(idx)), item, acc)
		}
	default:
		if !prefix.Root() {
			acc[prefix.encode()] = prefix
		}
	}
}

// lookupPath walks the document along the path. It reports found=true when
// every segment resolves, even if the value at the end is a container.
func lookupPath(doc map[string]any, path Path) (any, bool) {
	if doc == nil {
		return nil, false
	}
	var current any = doc
	for _, seg := range path {
		if seg.IsIndex {
			arr, ok := current.([]any)
			if !ok || seg.Index < 0 || seg.Index >= len(arr) {
				return nil, false
			}
			current = arr[seg.Index]
			continue
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[seg.Key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func setAtPath(doc map[string]any, path Path, value any) {
	seg := path[0]
	if seg.IsIndex {
		// payload roots are objects; an index at the top has nowhere to go
		return
	}
	doc[seg.Key] = setIn(doc[seg.Key], path[1:], value)
}

// setIn rebuilds the container chain along the path, materializing maps and
// growing slices as needed, and returns the (possibly new) container.
func setIn(container any, path Path, value any) any {
	if len(path) == 0 {
		return value
	}
	seg := path[0]
	if seg.IsIndex {
		arr, _ := container.([]any)
		for len(arr) <= seg.Index {
			arr = append(arr, nil)
		}
		arr[seg.Index] = setIn(arr[seg.Index], path[1:], value)
		return arr
	}
	obj, ok := container.(map[string]any)
	if !ok || obj == nil {
		obj = map[string]any{}
	}
	obj[seg.Key] = setIn(obj[seg.Key], path[1:], value)
	return obj
}

func deleteAtPath(doc map[string]any, path Path) {
	seg := path[0]
	if seg.IsIndex {
		// payload roots are objects; an index at the top has nowhere to go
		return
	}
	if len(path) == 1 {
		delete(doc, seg.Key)
		return
	}
	if child, ok := doc[seg.Key]; ok {
		doc[seg.Key] = deleteIn(child, path[1:])
	}
}

// deleteIn removes the addressed element and returns the (possibly
// re-sliced) container. Missing segments are a no-op: a concurrent change
// may already have removed the parent.
func deleteIn(container any, path Path) any {
	seg := path[0]
	if len(path) == 1 {
		if seg.IsIndex {
			arr, ok := container.([]any)
			if !ok || seg.Index < 0 || seg.Index >= len(arr) {
				return container
			}
			return append(arr[:seg.Index], arr[seg.Index+1:]...)
		}
		if obj, ok := container.(map[string]any); ok {
			delete(obj, seg.Key)
		}
		return container
	}
	if seg.IsIndex {
		arr, ok := container.([]any)
		if !ok || seg.Index < 0 || seg.Index >= len(arr) {
			return container
		}
		arr[seg.Index] = deleteIn(arr[seg.Index], path[1:])
		return arr
	}
	obj, ok := container.(map[string]any)
	if !ok {
		return container
	}
	if child, exists := obj[seg.Key]; exists {
		obj[seg.Key] = deleteIn(child, path[1:])
	}
	return container
}

// ParsePath converts the display notation produced by Path.String
// back into segments. Resolutions reference conflict paths verbatim, so the
// notation round-trips for the paths this package emits.
func ParsePath(display string) Path {
	if display == "" || display == "$" {
		return Path{}
	}
	var path Path
	var key []rune
	flushKey := func() {
		if len(key) > 0 {
			path = append(path, Field(string(key)))
			key = key[:0]
		}
	}
	runes := []rune(display)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.':
			flushKey()
		case '[':
			flushKey()
			idx := 0
			for i++; i < len(runes) && runes[i] != ']'; i++ {
				idx = idx*10 + int(runes[i]-'0')
			}
			path = append(path, Index(idx))
		default:
			key = append(key, runes[i])
		}
	}
	flushKey()
	return path
}
