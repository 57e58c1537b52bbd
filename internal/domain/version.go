package domain

import (
	"time"

	"github.com/google/uuid"
)

// WorldTime is a campaign-calendar instant expressed as an opaque tick.
// Callers own the mapping between ticks and their fictional calendar.
type WorldTime int64

// MaxWorldTime resolves "the latest state" of a branch: every open version
// satisfies validFrom <= MaxWorldTime.
const MaxWorldTime WorldTime = 1<<63 - 1

// Version is one immutable snapshot of one entity's state within one branch
// over a world-time interval. Versions are never mutated or deleted; the
// previously open version is closed in the same transaction that creates
// its successor.
type Version struct {
	ID             uuid.UUID      `json:"id"`
	EntityType     string         `json:"entity_type"`
	EntityID       uuid.UUID      `json:"entity_id"`
	BranchID       uuid.UUID      `json:"branch_id"`
	ValidFrom      WorldTime      `json:"valid_from"`
	ValidTo        *WorldTime     `json:"valid_to,omitempty"`
	Payload        map[string]any `json:"payload"`
	SequenceNumber int64          `json:"sequence_number"`
	Comment        *string        `json:"comment,omitempty"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Open reports whether the version is the currently valid one for its
// entity and branch.
func (v Version) Open() bool {
	return v.ValidTo == nil
}

// Deleted reports whether the version is a tombstone. A nil payload marks
// the entity as deleted in its branch from ValidFrom onward.
func (v Version) Deleted() bool {
	return v.Payload == nil
}

// EntityRef identifies one versioned entity independent of any branch.
type EntityRef struct {
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
}

// Key renders the reference as "type:id", the form used to address
// per-entity merge resolutions.
func (r EntityRef) Key() string {
	return r.EntityType + ":" + r.EntityID.String()
}

// ClonePayload deep-copies a decoded payload so callers can mutate the
// result without aliasing stored state. nil stays nil (tombstone).
func ClonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	return cloneValue(payload).(map[string]any)
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for idx, item := range typed {
			out[idx] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}
