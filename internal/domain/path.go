package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Segment is one step in a payload path: either a map key or an array index.
// Keeping segments structured (not string-concatenated) avoids ambiguity
// with field names that contain dots.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Field builds a map-key segment.
func Field(key string) Segment {
	return Segment{Key: key}
}

// Index builds an array-index segment.
func Index(idx int) Segment {
	return Segment{Index: idx, IsIndex: true}
}

// Path addresses one scalar leaf inside a nested payload.
type Path []Segment

// Child returns a new path extended by one segment. The receiver is not
// modified and does not share backing storage with the result.
func (p Path) Child(seg Segment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// Root reports whether the path addresses the entity payload as a whole.
func (p Path) Root() bool {
	return len(p) == 0
}

// String renders the path in dot/array-index notation, e.g.
// "stats.level" or "tags[0]". The empty path renders as "$".
func (p Path) String() string {
	if len(p) == 0 {
		return "$"
	}
	var builder strings.Builder
	for i, seg := range p {
		if seg.IsIndex {
			fmt.Fprintf(&builder, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			builder.WriteByte('.')
		}
		builder.WriteString(seg.Key)
	}
	return builder.String()
}

// encode renders a collision-free key for the segment list. Unlike String,
// the length-prefixed form keeps a literal "a.b" field distinct from the
// nested path a -> b.
func (p Path) encode() string {
	var builder strings.Builder
	for _, seg := range p {
		if seg.IsIndex {
			fmt.Fprintf(&builder, "#%d;", seg.Index)
			continue
		}
		fmt.Fprintf(&builder, "%d:%s;", len(seg.Key), seg.Key)
	}
	return builder.String()
}

// less orders paths segment-wise: fields lexically, indexes numerically,
// a prefix before its extensions.
func (p Path) less(other Path) bool {
	for i := 0; i < len(p) && i < len(other); i++ {
		a, b := p[i], other[i]
		if a.IsIndex != b.IsIndex {
			return !a.IsIndex
		}
		if a.IsIndex {
			if a.Index != b.Index {
				return a.Index < b.Index
			}
			continue
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
	}
	return len(p) < len(other)
}

// Equal compares two paths segment by segment.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// MarshalJSON renders the path in its display notation.
func (p Path) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", p.String())), nil
}

// UnmarshalJSON parses the display notation back into segments.
func (p *Path) UnmarshalJSON(data []byte) error {
	var display string
	if err := json.Unmarshal(data, &display); err != nil {
		return err
	}
	*p = ParsePath(display)
	return nil
}
