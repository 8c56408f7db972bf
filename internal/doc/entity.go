package doc

import (
	"fmt"
	"time"
)

// Kind identifies an entity kind held by the source-of-record.
type Kind string

const (
	KindProfile  Kind = "profile"
	KindActivity Kind = "activity"
	KindMessage  Kind = "message"
)

// Kinds lists the entity kinds in reconciliation order.
var Kinds = []Kind{KindProfile, KindActivity, KindMessage}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// LocalEntity is the minimal snapshot of an entity listed by the
// source-of-record during the load phase of a crawl.
type LocalEntity struct {
	ID     string
	Owners []string
	// Updated is the zero time when the source cannot report freshness.
	Updated time.Time
}

// UpdatedMillis returns Updated as epoch milliseconds.
func (e LocalEntity) UpdatedMillis() (int64, bool) {
	if e.Updated.IsZero() {
		return 0, false
	}
	return e.Updated.UnixMilli(), true
}

// Newer reports whether the local entity is strictly newer than the remote
// document. Either timestamp being absent counts as unchanged.
func (e LocalEntity) Newer(remote Document) bool {
	local, ok := e.UpdatedMillis()
	if !ok {
		return false
	}
	r, ok := remote.Updated()
	if !ok {
		return false
	}
	return local > r
}
