package doc

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Well-known document fields.
const (
	FieldID        = "id"
	FieldUpdated   = "updated"
	FieldOrigin    = "origin"
	FieldWhitelist = "whitelist"
)

// Document is a schemaless JSON-like object stored in the index.
type Document map[string]any

// ID returns the document's primary key, or "" when the field is missing.
func (d Document) ID() string {
	switch v := d[FieldID].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	}
	return ""
}

// Updated returns the "updated" field as epoch milliseconds.
// The second return value is false when the field is absent or unparseable.
func (d Document) Updated() (int64, bool) {
	v, ok := d[FieldUpdated]
	if !ok || v == nil {
		return 0, false
	}
	return Millis(v)
}

// Origin returns the denormalized owner list, or nil when absent.
func (d Document) Origin() []string {
	return stringList(d[FieldOrigin])
}

// SetOrigin replaces the owner list with the normalized, de-duplicated union
// of owners.
func (d Document) SetOrigin(owners []string) {
	d[FieldOrigin] = UnionUserIDs(owners)
}

// Whitelist returns the access-control list, or nil when absent.
func (d Document) Whitelist() []string {
	return stringList(d[FieldWhitelist])
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// Merge copies every field of other into d, overwriting existing keys.
func (d Document) Merge(other Document) {
	maps.Copy(d, other)
}

// Size returns the encoded JSON length of the document.
// Documents that cannot be encoded report zero.
func (d Document) Size() int {
	b, err := json.Marshal(d)
	if err != nil {
		return 0
	}
	return len(b)
}

// Millis converts a timestamp value to epoch milliseconds.
// Accepted forms: integer kinds, float64 and json.Number (already in
// milliseconds), numeric strings, RFC 3339 strings and time.Time.
func Millis(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, true
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli(), true
		}
	case time.Time:
		if t.IsZero() {
			return 0, false
		}
		return t.UnixMilli(), true
	}
	return 0, false
}

// NormalizeUserID trims surrounding space and applies Unicode NFC so that
// visually identical IDs compare equal.
func NormalizeUserID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

// UnionUserIDs normalizes the given IDs, drops empties and duplicates, and
// returns them sorted.
func UnionUserIDs(ids ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range ids {
		for _, id := range list {
			n := NormalizeUserID(id)
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	}
	return nil
}
