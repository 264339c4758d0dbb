// Package document converts typed entities to storage documents and stored
// documents to external views.
package document

import (
	"maps"
	"slices"

	"lms/internal/content/schema"
)

const (
	// IDField is the storage-internal identifier field.
	IDField = "_id"
	// ViewIDField carries the identifier in rendered views.
	ViewIDField = "id"
	// CreatedAtField and UpdatedAtField form the storage envelope every document carries.
	CreatedAtField = "created_at"
	UpdatedAtField = "updated_at"
)

// Fields is a mapping of entity field name to value.
type Fields map[string]any

// Document is the storage-native form of one entity instance.
type Document map[string]any

// View is a decoded document as returned to callers.
type View map[string]any

// Entity is implemented by every typed entity. Fields reports only the values
// the caller supplied; omitted optional fields are absent from the map.
type Entity interface {
	Kind() schema.Kind
	Fields() Fields
}

// ID returns the document identifier when present.
func (d Document) ID() (ID, bool) {
	id, ok := d[IDField].(ID)
	return id, ok
}

// Clone copies the document. Slice values are copied so callers never share
// backing arrays with a store.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge overlays fields onto a copy of d.
func (d Document) Merge(fields Document) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	maps.Copy(out, fields.Clone())
	return out
}

// Pick returns the subset of d named by keys. Missing keys map to nil.
func (d Document) Pick(keys ...string) Document {
	out := make(Document, len(keys))
	for _, k := range keys {
		out[k] = cloneValue(d[k])
	}
	return out
}

// ID returns the rendered identifier of a view, or "".
func (v View) ID() string {
	s, _ := v[ViewIDField].(string)
	return s
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
