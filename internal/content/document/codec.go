package document

import (
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"lms/internal/content/schema"
	dErrors "lms/pkg/domain-errors"
)

// TimeLayout renders timestamps in views.
const TimeLayout = time.RFC3339Nano

// Encode converts an entity into a storage document. Defaults fill omitted
// optional fields, then every field is type-checked and its constraints run.
// The first violation is returned and no document is produced. Encode never
// assigns an identifier.
func Encode(e Entity) (Document, error) {
	return EncodeFields(e.Kind(), e.Fields())
}

// EncodeFields is Encode for an untyped field mapping.
func EncodeFields(kind schema.Kind, fields Fields) (Document, error) {
	def, err := schema.Describe(kind)
	if err != nil {
		return nil, err
	}
	for name := range fields {
		if _, ok := def.Field(name); !ok {
			return nil, dErrors.Validation(name, "is not a recognized field")
		}
	}

	doc := make(Document, len(def.Fields))
	for _, f := range def.Fields {
		raw, present := fields[f.Name]
		if !present || raw == nil || isBlankRequired(f, raw) {
			if f.Required {
				return nil, dErrors.Validation(f.Name, "is required")
			}
			doc[f.Name] = cloneValue(f.Default)
			continue
		}
		value, err := checkField(f, raw)
		if err != nil {
			return nil, err
		}
		doc[f.Name] = value
	}
	return doc, nil
}

// EncodePartial validates a partial update. Only the given fields are checked;
// clearing a required field is rejected.
func EncodePartial(kind schema.Kind, fields Fields) (Document, error) {
	def, err := schema.Describe(kind)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no fields to update")
	}
	doc := make(Document, len(fields))
	for _, f := range def.Fields {
		raw, present := fields[f.Name]
		if !present {
			continue
		}
		if raw == nil || isBlankRequired(f, raw) {
			if f.Required {
				return nil, dErrors.Validation(f.Name, "is required")
			}
			doc[f.Name] = nil
			continue
		}
		value, err := checkField(f, raw)
		if err != nil {
			return nil, err
		}
		doc[f.Name] = value
	}
	for name := range fields {
		if _, ok := doc[name]; !ok {
			return nil, dErrors.Validation(name, "is not a recognized field")
		}
	}
	return doc, nil
}

// Decode renders a stored document as a view: the internal identifier becomes
// a string "id" and timestamps become ISO-8601 text. A nil document decodes to
// a nil view.
func Decode(doc Document) View {
	if doc == nil {
		return nil
	}
	view := make(View, len(doc))
	for k, v := range doc {
		if k == IDField {
			view[ViewIDField] = renderID(v)
			continue
		}
		switch t := v.(type) {
		case time.Time:
			view[k] = t.UTC().Format(TimeLayout)
		case primitive.DateTime:
			view[k] = t.Time().UTC().Format(TimeLayout)
		default:
			view[k] = cloneValue(v)
		}
	}
	return view
}

// Restore brings a document read back from a backend into canonical form.
// Backends round-trip values through BSON or JSON, so integers may come back
// as float64 or int32, timestamps as strings or BSON dates, lists as []any.
func Restore(kind schema.Kind, doc Document) (Document, error) {
	if doc == nil {
		return nil, nil
	}
	def, err := schema.Describe(kind)
	if err != nil {
		return nil, err
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		switch k {
		case IDField:
			id, err := restoreID(v)
			if err != nil {
				return nil, err
			}
			out[k] = id
			continue
		case CreatedAtField, UpdatedAtField:
			if v == nil {
				out[k] = nil
				continue
			}
			ts, err := coerce(schema.TypeTimestamp, v)
			if err != nil {
				return nil, fmt.Errorf("restore %s.%s: %w", kind, k, err)
			}
			out[k] = ts
			continue
		}
		f, ok := def.Field(k)
		if !ok || v == nil {
			out[k] = cloneValue(v)
			continue
		}
		value, err := coerce(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("restore %s.%s: %w", kind, k, err)
		}
		out[k] = value
	}
	return out, nil
}

func checkField(f schema.Field, raw any) (any, error) {
	value, err := coerce(f.Type, raw)
	if err != nil {
		return nil, dErrors.Validation(f.Name, "must be a "+f.Type.String())
	}
	for _, c := range f.Constraints {
		if reason := c.Check(value); reason != "" {
			return nil, dErrors.Validation(f.Name, reason)
		}
	}
	return value, nil
}

// isBlankRequired treats an empty string in a required string field as missing.
func isBlankRequired(f schema.Field, raw any) bool {
	s, ok := raw.(string)
	return ok && f.Required && f.Type == schema.TypeString && s == ""
}

func coerce(t schema.FieldType, v any) (any, error) {
	switch t {
	case schema.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == math.Trunc(n) && !math.IsInf(n, 0) {
				return int64(n), nil
			}
		}
	case schema.TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int32:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case schema.TypeTimestamp:
		switch ts := v.(type) {
		case time.Time:
			return ts.UTC(), nil
		case primitive.DateTime:
			return ts.Time().UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, err
			}
			return parsed.UTC(), nil
		}
	case schema.TypeStringList:
		switch list := v.(type) {
		case []string:
			return cloneValue(list), nil
		case []any:
			return stringList(list)
		case primitive.A:
			return stringList(list)
		}
	}
	return nil, fmt.Errorf("unexpected %T for %s field", v, t)
}

func stringList(items []any) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected %T in list of strings", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func restoreID(v any) (ID, error) {
	switch id := v.(type) {
	case ID:
		return id, nil
	case primitive.ObjectID:
		return ID(id), nil
	case string:
		return ParseID(id)
	default:
		return ID{}, fmt.Errorf("unexpected %T for %s", v, IDField)
	}
}

func renderID(v any) string {
	switch id := v.(type) {
	case ID:
		return id.String()
	case primitive.ObjectID:
		return id.Hex()
	case fmt.Stringer:
		return id.String()
	case string:
		return id
	default:
		return fmt.Sprint(v)
	}
}
