// Package schema declares the entity kinds the content API stores and the
// shape of each kind's fields. Lookups are pure; the registry is fixed at
// compile time.
package schema

import (
	"fmt"
	"slices"

	dErrors "lms/pkg/domain-errors"
)

// Kind names an entity kind. Its string form doubles as the collection name.
type Kind string

const (
	KindUser         Kind = "user"
	KindCourse       Kind = "course"
	KindLesson       Kind = "lesson"
	KindEnrollment   Kind = "enrollment"
	KindAnnouncement Kind = "announcement"
	KindAssignment   Kind = "assignment"
	KindSubmission   Kind = "submission"
)

// Collection returns the storage collection holding documents of this kind.
func (k Kind) Collection() string {
	return string(k)
}

func (k Kind) String() string {
	return string(k)
}

// FieldType is the semantic type of a field value.
type FieldType int

const (
	TypeString FieldType = iota + 1
	TypeInt
	TypeFloat
	TypeTimestamp
	TypeStringList
)

func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeTimestamp:
		return "timestamp"
	case TypeStringList:
		return "list of strings"
	default:
		return "unknown"
	}
}

// Field describes one entity field.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Default     any
	Constraints []Constraint
}

// Definition is the full declaration of a kind.
type Definition struct {
	Kind   Kind
	Fields []Field
	// DedupKey names the fields that identify at most one document of this kind.
	DedupKey []string
	// SortKey orders listings ascending when set; otherwise insertion order.
	SortKey string
}

// Field looks up a field by name.
func (d Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var definitions = map[Kind]Definition{
	KindUser: {
		Kind: KindUser,
		Fields: []Field{
			{Name: "name", Type: TypeString, Required: true},
			{Name: "email", Type: TypeString, Required: true, Constraints: []Constraint{Email{}}},
			{Name: "role", Type: TypeString, Default: "student", Constraints: []Constraint{OneOf{"student", "instructor", "admin"}}},
			{Name: "avatar_url", Type: TypeString},
			{Name: "bio", Type: TypeString},
		},
	},
	KindCourse: {
		Kind: KindCourse,
		Fields: []Field{
			{Name: "title", Type: TypeString, Required: true},
			{Name: "description", Type: TypeString, Required: true},
			{Name: "instructor_id", Type: TypeString, Required: true},
			{Name: "tags", Type: TypeStringList, Default: []string{}},
			{Name: "cover_image", Type: TypeString},
			{Name: "level", Type: TypeString},
		},
	},
	KindLesson: {
		Kind: KindLesson,
		Fields: []Field{
			{Name: "course_id", Type: TypeString, Required: true},
			{Name: "title", Type: TypeString, Required: true},
			{Name: "content", Type: TypeString},
			{Name: "video_url", Type: TypeString},
			{Name: "order", Type: TypeInt, Default: int64(1), Constraints: []Constraint{MinInt{Min: 1}}},
		},
		SortKey: "order",
	},
	KindEnrollment: {
		Kind: KindEnrollment,
		Fields: []Field{
			{Name: "course_id", Type: TypeString, Required: true},
			{Name: "user_id", Type: TypeString, Required: true},
			{Name: "role", Type: TypeString, Default: "student"},
		},
		DedupKey: []string{"course_id", "user_id"},
	},
	KindAnnouncement: {
		Kind: KindAnnouncement,
		Fields: []Field{
			{Name: "course_id", Type: TypeString, Required: true},
			{Name: "title", Type: TypeString, Required: true},
			{Name: "message", Type: TypeString, Required: true},
		},
	},
	KindAssignment: {
		Kind: KindAssignment,
		Fields: []Field{
			{Name: "course_id", Type: TypeString, Required: true},
			{Name: "title", Type: TypeString, Required: true},
			{Name: "description", Type: TypeString},
			{Name: "due_date", Type: TypeTimestamp},
			{Name: "max_points", Type: TypeInt, Default: int64(100), Constraints: []Constraint{MinInt{Min: 1}}},
		},
	},
	KindSubmission: {
		Kind: KindSubmission,
		Fields: []Field{
			{Name: "assignment_id", Type: TypeString, Required: true},
			{Name: "user_id", Type: TypeString, Required: true},
			{Name: "content", Type: TypeString},
			{Name: "grade", Type: TypeFloat, Constraints: []Constraint{MinFloat{Min: 0}}},
			{Name: "feedback", Type: TypeString},
		},
		DedupKey: []string{"assignment_id", "user_id"},
	},
}

// order is the declaration order used by Kinds.
var order = []Kind{
	KindUser,
	KindCourse,
	KindLesson,
	KindEnrollment,
	KindAnnouncement,
	KindAssignment,
	KindSubmission,
}

// Describe returns the definition of kind. Unregistered kinds are a wiring
// bug and fail with CodeUnknownKind.
func Describe(kind Kind) (Definition, error) {
	def, ok := definitions[kind]
	if !ok {
		return Definition{}, dErrors.New(dErrors.CodeUnknownKind, fmt.Sprintf("unknown entity kind %q", string(kind)))
	}
	return def, nil
}

// ParseKind resolves a kind name.
func ParseKind(name string) (Kind, error) {
	kind := Kind(name)
	if _, err := Describe(kind); err != nil {
		return "", err
	}
	return kind, nil
}

// Kinds lists every registered kind in declaration order.
func Kinds() []Kind {
	return slices.Clone(order)
}

// DedupKeys maps each collection with a dedup key to its key fields. Backends
// that enforce uniqueness natively build their indexes from it.
func DedupKeys() map[string][]string {
	keys := make(map[string][]string)
	for _, kind := range order {
		def := definitions[kind]
		if len(def.DedupKey) > 0 {
			keys[kind.Collection()] = slices.Clone(def.DedupKey)
		}
	}
	return keys
}
