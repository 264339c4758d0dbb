package store

import (
	"strings"
	"time"

	"lms/internal/content/document"
)

// Filter is the caller-facing list constraint set.
type Filter struct {
	Conditions []Condition
	SortBy     string
}

// Where starts a filter with an exact-match condition.
func Where(field string, value any) Filter {
	return Filter{}.Eq(field, value)
}

// Eq adds an exact-match condition.
func (f Filter) Eq(field string, value any) Filter {
	f.Conditions = append(append([]Condition(nil), f.Conditions...), Condition{Field: field, Op: OpEqual, Value: value})
	return f
}

// ContainsFold adds a case-insensitive substring condition.
func (f Filter) ContainsFold(field, substr string) Filter {
	f.Conditions = append(append([]Condition(nil), f.Conditions...), Condition{Field: field, Op: OpContainsFold, Value: substr})
	return f
}

// Match evaluates every condition against doc in process. Backends without a
// native query language use it directly.
func Match(doc document.Document, conds []Condition) bool {
	for _, c := range conds {
		v := doc[c.Field]
		switch c.Op {
		case OpEqual:
			if !equalValues(v, c.Value) && !listContains(v, c.Value) {
				return false
			}
		case OpContainsFold:
			s, ok := v.(string)
			sub, _ := c.Value.(string)
			if !ok || !strings.Contains(strings.ToLower(s), strings.ToLower(sub)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Less orders field values for sorting. Missing values sort first.
func Less(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b != nil
	}
	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return x < y
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return x < y
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Before(y)
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case document.ID:
		y, ok := b.(document.ID)
		return ok && x == y
	case nil:
		return b == nil
	}
	return false
}

func listContains(list, v any) bool {
	items, ok := list.([]string)
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
