package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/asaskevich/govalidator"
)

// Constraint is a declarative rule checked against a field value that already
// has the field's canonical type. Check returns the violation reason, or "".
type Constraint interface {
	Check(value any) string
}

// Email requires a well-formed email address.
type Email struct{}

func (Email) Check(value any) string {
	s, _ := value.(string)
	if !govalidator.IsEmail(s) {
		return "must be a valid email address"
	}
	return ""
}

// MinInt bounds an integer field from below (inclusive).
type MinInt struct {
	Min int64
}

func (c MinInt) Check(value any) string {
	n, _ := value.(int64)
	if n < c.Min {
		return fmt.Sprintf("must be greater than or equal to %d", c.Min)
	}
	return ""
}

// MinFloat bounds a numeric field from below (inclusive).
type MinFloat struct {
	Min float64
}

func (c MinFloat) Check(value any) string {
	n, _ := value.(float64)
	if n < c.Min {
		return fmt.Sprintf("must be greater than or equal to %g", c.Min)
	}
	return ""
}

// OneOf restricts a string field to an enumerated set.
type OneOf []string

func (c OneOf) Check(value any) string {
	s, _ := value.(string)
	if !slices.Contains(c, s) {
		return "must be one of: " + strings.Join(c, ", ")
	}
	return ""
}
