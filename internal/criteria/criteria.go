// Package criteria implements the success-criteria rules attached to
// telemetry attributes: a closed set of rule kinds, their JSON storage
// shape, authoring-time validation and a pure evaluator.
package criteria

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrInvalidCriteria marks a rule that cannot be authored as given.
var ErrInvalidCriteria = eris.New("criteria: invalid criteria")

// Kind tags a criteria variant.
type Kind string

const (
	KindBooleanFlag         Kind = "boolean_flag"
	KindNumberThreshold     Kind = "number_threshold"
	KindStringMatch         Kind = "string_match"
	KindTimestampComparison Kind = "timestamp_comparison"
	KindCompositeAnd        Kind = "composite_and"
	KindCompositeOr         Kind = "composite_or"
	KindNotNull             Kind = "not_null"
)

// Criteria is one node of a success-criteria rule. The set of
// implementations is closed to this package.
type Criteria interface {
	Kind() Kind
	sealed()
}

// BooleanFlag is met when the value parses to Expected.
type BooleanFlag struct {
	Expected bool
}

// Operator is a numeric comparison in canonical symbol form.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// ParseOperator accepts symbols and word aliases in any case.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case ">", "gt", "greater_than":
		return OpGreater, nil
	case "<", "lt", "less_than":
		return OpLess, nil
	case "=", "==", "eq", "equals", "equal":
		return OpEqual, nil
	case ">=", "gte", "greater_than_or_equal":
		return OpGreaterEqual, nil
	case "<=", "lte", "less_than_or_equal":
		return OpLessEqual, nil
	}
	return "", eris.Wrapf(ErrInvalidCriteria, "unknown operator %q", s)
}

func (o Operator) apply(v, threshold float64) bool {
	switch o {
	case OpGreater:
		return v > threshold
	case OpLess:
		return v < threshold
	case OpEqual:
		return v == threshold
	case OpGreaterEqual:
		return v >= threshold
	case OpLessEqual:
		return v <= threshold
	}
	return false
}

// NumberThreshold compares a numeric value against Threshold.
type NumberThreshold struct {
	Operator  Operator
	Threshold float64
}

// MatchMode selects how StringMatch compares.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
	MatchRegex    MatchMode = "regex"
)

// StringMatch tests a string value against Pattern. Exact and contains
// are case-sensitive unless IgnoreCase is set.
type StringMatch struct {
	Mode       MatchMode
	Pattern    string
	IgnoreCase bool

	re *regexp.Regexp
}

// NewStringMatch builds a StringMatch and compiles its pattern when the mode
// is regex.
func NewStringMatch(mode MatchMode, pattern string, ignoreCase bool) (*StringMatch, error) {
	m := &StringMatch{Mode: mode, Pattern: pattern, IgnoreCase: ignoreCase}
	if err := m.compile(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StringMatch) compile() error {
	switch m.Mode {
	case MatchExact, MatchContains:
		return nil
	case MatchRegex:
		if m.re != nil {
			return nil
		}
		expr := m.Pattern
		if m.IgnoreCase {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return eris.Wrapf(ErrInvalidCriteria, "regex %q: %v", m.Pattern, err)
		}
		m.re = re
		return nil
	}
	return eris.Wrapf(ErrInvalidCriteria, "unknown string match mode %q", m.Mode)
}

// TimeMode selects how TimestampComparison compares.
type TimeMode string

const (
	TimeBefore     TimeMode = "before"
	TimeAfter      TimeMode = "after"
	TimeWithinDays TimeMode = "within_days"
)

// TimestampComparison compares a timestamp value against Reference, or
// against the evaluation time when Reference is nil. WithinDays checks
// |now - value| <= Days.
type TimestampComparison struct {
	Mode      TimeMode
	Reference *time.Time
	Days      float64
}

// CompositeAnd is met when every child is met.
type CompositeAnd struct {
	Children []Criteria
}

// CompositeOr is met when at least one child is met.
type CompositeOr struct {
	Children []Criteria
}

// NotNull is met by any present, non-blank value.
type NotNull struct{}

func (BooleanFlag) Kind() Kind { return KindBooleanFlag }
func (NumberThreshold) Kind() Kind { return KindNumberThreshold }
func (*StringMatch) Kind() Kind { return KindStringMatch }
func (TimestampComparison) Kind() Kind { return KindTimestampComparison }
func (CompositeAnd) Kind() Kind { return KindCompositeAnd }
func (CompositeOr) Kind() Kind { return KindCompositeOr }
func (NotNull) Kind() Kind { return KindNotNull }
func (BooleanFlag) sealed() {}
func (NumberThreshold) sealed() {}
func (*StringMatch) sealed() {}
func (TimestampComparison) sealed() {}
func (CompositeAnd) sealed() {}
func (CompositeOr) sealed() {}
func (NotNull) sealed() {}

// Validate checks a rule tree for authoring errors: unknown operators or
// modes, bad regexes, negative day windows and empty composites. It compiles
// regexes in place.
func Validate(c Criteria) error {
	switch n := c.(type) {
	case nil:
		return nil
	case BooleanFlag, NotNull:
		return nil
	case NumberThreshold:
		if _, err := ParseOperator(string(n.Operator)); err != nil {
			return err
		}
		return nil
	case *StringMatch:
		if n == nil {
			return eris.Wrap(ErrInvalidCriteria, "nil string match")
		}
		return n.compile()
	case TimestampComparison:
		switch n.Mode {
		case TimeBefore, TimeAfter:
			return nil
		case TimeWithinDays:
			if n.Days < 0 {
				return eris.Wrapf(ErrInvalidCriteria, "within_days needs days >= 0, got %v", n.Days)
			}
			return nil
		}
		return eris.Wrapf(ErrInvalidCriteria, "unknown timestamp mode %q", n.Mode)
	case CompositeAnd:
		return validateChildren(KindCompositeAnd, n.Children)
	case CompositeOr:
		return validateChildren(KindCompositeOr, n.Children)
	}
	return eris.Wrapf(ErrInvalidCriteria, "unsupported criteria %T", c)
}

func validateChildren(kind Kind, children []Criteria) error {
	if len(children) == 0 {
		return eris.Wrapf(ErrInvalidCriteria, "%s needs at least one child", kind)
	}
	for i, child := range children {
		if child == nil {
			return eris.Wrapf(ErrInvalidCriteria, "%s child %d is empty", kind, i)
		}
		if err := Validate(child); err != nil {
			return eris.Wrapf(err, "%s child %d", kind, i)
		}
	}
	return nil
}
