package criteria

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Outcome is the verdict for one rule against one value. Err is set when the
// value could not be interpreted for the rule; Met is always false then.
type Outcome struct {
	Met bool
	Err error
}

// Evaluator evaluates rules. Now supplies the clock for relative timestamp
// rules and defaults to time.Now.
type Evaluator struct {
	Now func() time.Time
}

// Met is the pure boolean contract: a nil value is never met, a nil rule
// with a present value is met.
func Met(c Criteria, value *string) bool {
	return Evaluator{}.Evaluate(c, value).Met
}

// Evaluate applies c to value. value is nil when the attribute has no
// reported value.
func (e Evaluator) Evaluate(c Criteria, value *string) Outcome {
	if value == nil {
		return Outcome{}
	}
	if c == nil {
		return Outcome{Met: true}
	}
	met, err := e.eval(c, *value)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Met: met}
}

func (e Evaluator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Evaluator) eval(c Criteria, raw string) (bool, error) {
	switch n := c.(type) {
	case BooleanFlag:
		b, ok := ParseBool(raw)
		if !ok {
			return false, eris.Errorf("criteria: %q is not a boolean", raw)
		}
		return b == n.Expected, nil

	case NumberThreshold:
		f, ok := ParseNumber(raw)
		if !ok {
			return false, eris.Errorf("criteria: %q is not a number", raw)
		}
		return n.Operator.apply(f, n.Threshold), nil

	case *StringMatch:
		if n == nil {
			return false, eris.Wrap(ErrInvalidCriteria, "string_match is nil")
		}
		return n.match(raw)

	case TimestampComparison:
		t, ok := ParseTime(raw)
		if !ok {
			return false, eris.Errorf("criteria: %q is not a timestamp", raw)
		}
		now := e.now()
		ref := now
		if n.Reference != nil {
			ref = *n.Reference
		}
		switch n.Mode {
		case TimeBefore:
			return t.Before(ref), nil
		case TimeAfter:
			return t.After(ref), nil
		case TimeWithinDays:
			window := time.Duration(n.Days * float64(24*time.Hour))
			delta := now.Sub(t)
			if delta < 0 {
				delta = -delta
			}
			return delta <= window, nil
		}
		return false, eris.Wrapf(ErrInvalidCriteria, "unknown timestamp mode %q", n.Mode)

	case CompositeAnd:
		if len(n.Children) == 0 {
			return false, eris.Wrap(ErrInvalidCriteria, "composite_and has no children")
		}
		for _, child := range n.Children {
			ok, err := e.eval(child, raw)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case CompositeOr:
		if len(n.Children) == 0 {
			return false, eris.Wrap(ErrInvalidCriteria, "composite_or has no children")
		}
		var firstErr error
		for _, child := range n.Children {
			ok, err := e.eval(child, raw)
			if ok {
				return true, nil
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return false, firstErr

	case NotNull:
		return strings.TrimSpace(raw) != "", nil

	case nil:
		return false, eris.Wrap(ErrInvalidCriteria, "empty child")
	}
	return false, eris.Wrapf(ErrInvalidCriteria, "unsupported criteria %T", c)
}

func (m *StringMatch) match(raw string) (bool, error) {
	switch m.Mode {
	case MatchExact:
		if m.IgnoreCase {
			return strings.EqualFold(raw, m.Pattern), nil
		}
		return raw == m.Pattern, nil
	case MatchContains:
		if m.IgnoreCase {
			return strings.Contains(strings.ToLower(raw), strings.ToLower(m.Pattern)), nil
		}
		return strings.Contains(raw, m.Pattern), nil
	case MatchRegex:
		if err := m.compile(); err != nil {
			return false, err
		}
		return m.re.MatchString(raw), nil
	}
	return false, eris.Wrapf(ErrInvalidCriteria, "unknown string match mode %q", m.Mode)
}

// ParseBool accepts true/false, t/f, yes/no, y/n and 1/0 in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	}
	return false, false
}

// ParseNumber parses a float, ignoring thousands separators and a trailing
// percent sign. NaN and infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// ParseTime parses the timestamp spellings accepted in telemetry values.
// Zone-less forms are read as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
