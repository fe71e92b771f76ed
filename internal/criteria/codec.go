package criteria

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// wire is the JSON storage shape of a criteria node. Decoding accepts the
// legacy spellings (upper-case type names, caseSensitive, referenceTime,
// withinDays, criteria); encoding always writes the canonical names.
type wire struct {
	Type string `json:"type"`

	ExpectedValue *bool `json:"expectedValue,omitempty"`

	Operator  string   `json:"operator,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`

	Mode          string `json:"mode,omitempty"`
	Pattern       string `json:"pattern,omitempty"`
	IgnoreCase    bool   `json:"ignoreCase,omitempty"`
	CaseSensitive *bool  `json:"caseSensitive,omitempty"`

	Reference     string   `json:"reference,omitempty"`
	ReferenceTime string   `json:"referenceTime,omitempty"`
	Days          *float64 `json:"days,omitempty"`
	WithinDays    *float64 `json:"withinDays,omitempty"`

	Children []json.RawMessage `json:"children,omitempty"`
	Criteria []json.RawMessage `json:"criteria,omitempty"`
}

// Parse decodes and validates a stored rule. Empty input, "null" and "{}"
// decode to a nil Criteria, meaning no rule is defined.
func Parse(data []byte) (Criteria, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil, nil
	}
	c, err := decode(trimmed)
	if err != nil {
		return nil, err
	}
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseString is Parse for text cells.
func ParseString(s string) (Criteria, error) {
	return Parse([]byte(s))
}

func decode(data []byte) (Criteria, error) {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, eris.Wrapf(ErrInvalidCriteria, "decode: %v", err)
	}

	switch normalizeKind(w.Type) {
	case KindBooleanFlag:
		if w.ExpectedValue == nil {
			return nil, eris.Wrap(ErrInvalidCriteria, "boolean_flag needs expectedValue")
		}
		return BooleanFlag{Expected: *w.ExpectedValue}, nil

	case KindNumberThreshold:
		op, err := ParseOperator(w.Operator)
		if err != nil {
			return nil, err
		}
		if w.Threshold == nil {
			return nil, eris.Wrap(ErrInvalidCriteria, "number_threshold needs threshold")
		}
		return NumberThreshold{Operator: op, Threshold: *w.Threshold}, nil

	case KindStringMatch:
		ignore := w.IgnoreCase
		if w.CaseSensitive != nil {
			ignore = !*w.CaseSensitive
		}
		mode := MatchMode(strings.ToLower(strings.TrimSpace(w.Mode)))
		if mode == "" {
			mode = MatchExact
		}
		return NewStringMatch(mode, w.Pattern, ignore)

	case KindTimestampComparison:
		return decodeTimestamp(w)

	case KindCompositeAnd, KindCompositeOr:
		raw := w.Children
		if len(raw) == 0 {
			raw = w.Criteria
		}
		children := make([]Criteria, 0, len(raw))
		for i, r := range raw {
			child, err := decode(r)
			if err != nil {
				return nil, eris.Wrapf(err, "child %d", i)
			}
			children = append(children, child)
		}
		if normalizeKind(w.Type) == KindCompositeAnd {
			return CompositeAnd{Children: children}, nil
		}
		return CompositeOr{Children: children}, nil

	case KindNotNull:
		return NotNull{}, nil
	}
	return nil, eris.Wrapf(ErrInvalidCriteria, "unknown criteria type %q", w.Type)
}

func decodeTimestamp(w wire) (Criteria, error) {
	mode := TimeMode(strings.ToLower(strings.TrimSpace(w.Mode)))
	out := TimestampComparison{Mode: mode}

	ref := w.Reference
	if ref == "" {
		ref = w.ReferenceTime
	}
	if ref != "" && !strings.EqualFold(ref, "now") {
		t, ok := ParseTime(ref)
		if !ok {
			return nil, eris.Wrapf(ErrInvalidCriteria, "timestamp_comparison reference %q", ref)
		}
		out.Reference = &t
	}

	days := w.Days
	if days == nil {
		days = w.WithinDays
	}
	if days != nil {
		out.Days = *days
	}
	if mode == TimeWithinDays && days == nil {
		return nil, eris.Wrap(ErrInvalidCriteria, "within_days needs days")
	}
	return out, nil
}

func normalizeKind(t string) Kind {
	k := Kind(strings.ToLower(strings.TrimSpace(t)))
	switch k {
	case "string_not_null", "timestamp_not_null", "notnull":
		return KindNotNull
	case "and":
		return KindCompositeAnd
	case "or":
		return KindCompositeOr
	}
	return k
}

// Marshal encodes a rule into its canonical storage shape. A nil rule
// encodes as JSON null.
func Marshal(c Criteria) ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	w, err := encode(c)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, eris.Wrap(err, "criteria: encode")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// String renders a rule as canonical JSON, or "" for nil. Encoding errors
// render as "".
func String(c Criteria) string {
	if c == nil {
		return ""
	}
	b, err := Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}

func encode(c Criteria) (*wire, error) {
	w := &wire{Type: string(c.Kind())}
	switch n := c.(type) {
	case BooleanFlag:
		v := n.Expected
		w.ExpectedValue = &v
	case NumberThreshold:
		v := n.Threshold
		w.Operator = string(n.Operator)
		w.Threshold = &v
	case *StringMatch:
		w.Mode = string(n.Mode)
		w.Pattern = n.Pattern
		w.IgnoreCase = n.IgnoreCase
	case TimestampComparison:
		w.Mode = string(n.Mode)
		if n.Reference != nil {
			w.Reference = n.Reference.UTC().Format(time.RFC3339)
		}
		if n.Mode == TimeWithinDays {
			v := n.Days
			w.Days = &v
		}
	case CompositeAnd:
		return encodeChildren(w, n.Children)
	case CompositeOr:
		return encodeChildren(w, n.Children)
	case NotNull:
	default:
		return nil, eris.Wrapf(ErrInvalidCriteria, "unsupported criteria %T", c)
	}
	return w, nil
}

func encodeChildren(w *wire, children []Criteria) (*wire, error) {
	w.Children = make([]json.RawMessage, 0, len(children))
	for _, child := range children {
		b, err := Marshal(child)
		if err != nil {
			return nil, err
		}
		w.Children = append(w.Children, b)
	}
	return w, nil
}
