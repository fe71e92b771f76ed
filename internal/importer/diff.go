package importer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sells-group/adoption-cli/internal/model"
)

// FieldDiff is one changed field of an updated record.
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// diffFields compares two field lists by name and returns the changed
// fields in the order of next. Values compare after normalization, so nil
// equals "", and 1 equals "1".
func diffFields(prev, next []model.Field) []FieldDiff {
	old := make(map[string]string, len(prev))
	for _, f := range prev {
		old[f.Name] = normalizeValue(f.Value)
	}
	var out []FieldDiff
	for _, f := range next {
		n := normalizeValue(f.Value)
		if o := old[f.Name]; o != n {
			out = append(out, FieldDiff{Field: f.Name, Old: o, New: n})
		}
	}
	return out
}

func normalizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return strings.TrimSpace(x.String())
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
