// Package evaluation decides task status from telemetry: it aggregates
// per-attribute criteria verdicts, resolves the status transition under the
// manual-override guard, and summarizes plan progress.
package evaluation

import (
	"sort"

	"github.com/sells-group/adoption-cli/internal/criteria"
	"github.com/sells-group/adoption-cli/internal/model"
)

// AttributeResult is the verdict for one active attribute.
type AttributeResult struct {
	AttributeID string  `json:"attribute_id"`
	Name        string  `json:"name"`
	Required    bool    `json:"required"`
	Met         bool    `json:"met"`
	Value       *string `json:"value,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Verdict is the task-level aggregate over active attributes.
type Verdict struct {
	AllRequiredMet bool
	AnyActive      bool
	PerAttribute   map[string]bool
	Results        []AttributeResult
	// Failures lists attributes whose rule could not be applied to their
	// value. They count as not met.
	Failures []AttributeResult
}

// Aggregate evaluates attrs with the default clock.
func Aggregate(attrs []model.TelemetryAttribute) Verdict {
	return aggregate(criteria.Evaluator{}, attrs)
}

func aggregate(ev criteria.Evaluator, attrs []model.TelemetryAttribute) Verdict {
	v := Verdict{AllRequiredMet: true, PerAttribute: make(map[string]bool)}

	ordered := make([]model.TelemetryAttribute, len(attrs))
	copy(ordered, attrs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	for i := range ordered {
		a := &ordered[i]
		if !a.IsActive {
			continue
		}
		v.AnyActive = true

		raw := a.Latest().Raw()
		out := ev.Evaluate(a.Criteria, raw)
		res := AttributeResult{
			AttributeID: a.ID,
			Name:        a.Name,
			Required:    a.IsRequired,
			Met:         out.Met,
			Value:       raw,
		}
		if out.Err != nil {
			res.Error = out.Err.Error()
			v.Failures = append(v.Failures, res)
		}
		v.PerAttribute[a.ID] = out.Met
		v.Results = append(v.Results, res)

		if a.IsRequired && !out.Met {
			v.AllRequiredMet = false
		}
	}
	return v
}

// RequiredCounts returns how many active required attributes are met and how
// many exist.
func (v Verdict) RequiredCounts() (met, total int) {
	for _, r := range v.Results {
		if !r.Required {
			continue
		}
		total++
		if r.Met {
			met++
		}
	}
	return met, total
}
