package evaluation

import (
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/criteria"
	"github.com/sells-group/adoption-cli/internal/model"
)

// Decision is the outcome of evaluating one task. Callers persist NewStatus
// and NewSource when Changed is true.
type Decision struct {
	TaskID         string            `json:"task_id"`
	PreviousStatus model.TaskStatus  `json:"previous_status"`
	NewStatus      model.TaskStatus  `json:"new_status"`
	NewSource      string            `json:"new_source"`
	Changed        bool              `json:"changed"`
	Reason         string            `json:"reason"`
	Attributes     []AttributeResult `json:"attributes"`
	EvaluatedAt    time.Time         `json:"evaluated_at"`
}

// Engine evaluates tasks against their telemetry. It holds no state beyond
// its clock and is safe for concurrent use.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an Engine. A nil clock means time.Now.
func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// EvaluateTaskStatusFromTelemetry aggregates attrs and resolves the task's
// next status. It never fails: attributes whose rule cannot be applied count
// as not met and are named in Reason.
func (e *Engine) EvaluateTaskStatusFromTelemetry(task model.Task, attrs []model.TelemetryAttribute, opts Options) Decision {
	now := e.now()
	v := aggregate(criteria.Evaluator{Now: func() time.Time { return now }}, attrs)
	tr := Resolve(State{Status: task.Status, Source: task.StatusUpdateSource}, v, opts)

	reason := tr.Reason
	if len(v.Failures) > 0 {
		names := make([]string, 0, len(v.Failures))
		for _, f := range v.Failures {
			names = append(names, f.Name)
			zap.L().Debug("evaluation: attribute not evaluable",
				zap.String("task_id", task.ID),
				zap.String("attribute", f.Name),
				zap.String("error", f.Error),
			)
		}
		reason += "; not evaluable: " + strings.Join(names, ", ")
	}

	return Decision{
		TaskID:         task.ID,
		PreviousStatus: task.Status,
		NewStatus:      tr.Status,
		NewSource:      tr.Source,
		Changed:        tr.Changed,
		Reason:         reason,
		Attributes:     v.Results,
		EvaluatedAt:    now,
	}
}

// Evaluate is EvaluateTaskStatusFromTelemetry over the task's own attributes.
func (e *Engine) Evaluate(task model.Task, opts Options) Decision {
	return e.EvaluateTaskStatusFromTelemetry(task, task.Attributes, opts)
}

// Apply writes the decision back onto an in-memory task: per-attribute
// IsMet and LastCheckedAt always, status and source when changed.
func (d Decision) Apply(task *model.Task) {
	checked := d.EvaluatedAt
	for _, r := range d.Attributes {
		for i := range task.Attributes {
			if task.Attributes[i].ID == r.AttributeID {
				task.Attributes[i].IsMet = r.Met
				task.Attributes[i].LastCheckedAt = &checked
			}
		}
	}
	if d.Changed {
		task.Status = d.NewStatus
		task.StatusUpdateSource = d.NewSource
		task.StatusUpdatedAt = &checked
	}
}

// Progress summarizes weighted completion. NOT_APPLICABLE tasks are left out;
// DONE tasks count as complete. Percentage is rounded to two decimals.
func Progress(tasks []model.Task) model.PlanProgress {
	var p model.PlanProgress
	for _, t := range tasks {
		if t.Status == model.TaskStatusNotApplicable {
			continue
		}
		p.TotalTasks++
		p.TotalWeight += t.Weight
		if t.Status == model.TaskStatusDone {
			p.CompletedTasks++
			p.CompletedWeight += t.Weight
		}
	}
	if p.TotalWeight > 0 {
		p.Percentage = math.Round(p.CompletedWeight/p.TotalWeight*100*100) / 100
	}
	return p
}
