package model

import (
	"strings"
	"time"
)

// TaskStatus represents the adoption state of a tracked task.
type TaskStatus string

const (
	TaskStatusNotStarted    TaskStatus = "NOT_STARTED"
	TaskStatusInProgress    TaskStatus = "IN_PROGRESS"
	TaskStatusDone          TaskStatus = "DONE"
	TaskStatusNoLongerUsing TaskStatus = "NO_LONGER_USING"
	TaskStatusNotApplicable TaskStatus = "NOT_APPLICABLE"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNotStarted, TaskStatusInProgress, TaskStatusDone,
		TaskStatusNoLongerUsing, TaskStatusNotApplicable:
		return true
	}
	return false
}

// Authoritative reports whether a human-set status of this kind must not be
// overwritten by telemetry unless re-evaluation is forced.
func (s TaskStatus) Authoritative() bool {
	switch s {
	case TaskStatusDone, TaskStatusNoLongerUsing, TaskStatusNotApplicable:
		return true
	}
	return false
}

const (
	// SourceTelemetry marks a status or value written by the evaluation engine
	// or an external telemetry feed.
	SourceTelemetry = "telemetry"
	// SourceManual marks a status or value entered by a person.
	SourceManual = "manual"
)

// IsTelemetrySource reports whether a provenance tag names telemetry. The
// comparison ignores case and surrounding whitespace; every provenance check
// in the module goes through here.
func IsTelemetrySource(source string) bool {
	return strings.EqualFold(strings.TrimSpace(source), SourceTelemetry)
}

// NormalizeSource returns the canonical lower-case form of a source tag,
// defaulting to telemetry when empty.
func NormalizeSource(source string) string {
	s := strings.ToLower(strings.TrimSpace(source))
	if s == "" {
		return SourceTelemetry
	}
	return s
}

// Task is an adoption task as seen by the evaluation core. Identity and
// lifecycle belong to the surrounding CRUD layer.
type Task struct {
	ID                 string               `json:"id"`
	PlanID             string               `json:"plan_id"`
	Name               string               `json:"name"`
	Status             TaskStatus           `json:"status"`
	StatusUpdateSource string               `json:"status_update_source"`
	StatusUpdatedAt    *time.Time           `json:"status_updated_at,omitempty"`
	Weight             float64              `json:"weight"`
	Attributes         []TelemetryAttribute `json:"attributes,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// Attribute returns the task's attribute with the given name, matched
// case-insensitively.
func (t *Task) Attribute(name string) *TelemetryAttribute {
	for i := range t.Attributes {
		if strings.EqualFold(strings.TrimSpace(t.Attributes[i].Name), strings.TrimSpace(name)) {
			return &t.Attributes[i]
		}
	}
	return nil
}

// PlanProgress summarizes weighted completion over a plan's tasks.
type PlanProgress struct {
	TotalTasks      int     `json:"total_tasks"`
	CompletedTasks  int     `json:"completed_tasks"`
	TotalWeight     float64 `json:"total_weight"`
	CompletedWeight float64 `json:"completed_weight"`
	Percentage      float64 `json:"percentage"`
}
