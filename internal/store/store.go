package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/adoption-cli/internal/model"
)

// ErrNotFound is returned when an update or lookup targets a row that does
// not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence collaborator for adoption plans.
type Store interface {
	// Reads. Attributes carry only their latest value.
	LoadSnapshot(ctx context.Context, planID string) (*model.Snapshot, error)
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	ListTasks(ctx context.Context, planID string) ([]model.Task, error)

	// CreateTask inserts a task with its attributes and any initial values.
	CreateTask(ctx context.Context, task *model.Task) error

	// InTx runs fn inside one transaction. Any error from fn rolls back
	// every write made through the Tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Tx is the write surface available inside InTx.
type Tx interface {
	InsertTask(ctx context.Context, task *model.Task) error
	InsertCatalogItem(ctx context.Context, item *model.CatalogItem) error
	UpdateCatalogItem(ctx context.Context, item *model.CatalogItem) error
	InsertAttribute(ctx context.Context, attr *model.TelemetryAttribute) error
	UpdateAttribute(ctx context.Context, attr *model.TelemetryAttribute) error
	AppendValues(ctx context.Context, values []model.TelemetryValue) (int64, error)

	// GetTask reads a task with its attributes as seen inside the
	// transaction, each attribute carrying its latest value.
	GetTask(ctx context.Context, taskID string) (*model.Task, error)
	TaskAttributes(ctx context.Context, taskID string) ([]model.TelemetryAttribute, error)

	UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus, source string, at time.Time) error
	UpdateAttributeEvaluation(ctx context.Context, attributeID string, met bool, at time.Time) error
}

// createTask is the shared CreateTask implementation.
func createTask(ctx context.Context, s Store, task *model.Task) error {
	return s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		var values []model.TelemetryValue
		for i := range task.Attributes {
			a := &task.Attributes[i]
			a.TaskID = task.ID
			if err := tx.InsertAttribute(ctx, a); err != nil {
				return err
			}
			for j := range a.Values {
				a.Values[j].AttributeID = a.ID
				values = append(values, a.Values[j])
			}
		}
		_, err := tx.AppendValues(ctx, values)
		return err
	})
}

func fillTaskDefaults(task *model.Task) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusNotStarted
	}
	if task.StatusUpdateSource == "" {
		task.StatusUpdateSource = model.SourceManual
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
}

func fillValueDefaults(v *model.TelemetryValue, now time.Time) {
	v.Source = model.NormalizeSource(v.Source)
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
}

// assemble attaches attributes to their tasks and values to their
// attributes. Attributes are ordered by Order then name.
func assemble(tasks []model.Task, attrs []model.TelemetryAttribute, values []model.TelemetryValue) []model.Task {
	byAttr := make(map[string][]model.TelemetryValue, len(values))
	for _, v := range values {
		byAttr[v.AttributeID] = append(byAttr[v.AttributeID], v)
	}
	byTask := make(map[string][]model.TelemetryAttribute, len(tasks))
	for _, a := range attrs {
		a.Values = byAttr[a.ID]
		byTask[a.TaskID] = append(byTask[a.TaskID], a)
	}
	for i := range tasks {
		list := byTask[tasks[i].ID]
		sort.SliceStable(list, func(x, y int) bool {
			if list[x].Order != list[y].Order {
				return list[x].Order < list[y].Order
			}
			return list[x].Name < list[y].Name
		})
		tasks[i].Attributes = list
	}
	return tasks
}
