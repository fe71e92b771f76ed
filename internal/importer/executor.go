package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/evaluation"
	"github.com/sells-group/adoption-cli/internal/model"
	"github.com/sells-group/adoption-cli/internal/progress"
	"github.com/sells-group/adoption-cli/internal/resilience"
	"github.com/sells-group/adoption-cli/internal/store"
	"github.com/sells-group/adoption-cli/internal/workbook"
)

// Notifier receives fire-and-forget progress events.
type Notifier interface {
	Publish(ev progress.Event)
}

// Stats counts what an execution wrote.
type Stats struct {
	TasksImported     int                         `json:"tasks_imported"`
	AttributesCreated int                         `json:"attributes_created"`
	AttributesUpdated int                         `json:"attributes_updated"`
	ValuesImported    int                         `json:"values_imported"`
	ValuesUnchanged   int                         `json:"values_unchanged"`
	CatalogCreated    int                         `json:"catalog_created"`
	CatalogUpdated    int                         `json:"catalog_updated"`
	StatusChanges     int                         `json:"status_changes"`
	PerEntity         map[model.EntityKind]Counts `json:"per_entity"`
}

func (s *Stats) count(kind model.EntityKind, a Action) {
	if s.PerEntity == nil {
		s.PerEntity = make(map[model.EntityKind]Counts)
	}
	c := s.PerEntity[kind]
	c.add(a)
	s.PerEntity[kind] = c
}

// ImportResult reports an execution. On failure Success is false, Stats is
// zero, and Errors carries the cause; nothing was written.
type ImportResult struct {
	Success   bool                  `json:"success"`
	SessionID string                `json:"session_id,omitempty"`
	BatchID   string                `json:"batch_id,omitempty"`
	Stats     Stats                 `json:"stats"`
	Errors    Issues                `json:"errors"`
	Warnings  Issues                `json:"warnings"`
	Decisions []evaluation.Decision `json:"decisions,omitempty"`
	Duration  time.Duration         `json:"duration"`
}

// Executor applies dry runs.
type Executor struct {
	store  store.Store
	engine *evaluation.Engine
	notify Notifier
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewExecutor wires an executor. notify may be nil.
func NewExecutor(st store.Store, engine *evaluation.Engine, notify Notifier, retry resilience.RetryConfig) *Executor {
	if engine == nil {
		engine = evaluation.NewEngine(nil)
	}
	return &Executor{store: st, engine: engine, notify: notify, retry: retry, now: time.Now}
}

func (e *Executor) publish(sessionID string, phase progress.Phase, pct int, msg string) {
	if e.notify == nil || sessionID == "" {
		return
	}
	e.notify.Publish(progress.Event{SessionID: sessionID, Phase: phase, Percentage: pct, Message: msg})
}

// Execute applies dr in one transaction: catalog items, then attributes,
// then values, then re-evaluation of every affected task. The transaction
// is retried as a whole on transient store faults. Cancelling ctx does not
// abort a started execution.
func (e *Executor) Execute(ctx context.Context, dr *DryRunResult) *ImportResult {
	start := e.now()
	res := &ImportResult{SessionID: dr.SessionID, Errors: Issues{}, Warnings: dr.Warnings}
	if res.Warnings == nil {
		res.Warnings = Issues{}
	}

	if !dr.Valid || dr.plan == nil {
		msg := fmt.Sprintf("the dry run has %d blocking errors; fix the workbook and preview again", len(dr.Errors))
		if dr.plan == nil && dr.Valid {
			msg = "the dry run carries no write plan; preview again"
		}
		res.Errors = append(append(res.Errors, dr.Errors...), Issue{Message: msg, Code: CodeHasErrors, Severity: workbook.SeverityError})
		res.Duration = e.now().Sub(start)
		e.publish(dr.SessionID, progress.PhaseError, 0, msg)
		return res
	}

	ctx = context.WithoutCancel(ctx)
	retry := e.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("importer", "execute")
	}

	batchID := uuid.New().String()
	var stats Stats
	var decisions []evaluation.Decision
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		stats, decisions = Stats{}, nil
		return e.store.InTx(ctx, func(tx store.Tx) error {
			var err error
			stats, decisions, err = e.apply(ctx, tx, dr, batchID)
			return err
		})
	})
	res.Duration = e.now().Sub(start)

	if err != nil {
		zap.L().Error("importer: execute failed, transaction rolled back",
			zap.String("session_id", dr.SessionID),
			zap.String("plan_id", dr.PlanID),
			zap.Error(err),
		)
		res.Errors = append(res.Errors, Issue{
			Message:  fmt.Sprintf("import rolled back: %v", err),
			Code:     CodeTransactionFailed,
			Severity: workbook.SeverityError,
		})
		e.publish(dr.SessionID, progress.PhaseError, 100, "import rolled back")
		return res
	}

	for kind, c := range dr.Summary.PerEntity {
		got := stats.PerEntity[kind]
		got.Unchanged, got.Skip = c.Unchanged, c.Skip
		if stats.PerEntity == nil {
			stats.PerEntity = make(map[model.EntityKind]Counts)
		}
		stats.PerEntity[kind] = got
	}

	res.Success = true
	res.BatchID = batchID
	res.Stats = stats
	res.Decisions = decisions
	zap.L().Info("importer: execute committed",
		zap.String("session_id", dr.SessionID),
		zap.String("plan_id", dr.PlanID),
		zap.String("batch_id", batchID),
		zap.Int("values", stats.ValuesImported),
		zap.Int("status_changes", stats.StatusChanges),
		zap.Duration("duration", res.Duration),
	)
	e.publish(dr.SessionID, progress.PhaseComplete, 100, fmt.Sprintf("imported %d values, %d status changes", stats.ValuesImported, stats.StatusChanges))
	return res
}

// apply performs one attempt. It copies everything it writes so a retried
// attempt starts from the untouched plan.
func (e *Executor) apply(ctx context.Context, tx store.Tx, dr *DryRunResult, batchID string) (Stats, []evaluation.Decision, error) {
	p := dr.plan
	stats := Stats{ValuesUnchanged: p.valuesUnchanged}
	total := len(p.catalogCreates) + len(p.catalogUpdates) + len(p.attrCreates) + len(p.attrUpdates) + len(p.taskIDs) + 1
	done := 0
	step := func(phase progress.Phase, msg string) {
		done++
		e.publish(dr.SessionID, phase, done*100/total, msg)
	}

	for _, item := range p.catalogCreates {
		if err := tx.InsertCatalogItem(ctx, &item); err != nil {
			return Stats{}, nil, err
		}
		stats.CatalogCreated++
		stats.count(item.Kind, ActionCreate)
		step(progress.PhaseWriting, "created "+string(item.Kind)+" "+item.Name)
	}
	for _, item := range p.catalogUpdates {
		if err := tx.UpdateCatalogItem(ctx, &item); err != nil {
			return Stats{}, nil, err
		}
		stats.CatalogUpdated++
		stats.count(item.Kind, ActionUpdate)
		step(progress.PhaseWriting, "updated "+string(item.Kind)+" "+item.Name)
	}
	for _, attr := range p.attrCreates {
		if err := tx.InsertAttribute(ctx, &attr); err != nil {
			return Stats{}, nil, err
		}
		stats.AttributesCreated++
		stats.count(model.KindTelemetryAttribute, ActionCreate)
		step(progress.PhaseWriting, "created attribute "+attr.Name)
	}
	for _, attr := range p.attrUpdates {
		if err := tx.UpdateAttribute(ctx, &attr); err != nil {
			return Stats{}, nil, err
		}
		stats.AttributesUpdated++
		stats.count(model.KindTelemetryAttribute, ActionUpdate)
		step(progress.PhaseWriting, "updated attribute "+attr.Name)
	}

	now := e.now().UTC()
	values := make([]model.TelemetryValue, len(p.values))
	for i, v := range p.values {
		v.BatchID = batchID
		v.CreatedAt = now
		values[i] = v
	}
	n, err := tx.AppendValues(ctx, values)
	if err != nil {
		return Stats{}, nil, err
	}
	stats.ValuesImported = int(n)
	for range n {
		stats.count(model.KindTelemetryValue, ActionCreate)
	}
	step(progress.PhaseWriting, fmt.Sprintf("appended %d values", n))

	decisions := make([]evaluation.Decision, 0, len(p.taskIDs))
	for _, id := range p.taskIDs {
		d, err := e.evaluateInTx(ctx, tx, id, evaluation.Options{})
		if err != nil {
			return Stats{}, nil, err
		}
		if d.Changed {
			stats.StatusChanges++
		}
		decisions = append(decisions, d)
		step(progress.PhaseEvaluating, "evaluated task "+id)
	}
	stats.TasksImported = len(p.taskIDs)
	return stats, decisions, nil
}

// evaluateInTx re-evaluates one task from the state visible in tx and
// persists the result: status and source when changed, and every active
// attribute's met flag.
func (e *Executor) evaluateInTx(ctx context.Context, tx store.Tx, taskID string, opts evaluation.Options) (evaluation.Decision, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return evaluation.Decision{}, err
	}
	d := e.engine.Evaluate(*task, opts)
	if d.Changed {
		if err := tx.UpdateTaskStatus(ctx, taskID, d.NewStatus, d.NewSource, d.EvaluatedAt); err != nil {
			return evaluation.Decision{}, err
		}
	}
	for _, r := range d.Attributes {
		if err := tx.UpdateAttributeEvaluation(ctx, r.AttributeID, r.Met, d.EvaluatedAt); err != nil {
			return evaluation.Decision{}, err
		}
	}
	return d, nil
}
