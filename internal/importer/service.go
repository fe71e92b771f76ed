package importer

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/evaluation"
	"github.com/sells-group/adoption-cli/internal/model"
	"github.com/sells-group/adoption-cli/internal/progress"
	"github.com/sells-group/adoption-cli/internal/resilience"
	"github.com/sells-group/adoption-cli/internal/session"
	"github.com/sells-group/adoption-cli/internal/store"
	"github.com/sells-group/adoption-cli/internal/workbook"
)

// Service ties parsing, previews, the session cache and execution together
// for the CLI and HTTP entry points. Callers are responsible for
// authorization.
type Service struct {
	store    store.Store
	sessions *session.Cache[*DryRunResult]
	notify   Notifier
	engine   *evaluation.Engine
	exec     *Executor
}

// Options carries the Service collaborators.
type Options struct {
	Store    store.Store
	Sessions *session.Cache[*DryRunResult]
	Notifier Notifier
	Engine   *evaluation.Engine
	Executor *Executor
}

// NewService builds a Service. Missing collaborators get defaults: a fresh
// session cache, a default engine and an executor with default retries.
func NewService(opts Options) *Service {
	if opts.Sessions == nil {
		opts.Sessions = session.New[*DryRunResult](session.Config{})
	}
	if opts.Engine == nil {
		opts.Engine = evaluation.NewEngine(nil)
	}
	if opts.Executor == nil {
		opts.Executor = NewExecutor(opts.Store, opts.Engine, opts.Notifier, resilience.DefaultRetryConfig())
	}
	return &Service{
		store:    opts.Store,
		sessions: opts.Sessions,
		notify:   opts.Notifier,
		engine:   opts.Engine,
		exec:     opts.Executor,
	}
}

// Sessions exposes the preview cache, for sweepers and stats.
func (s *Service) Sessions() *session.Cache[*DryRunResult] { return s.sessions }

func (s *Service) publish(id string, phase progress.Phase, pct int, msg string) {
	if s.notify != nil {
		s.notify.Publish(progress.Event{SessionID: id, Phase: phase, Percentage: pct, Message: msg})
	}
}

// Preview parses data, validates it against the plan's current state and
// caches the dry run under a new session id. Only an unreadable workbook or
// a store fault returns an error.
func (s *Service) Preview(ctx context.Context, planID string, data []byte) (*DryRunResult, error) {
	id := session.NewID()
	s.publish(id, progress.PhaseParsing, 0, "reading workbook")

	parsed, err := workbook.Parse(data)
	if err != nil {
		s.publish(id, progress.PhaseError, 0, "workbook could not be read")
		return nil, err
	}

	s.publish(id, progress.PhaseValidating, 30, "validating rows")
	snap, err := s.store.LoadSnapshot(ctx, planID)
	if err != nil {
		s.publish(id, progress.PhaseError, 30, "plan could not be loaded")
		return nil, eris.Wrapf(err, "importer: load plan %s", planID)
	}
	snap.PlanID = planID

	dr := BuildDryRun(parsed, snap)
	dr.SessionID = id
	expires := s.sessions.Put(id, dr)
	dr.ExpiresAt = &expires

	zap.L().Info("importer: preview ready",
		zap.String("session_id", id),
		zap.String("plan_id", planID),
		zap.Int("records", dr.Summary.TotalRecords),
		zap.Int("errors", dr.Summary.ErrorCount),
		zap.Int("warnings", dr.Summary.WarningCount),
	)
	s.publish(id, progress.PhaseValidating, 100, "preview ready")
	return dr, nil
}

// Execute consumes the session and applies its dry run. A missing or
// expired session yields a SESSION_EXPIRED result together with an error
// satisfying session.IsSessionError.
func (s *Service) Execute(ctx context.Context, sessionID string) (*ImportResult, error) {
	dr, err := s.sessions.Consume(sessionID)
	if err != nil {
		return &ImportResult{
			SessionID: sessionID,
			Errors: Issues{{
				Message:  "the preview is no longer available; upload the workbook again to start a new preview",
				Code:     CodeSessionExpired,
				Severity: workbook.SeverityError,
			}},
			Warnings: Issues{},
		}, err
	}
	return s.exec.Execute(ctx, dr), nil
}

// Dry returns a cached dry run without consuming it.
func (s *Service) Dry(sessionID string) (*DryRunResult, error) {
	return s.sessions.Get(sessionID)
}

// Reevaluate runs the engine for one task and persists the decision. With
// force, manually set terminal statuses may be overridden.
func (s *Service) Reevaluate(ctx context.Context, taskID string, force bool) (evaluation.Decision, error) {
	var d evaluation.Decision
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		d, err = s.exec.evaluateInTx(ctx, tx, taskID, evaluation.Options{Force: force})
		return err
	})
	if err != nil {
		return evaluation.Decision{}, eris.Wrapf(err, "importer: reevaluate task %s", taskID)
	}
	return d, nil
}

// PlanEvaluation is the outcome of re-evaluating every task in a plan.
type PlanEvaluation struct {
	PlanID      string                `json:"plan_id"`
	Decisions   []evaluation.Decision `json:"decisions"`
	Progress    model.PlanProgress    `json:"progress"`
	EvaluatedAt time.Time             `json:"evaluated_at"`
}

// ReevaluatePlan re-evaluates every task of a plan in one transaction and
// returns the plan progress after the changes.
func (s *Service) ReevaluatePlan(ctx context.Context, planID string, force bool) (*PlanEvaluation, error) {
	tasks, err := s.store.ListTasks(ctx, planID)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: list tasks for plan %s", planID)
	}

	out := &PlanEvaluation{PlanID: planID, EvaluatedAt: time.Now().UTC()}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		out.Decisions = out.Decisions[:0]
		for _, t := range tasks {
			d, err := s.exec.evaluateInTx(ctx, tx, t.ID, evaluation.Options{Force: force})
			if err != nil {
				return err
			}
			out.Decisions = append(out.Decisions, d)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "importer: reevaluate plan %s", planID)
	}

	for i := range tasks {
		out.Decisions[i].Apply(&tasks[i])
	}
	out.Progress = evaluation.Progress(tasks)
	return out, nil
}

// Template renders the plan's current state as an importable workbook.
func (s *Service) Template(ctx context.Context, planID string) ([]byte, error) {
	snap, err := s.store.LoadSnapshot(ctx, planID)
	if err != nil {
		return nil, eris.Wrapf(err, "importer: load plan %s", planID)
	}
	return workbook.Template(snap)
}
