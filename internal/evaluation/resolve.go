package evaluation

import (
	"fmt"

	"github.com/sells-group/adoption-cli/internal/model"
)

// State is the task status a resolution starts from.
type State struct {
	Status model.TaskStatus
	Source string
}

// Options tune a single evaluation.
type Options struct {
	// Force lets telemetry overwrite an authoritative manual status.
	Force bool
}

// Transition is the resolver's decision.
type Transition struct {
	Status  model.TaskStatus
	Source  string
	Changed bool
	Reason  string
}

// Resolve applies the telemetry transition rules to one task:
//
//   - no active attributes: no change
//   - manual authoritative status (DONE, NO_LONGER_USING, NOT_APPLICABLE): no change unless forced
//   - all required met and not DONE: DONE
//   - not all required met and DONE set by telemetry (or forced): NO_LONGER_USING
//
// Every status Resolve writes carries the telemetry source.
func Resolve(s State, v Verdict, opts Options) Transition {
	keep := func(reason string) Transition {
		return Transition{Status: s.Status, Source: s.Source, Reason: reason}
	}
	move := func(to model.TaskStatus, reason string) Transition {
		return Transition{Status: to, Source: model.SourceTelemetry, Changed: true, Reason: reason}
	}

	if !v.AnyActive {
		return keep("no active telemetry attributes")
	}

	fromTelemetry := model.IsTelemetrySource(s.Source)
	if !fromTelemetry && s.Status.Authoritative() && !opts.Force {
		return keep(fmt.Sprintf("status %s was set manually and is kept", s.Status))
	}

	met, total := v.RequiredCounts()
	if v.AllRequiredMet {
		if s.Status == model.TaskStatusDone {
			return keep("all required criteria met; already done")
		}
		return move(model.TaskStatusDone, fmt.Sprintf("all required criteria met (%d/%d)", met, total))
	}

	if s.Status == model.TaskStatusDone && (fromTelemetry || opts.Force) {
		return move(model.TaskStatusNoLongerUsing, fmt.Sprintf("required criteria no longer met (%d/%d)", met, total))
	}
	return keep(fmt.Sprintf("required criteria not met (%d/%d)", met, total))
}
