package evaluation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adoption-cli/internal/criteria"
	"github.com/sells-group/adoption-cli/internal/model"
)

var clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func attr(id string, required bool, c criteria.Criteria, values ...string) model.TelemetryAttribute {
	a := model.TelemetryAttribute{ID: id, Name: id, IsActive: true, IsRequired: required, Criteria: c}
	for i, v := range values {
		a.Values = append(a.Values, model.TelemetryValue{
			ID:          int64(i + 1),
			AttributeID: id,
			Value:       v,
			Source:      model.SourceTelemetry,
			CreatedAt:   clock.Add(time.Duration(i) * time.Minute),
		})
	}
	return a
}

func report(a *model.TelemetryAttribute, value string) {
	n := len(a.Values)
	a.Values = append(a.Values, model.TelemetryValue{
		ID:        int64(n + 1),
		Value:     value,
		Source:    model.SourceTelemetry,
		CreatedAt: clock.Add(time.Duration(n) * time.Minute),
	})
}

func TestAggregate(t *testing.T) {
	t.Parallel()

	yes := criteria.BooleanFlag{Expected: true}

	t.Run("inactive attributes excluded", func(t *testing.T) {
		t.Parallel()
		off := attr("off", true, yes, "false")
		off.IsActive = false
		v := Aggregate([]model.TelemetryAttribute{off, attr("on", true, yes, "true")})
		assert.True(t, v.AnyActive)
		assert.True(t, v.AllRequiredMet)
		assert.NotContains(t, v.PerAttribute, "off")
		assert.Equal(t, map[string]bool{"on": true}, v.PerAttribute)
	})

	t.Run("no active attributes", func(t *testing.T) {
		t.Parallel()
		v := Aggregate(nil)
		assert.False(t, v.AnyActive)
		assert.True(t, v.AllRequiredMet)
	})

	t.Run("zero required is vacuously met", func(t *testing.T) {
		t.Parallel()
		v := Aggregate([]model.TelemetryAttribute{attr("opt", false, yes, "false")})
		assert.True(t, v.AnyActive)
		assert.True(t, v.AllRequiredMet)
		assert.False(t, v.PerAttribute["opt"])
	})

	t.Run("required without value not met", func(t *testing.T) {
		t.Parallel()
		v := Aggregate([]model.TelemetryAttribute{attr("req", true, yes)})
		assert.False(t, v.AllRequiredMet)
	})

	t.Run("bad value fails closed and is reported", func(t *testing.T) {
		t.Parallel()
		num := criteria.NumberThreshold{Operator: criteria.OpGreater, Threshold: 1}
		v := Aggregate([]model.TelemetryAttribute{attr("n", true, num, "lots"), attr("b", false, yes, "true")})
		assert.False(t, v.AllRequiredMet)
		require.Len(t, v.Failures, 1)
		assert.Equal(t, "n", v.Failures[0].Name)
		assert.True(t, v.PerAttribute["b"])
	})
}

func TestConcreteScenario(t *testing.T) {
	t.Parallel()

	audit := attr("security_audit_passed", true, criteria.BooleanFlag{Expected: true}, "FALSE")
	rt := attr("response_time", false, criteria.NumberThreshold{Operator: criteria.OpLess, Threshold: 500}, "450")

	v := Aggregate([]model.TelemetryAttribute{audit, rt})
	assert.False(t, v.PerAttribute["security_audit_passed"])
	assert.True(t, v.PerAttribute["response_time"])
	assert.False(t, v.AllRequiredMet)

	d := NewEngine(func() time.Time { return clock }).EvaluateTaskStatusFromTelemetry(
		model.Task{ID: "t1", Status: model.TaskStatusInProgress, StatusUpdateSource: model.SourceManual},
		[]model.TelemetryAttribute{audit, rt}, Options{})
	assert.False(t, d.Changed)
	assert.Equal(t, model.TaskStatusInProgress, d.NewStatus)
}

func TestRegressionRoundTrip(t *testing.T) {
	t.Parallel()

	engine := NewEngine(func() time.Time { return clock })
	a := attr("flag", true, criteria.BooleanFlag{Expected: true})
	task := model.Task{ID: "t1", Status: model.TaskStatusNotStarted, StatusUpdateSource: model.SourceManual}

	step := func(value string, want model.TaskStatus) {
		report(&a, value)
		task.Attributes = []model.TelemetryAttribute{a}
		d := engine.Evaluate(task, Options{})
		require.True(t, d.Changed, "after %q", value)
		assert.Equal(t, want, d.NewStatus)
		assert.Equal(t, model.SourceTelemetry, d.NewSource)
		d.Apply(&task)
	}

	step("true", model.TaskStatusDone)
	step("false", model.TaskStatusNoLongerUsing)
	step("true", model.TaskStatusDone)
}

func TestIdempotent(t *testing.T) {
	t.Parallel()

	engine := NewEngine(func() time.Time { return clock })
	for _, value := range []string{"true", "false"} {
		task := model.Task{
			ID:                 "t",
			Status:             model.TaskStatusDone,
			StatusUpdateSource: model.SourceTelemetry,
			Attributes:         []model.TelemetryAttribute{attr("a", true, criteria.BooleanFlag{Expected: true}, value)},
		}
		first := engine.Evaluate(task, Options{})
		first.Apply(&task)
		second := engine.Evaluate(task, Options{})
		assert.False(t, second.Changed, "value %q", value)
		assert.Equal(t, task.Status, second.NewStatus)
	}
}

func TestSourceCaseInsensitive(t *testing.T) {
	t.Parallel()

	failing := Verdict{AnyActive: true, AllRequiredMet: false, PerAttribute: map[string]bool{}}
	for _, src := range []string{"telemetry", "Telemetry", "TELEMETRY", " telemetry "} {
		tr := Resolve(State{Status: model.TaskStatusDone, Source: src}, failing, Options{})
		assert.True(t, tr.Changed, src)
		assert.Equal(t, model.TaskStatusNoLongerUsing, tr.Status, src)
	}
}

func TestManualOverrideGuard(t *testing.T) {
	t.Parallel()

	failing := Verdict{AnyActive: true, AllRequiredMet: false}
	passing := Verdict{AnyActive: true, AllRequiredMet: true}

	for _, status := range []model.TaskStatus{model.TaskStatusDone, model.TaskStatusNoLongerUsing, model.TaskStatusNotApplicable} {
		s := State{Status: status, Source: model.SourceManual}
		assert.False(t, Resolve(s, failing, Options{}).Changed, status)
		assert.False(t, Resolve(s, passing, Options{}).Changed, status)
	}

	forced := Resolve(State{Status: model.TaskStatusDone, Source: "manual"}, failing, Options{Force: true})
	assert.True(t, forced.Changed)
	assert.Equal(t, model.TaskStatusNoLongerUsing, forced.Status)

	forcedUp := Resolve(State{Status: model.TaskStatusNotApplicable, Source: "MANUAL"}, passing, Options{Force: true})
	assert.True(t, forcedUp.Changed)
	assert.Equal(t, model.TaskStatusDone, forcedUp.Status)
}

func TestResolveNonTerminalManual(t *testing.T) {
	t.Parallel()

	passing := Verdict{AnyActive: true, AllRequiredMet: true}
	tr := Resolve(State{Status: model.TaskStatusInProgress, Source: model.SourceManual}, passing, Options{})
	assert.True(t, tr.Changed)
	assert.Equal(t, model.TaskStatusDone, tr.Status)

	silent := Resolve(State{Status: model.TaskStatusDone, Source: model.SourceTelemetry}, Verdict{}, Options{})
	assert.False(t, silent.Changed)
	assert.Equal(t, model.TaskStatusDone, silent.Status)
}

func TestDecisionApply(t *testing.T) {
	t.Parallel()

	task := model.Task{
		ID:         "t",
		Status:     model.TaskStatusNotStarted,
		Attributes: []model.TelemetryAttribute{attr("a", true, nil, "anything")},
	}
	d := NewEngine(func() time.Time { return clock }).Evaluate(task, Options{})
	d.Apply(&task)

	assert.Equal(t, model.TaskStatusDone, task.Status)
	assert.Equal(t, model.SourceTelemetry, task.StatusUpdateSource)
	require.NotNil(t, task.StatusUpdatedAt)
	assert.True(t, task.Attributes[0].IsMet)
	require.NotNil(t, task.Attributes[0].LastCheckedAt)
	assert.Equal(t, clock, *task.Attributes[0].LastCheckedAt)
}

func TestUnevaluableNamedInReason(t *testing.T) {
	t.Parallel()

	bad := attr("broken", true, &criteria.StringMatch{Mode: criteria.MatchRegex, Pattern: "("}, "x")
	d := NewEngine(nil).EvaluateTaskStatusFromTelemetry(model.Task{ID: "t"}, []model.TelemetryAttribute{bad}, Options{})
	assert.False(t, d.Changed)
	assert.Contains(t, d.Reason, "broken")
}

func TestProgress(t *testing.T) {
	t.Parallel()

	p := Progress([]model.Task{
		{Status: model.TaskStatusDone, Weight: 1},
		{Status: model.TaskStatusInProgress, Weight: 2},
		{Status: model.TaskStatusNotApplicable, Weight: 5},
		{Status: model.TaskStatusDone, Weight: 0},
	})
	assert.Equal(t, 3, p.TotalTasks)
	assert.Equal(t, 2, p.CompletedTasks)
	assert.InDelta(t, 3.0, p.TotalWeight, 1e-9)
	assert.InDelta(t, 1.0, p.CompletedWeight, 1e-9)
	assert.InDelta(t, 33.33, p.Percentage, 1e-9)

	assert.Zero(t, Progress(nil).Percentage)
}
