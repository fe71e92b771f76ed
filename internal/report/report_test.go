package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/adoption-cli/internal/evaluation"
	"github.com/sells-group/adoption-cli/internal/importer"
	"github.com/sells-group/adoption-cli/internal/model"
)

func TestDryRun(t *testing.T) {
	dr := &importer.DryRunResult{
		SessionID: "s-1",
		Summary: importer.Summary{
			PerEntity: map[model.EntityKind]importer.Counts{
				model.KindTelemetryValue: {Create: 1, Unchanged: 1},
				model.KindTag:            {Update: 1},
			},
			ErrorCount: 1,
		},
		Records: []importer.RecordPreview{
			{EntityType: model.KindTelemetryValue, Action: importer.ActionCreate, Sheet: "Telemetry Data", Row: 2, Key: "Enable SSO / sso_enabled"},
			{EntityType: model.KindTelemetryValue, Action: importer.ActionUnchanged, Sheet: "Telemetry Data", Row: 3, Key: "Enable SSO / notes"},
			{EntityType: model.KindTag, Action: importer.ActionUpdate, Sheet: "Tags", Row: 2, Key: "Beta",
				Diffs: []importer.FieldDiff{{Field: "color", Old: "#00ff00", New: "#ff0000"}}},
		},
		Errors: importer.Issues{{Sheet: "Telemetry Data", Row: 4, Column: "A", Code: importer.CodeTaskNotFound, Message: `task "Nope" does not exist in this plan`}},
	}

	var buf bytes.Buffer
	DryRun(&buf, dr, false)
	out := buf.String()
	assert.Contains(t, out, "telemetry_value")
	assert.Contains(t, out, "Enable SSO / sso_enabled")
	assert.NotContains(t, out, "Enable SSO / notes")
	assert.Contains(t, out, `color: "#00ff00" → "#ff0000"`)
	assert.Contains(t, out, "TASK_NOT_FOUND")
	assert.Contains(t, out, "blocked by 1 errors")

	buf.Reset()
	DryRun(&buf, dr, true)
	assert.Contains(t, buf.String(), "Enable SSO / notes")
}

func TestImport(t *testing.T) {
	res := &importer.ImportResult{
		Success: true,
		BatchID: "b-1",
		Stats: importer.Stats{
			ValuesImported: 2, StatusChanges: 1,
			PerEntity: map[model.EntityKind]importer.Counts{model.KindTelemetryValue: {Create: 2}},
		},
		Decisions: []evaluation.Decision{{
			TaskID: "t1", PreviousStatus: model.TaskStatusNotStarted, NewStatus: model.TaskStatusDone, Changed: true,
			Reason: "all required criteria met (1/1)", Attributes: []evaluation.AttributeResult{{Met: true}},
		}},
		Duration: 1500 * time.Millisecond,
	}

	var buf bytes.Buffer
	Import(&buf, res)
	out := buf.String()
	assert.Contains(t, out, "DONE")
	assert.Contains(t, out, "1/1")
	assert.Contains(t, out, "Batch b-1: 2 values, 1 status changes in 1.5s")

	buf.Reset()
	Import(&buf, &importer.ImportResult{Errors: importer.Issues{{Code: importer.CodeTransactionFailed, Message: "import rolled back: boom"}}})
	assert.Contains(t, buf.String(), "TRANSACTION_FAILED")
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	Progress(&buf, model.PlanProgress{TotalTasks: 3, CompletedTasks: 1, TotalWeight: 4, CompletedWeight: 1, Percentage: 25})
	assert.Contains(t, buf.String(), "25.00%")
}
