// Package report renders import previews, import results and evaluation
// decisions as terminal tables.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/sells-group/adoption-cli/internal/evaluation"
	"github.com/sells-group/adoption-cli/internal/importer"
	"github.com/sells-group/adoption-cli/internal/model"
)

// entityOrder is the display order of per-entity counts.
var entityOrder = append([]model.EntityKind{model.KindTelemetryValue, model.KindTelemetryAttribute}, model.CatalogKinds...)

func newTable(w io.Writer, title string) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	if title != "" {
		tw.SetTitle(title)
	}
	return tw
}

func countsTable(w io.Writer, title string, per map[model.EntityKind]importer.Counts) {
	tw := newTable(w, title)
	tw.AppendHeader(table.Row{"Entity", "Create", "Update", "Unchanged", "Skip"})
	var total importer.Counts
	for _, kind := range entityOrder {
		c, ok := per[kind]
		if !ok {
			continue
		}
		tw.AppendRow(table.Row{kind, c.Create, c.Update, c.Unchanged, c.Skip})
		total.Create += c.Create
		total.Update += c.Update
		total.Unchanged += c.Unchanged
		total.Skip += c.Skip
	}
	tw.AppendFooter(table.Row{"Total", total.Create, total.Update, total.Unchanged, total.Skip})
	tw.Render()
}

// Issues renders findings with their sheet, row and column.
func Issues(w io.Writer, title string, issues importer.Issues) {
	if len(issues) == 0 {
		return
	}
	tw := newTable(w, title)
	tw.AppendHeader(table.Row{"Sheet", "Row", "Col", "Code", "Message"})
	for _, is := range issues {
		row := ""
		if is.Row > 0 {
			row = fmt.Sprint(is.Row)
		}
		tw.AppendRow(table.Row{is.Sheet, row, is.Column, is.Code, is.Message})
	}
	tw.Render()
}

// DryRun renders a preview: counts per entity, the planned changes, then
// errors and warnings. Unchanged rows are listed only when verbose.
func DryRun(w io.Writer, dr *importer.DryRunResult, verbose bool) {
	countsTable(w, "Import preview", dr.Summary.PerEntity)

	tw := newTable(w, "Changes")
	tw.AppendHeader(table.Row{"Sheet", "Row", "Entity", "Action", "Key", "Details"})
	rows := 0
	for _, r := range dr.Records {
		if r.Action == importer.ActionUnchanged && !verbose {
			continue
		}
		details := r.Reason
		if len(r.Diffs) > 0 {
			details = formatDiffs(r.Diffs)
		}
		tw.AppendRow(table.Row{r.Sheet, r.Row, r.EntityType, r.Action, r.Key, details})
		rows++
	}
	if rows > 0 {
		tw.Render()
	}

	Issues(w, "Errors", dr.Errors)
	Issues(w, "Warnings", dr.Warnings)

	status := "ready to import"
	if !dr.Valid {
		status = fmt.Sprintf("blocked by %d errors", dr.Summary.ErrorCount)
	}
	fmt.Fprintf(w, "Session %s: %s\n", dr.SessionID, status)
	if dr.ExpiresAt != nil {
		fmt.Fprintf(w, "Preview expires at %s\n", dr.ExpiresAt.Format("15:04:05 MST"))
	}
}

func formatDiffs(diffs []importer.FieldDiff) string {
	parts := make([]string, 0, len(diffs))
	for _, d := range diffs {
		parts = append(parts, fmt.Sprintf("%s: %q → %q", d.Field, d.Old, d.New))
	}
	return strings.Join(parts, "; ")
}

// Import renders an execution result.
func Import(w io.Writer, res *importer.ImportResult) {
	if !res.Success {
		Issues(w, "Import failed", res.Errors)
		return
	}
	countsTable(w, "Import complete", res.Stats.PerEntity)
	Decisions(w, res.Decisions)
	Issues(w, "Warnings", res.Warnings)
	fmt.Fprintf(w, "Batch %s: %d values, %d status changes in %s\n",
		res.BatchID, res.Stats.ValuesImported, res.Stats.StatusChanges, res.Duration.Round(time.Millisecond))
}

// Decisions renders evaluation outcomes, one row per task.
func Decisions(w io.Writer, decisions []evaluation.Decision) {
	if len(decisions) == 0 {
		return
	}
	tw := newTable(w, "Evaluation")
	tw.AppendHeader(table.Row{"Task", "Before", "After", "Met", "Reason"})
	for _, d := range decisions {
		after := string(d.NewStatus)
		if !d.Changed {
			after = "(unchanged)"
		}
		met := 0
		for _, a := range d.Attributes {
			if a.Met {
				met++
			}
		}
		tw.AppendRow(table.Row{d.TaskID, d.PreviousStatus, after, fmt.Sprintf("%d/%d", met, len(d.Attributes)), d.Reason})
	}
	tw.Render()
}

// Progress renders a plan's weighted completion.
func Progress(w io.Writer, p model.PlanProgress) {
	tw := newTable(w, "Plan progress")
	tw.AppendHeader(table.Row{"Tasks", "Done", "Weight", "Done weight", "Complete"})
	tw.AppendRow(table.Row{p.TotalTasks, p.CompletedTasks, p.TotalWeight, p.CompletedWeight, fmt.Sprintf("%.2f%%", p.Percentage)})
	tw.Render()
}
