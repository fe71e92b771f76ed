package importer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/adoption-cli/internal/criteria"
	"github.com/sells-group/adoption-cli/internal/model"
	"github.com/sells-group/adoption-cli/internal/workbook"
)

// Action is what the executor will do with one workbook row.
type Action string

const (
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionUnchanged Action = "unchanged"
	ActionSkip      Action = "skip"
)

// RecordPreview describes the planned action for one row. Diffs is set for
// updates, and for value appends that replace an earlier value.
type RecordPreview struct {
	EntityType model.EntityKind `json:"entity_type"`
	Action     Action           `json:"action"`
	Sheet      string           `json:"sheet"`
	Row        int              `json:"row"`
	Key        string           `json:"key"`
	ExistingID string           `json:"existing_id,omitempty"`
	Diffs      []FieldDiff      `json:"diffs,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

// Counts tallies actions for one entity kind.
type Counts struct {
	Create    int `json:"create"`
	Update    int `json:"update"`
	Unchanged int `json:"unchanged"`
	Skip      int `json:"skip"`
}

func (c *Counts) add(a Action) {
	switch a {
	case ActionCreate:
		c.Create++
	case ActionUpdate:
		c.Update++
	case ActionUnchanged:
		c.Unchanged++
	case ActionSkip:
		c.Skip++
	}
}

// Summary aggregates a dry run.
type Summary struct {
	PerEntity    map[model.EntityKind]Counts `json:"per_entity"`
	TotalRecords int                         `json:"total_records"`
	ErrorCount   int                         `json:"error_count"`
	WarningCount int                         `json:"warning_count"`
}

// DryRunResult is the reviewable preview of an import. Executing it applies
// exactly the creates and updates it lists.
type DryRunResult struct {
	SessionID string          `json:"session_id,omitempty"`
	PlanID    string          `json:"plan_id"`
	Valid     bool            `json:"valid"`
	Summary   Summary         `json:"summary"`
	Records   []RecordPreview `json:"records"`
	Errors    Issues          `json:"errors"`
	Warnings  Issues          `json:"warnings"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`

	plan *writePlan
}

// writePlan is the set of writes a dry run commits to. New records carry
// pre-assigned IDs so values can reference attributes created in the same
// import.
type writePlan struct {
	planID          string
	catalogCreates  []model.CatalogItem
	catalogUpdates  []model.CatalogItem
	attrCreates     []model.TelemetryAttribute
	attrUpdates     []model.TelemetryAttribute
	values          []model.TelemetryValue
	taskIDs         []string
	valuesUnchanged int
}

// Validate runs business validation and returns every structural and
// business issue. It never touches the store.
func Validate(parsed *workbook.Parsed, snap *model.Snapshot) Issues {
	return analyze(parsed, snap).issues
}

// BuildDryRun previews the import of parsed into snap.
func BuildDryRun(parsed *workbook.Parsed, snap *model.Snapshot) *DryRunResult {
	a := analyze(parsed, snap)

	sheetOrder := make(map[string]int, len(parsed.Sheets))
	for i, s := range parsed.Sheets {
		sheetOrder[s] = i
	}
	sort.SliceStable(a.records, func(i, j int) bool {
		ri, rj := a.records[i], a.records[j]
		if ri.Sheet != rj.Sheet {
			return sheetOrder[ri.Sheet] < sheetOrder[rj.Sheet]
		}
		return ri.Row < rj.Row
	})

	summary := Summary{PerEntity: make(map[model.EntityKind]Counts), TotalRecords: len(a.records)}
	for _, r := range a.records {
		c := summary.PerEntity[r.EntityType]
		c.add(r.Action)
		summary.PerEntity[r.EntityType] = c
	}
	errs, warns := a.issues.Errors(), a.issues.Warnings()
	summary.ErrorCount, summary.WarningCount = len(errs), len(warns)

	return &DryRunResult{
		PlanID:   snap.PlanID,
		Valid:    len(errs) == 0,
		Summary:  summary,
		Records:  a.records,
		Errors:   errs,
		Warnings: warns,
		plan:     a.plan,
	}
}

type attrKey struct {
	taskID string
	name   string
}

type analyzer struct {
	snap    *model.Snapshot
	issues  Issues
	records []RecordPreview
	plan    *writePlan

	// attrs holds each attribute as it will exist after the import, for
	// attributes defined or changed by this workbook.
	attrs     map[attrKey]*model.TelemetryAttribute
	nextOrder map[string]int
	touched   map[string]bool
}

func analyze(parsed *workbook.Parsed, snap *model.Snapshot) *analyzer {
	if snap == nil {
		snap = &model.Snapshot{}
	}
	a := &analyzer{
		snap:      snap,
		issues:    append(Issues{}, parsed.Issues...),
		plan:      &writePlan{planID: snap.PlanID},
		attrs:     make(map[attrKey]*model.TelemetryAttribute),
		nextOrder: make(map[string]int),
		touched:   make(map[string]bool),
	}
	for _, r := range parsed.Rejected {
		a.records = append(a.records, RecordPreview{
			EntityType: r.Kind, Action: ActionSkip, Sheet: r.Sheet, Row: r.Row, Reason: "row has structural errors",
		})
	}
	a.catalog(parsed.Catalog)
	a.attributes(parsed.Attributes)
	a.values(parsed.Telemetry)
	return a
}

func (a *analyzer) skip(kind model.EntityKind, loc workbook.Loc, key, reason string) {
	a.records = append(a.records, RecordPreview{
		EntityType: kind, Action: ActionSkip, Sheet: loc.Sheet, Row: loc.Row, Key: key, Reason: reason,
	})
}

func (a *analyzer) touch(taskID string) {
	if !a.touched[taskID] {
		a.touched[taskID] = true
		a.plan.taskIDs = append(a.plan.taskIDs, taskID)
	}
}

// lastIndex maps each key to the index of its final occurrence; earlier
// occurrences are superseded.
func lastIndex(n int, key func(i int) string) map[string]int {
	last := make(map[string]int, n)
	for i := 0; i < n; i++ {
		if k := key(i); k != "" {
			last[k] = i
		}
	}
	return last
}

func (a *analyzer) duplicate(kind model.EntityKind, loc workbook.Loc, later workbook.Loc, field, key string) {
	a.issues = append(a.issues, rowIssue(loc, field, key, CodeDuplicateWithinImport, workbook.SeverityWarning,
		"%q appears again at row %d; the later row wins", key, later.Row))
	a.skip(kind, loc, key, fmt.Sprintf("superseded by row %d", later.Row))
}

// reservedCustomKey reports whether a custom attribute key would shadow the
// license level field.
func reservedCustomKey(key string) bool {
	k := strings.NewReplacer(" ", "", "_", "", "-", "").Replace(strings.ToLower(strings.TrimSpace(key)))
	return k == "licenselevel"
}

func (a *analyzer) catalog(rows []workbook.CatalogRow) {
	keyOf := func(i int) string { return string(rows[i].Item.Kind) + "\x00" + rows[i].Item.MatchKey() }
	last := lastIndex(len(rows), keyOf)

	for i, row := range rows {
		item := row.Item
		nameField := workbook.ColName
		if item.Kind == model.KindCustomAttribute {
			nameField = workbook.ColKey
		}
		if j := last[keyOf(i)]; j != i {
			a.duplicate(item.Kind, row.Loc, rows[j].Loc, nameField, item.Name)
			continue
		}
		if item.Kind == model.KindCustomAttribute && reservedCustomKey(item.Name) {
			is := rowIssue(row.Loc, nameField, item.Name, CodeLicenseLevelReserved, workbook.SeverityError,
				"%q is reserved for the license level and cannot be a custom attribute key", item.Name)
			a.issues = append(a.issues, is)
			a.skip(item.Kind, row.Loc, item.Name, is.Message)
			continue
		}

		rec := RecordPreview{EntityType: item.Kind, Sheet: row.Sheet, Row: row.Row, Key: item.Name}
		existing := a.snap.CatalogItem(item.Kind, item.Name)
		switch {
		case existing == nil:
			item.ID = uuid.New().String()
			item.PlanID = a.snap.PlanID
			rec.Action = ActionCreate
			a.plan.catalogCreates = append(a.plan.catalogCreates, item)
		default:
			rec.ExistingID = existing.ID
			rec.Diffs = diffFields(existing.DiffFields(), item.DiffFields())
			if len(rec.Diffs) == 0 {
				rec.Action = ActionUnchanged
				break
			}
			rec.Action = ActionUpdate
			item.ID = existing.ID
			item.PlanID = existing.PlanID
			a.plan.catalogUpdates = append(a.plan.catalogUpdates, item)
		}
		a.records = append(a.records, rec)
	}
}

func attributeFields(attr *model.TelemetryAttribute) []model.Field {
	return []model.Field{
		{Name: "data_type", Value: string(attr.DataType)},
		{Name: "success_criteria", Value: criteria.String(attr.Criteria)},
		{Name: "required", Value: attr.IsRequired},
		{Name: "active", Value: attr.IsActive},
		{Name: "order", Value: attr.Order},
	}
}

func (a *analyzer) orderFor(task *model.Task) int {
	next, ok := a.nextOrder[task.ID]
	if !ok {
		for _, at := range task.Attributes {
			if at.Order >= next {
				next = at.Order + 1
			}
		}
		if next == 0 {
			next = 1
		}
	}
	a.nextOrder[task.ID] = next + 1
	return next
}

func rowKey(task, attr string) string {
	return strings.ToLower(strings.TrimSpace(task)) + "\x00" + strings.ToLower(strings.TrimSpace(attr))
}

func displayKey(task, attr string) string {
	return task + " / " + attr
}

func (a *analyzer) attributes(rows []workbook.AttributeRow) {
	keyOf := func(i int) string { return rowKey(rows[i].TaskName, rows[i].AttributeName) }
	last := lastIndex(len(rows), keyOf)

	for i, row := range rows {
		key := displayKey(row.TaskName, row.AttributeName)
		if j := last[keyOf(i)]; j != i {
			a.duplicate(model.KindTelemetryAttribute, row.Loc, rows[j].Loc, workbook.ColAttribute, key)
			continue
		}
		task := a.snap.TaskByName(row.TaskName)
		if task == nil {
			is := rowIssue(row.Loc, workbook.ColTask, row.TaskName, CodeTaskNotFound, workbook.SeverityError,
				"task %q does not exist in this plan", row.TaskName)
			a.issues = append(a.issues, is)
			a.skip(model.KindTelemetryAttribute, row.Loc, key, is.Message)
			continue
		}

		rec := RecordPreview{EntityType: model.KindTelemetryAttribute, Sheet: row.Sheet, Row: row.Row, Key: key}
		existing := task.Attribute(row.AttributeName)
		if existing == nil {
			attr := model.TelemetryAttribute{
				ID:         uuid.New().String(),
				TaskID:     task.ID,
				Name:       row.AttributeName,
				DataType:   row.DataType,
				IsRequired: row.Required,
				IsActive:   row.Active,
				Order:      row.Order,
				Criteria:   row.Criteria,
			}
			if !row.HasOrder {
				attr.Order = a.orderFor(task)
			}
			rec.Action = ActionCreate
			a.plan.attrCreates = append(a.plan.attrCreates, attr)
			a.attrs[attrKey{task.ID, strings.ToLower(row.AttributeName)}] = &attr
			a.touch(task.ID)
			a.records = append(a.records, rec)
			continue
		}

		next := *existing
		next.Values = nil
		next.DataType = row.DataType
		next.IsRequired = row.Required
		next.IsActive = row.Active
		next.Criteria = row.Criteria
		if row.HasOrder {
			next.Order = row.Order
		}
		rec.ExistingID = existing.ID
		rec.Diffs = diffFields(attributeFields(existing), attributeFields(&next))
		if len(rec.Diffs) == 0 {
			rec.Action = ActionUnchanged
		} else {
			rec.Action = ActionUpdate
			a.plan.attrUpdates = append(a.plan.attrUpdates, next)
			a.touch(task.ID)
		}
		next.Values = existing.Values
		a.attrs[attrKey{task.ID, strings.ToLower(row.AttributeName)}] = &next
		a.records = append(a.records, rec)
	}
}

// valueFits reports whether raw parses as the attribute's data type.
func valueFits(dt model.DataType, raw string) bool {
	var ok bool
	switch dt {
	case model.DataTypeBoolean:
		_, ok = criteria.ParseBool(raw)
	case model.DataTypeNumber:
		_, ok = criteria.ParseNumber(raw)
	case model.DataTypeTimestamp:
		_, ok = criteria.ParseTime(raw)
	default:
		ok = true
	}
	return ok
}

func (a *analyzer) effectiveAttribute(task *model.Task, name string) *model.TelemetryAttribute {
	if attr, ok := a.attrs[attrKey{task.ID, strings.ToLower(strings.TrimSpace(name))}]; ok {
		return attr
	}
	return task.Attribute(name)
}

func (a *analyzer) values(rows []workbook.TelemetryRow) {
	keyOf := func(i int) string { return rowKey(rows[i].TaskName, rows[i].AttributeName) }
	last := lastIndex(len(rows), keyOf)
	kind := model.KindTelemetryValue

	for i, row := range rows {
		key := displayKey(row.TaskName, row.AttributeName)
		if j := last[keyOf(i)]; j != i {
			a.duplicate(kind, row.Loc, rows[j].Loc, workbook.ColAttribute, key)
			continue
		}
		task := a.snap.TaskByName(row.TaskName)
		if task == nil {
			is := rowIssue(row.Loc, workbook.ColTask, row.TaskName, CodeTaskNotFound, workbook.SeverityError,
				"task %q does not exist in this plan", row.TaskName)
			a.issues = append(a.issues, is)
			a.skip(kind, row.Loc, key, is.Message)
			continue
		}
		attr := a.effectiveAttribute(task, row.AttributeName)
		if attr == nil {
			is := rowIssue(row.Loc, workbook.ColAttribute, row.AttributeName, CodeAttributeNotFound, workbook.SeverityError,
				"task %q has no telemetry attribute %q; define it on the Telemetry Attributes sheet", task.Name, row.AttributeName)
			a.issues = append(a.issues, is)
			a.skip(kind, row.Loc, key, is.Message)
			continue
		}
		if row.DataType != "" && row.DataType != attr.DataType {
			a.issues = append(a.issues, rowIssue(row.Loc, workbook.ColDataType, string(row.DataType), CodeDataTypeMismatch, workbook.SeverityWarning,
				"attribute %q is %s; the sheet says %s", attr.Name, attr.DataType, row.DataType))
		}
		if !valueFits(attr.DataType, row.Value) {
			is := rowIssue(row.Loc, workbook.ColValue, row.Value, CodeInvalidValue, workbook.SeverityError,
				"%q is not a valid %s value for attribute %q", row.Value, attr.DataType, attr.Name)
			a.issues = append(a.issues, is)
			a.skip(kind, row.Loc, key, is.Message)
			continue
		}
		if !attr.IsActive {
			a.issues = append(a.issues, rowIssue(row.Loc, workbook.ColAttribute, attr.Name, CodeAttributeInactive, workbook.SeverityWarning,
				"attribute %q is inactive; the value is stored but not evaluated", attr.Name))
		}

		rec := RecordPreview{EntityType: kind, Sheet: row.Sheet, Row: row.Row, Key: key, ExistingID: attr.ID}
		latest := attr.Latest()
		if latest != nil && latest.Value == row.Value && model.NormalizeSource(latest.Source) == row.Source {
			rec.Action = ActionUnchanged
			a.plan.valuesUnchanged++
			a.records = append(a.records, rec)
			continue
		}
		if latest != nil {
			rec.Diffs = diffFields(
				[]model.Field{{Name: "value", Value: latest.Value}, {Name: "source", Value: model.NormalizeSource(latest.Source)}},
				[]model.Field{{Name: "value", Value: row.Value}, {Name: "source", Value: row.Source}},
			)
		}
		rec.Action = ActionCreate
		a.plan.values = append(a.plan.values, model.TelemetryValue{
			AttributeID: attr.ID,
			Value:       row.Value,
			Source:      row.Source,
			Notes:       row.Notes,
			ObservedAt:  row.ObservedAt,
		})
		a.touch(task.ID)
		a.records = append(a.records, rec)
	}
}
