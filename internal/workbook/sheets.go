// Package workbook reads and writes the adoption telemetry spreadsheet.
// Sheets and columns are located by header text, so column order and
// minor spelling drift ("Task_Name", "task name") are tolerated.
package workbook

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/adoption-cli/internal/model"
)

// Column keys shared by import and template export.
const (
	ColTask         = "task"
	ColAttribute    = "attribute"
	ColDataType     = "data_type"
	ColValue        = "value"
	ColDate         = "date"
	ColSource       = "source"
	ColNotes        = "notes"
	ColCriteria     = "criteria"
	ColRequired     = "required"
	ColActive       = "active"
	ColOrder        = "order"
	ColName         = "name"
	ColLevel        = "level"
	ColDescription  = "description"
	ColColor        = "color"
	ColKey          = "key"
	ColDisplayOrder = "display_order"
)

// Column describes one header-addressed column.
type Column struct {
	Key     string
	Header  string
	Aliases []string
	// Required columns must be present in the header and non-blank in
	// every data row.
	Required bool
	// HeaderRequired columns must be present in the header but may be blank
	// in data rows.
	HeaderRequired bool
}

// SheetDef describes one sheet of the workbook.
type SheetDef struct {
	Kind    model.EntityKind
	Name    string
	Aliases []string
	// Required sheets must be present in every workbook.
	Required bool
	Columns  []Column
}

// Column returns the definition for key, or nil.
func (d SheetDef) Column(key string) *Column {
	for i := range d.Columns {
		if d.Columns[i].Key == key {
			return &d.Columns[i]
		}
	}
	return nil
}

// Sheet names as written by Template.
const (
	SheetTelemetryData       = "Telemetry Data"
	SheetTelemetryAttributes = "Telemetry Attributes"
	SheetLicenses            = "Licenses"
	SheetOutcomes            = "Outcomes"
	SheetReleases            = "Releases"
	SheetTags                = "Tags"
	SheetCustomAttributes    = "Custom Attributes"
)

// Sheets lists every sheet in template order.
var Sheets = []SheetDef{
	{
		Kind:     model.KindTelemetryValue,
		Name:     SheetTelemetryData,
		Aliases:  []string{"Telemetry", "Telemetry Values"},
		Required: true,
		Columns: []Column{
			{Key: ColTask, Header: "Task Name", Aliases: []string{"Task"}, Required: true},
			{Key: ColAttribute, Header: "Attribute Name", Aliases: []string{"Attribute"}, Required: true},
			{Key: ColDataType, Header: "Data Type", Aliases: []string{"Type"}},
			{Key: ColValue, Header: "Current Value", Aliases: []string{"Value"}, HeaderRequired: true},
			{Key: ColDate, Header: "Date", Aliases: []string{"Observed At", "Last Updated"}},
			{Key: ColSource, Header: "Source"},
			{Key: ColNotes, Header: "Notes"},
		},
	},
	{
		Kind:    model.KindTelemetryAttribute,
		Name:    SheetTelemetryAttributes,
		Aliases: []string{"Attributes"},
		Columns: []Column{
			{Key: ColTask, Header: "Task Name", Aliases: []string{"Task"}, Required: true},
			{Key: ColAttribute, Header: "Attribute Name", Aliases: []string{"Attribute"}, Required: true},
			{Key: ColDataType, Header: "Data Type", Aliases: []string{"Type"}, Required: true},
			{Key: ColCriteria, Header: "Success Criteria", Aliases: []string{"Criteria", "Success Criteria JSON"}},
			{Key: ColRequired, Header: "Required", Aliases: []string{"Is Required"}},
			{Key: ColActive, Header: "Active", Aliases: []string{"Is Active"}},
			{Key: ColOrder, Header: "Order", Aliases: []string{"Sort Order"}},
		},
	},
	{
		Kind: model.KindLicense,
		Name: SheetLicenses,
		Columns: []Column{
			{Key: ColName, Header: "License Name", Aliases: []string{"Name", "License"}, Required: true},
			{Key: ColLevel, Header: "Level", Required: true},
			{Key: ColDescription, Header: "Description"},
		},
	},
	{
		Kind: model.KindOutcome,
		Name: SheetOutcomes,
		Columns: []Column{
			{Key: ColName, Header: "Outcome Name", Aliases: []string{"Name", "Outcome"}, Required: true},
			{Key: ColDescription, Header: "Description"},
		},
	},
	{
		Kind: model.KindRelease,
		Name: SheetReleases,
		Columns: []Column{
			{Key: ColName, Header: "Release Name", Aliases: []string{"Name", "Release"}, Required: true},
			{Key: ColLevel, Header: "Level", Required: true},
			{Key: ColDescription, Header: "Description"},
		},
	},
	{
		Kind: model.KindTag,
		Name: SheetTags,
		Columns: []Column{
			{Key: ColName, Header: "Tag Name", Aliases: []string{"Name", "Tag"}, Required: true},
			{Key: ColColor, Header: "Color", Aliases: []string{"Colour"}},
			{Key: ColDescription, Header: "Description"},
		},
	},
	{
		Kind: model.KindCustomAttribute,
		Name: SheetCustomAttributes,
		Columns: []Column{
			{Key: ColKey, Header: "Attribute Key", Aliases: []string{"Key"}, Required: true},
			{Key: ColValue, Header: "Attribute Value", Aliases: []string{"Value"}, Required: true},
			{Key: ColDisplayOrder, Header: "Display Order", Aliases: []string{"Order"}},
		},
	},
}

// SheetFor returns the definition of kind's sheet.
func SheetFor(kind model.EntityKind) *SheetDef {
	for i := range Sheets {
		if Sheets[i].Kind == kind {
			return &Sheets[i]
		}
	}
	return nil
}

var folder = cases.Fold()

// normalize folds case and drops separators so "Task_Name", "task name"
// and "TASKNAME" compare equal.
func normalize(s string) string {
	s = folder.String(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '\t', '*':
			return -1
		}
		return r
	}, s)
}

func matches(candidate, name string, aliases []string) bool {
	n := normalize(candidate)
	if n == normalize(name) {
		return true
	}
	for _, a := range aliases {
		if n == normalize(a) {
			return true
		}
	}
	return false
}

// mapHeader maps column keys to 0-based cell indexes. Unknown headers are
// ignored; the first matching header wins.
func mapHeader(def SheetDef, header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		if strings.TrimSpace(h) == "" {
			continue
		}
		for _, col := range def.Columns {
			if _, seen := idx[col.Key]; seen {
				continue
			}
			if matches(h, col.Header, col.Aliases) {
				idx[col.Key] = i
				break
			}
		}
	}
	return idx
}

// ColumnLetter converts a 0-based index to a spreadsheet column name.
func ColumnLetter(i int) string {
	var b []byte
	for i >= 0 {
		b = append([]byte{byte('A' + i%26)}, b...)
		i = i/26 - 1
	}
	return string(b)
}
