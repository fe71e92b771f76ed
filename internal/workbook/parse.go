package workbook

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/adoption-cli/internal/criteria"
	"github.com/sells-group/adoption-cli/internal/model"
)

// Loc is a row's origin in the workbook.
type Loc struct {
	Sheet string `json:"sheet"`
	Row   int    `json:"row"`

	columns map[string]int
}

// Column returns the spreadsheet letter of key's column on this row's
// sheet, or "" when the sheet lacks it.
func (l Loc) Column(key string) string {
	i, ok := l.columns[key]
	if !ok {
		return ""
	}
	return ColumnLetter(i)
}

// TelemetryRow is one reported value from the Telemetry Data sheet.
type TelemetryRow struct {
	Loc
	TaskName      string
	AttributeName string
	// DataType is empty when the sheet leaves it blank.
	DataType   model.DataType
	Value      string
	ObservedAt *time.Time
	Source     string
	Notes      string
}

// AttributeRow is one attribute definition from the Telemetry Attributes sheet.
type AttributeRow struct {
	Loc
	TaskName      string
	AttributeName string
	DataType      model.DataType
	Criteria      criteria.Criteria
	Required      bool
	Active        bool
	Order         int
	// HasOrder is false when the order cell was blank.
	HasOrder bool
}

// CatalogRow is one license, outcome, release, tag or custom attribute.
type CatalogRow struct {
	Loc
	Item model.CatalogItem
}

// Rejected is a data row that failed structural checks.
type Rejected struct {
	Loc
	Kind model.EntityKind
}

// Parsed is a structurally valid view of a workbook. Rows that failed
// structural checks are absent and described in Issues.
type Parsed struct {
	Telemetry  []TelemetryRow
	Attributes []AttributeRow
	Catalog    []CatalogRow
	Issues     Issues
	// Rejected lists rows dropped by structural checks.
	Rejected []Rejected
	// Sheets names the recognized sheets found, in file order.
	Sheets []string
}

// RowCount is the number of structurally valid data rows.
func (p *Parsed) RowCount() int {
	return len(p.Telemetry) + len(p.Attributes) + len(p.Catalog)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("col")
	})
	return v
}

// catalogCheck carries the rule tags for catalog rows.
type catalogCheck struct {
	Name         string `col:"name" validate:"required,max=255"`
	Level        int    `col:"level" validate:"gte=0,lte=1000"`
	Color        string `col:"color" validate:"omitempty,hexcolor"`
	Description  string `col:"description" validate:"max=2000"`
	Value        string `col:"value" validate:"max=2000"`
	DisplayOrder int    `col:"display_order" validate:"gte=0"`
}

// ErrUnreadable is returned when the bytes are not an xlsx workbook.
var ErrUnreadable = eris.New("workbook: not a readable .xlsx file")

// Parse reads workbook bytes. It fails only when the bytes are not an xlsx
// file; every other problem is reported in Parsed.Issues.
func Parse(data []byte) (*Parsed, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrapf(ErrUnreadable, "open: %v", err)
	}
	return parseFile(f), nil
}

func parseFile(f *xlsx.File) *Parsed {
	p := &Parsed{}
	found := make(map[model.EntityKind]bool)

	for _, sheet := range f.Sheets {
		def := lookupSheet(sheet.Name)
		if def == nil {
			p.Issues = append(p.Issues, Issue{
				Sheet:    sheet.Name,
				Message:  fmt.Sprintf("sheet %q is not recognized and was ignored", sheet.Name),
				Code:     CodeUnknownSheet,
				Severity: SeverityWarning,
			})
			continue
		}
		if found[def.Kind] {
			p.Issues = append(p.Issues, Issue{
				Sheet:    sheet.Name,
				Message:  fmt.Sprintf("second %q sheet was ignored", def.Name),
				Code:     CodeUnknownSheet,
				Severity: SeverityWarning,
			})
			continue
		}
		found[def.Kind] = true
		p.Sheets = append(p.Sheets, sheet.Name)
		p.parseSheet(*def, sheet)
	}

	for _, def := range Sheets {
		if def.Required && !found[def.Kind] {
			p.Issues = append(p.Issues, Issue{
				Sheet:    def.Name,
				Message:  fmt.Sprintf("required sheet %q is missing", def.Name),
				Code:     CodeMissingSheet,
				Severity: SeverityError,
			})
		}
	}
	return p
}

func lookupSheet(name string) *SheetDef {
	for i := range Sheets {
		if matches(name, Sheets[i].Name, Sheets[i].Aliases) {
			return &Sheets[i]
		}
	}
	return nil
}

// rowReader pulls typed cells out of one data row and records structural
// issues against it.
type rowReader struct {
	def    SheetDef
	loc    Loc
	cells  []*xlsx.Cell
	issues Issues
	bad    bool
}

func (r *rowReader) raw(key string) (string, *xlsx.Cell) {
	i, ok := r.loc.columns[key]
	if !ok || i >= len(r.cells) || r.cells[i] == nil {
		return "", nil
	}
	return strings.TrimSpace(r.cells[i].String()), r.cells[i]
}

func (r *rowReader) fail(key, value string, code Code, msg string) {
	r.bad = true
	r.issues = append(r.issues, Issue{
		Sheet:    r.loc.Sheet,
		Row:      r.loc.Row,
		Column:   r.loc.Column(key),
		Field:    key,
		Value:    value,
		Message:  msg,
		Code:     code,
		Severity: SeverityError,
	})
}

func (r *rowReader) str(key string) string {
	s, _ := r.raw(key)
	if s == "" {
		if col := r.def.Column(key); col != nil && col.Required {
			r.fail(key, "", CodeInvalidCell, fmt.Sprintf("%s is required", col.Header))
		}
	}
	return s
}

func (r *rowReader) boolean(key string, def bool) bool {
	s, _ := r.raw(key)
	if s == "" {
		return def
	}
	b, ok := criteria.ParseBool(s)
	if !ok {
		r.fail(key, s, CodeInvalidCell, fmt.Sprintf("%q is not a yes/no value", s))
	}
	return b
}

func (r *rowReader) integer(key string) (int, bool) {
	s := r.str(key)
	if s == "" {
		return 0, false
	}
	f, ok := criteria.ParseNumber(s)
	if !ok || f != float64(int(f)) {
		r.fail(key, s, CodeInvalidCell, fmt.Sprintf("%q is not a whole number", s))
		return 0, false
	}
	return int(f), true
}

func (r *rowReader) dataType(key string) model.DataType {
	s := r.str(key)
	if s == "" {
		return ""
	}
	dt, err := model.ParseDataType(s)
	if err != nil {
		r.fail(key, s, CodeInvalidCell, fmt.Sprintf("%q is not a data type (boolean, number, string, timestamp)", s))
	}
	return dt
}

func (r *rowReader) date(key string) *time.Time {
	s, cell := r.raw(key)
	if s == "" {
		return nil
	}
	if t, ok := criteria.ParseTime(s); ok {
		return &t
	}
	if cell != nil {
		if serial, err := strconv.ParseFloat(strings.TrimSpace(cell.Value), 64); err == nil && serial > 0 {
			t := xlsx.TimeFromExcelTime(serial, false).UTC()
			return &t
		}
	}
	r.fail(key, s, CodeInvalidCell, fmt.Sprintf("%q is not a date", s))
	return nil
}

func (p *Parsed) parseSheet(def SheetDef, sheet *xlsx.Sheet) {
	if len(sheet.Rows) == 0 {
		p.missingColumns(def, sheet.Name, nil)
		return
	}
	header := make([]string, len(sheet.Rows[0].Cells))
	for i, c := range sheet.Rows[0].Cells {
		header[i] = c.String()
	}
	columns := mapHeader(def, header)
	if p.missingColumns(def, sheet.Name, columns) {
		return
	}

	for i := 1; i < len(sheet.Rows); i++ {
		row := sheet.Rows[i]
		if row == nil || blank(row) {
			continue
		}
		r := &rowReader{def: def, cells: row.Cells, loc: Loc{Sheet: sheet.Name, Row: i + 1, columns: columns}}
		switch def.Kind {
		case model.KindTelemetryValue:
			if tr, ok := r.telemetry(); ok {
				p.Telemetry = append(p.Telemetry, tr)
			}
		case model.KindTelemetryAttribute:
			if ar, ok := r.attribute(); ok {
				p.Attributes = append(p.Attributes, ar)
			}
		default:
			if cr, ok := r.catalog(); ok {
				p.Catalog = append(p.Catalog, cr)
			}
		}
		if r.bad {
			p.Rejected = append(p.Rejected, Rejected{Loc: r.loc, Kind: def.Kind})
		}
		p.Issues = append(p.Issues, r.issues...)
	}
}

func (p *Parsed) missingColumns(def SheetDef, sheet string, columns map[string]int) bool {
	missing := false
	for _, col := range def.Columns {
		if !col.Required && !col.HeaderRequired {
			continue
		}
		if _, ok := columns[col.Key]; ok {
			continue
		}
		missing = true
		p.Issues = append(p.Issues, Issue{
			Sheet:    sheet,
			Row:      1,
			Field:    col.Key,
			Message:  fmt.Sprintf("required column %q is missing", col.Header),
			Code:     CodeMissingColumn,
			Severity: SeverityError,
		})
	}
	return missing
}

func blank(row *xlsx.Row) bool {
	for _, c := range row.Cells {
		if c != nil && strings.TrimSpace(c.String()) != "" {
			return false
		}
	}
	return true
}

func (r *rowReader) telemetry() (TelemetryRow, bool) {
	value, _ := r.raw(ColValue)
	if value == "" {
		return TelemetryRow{}, false
	}
	tr := TelemetryRow{
		Loc:           r.loc,
		TaskName:      r.str(ColTask),
		AttributeName: r.str(ColAttribute),
		DataType:      r.dataType(ColDataType),
		Value:         value,
		ObservedAt:    r.date(ColDate),
		Notes:         r.str(ColNotes),
	}
	src, _ := r.raw(ColSource)
	tr.Source = model.NormalizeSource(src)
	return tr, !r.bad
}

func (r *rowReader) attribute() (AttributeRow, bool) {
	ar := AttributeRow{
		Loc:           r.loc,
		TaskName:      r.str(ColTask),
		AttributeName: r.str(ColAttribute),
		DataType:      r.dataType(ColDataType),
		Required:      r.boolean(ColRequired, false),
		Active:        r.boolean(ColActive, true),
	}
	ar.Order, ar.HasOrder = r.integer(ColOrder)

	if raw, _ := r.raw(ColCriteria); raw != "" {
		c, err := criteria.ParseString(raw)
		if err != nil {
			r.fail(ColCriteria, raw, CodeInvalidCriteria, err.Error())
		}
		ar.Criteria = c
	}
	return ar, !r.bad
}

func (r *rowReader) catalog() (CatalogRow, bool) {
	item := model.CatalogItem{Kind: r.def.Kind}
	switch r.def.Kind {
	case model.KindLicense, model.KindRelease:
		item.Name = r.str(ColName)
		item.Level, _ = r.integer(ColLevel)
		item.Description = r.str(ColDescription)
	case model.KindOutcome:
		item.Name = r.str(ColName)
		item.Description = r.str(ColDescription)
	case model.KindTag:
		item.Name = r.str(ColName)
		item.Color = r.str(ColColor)
		item.Description = r.str(ColDescription)
	case model.KindCustomAttribute:
		item.Name = r.str(ColKey)
		item.Value = r.str(ColValue)
		item.DisplayOrder, _ = r.integer(ColDisplayOrder)
	}
	if r.bad {
		return CatalogRow{}, false
	}

	check := catalogCheck{
		Name:         item.Name,
		Level:        item.Level,
		Color:        item.Color,
		Description:  item.Description,
		Value:        item.Value,
		DisplayOrder: item.DisplayOrder,
	}
	if err := validate.Struct(check); err != nil {
		fieldErrs, ok := err.(validator.ValidationErrors)
		if !ok {
			r.fail(ColName, item.Name, CodeInvalidField, err.Error())
			return CatalogRow{}, false
		}
		for _, fe := range fieldErrs {
			key := fe.Field()
			if r.def.Kind == model.KindCustomAttribute && key == ColName {
				key = ColKey
			}
			r.fail(key, fmt.Sprint(fe.Value()), CodeInvalidField, fieldMessage(fe))
		}
		return CatalogRow{}, false
	}
	return CatalogRow{Loc: r.loc, Item: item}, true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "hexcolor":
		return fmt.Sprintf("%q is not a hex color such as #1f77b4", fe.Value())
	case "max":
		return fmt.Sprintf("%s is longer than %s characters", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", fe.Field(), map[string]string{"gte": ">=", "lte": "<="}[fe.Tag()], fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
