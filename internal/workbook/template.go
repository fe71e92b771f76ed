package workbook

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/afero"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/adoption-cli/internal/criteria"
	"github.com/sells-group/adoption-cli/internal/model"
)

// Template renders a plan as a workbook: every sheet with its headers and
// the plan's current rows. Importing the result unchanged previews as all
// unchanged.
func Template(snap *model.Snapshot) ([]byte, error) {
	f := xlsx.NewFile()
	for _, def := range Sheets {
		sheet, err := f.AddSheet(def.Name)
		if err != nil {
			return nil, eris.Wrapf(err, "workbook: add sheet %s", def.Name)
		}
		writeRow(sheet, headers(def))
		for _, row := range templateRows(def, snap) {
			writeRow(sheet, row)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "workbook: write")
	}
	return buf.Bytes(), nil
}

// WriteFile renders Template to path on fsys.
func WriteFile(fsys afero.Fs, path string, snap *model.Snapshot) error {
	data, err := Template(snap)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		return eris.Wrapf(err, "workbook: write %s", path)
	}
	return nil
}

// ReadFile loads workbook bytes from fsys.
func ReadFile(fsys afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, eris.Wrapf(err, "workbook: read %s", path)
	}
	return data, nil
}

func headers(def SheetDef) []string {
	out := make([]string, len(def.Columns))
	for i, c := range def.Columns {
		out[i] = c.Header
	}
	return out
}

func writeRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func yesNo(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func templateRows(def SheetDef, snap *model.Snapshot) [][]string {
	if snap == nil {
		return nil
	}
	var rows [][]string
	switch def.Kind {
	case model.KindTelemetryValue:
		for _, t := range snap.Tasks {
			for _, a := range sortedAttributes(t) {
				row := []string{t.Name, a.Name, string(a.DataType), "", "", "", ""}
				if v := a.Latest(); v != nil {
					row[3] = v.Value
					if v.ObservedAt != nil {
						row[4] = v.ObservedAt.UTC().Format("2006-01-02")
					}
					row[5] = model.NormalizeSource(v.Source)
					row[6] = v.Notes
				}
				rows = append(rows, row)
			}
		}
	case model.KindTelemetryAttribute:
		for _, t := range snap.Tasks {
			for _, a := range sortedAttributes(t) {
				rows = append(rows, []string{
					t.Name, a.Name, string(a.DataType), criteria.String(a.Criteria),
					yesNo(a.IsRequired), yesNo(a.IsActive), strconv.Itoa(a.Order),
				})
			}
		}
	default:
		for _, c := range snap.CatalogOf(def.Kind) {
			switch def.Kind {
			case model.KindLicense, model.KindRelease:
				rows = append(rows, []string{c.Name, strconv.Itoa(c.Level), c.Description})
			case model.KindOutcome:
				rows = append(rows, []string{c.Name, c.Description})
			case model.KindTag:
				rows = append(rows, []string{c.Name, c.Color, c.Description})
			case model.KindCustomAttribute:
				rows = append(rows, []string{c.Name, c.Value, strconv.Itoa(c.DisplayOrder)})
			}
		}
	}
	return rows
}

func sortedAttributes(t model.Task) []model.TelemetryAttribute {
	attrs := make([]model.TelemetryAttribute, len(t.Attributes))
	copy(attrs, t.Attributes)
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Order < attrs[j].Order })
	return attrs
}
