package importer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/adoption-cli/internal/workbook"
)

type sheetData struct {
	name string
	rows [][]string
}

func buildXLSX(t *testing.T, sheets ...sheetData) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.name)
		require.NoError(t, err)
		for _, rowData := range s.rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func parse(t *testing.T, sheets ...sheetData) *workbook.Parsed {
	t.Helper()
	p, err := workbook.Parse(buildXLSX(t, sheets...))
	require.NoError(t, err)
	return p
}

var telemetryHeader = []string{"Task Name", "Attribute Name", "Data Type", "Current Value", "Source"}

var attributeHeader = []string{"Task Name", "Attribute Name", "Data Type", "Success Criteria", "Required", "Active", "Order"}

func codesOf(is Issues) []Code {
	out := make([]Code, 0, len(is))
	for _, i := range is {
		out = append(out, i.Code)
	}
	return out
}

func recordsFor(dr *DryRunResult, sheet string) map[int]RecordPreview {
	out := make(map[int]RecordPreview)
	for _, r := range dr.Records {
		if r.Sheet == sheet {
			out[r.Row] = r
		}
	}
	return out
}
