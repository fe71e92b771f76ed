package workbook

import "fmt"

// Severity says whether an issue blocks an import.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Code classifies an issue for callers that branch on it.
type Code string

// Structural codes raised while reading the workbook.
const (
	CodeMissingSheet       Code = "MISSING_SHEET"
	CodeMissingColumn      Code = "MISSING_COLUMN"
	CodeInvalidCell        Code = "INVALID_CELL"
	CodeInvalidCriteria    Code = "INVALID_CRITERIA"
	CodeInvalidField       Code = "INVALID_FIELD"
	CodeUnknownSheet       Code = "UNKNOWN_SHEET"
	CodeWorkbookUnreadable Code = "WORKBOOK_UNREADABLE"
)

// Issue is one structured validation finding. Row is the 1-based
// spreadsheet row (the header is row 1); Column is the spreadsheet column
// letter. Either may be empty for sheet-level issues.
type Issue struct {
	Sheet    string   `json:"sheet"`
	Row      int      `json:"row,omitempty"`
	Column   string   `json:"column,omitempty"`
	Field    string   `json:"field,omitempty"`
	Value    string   `json:"value,omitempty"`
	Message  string   `json:"message"`
	Code     Code     `json:"code"`
	Severity Severity `json:"severity"`
}

func (i Issue) String() string {
	loc := i.Sheet
	if i.Row > 0 {
		loc = fmt.Sprintf("%s!%s%d", i.Sheet, i.Column, i.Row)
	}
	return fmt.Sprintf("%s %s [%s]: %s", i.Severity, loc, i.Code, i.Message)
}

// Issues is an ordered list of findings.
type Issues []Issue

// Errors returns the blocking issues.
func (is Issues) Errors() Issues {
	return is.filter(SeverityError)
}

// Warnings returns the informational issues.
func (is Issues) Warnings() Issues {
	return is.filter(SeverityWarning)
}

// HasErrors reports whether any issue blocks the import.
func (is Issues) HasErrors() bool {
	for _, i := range is {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (is Issues) filter(s Severity) Issues {
	out := Issues{}
	for _, i := range is {
		if i.Severity == s {
			out = append(out, i)
		}
	}
	return out
}
