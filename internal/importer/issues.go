// Package importer validates a parsed workbook against a plan snapshot,
// previews the changes as a dry run, and applies a reviewed dry run in one
// transaction followed by task re-evaluation.
package importer

import (
	"fmt"

	"github.com/sells-group/adoption-cli/internal/workbook"
)

// Issue and Issues are shared with the workbook parser so structural and
// business findings form one report.
type (
	Issue    = workbook.Issue
	Issues   = workbook.Issues
	Code     = workbook.Code
	Severity = workbook.Severity
)

// Business and execution codes.
const (
	CodeTaskNotFound          Code = "TASK_NOT_FOUND"
	CodeAttributeNotFound     Code = "ATTRIBUTE_NOT_FOUND"
	CodeInvalidValue          Code = "INVALID_VALUE"
	CodeDataTypeMismatch      Code = "DATA_TYPE_MISMATCH"
	CodeDuplicateWithinImport Code = "DUPLICATE_WITHIN_IMPORT"
	CodeAttributeInactive     Code = "ATTRIBUTE_INACTIVE"
	CodeLicenseLevelReserved  Code = "LICENSE_LEVEL_RESERVED"
	CodeTransactionFailed     Code = "TRANSACTION_FAILED"
	CodeSessionExpired        Code = "SESSION_EXPIRED"
	CodeHasErrors             Code = "HAS_ERRORS"
)

func rowIssue(loc workbook.Loc, field, value string, code Code, sev Severity, format string, args ...any) Issue {
	return Issue{
		Sheet:    loc.Sheet,
		Row:      loc.Row,
		Column:   loc.Column(field),
		Field:    field,
		Value:    value,
		Message:  fmt.Sprintf(format, args...),
		Code:     code,
		Severity: sev,
	}
}
