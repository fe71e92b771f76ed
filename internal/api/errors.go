package api

import (
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adoption-cli/internal/importer"
	"github.com/sells-group/adoption-cli/internal/session"
	"github.com/sells-group/adoption-cli/internal/store"
)

// Error codes that are not import issue codes.
const (
	codeBadRequest      = "BAD_REQUEST"
	codeInvalidWorkbook = "INVALID_WORKBOOK"
	codeTooLarge        = "PAYLOAD_TOO_LARGE"
	codeNotFound        = "NOT_FOUND"
	codeInternal        = "INTERNAL"
)

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type apiError struct {
	Error apiErrorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Error: apiErrorBody{Code: code, Message: msg, Details: details}})
}

// writeStoreError maps store and session failures onto status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case session.IsSessionError(err):
		writeError(w, http.StatusGone, string(importer.CodeSessionExpired), "the preview is no longer available; upload the workbook again", nil)
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error(), nil)
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error", nil)
	}
}

// importStatus picks the status code for a failed execution.
func importStatus(res *importer.ImportResult) int {
	for _, is := range res.Errors {
		switch is.Code {
		case importer.CodeSessionExpired:
			return http.StatusGone
		case importer.CodeHasErrors:
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}
