package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/adoption-cli/internal/workbook"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// readUpload returns the workbook bytes from a raw body or from the "file"
// field of a multipart form.
func (s *server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var src io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		f, _, err := r.FormFile("file")
		if err != nil {
			if tooLarge(err) {
				writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge, fmt.Sprintf("workbook exceeds %d bytes", s.maxUpload), nil)
				return nil, false
			}
			writeError(w, http.StatusBadRequest, codeBadRequest, "multipart upload needs a file field", nil)
			return nil, false
		}
		defer f.Close() //nolint:errcheck
		src = f
	}

	data, err := io.ReadAll(src)
	if err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, codeTooLarge, fmt.Sprintf("workbook exceeds %d bytes", s.maxUpload), nil)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "could not read request body", nil)
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, codeBadRequest, "request body is empty", nil)
		return nil, false
	}
	return data, true
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func (s *server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readUpload(w, r)
	if !ok {
		return
	}
	dr, err := s.svc.Preview(r.Context(), chi.URLParam(r, "planID"), data)
	if err != nil {
		if eris.Is(err, workbook.ErrUnreadable) {
			writeError(w, http.StatusBadRequest, codeInvalidWorkbook, "the upload is not a readable .xlsx workbook", nil)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dr)
}

func (s *server) handleGetPreview(w http.ResponseWriter, r *http.Request) {
	dr, err := s.svc.Dry(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dr)
}

func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Execute(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeJSON(w, http.StatusGone, res)
		return
	}
	if !res.Success {
		writeJSON(w, importStatus(res), res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) force(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("force")
	if raw == "" {
		return s.forceEval, nil
	}
	return strconv.ParseBool(raw)
}

func (s *server) handleEvaluateTask(w http.ResponseWriter, r *http.Request) {
	force, err := s.force(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "force must be true or false", nil)
		return
	}
	d, err := s.svc.Reevaluate(r.Context(), chi.URLParam(r, "taskID"), force)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *server) handleEvaluatePlan(w http.ResponseWriter, r *http.Request) {
	force, err := s.force(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "force must be true or false", nil)
		return
	}
	pe, err := s.svc.ReevaluatePlan(r.Context(), chi.URLParam(r, "planID"), force)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pe)
}

func (s *server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planID")
	data, err := s.svc.Template(r.Context(), planID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": planID + "-telemetry.xlsx"}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
