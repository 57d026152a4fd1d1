package httpapi

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cashrecon/backend/internal/apperr"
	"cashrecon/backend/internal/domain"
	"cashrecon/backend/internal/service"
)

func (a *API) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	summary, err := a.service.DailySummary(r.Context(), service.SummaryQuery{
		From:     q.Get("from"),
		To:       q.Get("to"),
		BranchID: q.Get("branch_id"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleSendDailySummary(w http.ResponseWriter, r *http.Request) {
	var req domain.SendSummaryRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	resp, err := a.service.SendDailySummary(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// readDocument pulls the document type and file bytes out of a multipart
// form. The type may be sent as "kind" or "documentType".
func (a *API) readDocument(r *http.Request, fileFields ...string) (domain.DocumentType, string, []byte, error) {
	if err := r.ParseMultipartForm(a.maxUpload); err != nil {
		return "", "", nil, bodyError(err)
	}
	kind := r.FormValue("kind")
	if strings.TrimSpace(kind) == "" {
		kind = r.FormValue("documentType")
	}
	docType := domain.DocumentType(strings.ToUpper(strings.TrimSpace(kind)))

	for _, field := range fileFields {
		file, header, err := r.FormFile(field)
		if err == http.ErrMissingFile {
			continue
		}
		if err != nil {
			return "", "", nil, bodyError(err)
		}
		defer file.Close()
		if header.Size > a.maxUpload {
			return "", "", nil, apperr.Validation("file exceeds %d bytes", a.maxUpload).WithDetail("field", field)
		}
		data, err := io.ReadAll(io.LimitReader(file, a.maxUpload+1))
		if err != nil {
			return "", "", nil, bodyError(err)
		}
		if int64(len(data)) > a.maxUpload {
			return "", "", nil, apperr.Validation("file exceeds %d bytes", a.maxUpload).WithDetail("field", field)
		}
		return docType, header.Filename, data, nil
	}
	return "", "", nil, apperr.Validation("file is required").WithDetail("field", fileFields[0])
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	docType, filename, data, err := a.readDocument(r, "file")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.UploadDocument(r.Context(), docType, filename, data)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleOCRExtract(w http.ResponseWriter, r *http.Request) {
	docType, filename, data, err := a.readDocument(r, "image", "file")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	result, err := a.service.ExtractDocument(r.Context(), docType, filename, data)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleFile serves a stored document. The signature in the query string is
// the only credential, so links can be opened from email or a browser tab.
func (a *API) handleFile(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	q := r.URL.Query()
	rc, err := a.service.OpenDocument(r.Context(), key, q.Get("expires"), q.Get("sig"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		a.logger.Warn("[http] file stream interrupted", zap.String("key", key), zap.Error(err))
	}
}
