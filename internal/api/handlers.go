package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/docservice"
)

const previewLen = 120

// Handler holds document route handlers.
type Handler struct {
	svc *docservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *docservice.Service) *Handler {
	return &Handler{svc: svc}
}

func docID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid document id"))
		return uuid.Nil, false
	}
	return id, true
}

// ListDocuments handles GET /api/documents.
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	recs, err := h.svc.List()
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]DocumentListItem, len(recs))
	for i, rec := range recs {
		preview := rec.PlainText
		if len(preview) > previewLen {
			preview = preview[:previewLen]
		}
		items[i] = DocumentListItem{
			ID:        rec.ID.String(),
			Title:     rec.Title,
			Preview:   preview,
			Hash:      rec.Hash,
			UpdatedAt: rec.UpdatedAt,
		}
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: items, Total: len(items)})
}

// CreateDocument handles POST /api/documents.
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	detail, err := h.svc.Create(req.Title, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

// GetDocument handles GET /api/documents/{id}. Opening a document runs the
// one-time legacy migration and the plain-text fallback as needed.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.Open(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// UpdateDocument handles PUT /api/documents/{id}: one edit notification
// from the surface. The save happens later, debounced.
func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	var req UpdateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if _, err := h.svc.Open(id); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.ApplyEdit(id, req.Title, req.Model); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// FlushDocument handles POST /api/documents/{id}/flush: a lifecycle
// checkpoint forcing an immediate save.
func (h *Handler) FlushDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Flush(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseDocument handles POST /api/documents/{id}/close.
func (h *Handler) CloseDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	if err := h.svc.CloseDocument(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteDocument handles DELETE /api/documents/{id}.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetCheckbox handles PUT /api/documents/{id}/checkboxes/{attachmentID}.
func (h *Handler) SetCheckbox(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	attID, err := uuid.Parse(chi.URLParam(r, "attachmentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid attachment id"))
		return
	}
	var req CheckboxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return
	}
	if err := h.svc.SetCheckbox(id, attID, req.Checked); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
