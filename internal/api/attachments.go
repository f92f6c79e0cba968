package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/docservice"
	"github.com/ashfell/inkwell/internal/richtext"
)

const maxUploadBytes = 50 << 20 // 50 MB

// AttachmentHandler accepts and serves attachment payloads.
type AttachmentHandler struct {
	svc *docservice.Service
}

// NewAttachmentHandler creates an attachment handler over the document
// service.
func NewAttachmentHandler(svc *docservice.Service) *AttachmentHandler {
	return &AttachmentHandler{svc: svc}
}

// Upload handles POST /api/documents/{id}/attachments
// (multipart/form-data, field "file", optional "kind", "w", "h" fields).
// The durable write happens in the background; the response returns as soon
// as the attachment is inserted into the editing buffer.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	if _, err := h.svc.Open(id); err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	kind := parseKind(r.FormValue("kind"), mimeType)

	params := docservice.InsertAttachmentParams{
		Kind:   kind,
		MIME:   mimeType,
		Bounds: parseBounds(r),
		Data:   data,
	}
	attID, err := h.svc.InsertAttachment(id, params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AttachmentUploadResponse{
		ID:   attID.String(),
		Kind: kindName(kind),
		Size: int64(len(data)),
		URL:  fmt.Sprintf("/api/documents/%s/attachments/%s", id, attID),
	})
}

// Download handles GET /api/documents/{id}/attachments/{attachmentID}.
// A missing file answers 404; the document itself is unaffected.
func (h *AttachmentHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	attID, err := uuid.Parse(chi.URLParam(r, "attachmentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid attachment id"))
		return
	}
	data, mimeType, err := h.svc.LoadAttachment(id, attID)
	if err != nil {
		writeError(w, err)
		return
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Remove handles DELETE /api/documents/{id}/attachments/{attachmentID}: the
// attachment leaves the buffer now, its file is pruned by reconciliation
// after the next save.
func (h *AttachmentHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	attID, err := uuid.Parse(chi.URLParam(r, "attachmentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid attachment id"))
		return
	}
	if err := h.svc.RemoveAttachment(id, attID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseKind(kind, mimeType string) richtext.AttachmentKind {
	switch kind {
	case "image":
		return richtext.Image
	case "animated_image":
		return richtext.AnimatedImage
	case "file":
		return richtext.FileBlob
	}
	// Infer from the declared type when the surface did not say.
	switch mimeType {
	case "image/gif":
		return richtext.AnimatedImage
	}
	if len(mimeType) > 6 && mimeType[:6] == "image/" {
		return richtext.Image
	}
	return richtext.FileBlob
}

func kindName(k richtext.AttachmentKind) string {
	switch k {
	case richtext.Image:
		return "image"
	case richtext.AnimatedImage:
		return "animated_image"
	case richtext.FileBlob:
		return "file"
	case richtext.Checkbox:
		return "checkbox"
	}
	return "unknown"
}

func parseBounds(r *http.Request) richtext.Bounds {
	w, _ := strconv.ParseUint(r.FormValue("w"), 10, 32)
	h, _ := strconv.ParseUint(r.FormValue("h"), 10, 32)
	return richtext.Bounds{W: uint32(w), H: uint32(h)}
}
