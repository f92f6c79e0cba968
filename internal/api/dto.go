package api

import (
	"time"

	"github.com/ashfell/inkwell/internal/docservice"
	"github.com/ashfell/inkwell/internal/richtext"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	Title string          `json:"title"`
	Model *richtext.Model `json:"model"`
}

// UpdateDocumentRequest is the request body for submitting an edited model.
type UpdateDocumentRequest struct {
	Title string          `json:"title"`
	Model *richtext.Model `json:"model"`
}

// CheckboxRequest flips a checkbox attachment's state.
type CheckboxRequest struct {
	Checked bool `json:"checked"`
}

// DocumentDetail is the full document response (aliased from the domain
// layer).
type DocumentDetail = docservice.Detail

// DocumentListItem is a lightweight item in a list response.
type DocumentListItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Hash      string    `json:"hash"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentListResponse wraps document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents"`
	Total     int                `json:"total"`
}

// AttachmentUploadResponse is returned after a successful attachment upload.
type AttachmentUploadResponse struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}
