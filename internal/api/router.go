package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashfell/inkwell/internal/docservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *docservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	ah := NewAttachmentHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Get("/documents/{id}", h.GetDocument)
	r.Put("/documents/{id}", h.UpdateDocument)
	r.Delete("/documents/{id}", h.DeleteDocument)
	r.Post("/documents/{id}/flush", h.FlushDocument)
	r.Post("/documents/{id}/close", h.CloseDocument)
	r.Put("/documents/{id}/checkboxes/{attachmentID}", h.SetCheckbox)

	// Attachments.
	r.Post("/documents/{id}/attachments", ah.Upload)
	r.Get("/documents/{id}/attachments/{attachmentID}", ah.Download)
	r.Delete("/documents/{id}/attachments/{attachmentID}", ah.Remove)

	// SSE endpoint (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
