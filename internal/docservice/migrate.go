package docservice

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/archive"
	"github.com/ashfell/inkwell/internal/docstore"
	"github.com/ashfell/inkwell/internal/token"
)

// migrate converts a document from the superseded inline-blob format: each
// legacy payload is written to the attachment store under a freshly
// generated id, the token stream is rebuilt with placeholder tokens in the
// original order, and only then is the completion flag set and the legacy
// arrays cleared.
//
// Crash safety comes from that ordering alone: until the flag is set the
// legacy arrays survive, so a crash anywhere mid-way re-runs migration from
// scratch on the next load (orphaned files from the aborted attempt are
// swept by reconciliation). Once the flag is set, migration never runs
// again, even if clearing the arrays failed.
func (s *Service) migrate(rec *docstore.Record) (*docstore.Record, error) {
	legacy, err := s.records.LegacyAttachments(rec.ID)
	if err != nil {
		return nil, err
	}

	var stream token.Stream
	if len(rec.Archive) > 0 {
		stream, err = archive.Decode(rec.Archive)
		if err != nil {
			// Unreadable legacy archive: the caller's plain-text
			// fallback applies; the flag stays unset.
			return nil, err
		}
	}

	for i := range stream {
		t := &stream[i]
		switch {
		case t.Kind == token.Checkbox:
			// Checkboxes had no id in the old format.
			t.AttachmentID = uuid.New()
		case t.Kind.FileBacked():
			id := uuid.New()
			if t.LegacyIndex < 0 || t.LegacyIndex >= len(legacy) {
				// A dangling index leaves an inert placeholder
				// with no file, same as a missing attachment.
				s.logger.Warn("docservice: legacy blob index out of range",
					slog.String("document", rec.ID.String()),
					slog.Int("index", t.LegacyIndex))
				t.AttachmentID = id
				t.LegacyIndex = 0
				continue
			}
			blob := legacy[t.LegacyIndex]
			if t.MIME == "" {
				t.MIME = blob.MIME
			}
			if _, err := s.blobs.Save(rec.ID, id, blob.Data, t.MIME); err != nil {
				return nil, fmt.Errorf("docservice: migrate attachment: %w", err)
			}
			t.AttachmentID = id
			t.LegacyIndex = 0
		}
	}

	newBlob := archive.Encode(stream)
	newHash := archive.Hash(newBlob)
	if err := s.records.UpdateArchive(rec.ID, newBlob, newHash, rec.Title, stream.PlainText()); err != nil {
		return nil, fmt.Errorf("docservice: migrate archive: %w", err)
	}
	if err := s.records.SetMigrated(rec.ID); err != nil {
		return nil, fmt.Errorf("docservice: migrate flag: %w", err)
	}
	// The arrays are cleared only after the flag: a failure here leaves
	// unreferenced rows behind but never re-triggers migration.
	if err := s.records.ClearLegacyAttachments(rec.ID); err != nil {
		s.logger.Warn("docservice: clear legacy blobs failed",
			slog.String("document", rec.ID.String()),
			slog.String("error", err.Error()))
	}

	s.logger.Info("docservice: migrated legacy document",
		slog.String("document", rec.ID.String()),
		slog.Int("attachments", len(legacy)))

	return s.records.Get(rec.ID)
}
