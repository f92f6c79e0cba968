package docservice_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/apperr"
	"github.com/ashfell/inkwell/internal/archive"
	"github.com/ashfell/inkwell/internal/docstore"
	"github.com/ashfell/inkwell/internal/richtext"
	"github.com/ashfell/inkwell/internal/token"
)

// seedLegacyDocument inserts a document in the superseded version-1 format:
// inline blob arrays plus an archive whose attachment tokens reference them
// by index.
func seedLegacyDocument(t *testing.T, f *fixture) uuid.UUID {
	t.Helper()
	id := uuid.New()

	stream := token.Stream{
		{Kind: token.Text, Text: "holiday ", Style: richtext.Style{Bold: true}},
		{Kind: token.Image, LegacyIndex: 0, Bounds: richtext.Bounds{W: 40, H: 30}},
		{Kind: token.Text, Text: " packing list "},
		{Kind: token.Checkbox, Checked: true},
		{Kind: token.FileBlob, LegacyIndex: 1},
	}
	rec := docstore.Record{
		ID:        id,
		Title:     "legacy",
		PlainText: stream.PlainText(),
		Archive:   archive.EncodeLegacy(stream),
		Migrated:  false,
	}
	if err := f.raw.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	atts := []docstore.LegacyAttachment{
		{Seq: 0, MIME: "image/png", Data: []byte("png bytes")},
		{Seq: 1, MIME: "application/pdf", Data: []byte("pdf bytes")},
	}
	if err := f.raw.PutLegacyAttachments(id, atts); err != nil {
		t.Fatalf("PutLegacyAttachments: %v", err)
	}
	return id
}

func TestMigrateOnFirstOpen(t *testing.T) {
	f := newFixture(t)
	id := seedLegacyDocument(t, f)

	opened, err := f.svc.Open(id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.Model.PlainText() != "holiday  packing list " {
		t.Errorf("plain text = %q", opened.Model.PlainText())
	}

	// Every attachment got a fresh stable id and its payload now lives in
	// the attachment store.
	var fileIDs []uuid.UUID
	for _, sp := range opened.Model.Spans {
		if sp.Attachment != nil && sp.Attachment.Kind.FileBacked() {
			if sp.Attachment.ID == uuid.Nil {
				t.Error("migrated attachment has no id")
			}
			fileIDs = append(fileIDs, sp.Attachment.ID)
		}
	}
	if len(fileIDs) != 2 {
		t.Fatalf("file-backed attachments = %d, want 2", len(fileIDs))
	}
	img, err := f.blobs.Load(id, fileIDs[0])
	if err != nil {
		t.Fatalf("Load image: %v", err)
	}
	if !bytes.Equal(img, []byte("png bytes")) {
		t.Errorf("image payload = %q", img)
	}
	pdf, err := f.blobs.Load(id, fileIDs[1])
	if err != nil {
		t.Fatalf("Load blob: %v", err)
	}
	if !bytes.Equal(pdf, []byte("pdf bytes")) {
		t.Errorf("blob payload = %q", pdf)
	}

	// MIME came across from the legacy arrays, and the checkbox kept its
	// state under a fresh id.
	if opened.Model.Spans[1].Attachment.MIME != "image/png" {
		t.Errorf("image mime = %q", opened.Model.Spans[1].Attachment.MIME)
	}
	box := opened.Model.Spans[3].Attachment
	if box == nil || !box.Checked || box.ID == uuid.Nil {
		t.Errorf("checkbox = %+v", box)
	}

	// The record is rewritten in the current format with the flag set and
	// the legacy arrays cleared.
	rec, err := f.raw.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Migrated {
		t.Error("migration flag not set")
	}
	if v, err := archive.DetectVersion(rec.Archive); err != nil || v != archive.Version {
		t.Errorf("archive version = %#x err=%v", v, err)
	}
	legacy, err := f.raw.LegacyAttachments(id)
	if err != nil {
		t.Fatalf("LegacyAttachments: %v", err)
	}
	if len(legacy) != 0 {
		t.Errorf("legacy arrays not cleared: %d rows", len(legacy))
	}
}

func TestMigrateRunsOnce(t *testing.T) {
	f := newFixture(t)
	id := seedLegacyDocument(t, f)

	first, err := f.svc.Open(id)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := f.svc.CloseDocument(id); err != nil {
		t.Fatalf("CloseDocument: %v", err)
	}

	second, err := f.svc.Open(id)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}

	// Reopening does not mint new ids or duplicate files.
	firstIDs := attachmentIDsOf(first.Model)
	secondIDs := attachmentIDsOf(second.Model)
	if len(firstIDs) != len(secondIDs) {
		t.Fatalf("attachment counts differ: %d vs %d", len(firstIDs), len(secondIDs))
	}
	for i := range firstIDs {
		if firstIDs[i] != secondIDs[i] {
			t.Errorf("attachment %d id changed across reopen: %s vs %s", i, firstIDs[i], secondIDs[i])
		}
	}

	stored, err := f.blobs.List(id)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored files = %d, want 2", len(stored))
	}
}

func attachmentIDsOf(m *richtext.Model) []uuid.UUID {
	var out []uuid.UUID
	for _, sp := range m.Spans {
		if sp.Attachment != nil {
			out = append(out, sp.Attachment.ID)
		}
	}
	return out
}

func TestMigrateDanglingIndexLeavesPlaceholder(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	stream := token.Stream{
		{Kind: token.Text, Text: "body"},
		{Kind: token.Image, LegacyIndex: 7}, // no such blob
	}
	rec := docstore.Record{
		ID:        id,
		Title:     "broken export",
		PlainText: "body",
		Archive:   archive.EncodeLegacy(stream),
		Migrated:  false,
	}
	if err := f.raw.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	opened, err := f.svc.Open(id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	att := opened.Model.Spans[1].Attachment
	if att == nil || !att.Unavailable {
		t.Errorf("dangling attachment = %+v, want unavailable placeholder", att)
	}

	got, err := f.raw.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Migrated {
		t.Error("a dangling index must not block migration")
	}
}

func TestMigrateCorruptArchiveLeavesFlagUnset(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	rec := docstore.Record{
		ID:        id,
		Title:     "truncated on disk",
		PlainText: "salvage me",
		Archive:   []byte{0x01, 0x05, 0x01}, // legacy version, then garbage
		Migrated:  false,
	}
	if err := f.raw.Insert(rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := f.svc.Open(id); !errors.Is(err, apperr.ErrFormat) {
		t.Fatalf("Open err = %v, want ErrFormat", err)
	}

	got, err := f.raw.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Migrated {
		t.Error("flag set despite failed migration; legacy data would be lost")
	}
}
