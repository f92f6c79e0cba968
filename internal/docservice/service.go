// Package docservice coordinates the persistence pipeline: edits arrive
// from the editing surface, the per-document scheduler debounces them, and
// a save tokenizes, archives, hashes, persists, reconciles attachment
// files, and notifies observers.
package docservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/apperr"
	"github.com/ashfell/inkwell/internal/archive"
	"github.com/ashfell/inkwell/internal/blobstore"
	"github.com/ashfell/inkwell/internal/docstore"
	"github.com/ashfell/inkwell/internal/notify"
	"github.com/ashfell/inkwell/internal/reconcile"
	"github.com/ashfell/inkwell/internal/richtext"
	"github.com/ashfell/inkwell/internal/scheduler"
	"github.com/ashfell/inkwell/internal/token"
)

// Service owns all open documents and their persistence machinery.
type Service struct {
	records  docstore.Store
	blobs    blobstore.Provider
	saver    *blobstore.Saver
	notifier *notify.Notifier
	schedCfg scheduler.Config
	logger   *slog.Logger

	mu   sync.Mutex
	open map[uuid.UUID]*document
}

// document is the resident state of one open document. Its scheduler is the
// single writer of lastSaved/lastHash (one save in flight per document);
// the mutex covers the editable model, which the API surface and the frame
// scheduler also touch.
type document struct {
	id    uuid.UUID
	sched *scheduler.Scheduler

	mu        sync.Mutex
	title     string
	model     *richtext.Model
	lastSaved token.Stream
	lastHash  string
}

// Detail is the external snapshot of a document.
type Detail struct {
	ID        uuid.UUID       `json:"id"`
	Title     string          `json:"title"`
	Hash      string          `json:"hash"`
	Model     *richtext.Model `json:"model"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New creates the document service.
func New(records docstore.Store, blobs blobstore.Provider, saver *blobstore.Saver, notifier *notify.Notifier, schedCfg scheduler.Config, logger *slog.Logger) *Service {
	return &Service{
		records:  records,
		blobs:    blobs,
		saver:    saver,
		notifier: notifier,
		schedCfg: schedCfg,
		logger:   logger,
		open:     make(map[uuid.UUID]*document),
	}
}

// Create persists a new document and leaves it open for editing. Any
// attachment payloads present in the model are written to the attachment
// store in the background.
func (s *Service) Create(title string, model *richtext.Model) (*Detail, error) {
	if model == nil {
		model = &richtext.Model{}
	}
	id := uuid.New()
	stream := token.Tokenize(model)
	blob := archive.Encode(stream)
	hash := archive.Hash(blob)

	rec := docstore.Record{
		ID:        id,
		Title:     title,
		PlainText: stream.PlainText(),
		Archive:   blob,
		Hash:      hash,
		Migrated:  true,
	}
	if err := s.records.Insert(rec); err != nil {
		return nil, err
	}

	doc := s.register(id, title, model, stream, hash)
	s.saveNewPayloads(doc, nil)
	return s.detail(doc), nil
}

// Open loads a document, running legacy migration the first time and
// falling back to plain text when the archive cannot be decoded. Opening an
// already-open document returns its resident state.
func (s *Service) Open(id uuid.UUID) (*Detail, error) {
	s.mu.Lock()
	if doc, ok := s.open[id]; ok {
		s.mu.Unlock()
		return s.detail(doc), nil
	}
	s.mu.Unlock()

	rec, err := s.records.Get(id)
	if err != nil {
		return nil, err
	}

	if !rec.Migrated {
		rec, err = s.migrate(rec)
		if err != nil {
			return nil, err
		}
	}

	var stream token.Stream
	if len(rec.Archive) > 0 {
		stream, err = archive.Decode(rec.Archive)
		if err != nil {
			if !errors.Is(err, apperr.ErrFormat) {
				return nil, err
			}
			// Corrupt archive: the document still opens, as plain
			// unstyled text rebuilt from the last known strings.
			s.logger.Warn("docservice: archive unreadable, opening as plain text",
				slog.String("document", id.String()),
				slog.String("error", err.Error()))
			stream = token.Tokenize(richtext.FromPlainText(rec.PlainText))
		}
	}

	model := token.Detokenize(stream, s.resolver(id))
	doc := s.register(id, rec.Title, model, stream, rec.Hash)
	return s.detail(doc), nil
}

// register adds a resident document and starts its scheduler. Two loads can
// race here when the same document is opened concurrently; the first to
// register wins and later callers get its state, so only one scheduler ever
// runs per document.
func (s *Service) register(id uuid.UUID, title string, model *richtext.Model, saved token.Stream, hash string) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.open[id]; ok {
		return doc
	}

	doc := &document{
		id:        id,
		title:     title,
		model:     model,
		lastSaved: saved,
		lastHash:  hash,
	}
	doc.sched = scheduler.New(s.schedCfg, func() error { return s.saveDocument(doc) }, s.logger)
	s.open[id] = doc
	return doc
}

// ApplyEdit replaces a document's resident model with the edited one and
// arms the debounced save. The archive and hash are not recomputed here;
// that happens lazily when the save fires.
func (s *Service) ApplyEdit(id uuid.UUID, title string, model *richtext.Model) error {
	doc, err := s.resident(id)
	if err != nil {
		return err
	}
	if model == nil {
		model = &richtext.Model{}
	}

	doc.mu.Lock()
	attachmentEdit := !sameAttachmentIDs(doc.model, model)
	carryPayloads(doc.model, model)
	doc.model = model
	doc.title = title
	docBytes := model.Length()
	doc.mu.Unlock()

	doc.sched.Edited(scheduler.Edit{Attachment: attachmentEdit, DocBytes: docBytes})
	return nil
}

// InsertAttachmentParams describes a new inline attachment.
type InsertAttachmentParams struct {
	Kind       richtext.AttachmentKind
	MIME       string
	Bounds     richtext.Bounds
	Checked    bool
	FrameCount int
	Data       []byte
}

// InsertAttachment appends an attachment to an open document. File-backed
// payloads are written to the attachment store asynchronously; the editing
// surface keeps the provisional in-memory payload until the durable write
// completes.
func (s *Service) InsertAttachment(id uuid.UUID, p InsertAttachmentParams) (uuid.UUID, error) {
	doc, err := s.resident(id)
	if err != nil {
		return uuid.Nil, err
	}
	if p.Kind == richtext.Checkbox && len(p.Data) > 0 {
		return uuid.Nil, fmt.Errorf("docservice: checkbox attachments carry no payload")
	}

	att := &richtext.Attachment{
		ID:         uuid.New(),
		Kind:       p.Kind,
		MIME:       p.MIME,
		Bounds:     p.Bounds,
		Checked:    p.Checked,
		FrameCount: p.FrameCount,
		Payload:    p.Data,
	}

	doc.mu.Lock()
	doc.model.Attach(att)
	docBytes := doc.model.Length()
	doc.mu.Unlock()

	if att.Kind.FileBacked() {
		s.saveNewPayloads(doc, att)
	}
	doc.sched.Edited(scheduler.Edit{Attachment: true, DocBytes: docBytes})
	return att.ID, nil
}

// RemoveAttachment deletes an attachment span from the buffer. The durable
// file is not touched here; the reconciliation after the next save removes
// it once the saved stream no longer references it.
func (s *Service) RemoveAttachment(id, attID uuid.UUID) error {
	doc, err := s.resident(id)
	if err != nil {
		return err
	}

	doc.mu.Lock()
	removed := doc.model.RemoveAttachment(attID)
	docBytes := doc.model.Length()
	doc.mu.Unlock()

	if !removed {
		return fmt.Errorf("docservice: attachment %s: %w", attID, apperr.ErrNotFound)
	}
	doc.sched.Edited(scheduler.Edit{Attachment: true, DocBytes: docBytes})
	return nil
}

// SetCheckbox flips a checkbox attachment's state.
func (s *Service) SetCheckbox(id, attID uuid.UUID, checked bool) error {
	doc, err := s.resident(id)
	if err != nil {
		return err
	}

	doc.mu.Lock()
	att := doc.model.FindAttachment(attID)
	if att == nil || att.Kind != richtext.Checkbox {
		doc.mu.Unlock()
		return fmt.Errorf("docservice: checkbox %s: %w", attID, apperr.ErrNotFound)
	}
	att.Checked = checked
	docBytes := doc.model.Length()
	doc.mu.Unlock()

	doc.sched.Edited(scheduler.Edit{DocBytes: docBytes})
	return nil
}

// Flush forces an immediate save of an open document. Lifecycle checkpoint:
// also the natural retry point after a failed background save.
func (s *Service) Flush(id uuid.UUID) error {
	doc, err := s.resident(id)
	if err != nil {
		return err
	}
	return doc.sched.Flush()
}

// CloseDocument flushes and releases a resident document.
func (s *Service) CloseDocument(id uuid.UUID) error {
	s.mu.Lock()
	doc, ok := s.open[id]
	delete(s.open, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	err := doc.sched.Flush()
	doc.sched.Close()
	return err
}

// Delete removes a document record and its attachment directory.
func (s *Service) Delete(id uuid.UUID) error {
	s.mu.Lock()
	doc, ok := s.open[id]
	delete(s.open, id)
	s.mu.Unlock()
	if ok {
		doc.sched.Close()
	}

	if err := s.records.Delete(id); err != nil {
		return err
	}
	if err := s.blobs.DeleteAll(id); err != nil {
		s.logger.Warn("docservice: delete attachments failed",
			slog.String("document", id.String()),
			slog.String("error", err.Error()))
	}
	s.notifier.Forget(id)
	return nil
}

// List returns all document records.
func (s *Service) List() ([]docstore.Record, error) {
	return s.records.List()
}

// LoadAttachment returns an attachment payload and its declared MIME type.
func (s *Service) LoadAttachment(id, attID uuid.UUID) ([]byte, string, error) {
	data, err := s.blobs.Load(id, attID)
	if err != nil {
		return nil, "", err
	}
	return data, s.attachmentMIME(id, attID), nil
}

func (s *Service) attachmentMIME(id, attID uuid.UUID) string {
	s.mu.Lock()
	doc, ok := s.open[id]
	s.mu.Unlock()
	if ok {
		doc.mu.Lock()
		defer doc.mu.Unlock()
		if att := doc.model.FindAttachment(attID); att != nil {
			return att.MIME
		}
		return ""
	}
	rec, err := s.records.Get(id)
	if err != nil || len(rec.Archive) == 0 {
		return ""
	}
	stream, err := archive.Decode(rec.Archive)
	if err != nil {
		return ""
	}
	for _, t := range stream {
		if t.AttachmentID == attID {
			return t.MIME
		}
	}
	return ""
}

// AttachmentFileRemoved handles an out-of-band deletion reported by the
// attachment-root watcher: the resident attachment degrades to an inert
// placeholder and observers are told immediately.
func (s *Service) AttachmentFileRemoved(id, attID uuid.UUID) {
	s.mu.Lock()
	doc, ok := s.open[id]
	s.mu.Unlock()
	if ok {
		doc.mu.Lock()
		if att := doc.model.FindAttachment(attID); att != nil && att.Payload == nil {
			att.Unavailable = true
		}
		doc.mu.Unlock()
	}
	s.notifier.DocumentChanged(id, true)
}

// AdvanceAnimations steps the frame index of every resident animated
// attachment. Driven by the frame scheduler tick.
func (s *Service) AdvanceAnimations() {
	s.mu.Lock()
	docs := make([]*document, 0, len(s.open))
	for _, d := range s.open {
		docs = append(docs, d)
	}
	s.mu.Unlock()

	for _, doc := range docs {
		doc.mu.Lock()
		for _, sp := range doc.model.Spans {
			a := sp.Attachment
			if a != nil && a.Kind == richtext.AnimatedImage && a.FrameCount > 0 && !a.Unavailable {
				a.FrameIndex = (a.FrameIndex + 1) % a.FrameCount
			}
		}
		doc.mu.Unlock()
	}
}

// SyncAttachments sweeps every persisted document and prunes attachment
// files its last-saved stream no longer references. Run at startup to catch
// work lost to a crash between save and reconciliation.
func (s *Service) SyncAttachments() error {
	recs, err := s.records.List()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !rec.Migrated || len(rec.Archive) == 0 {
			continue
		}
		stream, err := archive.Decode(rec.Archive)
		if err != nil {
			s.logger.Warn("docservice: sync skipping unreadable archive",
				slog.String("document", rec.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		reconcile.Prune(s.blobs, rec.ID, stream, s.logger)
	}
	return nil
}

// Shutdown flushes and closes every open document and drains pending
// attachment writes.
func (s *Service) Shutdown() {
	s.mu.Lock()
	ids := make([]uuid.UUID, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.CloseDocument(id); err != nil {
			s.logger.Warn("docservice: shutdown flush failed",
				slog.String("document", id.String()),
				slog.String("error", err.Error()))
		}
	}
	s.saver.Wait()
}

// saveDocument is the SaveFunc run by each document's scheduler: tokenize,
// archive, hash, skip if unchanged, persist, reconcile, notify. The
// scheduler guarantees only one invocation is in flight per document.
func (s *Service) saveDocument(doc *document) error {
	doc.mu.Lock()
	stream := token.Tokenize(doc.model)
	title := doc.title
	doc.mu.Unlock()

	blob := archive.Encode(stream)
	hash := archive.Hash(blob)

	doc.mu.Lock()
	unchanged := hash == doc.lastHash
	prev := doc.lastSaved
	doc.mu.Unlock()
	if unchanged {
		// No-op save: the serialized bytes did not change, so neither
		// the write nor reconciliation runs.
		return nil
	}

	if err := s.records.UpdateArchive(doc.id, blob, hash, title, stream.PlainText()); err != nil {
		// lastHash stays untouched; the next edit or flush retries.
		return err
	}

	doc.mu.Lock()
	doc.lastSaved = stream
	doc.lastHash = hash
	doc.mu.Unlock()

	reconcile.Prune(s.blobs, doc.id, stream, s.logger)

	attachmentsChanged := !sameIDSet(prev.FileBackedIDs(), stream.FileBackedIDs())
	s.notifier.DocumentChanged(doc.id, attachmentsChanged)
	return nil
}

// saveNewPayloads schedules durable writes for resident payloads that have
// no stored file yet. When only is non-nil, just that attachment is
// considered. On completion the provisional payload is dropped in favor of
// the durable copy; the swap never disturbs an in-progress edit because the
// payload bytes are not part of the editable text.
func (s *Service) saveNewPayloads(doc *document, only *richtext.Attachment) {
	doc.mu.Lock()
	var pending []*richtext.Attachment
	if only != nil {
		pending = append(pending, only)
	} else {
		for _, sp := range doc.model.Spans {
			if sp.Attachment != nil && sp.Attachment.Kind.FileBacked() && sp.Attachment.Payload != nil {
				pending = append(pending, sp.Attachment)
			}
		}
	}
	doc.mu.Unlock()

	for _, att := range pending {
		att := att
		s.saver.SaveAsync(context.Background(), doc.id, att.ID, att.Payload, att.MIME, func(err error) {
			if err != nil {
				return // provisional payload stays resident; save retries never clobber files
			}
			doc.mu.Lock()
			att.Payload = nil
			att.Unavailable = false
			doc.mu.Unlock()
		})
	}
}

// resident returns the open document for id.
func (s *Service) resident(id uuid.UUID) (*document, error) {
	s.mu.Lock()
	doc, ok := s.open[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("docservice: document %s not open: %w", id, apperr.ErrNotFound)
	}
	return doc, nil
}

func (s *Service) detail(doc *document) *Detail {
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return &Detail{
		ID:        doc.id,
		Title:     doc.title,
		Hash:      doc.lastHash,
		Model:     doc.model,
		UpdatedAt: time.Now(),
	}
}

// resolver loads attachment payloads for Detokenize; a missing file yields
// apperr.ErrNotFound and the attachment degrades to a placeholder.
func (s *Service) resolver(id uuid.UUID) token.Resolver {
	return token.ResolverFunc(func(attID uuid.UUID) ([]byte, error) {
		return s.blobs.Load(id, attID)
	})
}

func sameAttachmentIDs(a, b *richtext.Model) bool {
	return sameIDSet(attachmentIDs(a), attachmentIDs(b))
}

func attachmentIDs(m *richtext.Model) []uuid.UUID {
	var out []uuid.UUID
	for _, sp := range m.Spans {
		if sp.Attachment != nil {
			out = append(out, sp.Attachment.ID)
		}
	}
	return out
}

func sameIDSet(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[uuid.UUID]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

// carryPayloads moves resident payloads and frame state from the previous
// model into the edited one, so an edit arriving from the surface does not
// drop provisional attachment bytes that are still waiting on their durable
// write.
func carryPayloads(old, edited *richtext.Model) {
	for _, sp := range edited.Spans {
		if sp.Attachment == nil {
			continue
		}
		prev := old.FindAttachment(sp.Attachment.ID)
		if prev == nil {
			continue
		}
		if sp.Attachment.Payload == nil {
			sp.Attachment.Payload = prev.Payload
		}
		sp.Attachment.Unavailable = prev.Unavailable
		if sp.Attachment.FrameCount == 0 {
			sp.Attachment.FrameCount = prev.FrameCount
		}
		sp.Attachment.FrameIndex = prev.FrameIndex
	}
}
