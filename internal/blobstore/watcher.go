package blobstore

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// RemovalCallback is invoked when an attachment file disappears from disk
// outside the store's own Delete path (external cleanup, user meddling).
type RemovalCallback func(docID, attID uuid.UUID)

// Watch starts an fsnotify watcher on the attachment root and reports
// out-of-band file removals until ctx is cancelled. Document directories
// created at runtime are added to the watch list automatically.
//
// A removal observed here means the durable copy of an attachment is gone;
// the document core degrades that attachment to an inert placeholder rather
// than failing the document.
func Watch(ctx context.Context, root string, logger *slog.Logger, cb RemovalCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("blobstore: watcher started", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("blobstore: watcher stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := w.Add(ev.Name); addErr != nil {
						logger.Warn("blobstore: watch new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
				continue
			}

			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			docID, attID, ok := parseAttachmentPath(root, ev.Name)
			if !ok {
				continue
			}
			logger.Debug("blobstore: attachment file removed",
				slog.String("document", docID.String()),
				slog.String("attachment", attID.String()))
			if cb != nil {
				cb(docID, attID)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("blobstore: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// parseAttachmentPath maps root/<doc-uuid>/<att-uuid>.<ext> to its key pair.
func parseAttachmentPath(root, path string) (docID, attID uuid.UUID, ok bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return uuid.Nil, uuid.Nil, false
	}
	docID, err = uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	stem := strings.TrimSuffix(parts[1], filepath.Ext(parts[1]))
	attID, err = uuid.Parse(stem)
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return docID, attID, true
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
