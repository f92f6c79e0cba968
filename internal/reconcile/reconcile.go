// Package reconcile prunes attachment files no longer referenced by a
// document's last-saved token stream.
package reconcile

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/blobstore"
	"github.com/ashfell/inkwell/internal/token"
)

// Prune deletes every stored attachment of docID whose id does not appear
// in savedStream, and returns the ids it removed.
//
// savedStream must be the stream of the last completed save, never the live
// edit buffer: an attachment that is pending insertion exists in the buffer
// before its save lands, and pruning against the buffer would race "delete
// because unreferenced" with "about to re-reference".
//
// Individual delete failures are logged and skipped; the remaining files
// are still reconciled.
func Prune(store blobstore.Provider, docID uuid.UUID, savedStream token.Stream, logger *slog.Logger) []uuid.UUID {
	stored, err := store.List(docID)
	if err != nil {
		logger.Warn("reconcile: list failed",
			slog.String("document", docID.String()),
			slog.String("error", err.Error()))
		return nil
	}

	referenced := make(map[uuid.UUID]struct{})
	for _, id := range savedStream.FileBackedIDs() {
		referenced[id] = struct{}{}
	}

	var removed []uuid.UUID
	for _, id := range stored {
		if _, ok := referenced[id]; ok {
			continue
		}
		if err := store.Delete(docID, id); err != nil {
			logger.Warn("reconcile: delete failed",
				slog.String("document", docID.String()),
				slog.String("attachment", id.String()),
				slog.String("error", err.Error()))
			continue
		}
		logger.Debug("reconcile: removed orphan",
			slog.String("document", docID.String()),
			slog.String("attachment", id.String()))
		removed = append(removed, id)
	}
	return removed
}
