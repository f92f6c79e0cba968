package blobstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Saver runs attachment writes in the background so the editing surface
// never blocks on disk I/O. The caller keeps using its provisional
// in-memory payload; the done callback fires once the durable copy exists
// (or the write failed) so the caller can swap transparently.
//
// Writes for different attachment ids of the same document may complete out
// of order; consumers must only inspect final state.
type Saver struct {
	provider Provider
	sem      *semaphore.Weighted
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewSaver creates a Saver allowing at most maxInFlight concurrent writes.
func NewSaver(provider Provider, maxInFlight int64, logger *slog.Logger) *Saver {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &Saver{
		provider: provider,
		sem:      semaphore.NewWeighted(maxInFlight),
		logger:   logger,
	}
}

// SaveAsync schedules a durable write. done, if non-nil, is called from the
// writer goroutine with the outcome.
func (s *Saver) SaveAsync(ctx context.Context, docID, attID uuid.UUID, data []byte, mimeType string, done func(error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.finish(docID, attID, err, done)
			return
		}
		defer s.sem.Release(1)

		_, err := s.provider.Save(docID, attID, data, mimeType)
		s.finish(docID, attID, err, done)
	}()
}

func (s *Saver) finish(docID, attID uuid.UUID, err error, done func(error)) {
	if err != nil {
		s.logger.Warn("blobstore: async save failed",
			slog.String("document", docID.String()),
			slog.String("attachment", attID.String()),
			slog.String("error", err.Error()))
	}
	if done != nil {
		done(err)
	}
}

// Wait blocks until every scheduled write has finished. Used at shutdown
// and in tests.
func (s *Saver) Wait() {
	s.wg.Wait()
}
