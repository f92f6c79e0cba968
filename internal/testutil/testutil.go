// Package testutil provides shared test helpers for setting up document
// and attachment stores.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/ashfell/inkwell/internal/blobstore"
	"github.com/ashfell/inkwell/internal/docstore"
)

// TestDocStore creates a temporary SQLite record store that is
// automatically cleaned up.
func TestDocStore(t *testing.T) *docstore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "inkwell-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := docstore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestBlobStore creates a temporary attachment store.
func TestBlobStore(t *testing.T) *blobstore.FS {
	t.Helper()
	fs, err := blobstore.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
