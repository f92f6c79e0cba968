// Package blobstore is the file-backed attachment store. Payloads are keyed
// by (document id, attachment id): one directory per document, one immutable
// file per attachment, named by attachment id with an extension derived from
// the declared type. Replacing an attachment's content is delete+recreate,
// never overwrite.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/apperr"
)

// Provider is the attachment storage interface.
type Provider interface {
	// Save durably writes an attachment payload and returns the stored
	// filename. Fails with apperr.ErrAlreadyExists if a file for the key
	// is already present.
	Save(docID, attID uuid.UUID, data []byte, mimeType string) (string, error)
	// Load returns the payload for the key, or apperr.ErrNotFound.
	Load(docID, attID uuid.UUID) ([]byte, error)
	// Delete removes the file for the key, or apperr.ErrNotFound.
	Delete(docID, attID uuid.UUID) error
	// List returns the attachment ids stored for a document.
	List(docID uuid.UUID) ([]uuid.UUID, error)
	// DeleteAll removes a document's directory and everything in it.
	DeleteAll(docID uuid.UUID) error
}

// FS implements Provider on the local file system.
type FS struct {
	root string // absolute path to the attachment root
}

var _ Provider = (*FS)(nil)

// NewFS creates an FS provider rooted at the given directory, creating it if
// necessary.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute attachment root directory.
func (f *FS) Root() string { return f.root }

func (f *FS) docDir(docID uuid.UUID) string {
	return filepath.Join(f.root, docID.String())
}

// find returns the absolute path of the stored file for attID, matching any
// extension. Empty string when nothing is stored.
func (f *FS) find(docID, attID uuid.UUID) string {
	matches, err := filepath.Glob(filepath.Join(f.docDir(docID), attID.String()+".*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// Save atomically writes content: tmp file, fsync, rename.
func (f *FS) Save(docID, attID uuid.UUID, data []byte, mimeType string) (string, error) {
	if existing := f.find(docID, attID); existing != "" {
		return "", fmt.Errorf("blobstore: save %s/%s: %w", docID, attID, apperr.ErrAlreadyExists)
	}
	dir := f.docDir(docID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir: %w", err)
	}

	name := attID.String() + ExtensionFor(mimeType)
	abs := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".inkwell-tmp-*")
	if err != nil {
		return "", fmt.Errorf("blobstore: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("blobstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("blobstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blobstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return "", fmt.Errorf("blobstore: rename: %w", err)
	}
	success = true
	return name, nil
}

// Load reads the stored payload for the key.
func (f *FS) Load(docID, attID uuid.UUID) ([]byte, error) {
	abs := f.find(docID, attID)
	if abs == "" {
		return nil, fmt.Errorf("blobstore: load %s/%s: %w", docID, attID, apperr.ErrNotFound)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blobstore: load %s/%s: %w", docID, attID, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("blobstore: load %s/%s: %w", docID, attID, err)
	}
	return data, nil
}

// Delete removes the stored file for the key.
func (f *FS) Delete(docID, attID uuid.UUID) error {
	abs := f.find(docID, attID)
	if abs == "" {
		return fmt.Errorf("blobstore: delete %s/%s: %w", docID, attID, apperr.ErrNotFound)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("blobstore: delete %s/%s: %w", docID, attID, err)
	}
	return nil
}

// List returns the attachment ids stored for a document. A document with no
// directory has an empty inventory.
func (f *FS) List(docID uuid.UUID) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(f.docDir(docID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("blobstore: list %s: %w", docID, err)
	}
	var out []uuid.UUID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		id, err := uuid.Parse(stem)
		if err != nil {
			continue // temp files and strays
		}
		out = append(out, id)
	}
	return out, nil
}

// DeleteAll removes a document's directory.
func (f *FS) DeleteAll(docID uuid.UUID) error {
	if err := os.RemoveAll(f.docDir(docID)); err != nil {
		return fmt.Errorf("blobstore: delete all %s: %w", docID, err)
	}
	return nil
}

// ExtensionFor maps a declared MIME type to the stored file extension.
// Images keep a recognizable extension; everything else is generic binary.
func ExtensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if strings.HasPrefix(mimeType, "image/") {
		return ".img"
	}
	return ".bin"
}
