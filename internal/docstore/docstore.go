// Package docstore persists document records in SQLite: the archive blob,
// its content hash, the legacy-migration flag, and the legacy inline
// attachment arrays awaiting migration.
package docstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ashfell/inkwell/internal/apperr"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	plain_text TEXT NOT NULL DEFAULT '',
	archive    BLOB,
	hash       TEXT NOT NULL DEFAULT '',
	migrated   INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS legacy_attachments (
	document_id TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	mime        TEXT NOT NULL DEFAULT '',
	data        BLOB NOT NULL,
	PRIMARY KEY (document_id, seq)
);
`

// Record is one row of the documents table. PlainText is the derived
// unstyled body, kept so a document whose archive fails to decode can still
// open as plain text.
type Record struct {
	ID        uuid.UUID
	Title     string
	PlainText string
	Archive   []byte
	Hash      string
	Migrated  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LegacyAttachment is one entry of the superseded inline-blob
// representation: an ordered raw payload plus its declared type.
type LegacyAttachment struct {
	Seq  int
	MIME string
	Data []byte
}

// Store is the document record interface. Consumers should depend on this
// rather than the concrete *DB to facilitate testing with fakes.
type Store interface {
	Insert(rec Record) error
	Get(id uuid.UUID) (*Record, error)
	List() ([]Record, error)
	UpdateArchive(id uuid.UUID, archiveBlob []byte, hash, title, plainText string) error
	Delete(id uuid.UUID) error

	LegacyAttachments(id uuid.UUID) ([]LegacyAttachment, error)
	PutLegacyAttachments(id uuid.UUID, atts []LegacyAttachment) error
	ClearLegacyAttachments(id uuid.UUID) error
	SetMigrated(id uuid.UUID) error

	Close() error
}

// DB wraps a sql.DB with document-record operations.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("docstore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("docstore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Insert adds a new record. Inserting an existing id fails with
// apperr.ErrAlreadyExists.
func (db *DB) Insert(rec Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	_, err := db.conn.Exec(`
		INSERT INTO documents (id, title, plain_text, archive, hash, migrated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.Title, rec.PlainText, rec.Archive, rec.Hash, boolInt(rec.Migrated), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("docstore: insert %s: %w", rec.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("docstore: insert: %w", err)
	}
	return nil
}

// Get returns the record for id, or apperr.ErrNotFound.
func (db *DB) Get(id uuid.UUID) (*Record, error) {
	row := db.conn.QueryRow(`
		SELECT id, title, plain_text, archive, hash, migrated, created_at, updated_at
		FROM documents WHERE id = ?
	`, id.String())
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("docstore: get %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("docstore: get %s: %w", id, err)
	}
	return rec, nil
}

// List returns every record ordered by most recent update.
func (db *DB) List() ([]Record, error) {
	rows, err := db.conn.Query(`
		SELECT id, title, plain_text, archive, hash, migrated, created_at, updated_at
		FROM documents ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("docstore: list scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// UpdateArchive persists a new archive blob together with its hash and the
// derived title/plain text. The record's updated_at moves to now.
func (db *DB) UpdateArchive(id uuid.UUID, archiveBlob []byte, hash, title, plainText string) error {
	res, err := db.conn.Exec(`
		UPDATE documents
		SET archive = ?, hash = ?, title = ?, plain_text = ?, updated_at = ?
		WHERE id = ?
	`, archiveBlob, hash, title, plainText, time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("docstore: update archive %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("docstore: update archive %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// Delete removes a record and any pending legacy attachments.
func (db *DB) Delete(id uuid.UUID) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, _ = tx.Exec(`DELETE FROM legacy_attachments WHERE document_id = ?`, id.String())
	res, err := tx.Exec(`DELETE FROM documents WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("docstore: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore: delete %s: %w", id, apperr.ErrNotFound)
	}
	return tx.Commit()
}

// LegacyAttachments returns the legacy inline blobs for a document in their
// original order. Empty once migration has cleared them.
func (db *DB) LegacyAttachments(id uuid.UUID) ([]LegacyAttachment, error) {
	rows, err := db.conn.Query(`
		SELECT seq, mime, data FROM legacy_attachments
		WHERE document_id = ? ORDER BY seq
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("docstore: legacy attachments %s: %w", id, err)
	}
	defer rows.Close()

	var out []LegacyAttachment
	for rows.Next() {
		var a LegacyAttachment
		if err := rows.Scan(&a.Seq, &a.MIME, &a.Data); err != nil {
			return nil, fmt.Errorf("docstore: legacy scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PutLegacyAttachments stores legacy inline blobs for a document, replacing
// any existing set. Used by import tooling and tests to construct documents
// in the superseded representation.
func (db *DB) PutLegacyAttachments(id uuid.UUID, atts []LegacyAttachment) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("docstore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, _ = tx.Exec(`DELETE FROM legacy_attachments WHERE document_id = ?`, id.String())
	stmt, err := tx.Prepare(`INSERT INTO legacy_attachments (document_id, seq, mime, data) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("docstore: prepare legacy insert: %w", err)
	}
	defer stmt.Close()
	for _, a := range atts {
		if _, err := stmt.Exec(id.String(), a.Seq, a.MIME, a.Data); err != nil {
			return fmt.Errorf("docstore: insert legacy blob: %w", err)
		}
	}
	return tx.Commit()
}

// ClearLegacyAttachments drops a document's legacy blobs. Called only after
// the migration flag is set, which is what makes migration crash-safe.
func (db *DB) ClearLegacyAttachments(id uuid.UUID) error {
	if _, err := db.conn.Exec(`DELETE FROM legacy_attachments WHERE document_id = ?`, id.String()); err != nil {
		return fmt.Errorf("docstore: clear legacy %s: %w", id, err)
	}
	return nil
}

// SetMigrated marks a document's legacy migration complete. Once set,
// migration is never retried.
func (db *DB) SetMigrated(id uuid.UUID) error {
	res, err := db.conn.Exec(`UPDATE documents SET migrated = 1 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("docstore: set migrated %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("docstore: set migrated %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var idStr string
	var migrated int
	if err := row.Scan(&idStr, &rec.Title, &rec.PlainText, &rec.Archive, &rec.Hash, &migrated, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", idStr, err)
	}
	rec.ID = id
	rec.Migrated = migrated != 0
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// go-sqlite3 reports constraint violations with this message prefix;
	// matching on it avoids depending on driver error codes.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
