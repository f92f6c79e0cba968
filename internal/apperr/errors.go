// Package apperr defines sentinel errors shared across Inkwell components.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a document record or attachment file
	// does not exist. A missing attachment file is local to the attachment
	// (it degrades to an inert placeholder) and never fails the document.
	ErrNotFound = errors.New("not found")

	// ErrFormat is returned when an archive blob cannot be decoded: the
	// version tag is unrecognized or the byte layout is truncated.
	ErrFormat = errors.New("unrecognized archive format")

	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)
