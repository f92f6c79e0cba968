// Package token flattens the rich text model into the serialization-safe
// token stream: alternating text tokens and attachment placeholders. Binary
// payloads never cross this boundary.
package token

import (
	"bytes"
	"errors"

	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/apperr"
	"github.com/ashfell/inkwell/internal/richtext"
)

// Kind discriminates token variants. Values are part of the archive wire
// format and must not be renumbered.
type Kind uint8

const (
	Text Kind = iota + 1
	Image
	AnimatedImage
	FileBlob
	Checkbox

	// Unknown is the inert stand-in for a token kind written by a newer
	// format revision. It keeps the original kind tag and payload bytes so
	// a resave loses nothing, but it renders as nothing.
	Unknown Kind = 0xFF
)

// FileBacked reports whether tokens of this kind reference a durable file.
func (k Kind) FileBacked() bool {
	return k == Image || k == AnimatedImage || k == FileBlob
}

// Token is either a styled text segment or an attachment placeholder.
type Token struct {
	Kind Kind

	// Text fields (Kind == Text).
	Text  string
	Style richtext.Style

	// Attachment fields (Kind in Image/AnimatedImage/FileBlob/Checkbox).
	AttachmentID uuid.UUID
	MIME         string
	Bounds       richtext.Bounds
	Checked      bool

	// LegacyIndex is the position into the parallel blob arrays of a
	// version-1 archive. Populated only while decoding legacy documents;
	// migration replaces it with a generated AttachmentID.
	LegacyIndex int

	// Unknown fields (Kind == Unknown). RawKind is the wire kind tag this
	// code did not recognize and Raw its payload bytes, so a resave writes
	// the token back exactly as it was read.
	RawKind byte
	Raw     []byte
}

// Stream is the ordered token sequence of one document.
type Stream []Token

// Tokenize flattens a model left to right. Adjacent runs sharing an
// identical style coalesce into one text token; attachment payloads are
// stripped, leaving only the id and declared type. Deterministic: the same
// model always yields the same stream.
func Tokenize(m *richtext.Model) Stream {
	var out Stream
	for _, sp := range m.Spans {
		switch {
		case sp.Run != nil:
			if sp.Run.Text == "" {
				continue
			}
			if n := len(out); n > 0 && out[n-1].Kind == Text && out[n-1].Style == sp.Run.Style {
				out[n-1].Text += sp.Run.Text
				continue
			}
			out = append(out, Token{Kind: Text, Text: sp.Run.Text, Style: sp.Run.Style})
		case sp.Attachment != nil:
			a := sp.Attachment
			out = append(out, Token{
				Kind:         attachmentKind(a.Kind),
				AttachmentID: a.ID,
				MIME:         a.MIME,
				Bounds:       a.Bounds,
				Checked:      a.Checked,
			})
		case sp.Unknown != nil:
			out = append(out, Token{
				Kind:    Unknown,
				RawKind: sp.Unknown.Kind,
				Raw:     sp.Unknown.Data,
			})
		}
	}
	return out
}

func attachmentKind(k richtext.AttachmentKind) Kind {
	switch k {
	case richtext.Image:
		return Image
	case richtext.AnimatedImage:
		return AnimatedImage
	case richtext.FileBlob:
		return FileBlob
	case richtext.Checkbox:
		return Checkbox
	}
	return Unknown
}

func modelKind(k Kind) richtext.AttachmentKind {
	switch k {
	case Image:
		return richtext.Image
	case AnimatedImage:
		return richtext.AnimatedImage
	case FileBlob:
		return richtext.FileBlob
	case Checkbox:
		return richtext.Checkbox
	}
	return 0
}

// Resolver maps an attachment id to its loaded payload. Implementations
// return apperr.ErrNotFound when no payload exists; Detokenize degrades such
// attachments to inert placeholders rather than failing the document.
type Resolver interface {
	Resolve(id uuid.UUID) ([]byte, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(id uuid.UUID) ([]byte, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(id uuid.UUID) ([]byte, error) { return f(id) }

// Detokenize rebuilds a rich text model from a stream. Payloads are loaded
// through r, which lets attachment bytes arrive asynchronously after the
// text structure is already built; a nil r leaves every file-backed
// attachment unavailable. Unknown tokens become inert unknown spans that
// carry their wire bytes, so a later save re-emits them verbatim.
func Detokenize(s Stream, r Resolver) *richtext.Model {
	m := &richtext.Model{}
	for _, t := range s {
		switch t.Kind {
		case Text:
			m.Spans = append(m.Spans, richtext.Span{Run: &richtext.Run{Text: t.Text, Style: t.Style}})
		case Image, AnimatedImage, FileBlob, Checkbox:
			a := &richtext.Attachment{
				ID:      t.AttachmentID,
				Kind:    modelKind(t.Kind),
				MIME:    t.MIME,
				Bounds:  t.Bounds,
				Checked: t.Checked,
			}
			if t.Kind.FileBacked() {
				loadPayload(a, r)
			}
			m.Spans = append(m.Spans, richtext.Span{Attachment: a})
		case Unknown:
			m.Spans = append(m.Spans, richtext.Span{Unknown: &richtext.UnknownSpan{
				Kind: t.RawKind,
				Data: t.Raw,
			}})
		}
	}
	return m
}

func loadPayload(a *richtext.Attachment, r Resolver) {
	if r == nil {
		a.Unavailable = true
		return
	}
	data, err := r.Resolve(a.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			a.Unavailable = true
			return
		}
		// Transient load failure: also degrade to a placeholder.
		a.Unavailable = true
		return
	}
	a.Payload = data
}

// FileBackedIDs returns the ids of every token referencing a durable file,
// in stream order. Checkbox ids are excluded.
func (s Stream) FileBackedIDs() []uuid.UUID {
	var out []uuid.UUID
	for _, t := range s {
		if t.Kind.FileBacked() {
			out = append(out, t.AttachmentID)
		}
	}
	return out
}

// PlainText concatenates the stream's text tokens.
func (s Stream) PlainText() string {
	var out []byte
	for _, t := range s {
		if t.Kind == Text {
			out = append(out, t.Text...)
		}
	}
	return string(out)
}

// Equal reports whether two streams are identical token for token.
func (s Stream) Equal(other Stream) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if !s[i].equal(other[i]) {
			return false
		}
	}
	return true
}

func (a Token) equal(b Token) bool {
	return a.Kind == b.Kind &&
		a.Text == b.Text &&
		a.Style == b.Style &&
		a.AttachmentID == b.AttachmentID &&
		a.MIME == b.MIME &&
		a.Bounds == b.Bounds &&
		a.Checked == b.Checked &&
		a.LegacyIndex == b.LegacyIndex &&
		a.RawKind == b.RawKind &&
		bytes.Equal(a.Raw, b.Raw)
}
