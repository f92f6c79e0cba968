// Package richtext defines the in-memory editable document model: styled
// text runs interleaved with inline attachment references.
package richtext

import "github.com/google/uuid"

// FontRole identifies the semantic role of a run's font.
type FontRole uint8

const (
	FontBody FontRole = iota
	FontTitle
	FontHeading
	FontCaption
	FontMono
)

// ColorRole identifies the semantic color of a run.
type ColorRole uint8

const (
	ColorDefault ColorRole = iota
	ColorAccent
	ColorMuted
)

// Style describes the formatting of a text run.
type Style struct {
	Font      FontRole  `json:"font"`
	Color     ColorRole `json:"color"`
	Bold      bool      `json:"bold,omitempty"`
	Italic    bool      `json:"italic,omitempty"`
	Underline bool      `json:"underline,omitempty"`
	Strike    bool      `json:"strike,omitempty"`
}

// Run is a contiguous text span with one style. Runs are recomputed on each
// edit, never mutated in place.
type Run struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
}

// AttachmentKind enumerates inline object types.
type AttachmentKind uint8

const (
	Image AttachmentKind = iota + 1
	AnimatedImage
	FileBlob
	Checkbox
)

// FileBacked reports whether attachments of this kind carry a durable file.
// Checkboxes are structural markers, never backed by a file.
func (k AttachmentKind) FileBacked() bool {
	return k == Image || k == AnimatedImage || k == FileBlob
}

// Bounds is a display size hint in points.
type Bounds struct {
	W uint32 `json:"w"`
	H uint32 `json:"h"`
}

// Attachment is an inline object reference. The ID is generated once at
// insertion and is unique within the document for its lifetime; it is never
// reused after deletion.
type Attachment struct {
	ID     uuid.UUID      `json:"id"`
	Kind   AttachmentKind `json:"kind"`
	MIME   string         `json:"mime,omitempty"`
	Bounds Bounds         `json:"bounds,omitempty"`

	// Checked is the checkbox state; meaningful only for Checkbox.
	Checked bool `json:"checked,omitempty"`

	// Payload is the decoded in-memory content, resident only while the
	// attachment lives in the editing buffer. It never enters the archive.
	Payload []byte `json:"-"`

	// Unavailable marks an attachment whose durable file is missing. It
	// renders as an inert placeholder and does not fail the document.
	Unavailable bool `json:"unavailable,omitempty"`

	// Frame state for animated images, advanced by the frame scheduler.
	FrameIndex int `json:"frame_index,omitempty"`
	FrameCount int `json:"frame_count,omitempty"`
}

// UnknownSpan carries a token written by a newer format revision. The model
// cannot render it, but it keeps the original kind tag and payload bytes so
// that a resave writes them back unchanged.
type UnknownSpan struct {
	Kind byte   `json:"kind"`
	Data []byte `json:"-"`
}

// Span is one element of the model: exactly one of Run, Attachment or
// Unknown is set.
type Span struct {
	Run        *Run         `json:"run,omitempty"`
	Attachment *Attachment  `json:"attachment,omitempty"`
	Unknown    *UnknownSpan `json:"unknown,omitempty"`
}

// Model is the ordered sequence of spans forming a document body.
type Model struct {
	Spans []Span `json:"spans"`
}

// Text appends a styled text span.
func (m *Model) Text(text string, style Style) *Model {
	m.Spans = append(m.Spans, Span{Run: &Run{Text: text, Style: style}})
	return m
}

// Attach appends an attachment span.
func (m *Model) Attach(a *Attachment) *Model {
	m.Spans = append(m.Spans, Span{Attachment: a})
	return m
}

// PlainText returns the concatenated text content, with attachments elided.
func (m *Model) PlainText() string {
	var out []byte
	for _, sp := range m.Spans {
		if sp.Run != nil {
			out = append(out, sp.Run.Text...)
		}
	}
	return string(out)
}

// Length returns the total number of text bytes in the model. Used by the
// persistence scheduler to scale the debounce for large documents.
func (m *Model) Length() int {
	n := 0
	for _, sp := range m.Spans {
		if sp.Run != nil {
			n += len(sp.Run.Text)
		}
	}
	return n
}

// FindAttachment returns the attachment with the given id, or nil.
func (m *Model) FindAttachment(id uuid.UUID) *Attachment {
	for _, sp := range m.Spans {
		if sp.Attachment != nil && sp.Attachment.ID == id {
			return sp.Attachment
		}
	}
	return nil
}

// RemoveAttachment deletes the span holding the given attachment id.
// It reports whether a span was removed.
func (m *Model) RemoveAttachment(id uuid.UUID) bool {
	for i, sp := range m.Spans {
		if sp.Attachment != nil && sp.Attachment.ID == id {
			m.Spans = append(m.Spans[:i], m.Spans[i+1:]...)
			return true
		}
	}
	return false
}

// FromPlainText builds a single-run model from unstyled text. Used as the
// fallback when a stored archive cannot be decoded.
func FromPlainText(text string) *Model {
	m := &Model{}
	if text != "" {
		m.Text(text, Style{})
	}
	return m
}
