package token

import (
	"bytes"
	"testing"

	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/apperr"
	"github.com/ashfell/inkwell/internal/richtext"
)

func TestTokenizeCoalescesSameStyleRuns(t *testing.T) {
	bold := richtext.Style{Bold: true}
	m := (&richtext.Model{}).
		Text("Hello ", richtext.Style{}).
		Text("wor", bold).
		Text("ld", bold).
		Text("!", richtext.Style{})

	s := Tokenize(m)
	if len(s) != 3 {
		t.Fatalf("len = %d, want 3 (adjacent bold runs should coalesce)", len(s))
	}
	if s[1].Text != "world" || !s[1].Style.Bold {
		t.Errorf("middle token = %+v", s[1])
	}
}

func TestTokenizeSkipsEmptyRuns(t *testing.T) {
	m := (&richtext.Model{}).Text("", richtext.Style{}).Text("a", richtext.Style{})
	s := Tokenize(m)
	if len(s) != 1 || s[0].Text != "a" {
		t.Fatalf("stream = %+v", s)
	}
}

func TestTokenizeStripsPayloads(t *testing.T) {
	m := &richtext.Model{}
	m.Text("before", richtext.Style{})
	m.Attach(&richtext.Attachment{
		ID:      uuid.New(),
		Kind:    richtext.Image,
		MIME:    "image/png",
		Payload: []byte{0xDE, 0xAD},
	})

	s := Tokenize(m)
	if len(s) != 2 {
		t.Fatalf("len = %d, want 2", len(s))
	}
	if s[1].Kind != Image || s[1].MIME != "image/png" {
		t.Errorf("attachment token = %+v", s[1])
	}
}

func TestTokenizeDeterministic(t *testing.T) {
	m := &richtext.Model{}
	m.Text("abc", richtext.Style{Italic: true})
	m.Attach(&richtext.Attachment{ID: uuid.New(), Kind: richtext.Checkbox, Checked: true})
	m.Text("def", richtext.Style{})

	a, b := Tokenize(m), Tokenize(m)
	if !a.Equal(b) {
		t.Error("tokenizing the same model twice differed")
	}
}

func TestFileBackedIDsExcludesCheckboxes(t *testing.T) {
	img, box := uuid.New(), uuid.New()
	s := Stream{
		{Kind: Image, AttachmentID: img},
		{Kind: Checkbox, AttachmentID: box, Checked: true},
	}
	ids := s.FileBackedIDs()
	if len(ids) != 1 || ids[0] != img {
		t.Errorf("ids = %v, want [%s]", ids, img)
	}
}

func TestDetokenizeResolvesPayloads(t *testing.T) {
	id := uuid.New()
	payload := []byte("gif bytes")
	s := Stream{
		{Kind: Text, Text: "hi"},
		{Kind: AnimatedImage, AttachmentID: id, MIME: "image/gif"},
	}

	m := Detokenize(s, ResolverFunc(func(got uuid.UUID) ([]byte, error) {
		if got != id {
			t.Errorf("resolver got %s, want %s", got, id)
		}
		return payload, nil
	}))

	att := m.FindAttachment(id)
	if att == nil {
		t.Fatal("attachment missing from model")
	}
	if !bytes.Equal(att.Payload, payload) {
		t.Errorf("payload = %q", att.Payload)
	}
	if att.Unavailable {
		t.Error("resolved attachment marked unavailable")
	}
}

func TestDetokenizeMissingPayloadDegradesToPlaceholder(t *testing.T) {
	id := uuid.New()
	s := Stream{{Kind: FileBlob, AttachmentID: id, MIME: "application/pdf"}}

	m := Detokenize(s, ResolverFunc(func(uuid.UUID) ([]byte, error) {
		return nil, apperr.ErrNotFound
	}))

	att := m.FindAttachment(id)
	if att == nil {
		t.Fatal("attachment missing from model")
	}
	if !att.Unavailable {
		t.Error("missing payload should mark the attachment unavailable")
	}
}

func TestDetokenizeCheckboxNeedsNoResolver(t *testing.T) {
	id := uuid.New()
	s := Stream{{Kind: Checkbox, AttachmentID: id, Checked: true}}

	m := Detokenize(s, nil)
	att := m.FindAttachment(id)
	if att == nil || !att.Checked {
		t.Fatalf("checkbox = %+v", att)
	}
	if att.Unavailable {
		t.Error("checkboxes are never file-backed and never unavailable")
	}
}

func TestModelRoundTrip(t *testing.T) {
	id := uuid.New()
	m := &richtext.Model{}
	m.Text("styled ", richtext.Style{Font: richtext.FontHeading, Underline: true})
	m.Attach(&richtext.Attachment{ID: id, Kind: richtext.Image, MIME: "image/png", Bounds: richtext.Bounds{W: 100, H: 60}})
	m.Text("tail", richtext.Style{})

	got := Detokenize(Tokenize(m), ResolverFunc(func(uuid.UUID) ([]byte, error) {
		return []byte("img"), nil
	}))

	if got.PlainText() != m.PlainText() {
		t.Errorf("plain text = %q, want %q", got.PlainText(), m.PlainText())
	}
	att := got.FindAttachment(id)
	if att == nil || att.Bounds != (richtext.Bounds{W: 100, H: 60}) {
		t.Errorf("attachment = %+v", att)
	}
}

func TestUnknownTokensSurviveModelRoundTrip(t *testing.T) {
	// Tokens from a newer format revision flow through the model as inert
	// unknown spans; detokenizing and tokenizing again must not shed them
	// or their bytes.
	s := Stream{
		{Kind: Text, Text: "before"},
		{Kind: Unknown, RawKind: 0x09, Raw: []byte("xyz")},
		{Kind: Text, Text: "after"},
	}

	got := Tokenize(Detokenize(s, nil))
	if !got.Equal(s) {
		t.Fatalf("got %+v, want %+v", got, s)
	}
	if got[1].RawKind != 0x09 || !bytes.Equal(got[1].Raw, []byte("xyz")) {
		t.Errorf("unknown token = %+v", got[1])
	}
}
