package archive

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/ashfell/inkwell/internal/apperr"
	"github.com/ashfell/inkwell/internal/richtext"
	"github.com/ashfell/inkwell/internal/token"
)

func sampleStream() token.Stream {
	return token.Stream{
		{Kind: token.Text, Text: "Trip notes", Style: richtext.Style{Font: richtext.FontTitle, Bold: true}},
		{
			Kind:         token.Image,
			AttachmentID: uuid.MustParse("7f2c1a9e-3b4d-4c5e-8f10-213243546576"),
			MIME:         "image/png",
			Bounds:       richtext.Bounds{W: 320, H: 240},
		},
		{Kind: token.Text, Text: "with a caption", Style: richtext.Style{Font: richtext.FontCaption, Color: richtext.ColorMuted}},
		{Kind: token.Checkbox, AttachmentID: uuid.MustParse("0b1c2d3e-4f50-6172-8394-a5b6c7d8e9f0"), Checked: true},
	}
}

func TestRoundTrip(t *testing.T) {
	want := sampleStream()
	got, err := Decode(Encode(want))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("round trip changed the stream:\n got %+v\nwant %+v", got, want)
	}
}

func TestEncodeDeterministic(t *testing.T) {
	s := sampleStream()
	if string(Encode(s)) != string(Encode(s)) {
		t.Error("encoding the same stream twice produced different bytes")
	}
}

func TestHashStableAndSensitive(t *testing.T) {
	s := sampleStream()
	if HashStream(s) != HashStream(s) {
		t.Fatal("hash of an unchanged stream differed")
	}

	edited := sampleStream()
	edited[0].Text += "!"
	if HashStream(s) == HashStream(edited) {
		t.Error("hash did not change after an edit")
	}

	toggled := sampleStream()
	toggled[3].Checked = false
	if HashStream(s) == HashStream(toggled) {
		t.Error("hash did not change after a checkbox toggle")
	}
}

func TestDecodeEmptyBlob(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, apperr.ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDecodeUnknownVersion(t *testing.T) {
	if _, err := Decode([]byte{0x7E, 0x00}); !errors.Is(err, apperr.ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDecodeTruncated(t *testing.T) {
	blob := Encode(sampleStream())
	for _, cut := range []int{1, 2, len(blob) / 2, len(blob) - 1} {
		if _, err := Decode(blob[:cut]); !errors.Is(err, apperr.ErrFormat) {
			t.Errorf("cut at %d: err = %v, want ErrFormat", cut, err)
		}
	}
}

func TestDecodeHugePayloadLength(t *testing.T) {
	// One text token claiming a payload of 2^63-1 bytes. The declared
	// length must fail the bounds check cleanly, not overflow it.
	blob := []byte{Version, 1, byte(token.Text)}
	blob = append(blob, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x7F)
	if _, err := Decode(blob); !errors.Is(err, apperr.ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDecodeImplausibleCount(t *testing.T) {
	blob := []byte{Version, 0xFF, 0xFF, 0xFF, 0x7F}
	if _, err := Decode(blob); !errors.Is(err, apperr.ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}

func TestDecodeUnknownKindSkipsPayload(t *testing.T) {
	// A token kind from a hypothetical future revision with an opaque
	// payload, followed by a normal text token. The length prefix must
	// carry the decoder past the foreign bytes.
	blob := []byte{
		Version, 2,
		0x42, 3, 0xAA, 0xBB, 0xCC,
	}
	rest := Encode(token.Stream{{Kind: token.Text, Text: "after"}})
	blob = append(blob, rest[2:]...) // strip version and count

	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Kind != token.Unknown {
		t.Errorf("got[0].Kind = %#x, want Unknown", got[0].Kind)
	}
	if got[0].RawKind != 0x42 || !bytes.Equal(got[0].Raw, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("got[0] kept tag %#x payload %x, want 0x42 aabbcc", got[0].RawKind, got[0].Raw)
	}
	if got[1].Kind != token.Text || got[1].Text != "after" {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestUnknownTokenRoundTrips(t *testing.T) {
	s := token.Stream{
		{Kind: token.Unknown, RawKind: 0x42, Raw: []byte{0xAA, 0xBB, 0xCC}},
		{Kind: token.Text, Text: "x"},
	}
	got, err := Decode(Encode(s))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Equal(s) {
		t.Errorf("got %+v, want %+v", got, s)
	}
}

func TestUnknownTokenReencodesVerbatim(t *testing.T) {
	// A blob holding a foreign token must survive decode and re-encode
	// byte for byte, tag and payload included.
	blob := []byte{
		Version, 2,
		0x09, 3, 'x', 'y', 'z',
	}
	rest := Encode(token.Stream{{Kind: token.Text, Text: "keep"}})
	blob = append(blob, rest[2:]...)

	s, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := Encode(s); !bytes.Equal(got, blob) {
		t.Errorf("re-encode = %x, want %x", got, blob)
	}
}

func TestDetectVersion(t *testing.T) {
	if v, err := DetectVersion(Encode(nil)); err != nil || v != Version {
		t.Errorf("current blob: v=%#x err=%v", v, err)
	}
	if v, err := DetectVersion(EncodeLegacy(nil)); err != nil || v != VersionLegacy {
		t.Errorf("legacy blob: v=%#x err=%v", v, err)
	}
	if _, err := DetectVersion([]byte{0x09}); !errors.Is(err, apperr.ErrFormat) {
		t.Errorf("bad version: err = %v, want ErrFormat", err)
	}
}

func TestDecodeLegacy(t *testing.T) {
	legacy := token.Stream{
		{Kind: token.Text, Text: "old note", Style: richtext.Style{Italic: true}},
		{Kind: token.Image, LegacyIndex: 0, MIME: "image/jpeg", Bounds: richtext.Bounds{W: 64, H: 64}},
		{Kind: token.FileBlob, LegacyIndex: 1, MIME: "application/pdf"},
		{Kind: token.Checkbox, Checked: true},
	}

	got, err := Decode(EncodeLegacy(legacy))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.Equal(legacy) {
		t.Errorf("legacy round trip changed the stream:\n got %+v\nwant %+v", got, legacy)
	}
	// Legacy attachments have no stable id yet.
	if got[1].AttachmentID != uuid.Nil {
		t.Errorf("legacy attachment id = %s, want nil", got[1].AttachmentID)
	}
}

func TestDecodeTextStyleFlags(t *testing.T) {
	s := token.Stream{{
		Kind: token.Text,
		Text: "all on",
		Style: richtext.Style{
			Bold: true, Italic: true, Underline: true, Strike: true,
		},
	}}
	got, err := Decode(Encode(s))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got[0].Style != s[0].Style {
		t.Errorf("style = %+v, want %+v", got[0].Style, s[0].Style)
	}
}
