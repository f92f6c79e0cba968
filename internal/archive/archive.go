// Package archive implements the versioned binary encoding of a token
// stream, plus the content hash used for no-op save detection.
//
// Version 2 (current) layout:
//
//	[version byte][uvarint token count]
//	per token: [kind byte][uvarint payload length][payload]
//
// Self-delimiting payloads let a decoder skip token kinds it does not
// recognize: such tokens degrade to inert Unknown tokens instead of failing
// the whole load, and their tag and payload bytes are written back verbatim
// on the next save, so a document written by newer code survives a
// downgrade without losing content.
//
// Version 1 (superseded) stored attachment payloads inline as parallel
// arrays next to the document record; its attachment tokens carry an index
// into those arrays rather than a stable id. Version-1 blobs are decoded for
// migration only; Encode always writes version 2.
package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ashfell/inkwell/internal/apperr"
	"github.com/ashfell/inkwell/internal/richtext"
	"github.com/ashfell/inkwell/internal/token"
)

const (
	// VersionLegacy is the superseded inline-attachment format.
	VersionLegacy = 0x01
	// Version is the current placeholder-token format.
	Version = 0x02
)

const (
	flagBold      = 1 << 0
	flagItalic    = 1 << 1
	flagUnderline = 1 << 2
	flagStrike    = 1 << 3
)

// Encode serializes a stream in the current format. The output is
// deterministic: equal streams produce byte-identical blobs.
func Encode(s token.Stream) []byte {
	var buf bytes.Buffer
	buf.WriteByte(Version)
	writeUvarint(&buf, uint64(len(s)))
	for _, t := range s {
		buf.WriteByte(wireKind(t))
		payload := encodePayload(t)
		writeUvarint(&buf, uint64(len(payload)))
		buf.Write(payload)
	}
	return buf.Bytes()
}

// wireKind returns the kind tag to write for a token. Unknown tokens keep
// the tag they were read with so a resave reproduces them byte for byte.
func wireKind(t token.Token) byte {
	if t.Kind == token.Unknown && t.RawKind != 0 {
		return t.RawKind
	}
	return byte(t.Kind)
}

func encodePayload(t token.Token) []byte {
	var p bytes.Buffer
	switch t.Kind {
	case token.Text:
		p.WriteByte(byte(t.Style.Font))
		p.WriteByte(byte(t.Style.Color))
		p.WriteByte(styleFlags(t.Style))
		p.WriteString(t.Text)
	case token.Image, token.AnimatedImage, token.FileBlob:
		id := t.AttachmentID
		p.Write(id[:])
		writeUvarint(&p, uint64(t.Bounds.W))
		writeUvarint(&p, uint64(t.Bounds.H))
		writeUvarint(&p, uint64(len(t.MIME)))
		p.WriteString(t.MIME)
	case token.Checkbox:
		id := t.AttachmentID
		p.Write(id[:])
		if t.Checked {
			p.WriteByte(1)
		} else {
			p.WriteByte(0)
		}
	case token.Unknown:
		// Written by a format revision this code does not understand;
		// emit the payload exactly as it was read.
		p.Write(t.Raw)
	}
	return p.Bytes()
}

func styleFlags(st richtext.Style) byte {
	var f byte
	if st.Bold {
		f |= flagBold
	}
	if st.Italic {
		f |= flagItalic
	}
	if st.Underline {
		f |= flagUnderline
	}
	if st.Strike {
		f |= flagStrike
	}
	return f
}

// Decode parses a blob of any supported version. Unrecognized versions and
// truncated layouts fail with apperr.ErrFormat; unrecognized token kinds
// within a supported version decode as inert Unknown tokens.
func Decode(blob []byte) (token.Stream, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("archive: empty blob: %w", apperr.ErrFormat)
	}
	switch blob[0] {
	case Version:
		return decodeTokens(blob[1:], false)
	case VersionLegacy:
		return decodeTokens(blob[1:], true)
	default:
		return nil, fmt.Errorf("archive: version %#x: %w", blob[0], apperr.ErrFormat)
	}
}

// DetectVersion returns the format version tag of a blob.
func DetectVersion(blob []byte) (byte, error) {
	if len(blob) == 0 {
		return 0, fmt.Errorf("archive: empty blob: %w", apperr.ErrFormat)
	}
	switch blob[0] {
	case Version, VersionLegacy:
		return blob[0], nil
	}
	return 0, fmt.Errorf("archive: version %#x: %w", blob[0], apperr.ErrFormat)
}

func decodeTokens(b []byte, legacy bool) (token.Stream, error) {
	r := &reader{b: b}
	count, err := r.uvarint("token count")
	if err != nil {
		return nil, err
	}
	if count > uint64(len(b)) {
		// A count exceeding the remaining bytes cannot be honest.
		return nil, fmt.Errorf("archive: implausible token count %d: %w", count, apperr.ErrFormat)
	}
	out := make(token.Stream, 0, count)
	for i := uint64(0); i < count; i++ {
		kind, err := r.byte("token kind")
		if err != nil {
			return nil, err
		}
		plen, err := r.uvarint("payload length")
		if err != nil {
			return nil, err
		}
		payload, err := r.take(int(plen), "payload")
		if err != nil {
			return nil, err
		}
		t, err := decodePayload(token.Kind(kind), payload, legacy)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func decodePayload(kind token.Kind, payload []byte, legacy bool) (token.Token, error) {
	r := &reader{b: payload}
	switch kind {
	case token.Text:
		font, err := r.byte("font role")
		if err != nil {
			return token.Token{}, err
		}
		color, err := r.byte("color role")
		if err != nil {
			return token.Token{}, err
		}
		flags, err := r.byte("style flags")
		if err != nil {
			return token.Token{}, err
		}
		return token.Token{
			Kind: token.Text,
			Text: string(r.rest()),
			Style: richtext.Style{
				Font:      richtext.FontRole(font),
				Color:     richtext.ColorRole(color),
				Bold:      flags&flagBold != 0,
				Italic:    flags&flagItalic != 0,
				Underline: flags&flagUnderline != 0,
				Strike:    flags&flagStrike != 0,
			},
		}, nil

	case token.Image, token.AnimatedImage, token.FileBlob:
		t := token.Token{Kind: kind}
		if legacy {
			idx, err := r.uvarint("legacy blob index")
			if err != nil {
				return token.Token{}, err
			}
			t.LegacyIndex = int(idx)
		} else {
			raw, err := r.take(16, "attachment id")
			if err != nil {
				return token.Token{}, err
			}
			copy(t.AttachmentID[:], raw)
		}
		w, err := r.uvarint("bounds width")
		if err != nil {
			return token.Token{}, err
		}
		h, err := r.uvarint("bounds height")
		if err != nil {
			return token.Token{}, err
		}
		t.Bounds = richtext.Bounds{W: uint32(w), H: uint32(h)}
		mlen, err := r.uvarint("mime length")
		if err != nil {
			return token.Token{}, err
		}
		mime, err := r.take(int(mlen), "mime")
		if err != nil {
			return token.Token{}, err
		}
		t.MIME = string(mime)
		return t, nil

	case token.Checkbox:
		t := token.Token{Kind: token.Checkbox}
		if !legacy {
			raw, err := r.take(16, "attachment id")
			if err != nil {
				return token.Token{}, err
			}
			copy(t.AttachmentID[:], raw)
		}
		checked, err := r.byte("checked state")
		if err != nil {
			return token.Token{}, err
		}
		t.Checked = checked != 0
		return t, nil

	default:
		// Forward compatibility: a kind from a newer revision. The
		// payload length already consumed it, so the rest of the
		// stream stays decodable; tag and payload are kept so Encode
		// can write the token back untouched.
		return token.Token{
			Kind:    token.Unknown,
			RawKind: byte(kind),
			Raw:     append([]byte(nil), payload...),
		}, nil
	}
}

// EncodeLegacy writes the superseded version-1 layout, in which attachment
// tokens reference the document's parallel blob arrays by LegacyIndex.
// Retained for import tooling and migration tests.
func EncodeLegacy(s token.Stream) []byte {
	var buf bytes.Buffer
	buf.WriteByte(VersionLegacy)
	writeUvarint(&buf, uint64(len(s)))
	for _, t := range s {
		buf.WriteByte(wireKind(t))
		var p bytes.Buffer
		switch t.Kind {
		case token.Text:
			p.WriteByte(byte(t.Style.Font))
			p.WriteByte(byte(t.Style.Color))
			p.WriteByte(styleFlags(t.Style))
			p.WriteString(t.Text)
		case token.Image, token.AnimatedImage, token.FileBlob:
			writeUvarint(&p, uint64(t.LegacyIndex))
			writeUvarint(&p, uint64(t.Bounds.W))
			writeUvarint(&p, uint64(t.Bounds.H))
			writeUvarint(&p, uint64(len(t.MIME)))
			p.WriteString(t.MIME)
		case token.Checkbox:
			if t.Checked {
				p.WriteByte(1)
			} else {
				p.WriteByte(0)
			}
		case token.Unknown:
			p.Write(t.Raw)
		}
		writeUvarint(&buf, uint64(p.Len()))
		buf.Write(p.Bytes())
	}
	return buf.Bytes()
}

// Hash returns the hex SHA-256 digest of a blob. It is an equality check
// between successive saves, not an integrity guarantee: the write is skipped
// when the hash matches the previously persisted one.
func Hash(blob []byte) string {
	h := sha256.Sum256(blob)
	return hex.EncodeToString(h[:])
}

// HashStream is shorthand for Hash(Encode(s)).
func HashStream(s token.Stream) string {
	return Hash(Encode(s))
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// reader is a bounds-checked cursor over a byte slice; every failure wraps
// apperr.ErrFormat with the field being read.
type reader struct {
	b   []byte
	pos int
}

func (r *reader) byte(field string) (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("archive: truncated at %s: %w", field, apperr.ErrFormat)
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) uvarint(field string) (uint64, error) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("archive: truncated at %s: %w", field, apperr.ErrFormat)
	}
	r.pos += n
	return v, nil
}

func (r *reader) take(n int, field string) ([]byte, error) {
	// n > len-pos rather than pos+n > len: a huge declared length must not
	// overflow the addition and slip past the check.
	if n < 0 || n > len(r.b)-r.pos {
		return nil, fmt.Errorf("archive: truncated at %s: %w", field, apperr.ErrFormat)
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) rest() []byte {
	v := r.b[r.pos:]
	r.pos = len(r.b)
	return v
}
