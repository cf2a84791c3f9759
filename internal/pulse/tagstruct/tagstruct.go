// Package tagstruct implements the self-delimiting, typed wire encoding
// used for every command and reply argument list: a sequence of
// ⟨tag byte⟩⟨payload⟩ values. Tag byte values are preserved bit-exact with
// the reference wire format so an unmodified peer can still parse them.
package tagstruct

import (
	"bytes"
	"fmt"
	"io"

	perr "github.com/alxayo/pulsenative/internal/errors"
)

// Tag identifies the type of the value that follows it on the wire.
type Tag byte

const (
	TagString      Tag = 't'
	TagStringNull  Tag = 'N'
	TagU32         Tag = 'L'
	TagU8          Tag = 'B'
	TagU64         Tag = 'R'
	TagS64         Tag = 'r'
	TagSampleSpec  Tag = 'a'
	TagArbitrary   Tag = 'x'
	TagBooleanTrue Tag = '1'
	TagBoolean     Tag = '0'
	TagTimeval     Tag = 'T'
	TagUsec        Tag = 'U'
	TagChannelMap  Tag = 'm'
	TagCVolume     Tag = 'v'
	TagPropList    Tag = 'P'
	TagVolume      Tag = 'V'
	TagFormatInfo  Tag = 'f'
)

func (t Tag) String() string {
	if t >= 0x20 && t < 0x7f {
		return fmt.Sprintf("tag(%c)", byte(t))
	}
	return fmt.Sprintf("tag(0x%02x)", byte(t))
}

// Writer builds a tagstruct value sequence into an in-memory buffer. The
// zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

// Bytes returns the encoded tagstruct so far.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

func (w *Writer) putTag(t Tag) { w.buf.WriteByte(byte(t)) }

// Reader consumes values from an already-framed tagstruct payload in
// order. A Reader that runs out of bytes mid-value (rather than exactly at
// a value boundary) reports ProtocolError, per the "end-of-tagstruct
// mid-value" contract.
type Reader struct {
	r   *bytes.Reader
	src []byte
}

// NewReader wraps a decoded packet payload for sequential value reads.
func NewReader(payload []byte) *Reader {
	return &Reader{r: bytes.NewReader(payload), src: payload}
}

// Remaining reports how many bytes are left unconsumed.
func (r *Reader) Remaining() int { return r.r.Len() }

// RemainingBytes returns the unconsumed tail of the source payload without
// advancing the reader, letting a caller hand the rest of a value sequence
// to another decoder (e.g. a CommandHandler that re-wraps its own Reader).
func (r *Reader) RemainingBytes() []byte {
	return r.src[len(r.src)-r.r.Len():]
}

// Eof reports whether every byte has been consumed.
func (r *Reader) Eof() bool { return r.r.Len() == 0 }

func (r *Reader) readByte(op string) (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, perr.NewProtocolError(op, fmt.Errorf("unexpected end of tagstruct: %w", err))
	}
	return b, nil
}

func (r *Reader) readN(op string, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, perr.NewProtocolError(op, fmt.Errorf("unexpected end of tagstruct: %w", err))
	}
	return buf, nil
}

func (r *Reader) expectTag(op string, want Tag) error {
	got, err := r.readByte(op)
	if err != nil {
		return err
	}
	if Tag(got) != want {
		return perr.NewProtocolError(op, fmt.Errorf("expected tag %s, got %s", want, Tag(got)))
	}
	return nil
}

// PeekTag returns the next tag byte without consuming it, or an error if
// the reader is already exhausted.
func (r *Reader) PeekTag() (Tag, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, perr.NewProtocolError("tagstruct.peek", fmt.Errorf("unexpected end of tagstruct: %w", err))
	}
	if err := r.r.UnreadByte(); err != nil {
		return 0, perr.NewInternal("tagstruct.peek", err)
	}
	return Tag(b), nil
}
