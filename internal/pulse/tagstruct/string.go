package tagstruct

import (
	"encoding/binary"
	"fmt"

	perr "github.com/alxayo/pulsenative/internal/errors"
)

// PutString appends a NUL-terminated UTF-8 string.
func (w *Writer) PutString(s string) {
	w.putTag(TagString)
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// PutStringNull appends the sentinel "no string" value (used both for an
// absent optional string field and to terminate a PROPLIST).
func (w *Writer) PutStringNull() {
	w.putTag(TagStringNull)
}

// GetString reads a NUL-terminated string, or returns ok=false if the next
// value is the STRING_NULL sentinel.
func (r *Reader) GetString() (s string, ok bool, err error) {
	b, err := r.readByte("decode.string.tag")
	if err != nil {
		return "", false, err
	}
	switch Tag(b) {
	case TagStringNull:
		return "", false, nil
	case TagString:
		str, rerr := r.readCString("decode.string.value")
		if rerr != nil {
			return "", false, rerr
		}
		return str, true, nil
	default:
		return "", false, perr.NewProtocolError("decode.string.tag", fmt.Errorf("expected string tag, got %s", Tag(b)))
	}
}

func (r *Reader) readCString(op string) (string, error) {
	var out []byte
	for {
		b, err := r.readByte(op)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(out), nil
		}
		out = append(out, b)
	}
}

// PutArbitrary appends an opaque length-prefixed byte blob (used for
// proplist values and other binary payloads).
func (w *Writer) PutArbitrary(b []byte) {
	w.putTag(TagArbitrary)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(b)))
	w.buf.Write(lb[:])
	w.buf.Write(b)
}

// GetArbitrary reads an opaque length-prefixed byte blob.
func (r *Reader) GetArbitrary() ([]byte, error) {
	if err := r.expectTag("decode.arbitrary.tag", TagArbitrary); err != nil {
		return nil, err
	}
	lb, err := r.readN("decode.arbitrary.length", 4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lb)
	return r.readN("decode.arbitrary.value", int(n))
}
