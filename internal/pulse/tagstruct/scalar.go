package tagstruct

import (
	"encoding/binary"
	"fmt"

	perr "github.com/alxayo/pulsenative/internal/errors"
)

// PutU8 appends a one-byte unsigned integer.
func (w *Writer) PutU8(v uint8) {
	w.putTag(TagU8)
	w.buf.WriteByte(v)
}

// GetU8 reads a one-byte unsigned integer.
func (r *Reader) GetU8() (uint8, error) {
	if err := r.expectTag("decode.u8.tag", TagU8); err != nil {
		return 0, err
	}
	b, err := r.readByte("decode.u8.value")
	return b, err
}

// PutU32 appends a big-endian 32-bit unsigned integer.
func (w *Writer) PutU32(v uint32) {
	w.putTag(TagU32)
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// GetU32 reads a big-endian 32-bit unsigned integer.
func (r *Reader) GetU32() (uint32, error) {
	if err := r.expectTag("decode.u32.tag", TagU32); err != nil {
		return 0, err
	}
	b, err := r.readN("decode.u32.value", 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// PutU64 appends a big-endian 64-bit unsigned integer.
func (w *Writer) PutU64(v uint64) {
	w.putTag(TagU64)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// GetU64 reads a big-endian 64-bit unsigned integer.
func (r *Reader) GetU64() (uint64, error) {
	if err := r.expectTag("decode.u64.tag", TagU64); err != nil {
		return 0, err
	}
	b, err := r.readN("decode.u64.value", 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// PutS64 appends a big-endian signed 64-bit integer.
func (w *Writer) PutS64(v int64) {
	w.putTag(TagS64)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

// GetS64 reads a big-endian signed 64-bit integer.
func (r *Reader) GetS64() (int64, error) {
	if err := r.expectTag("decode.s64.tag", TagS64); err != nil {
		return 0, err
	}
	b, err := r.readN("decode.s64.value", 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// PutBool appends a boolean as its own tag (TagBooleanTrue/TagBoolean),
// carrying no further payload.
func (w *Writer) PutBool(v bool) {
	if v {
		w.putTag(TagBooleanTrue)
	} else {
		w.putTag(TagBoolean)
	}
}

// GetBool reads a boolean value.
func (r *Reader) GetBool() (bool, error) {
	b, err := r.readByte("decode.bool.tag")
	if err != nil {
		return false, err
	}
	switch Tag(b) {
	case TagBooleanTrue:
		return true, nil
	case TagBoolean:
		return false, nil
	default:
		return false, perr.NewProtocolError("decode.bool.tag", fmt.Errorf("expected boolean tag, got %s", Tag(b)))
	}
}
