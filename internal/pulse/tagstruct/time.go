package tagstruct

import (
	"encoding/binary"
	"time"
)

// PutTimeval appends a wall-clock timestamp as seconds+microseconds.
func (w *Writer) PutTimeval(t time.Time) {
	w.putTag(TagTimeval)
	var b [8]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(t.Unix()))
	binary.BigEndian.PutUint32(b[4:8], uint32(t.Nanosecond()/1000))
	w.buf.Write(b[:])
}

// GetTimeval reads a wall-clock timestamp.
func (r *Reader) GetTimeval() (time.Time, error) {
	if err := r.expectTag("decode.timeval.tag", TagTimeval); err != nil {
		return time.Time{}, err
	}
	b, err := r.readN("decode.timeval.value", 8)
	if err != nil {
		return time.Time{}, err
	}
	sec := binary.BigEndian.Uint32(b[0:4])
	usec := binary.BigEndian.Uint32(b[4:8])
	return time.Unix(int64(sec), int64(usec)*1000).UTC(), nil
}

// PutUsec appends a 64-bit microsecond duration/latency value.
func (w *Writer) PutUsec(d time.Duration) {
	w.putTag(TagUsec)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(d.Microseconds()))
	w.buf.Write(b[:])
}

// GetUsec reads a 64-bit microsecond duration/latency value.
func (r *Reader) GetUsec() (time.Duration, error) {
	if err := r.expectTag("decode.usec.tag", TagUsec); err != nil {
		return 0, err
	}
	b, err := r.readN("decode.usec.value", 8)
	if err != nil {
		return 0, err
	}
	return time.Duration(binary.BigEndian.Uint64(b)) * time.Microsecond, nil
}
