// Package bufferqueue implements BufferQueue: a byte-granular, rewindable,
// seekable queue of audio data with low/high watermarks and silence fill
// for gaps, shared by PlaybackStream and RecordStream.
package bufferqueue

import (
	"fmt"
	"sync"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/mempool"
)

// MaxLength is the absolute cap on any queue's buffered span (w - r),
// mirroring the reference implementation's hard ceiling on a memblockq.
const MaxLength = 4 * 1024 * 1024

// SeekMode selects how Seek repositions the write index.
type SeekMode uint8

const (
	SeekRelative SeekMode = iota
	SeekAbsolute
	SeekRelativeOnRead
	SeekRelativeEnd
)

// Attr are the negotiated flow-control parameters for a queue.
type Attr struct {
	MaxLength uint32
	Tlength   uint32 // playback target fill
	Prebuf    uint32 // 0 disables prebuffering
	Minreq    uint32 // playback minimum request granularity
	Fragsize  uint32 // record preferred read granularity
}

// segment is a contiguous run of bytes at a known absolute offset in the
// queue's byte axis: either real data (chunk retained for the segment's
// lifetime, released when trimmed) or a materialized silence run left by a
// forward seek, which carries no chunk at all.
type segment struct {
	start   uint64
	length  uint64
	silence bool
	chunk   mempool.Chunk
}

func (s segment) end() uint64 { return s.start + s.length }

func (s segment) release() {
	if !s.silence {
		s.chunk.Release()
	}
}

// Queue is a BufferQueue instance. The zero value is not usable; construct
// with New.
type Queue struct {
	mu sync.Mutex

	r, w uint64 // monotonic byte counters

	attr       Attr
	frameSize  uint32
	maxRewind  uint64
	silence    byte
	inPrebuf   bool
	prebufOff  bool // prebuf_disable() called
	missingReq uint64

	segs []segment
}

// New creates a Queue for a stream with the given frame size (bytes per
// frame, for alignment checks), initial attr, maximum rewind distance in
// bytes, and silence fill byte.
func New(frameSize uint32, attr Attr, maxRewind uint64, silenceByte byte) (*Queue, error) {
	if frameSize == 0 {
		return nil, perr.NewInvalid("bufferqueue.new", fmt.Errorf("frame size must be non-zero"))
	}
	if attr.MaxLength == 0 || attr.MaxLength > MaxLength {
		return nil, perr.NewInvalid("bufferqueue.new", fmt.Errorf("maxlength %d out of range (1..%d)", attr.MaxLength, MaxLength))
	}
	q := &Queue{
		attr:      attr,
		frameSize: frameSize,
		maxRewind: maxRewind,
		silence:   silenceByte,
		inPrebuf:  attr.Prebuf > 0,
	}
	return q, nil
}

// Length returns the number of readable bytes currently buffered (w - r).
func (q *Queue) Length() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.w - q.r
}

// ReadIndex and WriteIndex expose the queue's monotonic byte counters,
// mainly for latency reporting (UPDATE_LATENCY replies carry these).
func (q *Queue) ReadIndex() uint64  { q.mu.Lock(); defer q.mu.Unlock(); return q.r }
func (q *Queue) WriteIndex() uint64 { q.mu.Lock(); defer q.mu.Unlock(); return q.w }

func (q *Queue) aligned(n uint64) bool { return n%uint64(q.frameSize) == 0 }

// Push appends aligned audio data at the current write index. It fails
// with Overflow if the resulting span would exceed attr.MaxLength.
func (q *Queue) Push(chunk mempool.Chunk) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	length := uint64(chunk.Length)
	if length == 0 {
		return nil
	}
	if !q.aligned(length) {
		return perr.NewInvalid("bufferqueue.push", fmt.Errorf("chunk length %d not frame-aligned (frame size %d)", length, q.frameSize))
	}
	if (q.w+length)-q.r > uint64(q.attr.MaxLength) {
		return perr.NewInternal("bufferqueue.push", fmt.Errorf("overflow: would exceed maxlength %d", q.attr.MaxLength))
	}

	q.segs = append(q.segs, segment{start: q.w, length: length, chunk: chunk.Retain()})
	q.w += length

	if q.inPrebuf && !q.prebufOff && (q.w-q.r) >= uint64(q.attr.Prebuf) {
		q.inPrebuf = false
	}

	q.missingReq = 0

	q.trimLocked()
	return nil
}

// trimLocked drops retained segments that fall entirely before the
// earliest byte still reachable by a rewind (r - maxRewind).
func (q *Queue) trimLocked() {
	if q.r < q.maxRewind {
		return
	}
	floor := q.r - q.maxRewind
	i := 0
	for ; i < len(q.segs); i++ {
		if q.segs[i].end() > floor {
			break
		}
		q.segs[i].release()
	}
	if i > 0 {
		q.segs = q.segs[i:]
	}
}

// Peek returns up to maxLen bytes of readable data starting at the read
// index without advancing it. On an empty queue (r == w) it returns nil;
// while the queue holds data but is below its prebuffer threshold, it
// returns a silence chunk of the requested length instead. Peek never fails.
func (q *Queue) Peek(maxLen uint32) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	length := q.w - q.r
	if length == 0 {
		return nil
	}
	if q.inPrebuf {
		return q.silenceBytes(maxLen)
	}

	want := uint64(maxLen)
	if want > length {
		want = length
	}
	want -= want % uint64(q.frameSize)
	if want == 0 {
		return nil
	}

	out := make([]byte, 0, want)
	pos := q.r
	for _, seg := range q.segs {
		if uint64(len(out)) >= want {
			break
		}
		if seg.end() <= pos {
			continue
		}
		segStartOff := uint64(0)
		if seg.start < pos {
			segStartOff = pos - seg.start
		}
		availLen := seg.length - segStartOff
		need := want - uint64(len(out))
		if availLen > need {
			availLen = need
		}
		if seg.silence {
			for i := uint64(0); i < availLen; i++ {
				out = append(out, q.silence)
			}
		} else {
			segBytes := seg.chunk.Bytes()
			out = append(out, segBytes[segStartOff:segStartOff+availLen]...)
		}
		pos += availLen
	}
	if uint64(len(out)) < want {
		// defensive: any uncovered span (should not occur once seeks
		// always materialize an explicit silence segment) reads as silence.
		gap := make([]byte, want-uint64(len(out)))
		for i := range gap {
			gap[i] = q.silence
		}
		out = append(out, gap...)
	}
	return out
}

func (q *Queue) silenceBytes(n uint32) []byte {
	aligned := uint64(n) - uint64(n)%uint64(q.frameSize)
	if aligned == 0 {
		return nil
	}
	out := make([]byte, aligned)
	for i := range out {
		out[i] = q.silence
	}
	return out
}

// Drop advances the read index by n bytes (capped so it never exceeds the
// write index), possibly re-entering prebuffering on total underrun.
func (q *Queue) Drop(n uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.r+n > q.w {
		n = q.w - q.r
	}
	q.r += n

	if !q.prebufOff && q.attr.Prebuf > 0 && !q.inPrebuf && (q.w-q.r) == 0 {
		q.inPrebuf = true
	}
	q.trimLocked()
}

// Rewind decrements the read index by up to min(n, maxRewind). Data older
// than the rewind window is irretrievable and silence-filled on re-peek.
func (q *Queue) Rewind(n uint64) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > q.maxRewind {
		n = q.maxRewind
	}
	if n > q.r {
		n = q.r
	}
	q.r -= n
	q.missingReq = 0
	return n
}

// Seek repositions the write index per mode, discarding future data that
// falls before the new write index or extending with an implicit gap
// (filled by silence on read) if the new index is beyond the old one.
func (q *Queue) Seek(offset int64, mode SeekMode) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var newW int64
	switch mode {
	case SeekRelative:
		newW = int64(q.w) + offset
	case SeekAbsolute:
		newW = offset
	case SeekRelativeOnRead:
		newW = int64(q.r) + offset
	case SeekRelativeEnd:
		newW = int64(q.w) + offset
	default:
		return perr.NewInvalid("bufferqueue.seek", fmt.Errorf("unknown seek mode %d", mode))
	}
	if newW < int64(q.r) {
		newW = int64(q.r)
	}

	switch {
	case uint64(newW) < q.w:
		// truncate segments beyond the new write index
		var kept []segment
		for _, seg := range q.segs {
			if seg.start >= uint64(newW) {
				seg.release()
				continue
			}
			if seg.end() > uint64(newW) {
				trimmedLen := uint64(newW) - seg.start
				if seg.silence {
					seg.length = trimmedLen
				} else {
					left, right, err := seg.chunk.Split(uint32(trimmedLen))
					if err == nil {
						seg.chunk.Release()
						right.Release()
						seg.chunk = left
						seg.length = trimmedLen
					}
				}
			}
			kept = append(kept, seg)
		}
		q.segs = kept

	case uint64(newW) > q.w:
		// forward seek: the gap is unwritten audio and reads as silence
		// until real data is pushed over it.
		q.segs = append(q.segs, segment{start: q.w, length: uint64(newW) - q.w, silence: true})
	}
	q.w = uint64(newW)
	return nil
}

// PopMissing returns max(0, tlength - length) rounded down to minreq,
// remembering what it returned so repeated calls don't double-count
// until data has been pushed or a rewind has occurred.
func (q *Queue) PopMissing() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()

	length := q.w - q.r
	var missing uint64
	if uint64(q.attr.Tlength) > length {
		missing = uint64(q.attr.Tlength) - length
	}
	if missing <= q.missingReq {
		return 0
	}
	missing -= q.missingReq
	if q.attr.Minreq > 0 {
		missing -= missing % uint64(q.attr.Minreq)
	}
	if missing == 0 {
		return 0
	}
	q.missingReq += missing
	return uint32(missing)
}

// IsReadable reports whether the queue has data and is not currently
// withholding it for prebuffering.
func (q *Queue) IsReadable() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	length := q.w - q.r
	return length > 0 && !q.inPrebuf
}

// FlushWrite discards all buffered data ahead of the read index.
func (q *Queue) FlushWrite() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, seg := range q.segs {
		if seg.start >= q.r {
			seg.release()
		}
	}
	kept := q.segs[:0]
	for _, seg := range q.segs {
		if seg.start < q.r {
			kept = append(kept, seg)
		}
	}
	q.segs = kept
	q.w = q.r
	q.missingReq = 0
}

// FlushRead discards all buffered data, advancing the read index to the
// write index (used e.g. on a record stream flush request).
func (q *Queue) FlushRead() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, seg := range q.segs {
		seg.release()
	}
	q.segs = nil
	q.r = q.w
	q.missingReq = 0
}

// PrebufForce ends prebuffering immediately regardless of current length,
// used when the client corks then uncorks a stream that hasn't filled.
func (q *Queue) PrebufForce() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inPrebuf = false
}

// PrebufDisable permanently disables prebuffering for this queue's
// lifetime (equivalent to setting prebuf=0).
func (q *Queue) PrebufDisable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prebufOff = true
	q.inPrebuf = false
	q.attr.Prebuf = 0
}

// ApplyAttr updates the queue's flow-control parameters in place.
func (q *Queue) ApplyAttr(attr Attr) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if attr.MaxLength == 0 || attr.MaxLength > MaxLength {
		return perr.NewInvalid("bufferqueue.apply_attr", fmt.Errorf("maxlength %d out of range (1..%d)", attr.MaxLength, MaxLength))
	}
	q.attr = attr
	return nil
}

// GetAttr returns the queue's current flow-control parameters.
func (q *Queue) GetAttr() Attr {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.attr
}

// Close releases every retained segment. The queue must not be used
// afterward.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, seg := range q.segs {
		seg.release()
	}
	q.segs = nil
}
