package bufferqueue

import (
	"bytes"
	"testing"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/mempool"
)

const frameSize = 4

func newTestQueue(t *testing.T, attr Attr, maxRewind uint64) (*Queue, *mempool.Pool) {
	t.Helper()
	if attr.MaxLength == 0 {
		attr.MaxLength = 64 * frameSize
	}
	q, err := New(frameSize, attr, maxRewind, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pool := mempool.NewPool(mempool.BackingPrivate)
	return q, pool
}

func pushPattern(t *testing.T, q *Queue, pool *mempool.Pool, b byte, frames int) {
	t.Helper()
	blk, err := pool.Alloc(frames * frameSize)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	buf := blk.Acquire()
	for i := range buf {
		buf[i] = b
	}
	chunk := mempool.Chunk{Block: blk, Index: 0, Length: uint32(frames * frameSize)}
	if err := q.Push(chunk); err != nil {
		t.Fatalf("Push: %v", err)
	}
	chunk.Release()
}

func TestPushPeekDropRoundTrip(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	pushPattern(t, q, pool, 0xAA, 4)

	if got := q.Length(); got != 16 {
		t.Fatalf("Length = %d, want 16", got)
	}
	got := q.Peek(16)
	want := bytes.Repeat([]byte{0xAA}, 16)
	if !bytes.Equal(got, want) {
		t.Fatalf("Peek = %x, want %x", got, want)
	}

	q.Drop(8)
	if got := q.ReadIndex(); got != 8 {
		t.Fatalf("ReadIndex = %d, want 8", got)
	}
	got = q.Peek(8)
	if !bytes.Equal(got, want[:8]) {
		t.Fatalf("Peek after drop = %x, want %x", got, want[:8])
	}
}

func TestPeekNeverReturnsZeroLengthUnlessEmpty(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	if got := q.Peek(16); got != nil {
		t.Fatalf("Peek on empty queue = %x, want nil", got)
	}
	pushPattern(t, q, pool, 0x11, 1)
	if got := q.Peek(16); len(got) == 0 {
		t.Fatalf("Peek on non-empty queue returned zero length")
	}
}

func TestPushOverflowFails(t *testing.T) {
	q, pool := newTestQueue(t, Attr{MaxLength: 8}, 0)
	blk, err := pool.Alloc(16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	chunk := mempool.Chunk{Block: blk, Index: 0, Length: 16}
	defer chunk.Release()
	if err := q.Push(chunk); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestPushRejectsUnalignedChunk(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	blk, err := pool.Alloc(6)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	chunk := mempool.Chunk{Block: blk, Index: 0, Length: 6}
	defer chunk.Release()
	if err := q.Push(chunk); !perr.IsProtocolError(err) && err == nil {
		t.Fatalf("expected an alignment error, got nil")
	}
}

func TestRewindThenDropIsIdentityWhenNoPushIntervenes(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 64)
	pushPattern(t, q, pool, 0x55, 8)
	q.Drop(16)

	rBefore := q.ReadIndex()
	n := q.Rewind(8)
	if n != 8 {
		t.Fatalf("Rewind returned %d, want 8", n)
	}
	if got := q.ReadIndex(); got != rBefore-8 {
		t.Fatalf("ReadIndex after rewind = %d, want %d", got, rBefore-8)
	}
	q.Drop(8)
	if got := q.ReadIndex(); got != rBefore {
		t.Fatalf("ReadIndex after rewind+drop = %d, want %d (identity law)", got, rBefore)
	}
}

func TestRewindCappedByMaxRewind(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 8)
	pushPattern(t, q, pool, 0x66, 8)
	q.Drop(32)

	n := q.Rewind(100)
	if n != 8 {
		t.Fatalf("Rewind capped = %d, want 8 (maxRewind)", n)
	}
}

func TestInvariantReadLEWrite(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	pushPattern(t, q, pool, 0x77, 4)
	q.Drop(1000) // over-drop should cap at w
	if q.ReadIndex() > q.WriteIndex() {
		t.Fatalf("r (%d) > w (%d)", q.ReadIndex(), q.WriteIndex())
	}
	if q.ReadIndex() != q.WriteIndex() {
		t.Fatalf("expected r == w after over-drop, got r=%d w=%d", q.ReadIndex(), q.WriteIndex())
	}
}

func TestPrebufferingGatesReadability(t *testing.T) {
	q, pool := newTestQueue(t, Attr{Prebuf: 16}, 0)
	if q.IsReadable() {
		t.Fatalf("expected not readable before any data")
	}
	pushPattern(t, q, pool, 0x01, 2) // 8 bytes, below prebuf of 16
	if q.IsReadable() {
		t.Fatalf("expected still in prebuffering below threshold")
	}
	pushPattern(t, q, pool, 0x02, 2) // now 16 bytes, at threshold
	if !q.IsReadable() {
		t.Fatalf("expected readable once length >= prebuf")
	}
}

func TestPrebufferingReentersOnTotalUnderrun(t *testing.T) {
	q, pool := newTestQueue(t, Attr{Prebuf: 8}, 0)
	pushPattern(t, q, pool, 0x03, 2) // 8 bytes, exits prebuf
	if !q.IsReadable() {
		t.Fatalf("expected readable after reaching prebuf threshold")
	}
	q.Drop(8) // drains to zero
	if q.IsReadable() {
		t.Fatalf("expected re-entry into prebuffering on total underrun")
	}
}

func TestPrebufForceBypassesThreshold(t *testing.T) {
	q, pool := newTestQueue(t, Attr{Prebuf: 1024}, 0)
	pushPattern(t, q, pool, 0x04, 1)
	if q.IsReadable() {
		t.Fatalf("expected in prebuffering before force")
	}
	q.PrebufForce()
	if !q.IsReadable() {
		t.Fatalf("expected readable after PrebufForce")
	}
}

func TestPopMissingTracksOutstandingRequest(t *testing.T) {
	q, pool := newTestQueue(t, Attr{Tlength: 32, Minreq: 8}, 0)
	first := q.PopMissing()
	if first != 32 {
		t.Fatalf("PopMissing = %d, want 32", first)
	}
	if again := q.PopMissing(); again != 0 {
		t.Fatalf("PopMissing called again before push/rewind = %d, want 0 (no double-count)", again)
	}
	pushPattern(t, q, pool, 0x09, 4) // 16 bytes
	if got := q.PopMissing(); got != 16 {
		t.Fatalf("PopMissing after partial fill = %d, want 16", got)
	}
}

func TestSeekForwardMaterializesSilenceGap(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	pushPattern(t, q, pool, 0xBB, 2) // 8 bytes of real data
	q.PrebufForce()

	if err := q.Seek(8, SeekRelative); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	pushPattern(t, q, pool, 0xCC, 2) // 8 bytes after the gap

	got := q.Peek(24)
	want := append(append(bytes.Repeat([]byte{0xBB}, 8), bytes.Repeat([]byte{0x00}, 8)...), bytes.Repeat([]byte{0xCC}, 8)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("Peek after forward seek = %x, want %x", got, want)
	}
}

func TestSeekBackwardTruncatesFutureData(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	pushPattern(t, q, pool, 0xDD, 4) // 16 bytes
	q.PrebufForce()

	if err := q.Seek(-8, SeekRelativeEnd); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := q.WriteIndex(); got != 8 {
		t.Fatalf("WriteIndex after truncating seek = %d, want 8", got)
	}
	pushPattern(t, q, pool, 0xEE, 2) // 8 bytes of new data over the truncated tail

	got := q.Peek(16)
	want := append(bytes.Repeat([]byte{0xDD}, 8), bytes.Repeat([]byte{0xEE}, 8)...)
	if !bytes.Equal(got, want) {
		t.Fatalf("Peek after backward seek = %x, want %x", got, want)
	}
}

func TestSeekCannotMoveBeforeReadIndex(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	pushPattern(t, q, pool, 0xFA, 4)
	q.Drop(8)

	if err := q.Seek(-1000, SeekAbsolute); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := q.WriteIndex(); got != q.ReadIndex() {
		t.Fatalf("WriteIndex = %d, want clamped to ReadIndex %d", got, q.ReadIndex())
	}
}

func TestFlushWriteDropsOnlyFutureData(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	pushPattern(t, q, pool, 0x21, 4)
	q.Drop(8)
	pushPattern(t, q, pool, 0x22, 4)

	q.FlushWrite()
	if got := q.WriteIndex(); got != q.ReadIndex() {
		t.Fatalf("WriteIndex after FlushWrite = %d, want == ReadIndex %d", got, q.ReadIndex())
	}
	if got := q.Peek(16); len(got) != 0 {
		t.Fatalf("Peek after FlushWrite = %x, want empty", got)
	}
}

func TestFlushReadDiscardsEverything(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	pushPattern(t, q, pool, 0x31, 4)

	q.FlushRead()
	if q.ReadIndex() != q.WriteIndex() {
		t.Fatalf("ReadIndex != WriteIndex after FlushRead")
	}
	if q.Length() != 0 {
		t.Fatalf("Length after FlushRead = %d, want 0", q.Length())
	}
}

func TestApplyAttrRejectsInvalidMaxLength(t *testing.T) {
	q, _ := newTestQueue(t, Attr{}, 0)
	if err := q.ApplyAttr(Attr{MaxLength: 0}); err == nil {
		t.Fatalf("expected error for zero maxlength")
	}
	if err := q.ApplyAttr(Attr{MaxLength: MaxLength + 1}); err == nil {
		t.Fatalf("expected error for oversized maxlength")
	}
}

func TestCloseReleasesAllSegments(t *testing.T) {
	q, pool := newTestQueue(t, Attr{}, 0)
	pushPattern(t, q, pool, 0x41, 4)
	q.Close()
	if len(q.segs) != 0 {
		t.Fatalf("expected no segments after Close")
	}
}
