package stream

import (
	"testing"

	"github.com/alxayo/pulsenative/internal/pulse/bufferqueue"
	"github.com/alxayo/pulsenative/internal/pulse/mempool"
	"github.com/alxayo/pulsenative/internal/pulse/mixer"
)

func newTestRecordStream(t *testing.T, cb RecordCallbacks) (*RecordStream, *mempool.Pool) {
	t.Helper()
	attr := bufferqueue.Attr{MaxLength: 64 * playbackFrame, Fragsize: 8 * playbackFrame}
	r, err := NewRecordStream(2, testSpec, attr, 0, cb)
	if err != nil {
		t.Fatalf("NewRecordStream: %v", err)
	}
	pool := mempool.NewPool(mempool.BackingPrivate)
	return r, pool
}

func TestRecordPushThenPostDataNotifies(t *testing.T) {
	notified := make(chan uint32, 1)
	r, pool := newTestRecordStream(t, RecordCallbacks{
		OnDataAvailable: func(index uint32) { notified <- index },
	})

	chunk := newPushChunk(t, pool, 0x44, 4) // 16 bytes
	r.Push(mixer.Chunk{Length: chunk.Length})
	if got := r.OnTheFly(); got != int64(chunk.Length) {
		t.Fatalf("OnTheFly = %d, want %d", got, chunk.Length)
	}

	r.PostData(chunk)
	chunk.Release()

	if got := r.OnTheFly(); got != 0 {
		t.Fatalf("OnTheFly after PostData = %d, want 0", got)
	}
	select {
	case idx := <-notified:
		if idx != 2 {
			t.Fatalf("notified index = %d, want 2", idx)
		}
	default:
		t.Fatalf("expected OnDataAvailable to fire")
	}
	if !r.HasData() {
		t.Fatalf("expected HasData after PostData")
	}
}

func TestRecordPeekCapsToFragsize(t *testing.T) {
	r, pool := newTestRecordStream(t, RecordCallbacks{})
	chunk := newPushChunk(t, pool, 0x55, 16) // 64 bytes, well over fragsize
	r.PostData(chunk)
	chunk.Release()

	got := r.Peek(1000)
	if uint32(len(got)) != r.Attr().Fragsize {
		t.Fatalf("Peek length = %d, want capped to fragsize %d", len(got), r.Attr().Fragsize)
	}
}

func TestRecordOverflowSilentlyDrops(t *testing.T) {
	dataAvailable := 0
	r, pool := newTestRecordStream(t, RecordCallbacks{
		OnDataAvailable: func(index uint32) { dataAvailable++ },
	})
	big := newPushChunk(t, pool, 0x66, 32) // 128 bytes > maxlength 256? fits; use bigger
	defer big.Release()

	// Push enough data across multiple calls to exceed maxlength (256 bytes).
	for i := 0; i < 4; i++ {
		r.PostData(big)
	}
	if dataAvailable == 0 {
		t.Fatalf("expected at least one successful PostData before overflow")
	}
}
