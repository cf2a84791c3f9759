package stream

import (
	"sync"
	"sync/atomic"

	"github.com/alxayo/pulsenative/internal/pulse/bufferqueue"
	"github.com/alxayo/pulsenative/internal/pulse/mempool"
	"github.com/alxayo/pulsenative/internal/pulse/mixer"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

// RecordCallbacks lets the connection react to POST_DATA: new data became
// available to send to the client.
type RecordCallbacks struct {
	OnDataAvailable func(index uint32)
}

// RecordStream is the mixer-push/client-pull pipeline described in
// spec.md §4.6: the source pushes chunks on the I/O thread; they land in a
// BufferQueue the connection's round-robin sender drains.
type RecordStream struct {
	Index uint32

	mu sync.Mutex

	queue *bufferqueue.Queue
	ss    sampleformat.Spec
	attr  bufferqueue.Attr

	source mixer.Source

	onTheFly int64 // atomic: bytes in transit between I/O and main threads

	cb RecordCallbacks
}

// NewRecordStream constructs a RecordStream with the resolved record-side
// buffer attribute already applied.
func NewRecordStream(index uint32, ss sampleformat.Spec, attr bufferqueue.Attr, maxRewind uint64, cb RecordCallbacks) (*RecordStream, error) {
	q, err := bufferqueue.New(uint32(ss.FrameSize()), attr, maxRewind, ss.Format.SilenceByte())
	if err != nil {
		return nil, err
	}
	return &RecordStream{
		Index: index,
		queue: q,
		ss:    ss,
		attr:  attr,
		cb:    cb,
	}, nil
}

// Push implements mixer.SourceOutput: called on the I/O thread when the
// source has fresh audio. It marks the bytes on_the_fly (the mixer I/O
// thread owns the chunk until the main thread's PostData call lands).
func (r *RecordStream) Push(chunk mixer.Chunk) {
	atomic.AddInt64(&r.onTheFly, int64(chunk.Length))
}

// PostData is the main-thread handler for POST_DATA: subtract the chunk
// from on_the_fly, push into the BufferQueue (overflow silently drops per
// §4.6), and notify the connection if it wants to wake the sender.
func (r *RecordStream) PostData(chunk mempool.Chunk) {
	atomic.AddInt64(&r.onTheFly, -int64(chunk.Length))

	r.mu.Lock()
	err := r.queue.Push(chunk)
	r.mu.Unlock()

	if err != nil {
		return // overflow: silently dropped, per §4.6
	}
	if r.cb.OnDataAvailable != nil {
		r.cb.OnDataAvailable(r.Index)
	}
}

// Suspend implements mixer.SourceOutput.
func (r *RecordStream) Suspend(suspended bool) {}

// Moving implements mixer.SourceOutput.
func (r *RecordStream) Moving(to mixer.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.source = to
}

// Peek is send_one's read primitive: peek up to maxLen readable bytes
// (capped to Fragsize by the caller) without committing, then Drop once the
// caller has confirmed the send succeeded.
func (r *RecordStream) Peek(maxLen uint32) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxLen > r.attr.Fragsize {
		maxLen = r.attr.Fragsize
	}
	return r.queue.Peek(maxLen)
}

// Drop advances the read index by n bytes after a successful send.
func (r *RecordStream) Drop(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue.Drop(n)
}

// HasData reports whether the queue currently has anything readable,
// used by send_one's round-robin scan.
func (r *RecordStream) HasData() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Length() > 0
}

// OnTheFly reports the current in-transit byte count.
func (r *RecordStream) OnTheFly() int64 {
	return atomic.LoadInt64(&r.onTheFly)
}

// Attr returns the currently realised buffer attribute.
func (r *RecordStream) Attr() bufferqueue.Attr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attr
}

// ApplyBufferAttr re-resolves and applies a new fragsize request.
func (r *RecordStream) ApplyBufferAttr(req RequestedAttr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attr := ResolveRecordAttr(req, r.ss)
	if err := r.queue.ApplyAttr(attr); err != nil {
		return err
	}
	r.attr = attr
	return nil
}

// Flush discards all buffered, unread capture data.
func (r *RecordStream) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue.FlushRead()
}
