package stream

import (
	"sync"
	"sync/atomic"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/bufferqueue"
	"github.com/alxayo/pulsenative/internal/pulse/mempool"
	"github.com/alxayo/pulsenative/internal/pulse/mixer"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

// SeekMode mirrors bufferqueue.SeekMode at the wire/API boundary so callers
// outside the bufferqueue package don't need to import it for this alone.
type SeekMode = bufferqueue.SeekMode

const (
	SeekRelative       = bufferqueue.SeekRelative
	SeekAbsolute       = bufferqueue.SeekAbsolute
	SeekRelativeOnRead = bufferqueue.SeekRelativeOnRead
	SeekRelativeEnd    = bufferqueue.SeekRelativeEnd
)

// PlaybackCallbacks lets the connection's main domain react to events the
// I/O domain posts: REQUEST (credit for more client data), UNDERFLOW,
// STARTED, OVERFLOW, and DRAIN acknowledgement.
type PlaybackCallbacks struct {
	OnRequest func(index uint32, bytes uint32)
	OnUnderflow func(index uint32, readIndex uint64)
	OnOverflow  func(index uint32)
	OnDrainAck  func(index uint32, tag uint32)
}

// PlaybackStream is the client-push/mixer-pull pipeline described in
// spec.md §4.5: client audio lands in a BufferQueue; the mixer pulls from
// it through the mixer.SinkInput interface this type implements.
type PlaybackStream struct {
	Index uint32

	mu sync.Mutex

	queue *bufferqueue.Queue
	ss    sampleformat.Spec

	attrReq RequestedAttr
	attr    bufferqueue.Attr
	mode    LatencyMode

	sink mixer.Sink

	isUnderrun   bool
	drainPending bool
	drainTag     uint32
	underrunFor  uint64

	syncID uint32

	seekPending   bool
	seekWindex    uint64
	windexBefore  uint64

	missing int64 // accessed only via sync/atomic
	cb      PlaybackCallbacks
}

// NewPlaybackStream constructs a stream with the resolved buffer attribute
// already applied to a freshly created BufferQueue.
func NewPlaybackStream(index uint32, ss sampleformat.Spec, attr bufferqueue.Attr, maxRewind uint64, cb PlaybackCallbacks) (*PlaybackStream, error) {
	q, err := bufferqueue.New(uint32(ss.FrameSize()), attr, maxRewind, ss.Format.SilenceByte())
	if err != nil {
		return nil, err
	}
	return &PlaybackStream{
		Index: index,
		queue: q,
		ss:    ss,
		attr:  attr,
		cb:    cb,
	}, nil
}

// Push accepts a memblock frame from the client, applying any pending seek
// first per §4.5.3. On overflow, per step 3, the payload is dropped and the
// write index skips forward by its length so the stream stays in sync.
func (p *PlaybackStream) Push(offset int64, mode SeekMode, chunk mempool.Chunk) error {
	p.mu.Lock()
	windexBefore := p.queue.WriteIndex()
	if mode != bufferqueue.SeekRelative || offset != 0 {
		if err := p.queue.Seek(offset, mode); err != nil {
			p.mu.Unlock()
			return err
		}
	}

	pushErr := p.queue.Push(chunk)
	if pushErr != nil {
		_ = p.queue.Seek(int64(chunk.Length), bufferqueue.SeekRelative)
	}
	windexAfter := p.queue.WriteIndex()
	p.coalesceSeek(windexBefore, windexAfter)
	p.mu.Unlock()

	if pushErr != nil && p.cb.OnOverflow != nil {
		p.cb.OnOverflow(p.Index)
	}
	return pushErr
}

// coalesceSeek implements §4.5.3 step 4: only the last of a burst of seeks
// triggers handle_seek, by tracking the minimum write index observed.
func (p *PlaybackStream) coalesceSeek(windexBefore, windexAfter uint64) {
	candidate := windexBefore
	if windexAfter < candidate {
		candidate = windexAfter
	}
	if !p.seekPending || candidate < p.seekWindex {
		p.seekWindex = candidate
	}
	p.seekPending = true
}

// HandleSeek implements §4.5.3 step 5: called by the connection once per
// burst (e.g. when the I/O thread goes idle) to reconcile the coalesced
// seek with the sink.
func (p *PlaybackStream) HandleSeek(currentReadIndex uint64, requestRewind func(nbytes uint64), requestBytes func()) {
	p.mu.Lock()
	if !p.seekPending {
		p.mu.Unlock()
		return
	}
	windex := p.seekWindex
	p.seekPending = false
	underrun := p.isUnderrun
	underrunFor := p.underrunFor
	readable := p.queue.IsReadable()
	p.mu.Unlock()

	switch {
	case underrun && readable:
		requestRewind(underrunFor)
	case windex < currentReadIndex:
		requestRewind(currentReadIndex - windex)
	}
	requestBytes()
}

// Pop implements mixer.SinkInput. On underrun it follows §4.5.4: ack a
// pending drain, else post UNDERFLOW once, mark is_underrun, and let the
// caller re-request bytes.
func (p *PlaybackStream) Pop(length uint32) (mixer.Chunk, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.queue.IsReadable() {
		if p.drainPending {
			p.drainPending = false
			tag := p.drainTag
			p.mu.Unlock()
			if p.cb.OnDrainAck != nil {
				p.cb.OnDrainAck(p.Index, tag)
			}
			p.mu.Lock()
		} else if !p.isUnderrun {
			readIdx := p.queue.ReadIndex()
			p.mu.Unlock()
			if p.cb.OnUnderflow != nil {
				p.cb.OnUnderflow(p.Index, readIdx)
			}
			p.mu.Lock()
		}
		p.isUnderrun = true
		p.underrunFor += uint64(length)
		return mixer.Chunk{}, false
	}

	data := p.queue.Peek(length)
	n := uint64(len(data))
	p.queue.Drop(n)
	p.isUnderrun = false
	p.underrunFor = 0
	p.postMissing()
	return mixer.Chunk{Data: data, Length: uint32(n)}, true
}

// ProcessRewind implements mixer.SinkInput.
func (p *PlaybackStream) ProcessRewind(nbytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.Rewind(nbytes)
}

// UpdateMaxRewind implements mixer.SinkInput as a no-op: the value is not
// stored, and the BufferQueue's own maxRewind is fixed at construction.
func (p *PlaybackStream) UpdateMaxRewind(nbytes uint64) {}

// UpdateMaxRequest implements mixer.SinkInput.
func (p *PlaybackStream) UpdateMaxRequest(nbytes uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attr.Minreq = uint32(nbytes)
	_ = p.queue.ApplyAttr(p.attr)
}

// ProcessUnderrun implements mixer.SinkInput.
func (p *PlaybackStream) ProcessUnderrun() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.isUnderrun = true
}

// Suspend implements mixer.SinkInput.
func (p *PlaybackStream) Suspend(suspended bool) {}

// Moving implements mixer.SinkInput, §4.5.5. StartMove/FinishMove below do
// the heavier lifting; Moving itself just records the destination.
func (p *PlaybackStream) Moving(to mixer.Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = to
}

// StartMove implements the start-move half of §4.5.5: stop accepting pulls
// (caller detaches the SinkInput from the old sink before calling this),
// estimate a best-effort rewind amount covering the sink's latency plus
// whatever is still queued for render.
func (p *PlaybackStream) StartMove(sinkLatencyBytes uint64, renderQueueLength uint64) uint64 {
	return sinkLatencyBytes + renderQueueLength
}

// FinishMove implements the finish-move half: attach to the new sink, drop
// newSinkLatencyBytes from the front (accepting a small forward gap rather
// than a retrograde timeline), re-apply the buffer attribute, and return
// the amount to request the new sink rewind by.
func (p *PlaybackStream) FinishMove(to mixer.Sink, newSinkLatencyBytes uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = to
	p.queue.Drop(newSinkLatencyBytes)
	attr := ResolvePlaybackAttr(p.attrReq, p.ss, p.mode)
	_ = p.queue.ApplyAttr(attr)
	p.attr = attr
	return newSinkLatencyBytes
}

// postMissing implements §4.5.2's flow-control coalescing: pop_missing is
// consulted after every pop/drop; if it returns a positive credit and the
// missing counter was zero, the connection is told to post one REQUEST.
func (p *PlaybackStream) postMissing() {
	m := p.queue.PopMissing()
	if m == 0 {
		return
	}
	prev := atomic.AddInt64(&p.missing, int64(m))
	if prev == int64(m) { // was zero before this add
		if p.cb.OnRequest != nil {
			p.cb.OnRequest(p.Index, uint32(prev))
		}
	}
}

// DrainRequestCredit implements the main-thread half of §4.5.2: atomically
// exchange missing to zero and return its prior value, to be sent as
// PA_COMMAND_REQUEST(index, L).
func (p *PlaybackStream) DrainRequestCredit() uint32 {
	prev := atomic.SwapInt64(&p.missing, 0)
	if prev < 0 {
		return 0
	}
	return uint32(prev)
}

// RequestDrain implements command_drain_playback_stream: DRAIN is
// acknowledged the next time Pop observes an empty, safely-removable queue.
func (p *PlaybackStream) RequestDrain(tag uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drainPending = true
	p.drainTag = tag
}

// ApplyBufferAttr re-resolves and applies a new buffer-attribute request
// while the audio thread is quiesced (a synchronous asyncmsgq round-trip in
// the reference design; callers are expected to serialize this against
// Pop/Push themselves per §5).
func (p *PlaybackStream) ApplyBufferAttr(req RequestedAttr, configuredSinkLatency func(bufferqueue.Attr) (bufferqueue.Attr, error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrReq = req
	attr := ResolvePlaybackAttr(req, p.ss, p.mode)
	finalAttr, err := configuredSinkLatency(attr)
	if err != nil {
		return perr.NewInternal("playbackstream.apply_attr", err)
	}
	if err := p.queue.ApplyAttr(finalAttr); err != nil {
		return err
	}
	p.attr = finalAttr
	return nil
}

// Attr returns the currently realised buffer attribute.
func (p *PlaybackStream) Attr() bufferqueue.Attr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attr
}

// Snapshot reports the fields a LATENCY/STATS reply needs.
type Snapshot struct {
	ReadIndex      uint64
	WriteIndex     uint64
	IsUnderrun     bool
	QueueLength    uint64
}

func (p *PlaybackStream) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		ReadIndex:   p.queue.ReadIndex(),
		WriteIndex:  p.queue.WriteIndex(),
		IsUnderrun:  p.isUnderrun,
		QueueLength: p.queue.Length(),
	}
}

// PrebufForce forces the queue out of prebuffering regardless of fill,
// e.g. on a TRIGGER command or a synchronized group's PREBUF-FORCE fan-out.
func (p *PlaybackStream) PrebufForce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.PrebufForce()
}

// Flush implements FLUSH: discard queued-but-unread data.
func (p *PlaybackStream) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue.FlushWrite()
}

// SyncGroup fans DRAIN/FLUSH/TRIGGER/PREBUF-FORCE out to every member of a
// synchronized set, per §4.5.6: all members share a sink and start their
// BufferQueues at the same read index at creation time.
type SyncGroup struct {
	ID      uint32
	members []*PlaybackStream
}

func NewSyncGroup(id uint32) *SyncGroup { return &SyncGroup{ID: id} }

func (g *SyncGroup) Join(p *PlaybackStream) {
	p.mu.Lock()
	p.syncID = g.ID
	p.mu.Unlock()
	g.members = append(g.members, p)
}

func (g *SyncGroup) Flush()  { g.each(func(p *PlaybackStream) { p.Flush() }) }
func (g *SyncGroup) Prebuf() { g.each(func(p *PlaybackStream) { p.PrebufForce() }) }
func (g *SyncGroup) Drain(tag uint32) {
	g.each(func(p *PlaybackStream) { p.RequestDrain(tag) })
}

func (g *SyncGroup) each(fn func(*PlaybackStream)) {
	for _, m := range g.members {
		fn(m)
	}
}
