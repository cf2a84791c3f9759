// Package mempool provides reference-counted memory blocks backing every
// BufferQueue chunk and PacketStream memblock frame. The shared-memory pool
// itself (the segment an SHM/memfd MemoryChunk is a window onto) is an
// external collaborator per the core's scope; this package only models the
// block handle, its refcount, and the pool that hands out block IDs, leaving
// the actual page allocation to the backing store named on each block.
package mempool

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/bufpool"
)

// Backing names where a Block's bytes actually live.
type Backing uint8

const (
	// BackingPrivate blocks are heap-allocated and never shared across the
	// connection boundary; used for internal scratch and small control data.
	BackingPrivate Backing = iota
	// BackingPosix blocks live in a POSIX shared-memory segment exported to
	// the peer by name.
	BackingPosix
	// BackingMemfd blocks live in an anonymous memfd segment exported to the
	// peer as an ancillary file descriptor (requires MEMFD capability).
	BackingMemfd
)

func (b Backing) String() string {
	switch b {
	case BackingPrivate:
		return "private"
	case BackingPosix:
		return "posix"
	case BackingMemfd:
		return "memfd"
	default:
		return "unknown"
	}
}

// Block is a reference-counted allocation. The zero value is not usable;
// construct with Pool.Alloc. A block's bytes are released back to the
// underlying buffer pool only once the refcount drops to zero.
type Block struct {
	id      uint32
	backing Backing
	buf     []byte
	refs    int32
	pool    *Pool
}

// ID returns the block's pool-local identifier, sent on the wire so the peer
// can correlate a memblock frame with a previously exported SHM/memfd region.
func (b *Block) ID() uint32 { return b.id }

// Backing reports where this block's bytes live.
func (b *Block) Backing() Backing { return b.backing }

// Acquire returns the block's underlying bytes. Callers must not retain the
// slice beyond a matching Unref.
func (b *Block) Acquire() []byte { return b.buf }

// Ref increments the reference count and returns the block for chaining.
func (b *Block) Ref() *Block {
	atomic.AddInt32(&b.refs, 1)
	return b
}

// Unref decrements the reference count, returning the block to its pool once
// it reaches zero. Calling Unref more times than Ref (or Alloc's implicit
// first ref) is a programming error and panics, mirroring the teacher's
// fail-fast stance on refcount misuse.
func (b *Block) Unref() {
	n := atomic.AddInt32(&b.refs, -1)
	switch {
	case n > 0:
		return
	case n == 0:
		b.pool.release(b)
	default:
		panic(fmt.Sprintf("mempool: block %d over-released", b.id))
	}
}

// IsSilence reports whether every byte in the block equals fill, useful for
// BufferQueue gap detection without a full memcmp against a silence buffer.
func (b *Block) IsSilence(fill byte) bool {
	for _, v := range b.buf {
		if v != fill {
			return false
		}
	}
	return true
}

// Pool hands out Blocks with monotonically increasing IDs and owns the
// underlying sized-buffer pool they're allocated from.
type Pool struct {
	backing Backing
	bufs    *bufpool.Pool
	mu      sync.Mutex
	nextID  uint32
}

// NewPool creates a pool whose blocks report the given backing kind.
func NewPool(backing Backing) *Pool {
	return &Pool{backing: backing, bufs: bufpool.New()}
}

// Alloc reserves a new block of at least size bytes with one initial
// reference held by the caller.
func (p *Pool) Alloc(size int) (*Block, error) {
	if size < 0 {
		return nil, perr.NewInvalid("mempool.alloc", fmt.Errorf("negative size %d", size))
	}
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	return &Block{
		id:      id,
		backing: p.backing,
		buf:     p.bufs.Get(size),
		refs:    1,
		pool:    p,
	}, nil
}

func (p *Pool) release(b *Block) {
	p.bufs.Put(b.buf)
	b.buf = nil
}

// Chunk is a window (offset, length) onto a Block, the unit BufferQueue
// pushes and pops. Index and Length are in bytes and must stay within the
// bounds of the underlying block.
type Chunk struct {
	Block  *Block
	Index  uint32
	Length uint32
}

// Bytes returns the slice of the block's bytes this chunk refers to.
func (c Chunk) Bytes() []byte {
	return c.Block.Acquire()[c.Index : c.Index+c.Length]
}

// Retain takes an additional reference on the chunk's underlying block.
func (c Chunk) Retain() Chunk {
	c.Block.Ref()
	return c
}

// Release drops the chunk's reference on the underlying block.
func (c Chunk) Release() {
	c.Block.Unref()
}

// Split divides the chunk at the given byte offset (relative to the chunk's
// own start), retaining the shared block once more so both halves are
// independently releasable.
func (c Chunk) Split(at uint32) (left, right Chunk, err error) {
	if at > c.Length {
		return Chunk{}, Chunk{}, perr.NewInvalid("mempool.chunk.split", fmt.Errorf("split offset %d beyond length %d", at, c.Length))
	}
	left = Chunk{Block: c.Block.Ref(), Index: c.Index, Length: at}
	right = Chunk{Block: c.Block.Ref(), Index: c.Index + at, Length: c.Length - at}
	return left, right, nil
}

// RingSender is the write side of a shared ring buffer notification channel:
// real file descriptors (from os.Pipe) suitable for passing to a peer as
// SCM_RIGHTS ancillary data, paired with a RingReceiver on this process's
// side for the mixer I/O domain to post "data available" wakeups to.
type RingSender struct {
	pool *Pool
	w    *os.File
}

// RingReceiver is the read side of a RingSender's wakeup pipe.
type RingReceiver struct {
	pool *Pool
	r    *os.File
}

// NewRingChannel creates a wakeup pipe for the shared memory pool p. It
// returns the sender, the receiver, and the raw fds (read, write) for
// exporting to a peer process; ownership of the returned *os.File values
// transfers to the caller, which must Close them when the stream ends.
func NewRingChannel(pool *Pool) (*RingSender, *RingReceiver, []int, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, perr.NewInternal("mempool.ringchannel.new", err)
	}
	sender := &RingSender{pool: pool, w: w}
	receiver := &RingReceiver{pool: pool, r: r}
	return sender, receiver, []int{int(r.Fd()), int(w.Fd())}, nil
}

// Notify posts a single wakeup byte, coalescing with any already-pending
// notification (a full pipe buffer means the reader hasn't drained the
// previous wakeup yet, which is fine: one drain empties all of them).
func (s *RingSender) Notify() error {
	_, err := s.w.Write([]byte{0})
	if err != nil && !os.IsTimeout(err) {
		return perr.NewInternal("mempool.ringchannel.notify", err)
	}
	return nil
}

// Close releases the sender's end of the pipe.
func (s *RingSender) Close() error { return s.w.Close() }

// Wait blocks until at least one notification has been posted, then drains
// all pending wakeup bytes.
func (r *RingReceiver) Wait() error {
	buf := make([]byte, 64)
	n, err := r.r.Read(buf)
	if err != nil {
		return perr.NewInternal("mempool.ringchannel.wait", err)
	}
	if n == 0 {
		return perr.NewInternal("mempool.ringchannel.wait", fmt.Errorf("zero-length read"))
	}
	return nil
}

// Close releases the receiver's end of the pipe.
func (r *RingReceiver) Close() error { return r.r.Close() }
