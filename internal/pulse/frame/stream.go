package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alxayo/pulsenative/internal/logger"
	perr "github.com/alxayo/pulsenative/internal/errors"
)

// sendTimeout bounds how long Send blocks against a full outbound queue
// before reporting backpressure to the caller.
const sendTimeout = 200 * time.Millisecond

const outboundQueueDepth = 64

// Frame is a fully decoded incoming frame: its header plus either a raw
// payload or, when FlagSHMData is set, the decoded SHM reference.
type Frame struct {
	Header  Header
	Payload []byte
	Shm     *ShmRef
}

// Stream multiplexes packet/memblock/control frames over a single
// underlying connection, with one read loop and one write loop per stream.
// Not safe for concurrent use beyond the documented Send/Close methods.
type Stream struct {
	conn net.Conn
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	outbound chan outboundFrame

	onPacket   func(payload []byte)
	onMemblock func(f Frame)
	onControl  func(c Control)
	onDie      func(err error)
	onDrain    func()
	onRelease  func(blockID uint32)
	onRevoke   func(blockID uint32)
}

type outboundFrame struct {
	header  Header
	payload []byte
}

// New wraps conn in a Stream. Callbacks must be set with the On* setters
// before calling Start.
func New(conn net.Conn, log *slog.Logger) *Stream {
	if log == nil {
		log = logger.Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		conn:     conn,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan outboundFrame, outboundQueueDepth),
	}
}

func (s *Stream) OnPacket(fn func(payload []byte))     { s.onPacket = fn }
func (s *Stream) OnMemblock(fn func(f Frame))          { s.onMemblock = fn }
func (s *Stream) OnControl(fn func(c Control))         { s.onControl = fn }
func (s *Stream) OnDie(fn func(err error))             { s.onDie = fn }
func (s *Stream) OnDrain(fn func())                    { s.onDrain = fn }
func (s *Stream) OnRelease(fn func(blockID uint32))    { s.onRelease = fn }
func (s *Stream) OnRevoke(fn func(blockID uint32))     { s.onRevoke = fn }

// Start begins the read and write loops.
func (s *Stream) Start() {
	s.startReadLoop()
	s.startWriteLoop()
}

// Close cancels both loops and closes the underlying connection, waiting
// for both goroutines to exit.
func (s *Stream) Close() error {
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// SendPacket enqueues a command/reply/error frame.
func (s *Stream) SendPacket(payload []byte) error {
	return s.enqueue(Header{Channel: ChannelCommand, Length: uint32(len(payload))}, payload)
}

// SendMemblock enqueues a memblock frame for the given stream channel. When
// shm is non-nil its quadruple is sent in place of payload and FlagSHMData
// is set automatically.
func (s *Stream) SendMemblock(channel uint32, offset int64, flags uint32, payload []byte, shm *ShmRef) error {
	h := Header{Flags: flags, Channel: channel, Offset: offset}
	if shm != nil {
		h.Flags |= FlagSHMData
		w := &sliceWriter{b: make([]byte, 0, shmRefSize)}
		if err := EncodeShmRef(w, *shm); err != nil {
			return err
		}
		h.Length = uint32(len(w.b))
		return s.enqueue(h, w.b)
	}
	h.Length = uint32(len(payload))
	return s.enqueue(h, payload)
}

// SendControl enqueues a control frame.
func (s *Stream) SendControl(c Control) error {
	payload := EncodeControl(c)
	return s.enqueue(Header{Channel: ChannelControl, Length: uint32(len(payload))}, payload)
}

func (s *Stream) enqueue(h Header, payload []byte) error {
	t := time.NewTimer(sendTimeout)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return perr.NewBadState("frame.stream.send", errors.New("stream closed"))
	case s.outbound <- outboundFrame{header: h, payload: payload}:
		return nil
	case <-t.C:
		return perr.NewInternal("frame.stream.send", fmt.Errorf("outbound queue full (len=%d)", len(s.outbound)))
	}
}

func (s *Stream) startReadLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			h, err := DecodeHeader(s.conn)
			if err != nil {
				s.handleReadError(err)
				return
			}
			payload := make([]byte, h.Length)
			if h.Length > 0 {
				if _, err := io.ReadFull(s.conn, payload); err != nil {
					s.handleReadError(perr.NewProtocolError("frame.stream.read.payload", err))
					return
				}
			}
			s.dispatch(h, payload)
		}
	}()
}

func (s *Stream) handleReadError(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		s.log.Debug("packet stream closed", "error", err)
	} else {
		s.log.Error("packet stream read error", "error", err)
	}
	if s.onDie != nil {
		s.onDie(err)
	}
}

func (s *Stream) dispatch(h Header, payload []byte) {
	switch h.Kind() {
	case KindPacket:
		if s.onPacket != nil {
			s.onPacket(payload)
		}
	case KindControl:
		c, err := DecodeControl(payload)
		if err != nil {
			s.log.Error("control frame decode failed", "error", err)
			return
		}
		switch c.Op {
		case ControlReleaseBlock:
			if s.onRelease != nil {
				s.onRelease(c.BlockID)
			}
		case ControlRevokeBlock:
			if s.onRevoke != nil {
				s.onRevoke(c.BlockID)
			}
		}
		if s.onControl != nil {
			s.onControl(c)
		}
	case KindMemblock:
		f := Frame{Header: h, Payload: payload}
		if h.Flags&FlagSHMData != 0 {
			ref, err := DecodeShmRef(payload)
			if err != nil {
				s.log.Error("shm ref decode failed", "error", err)
				return
			}
			f.Shm = &ref
			f.Payload = nil
		}
		if s.onMemblock != nil {
			s.onMemblock(f)
		}
	}
}

func (s *Stream) startWriteLoop() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			// Checked non-blocking and first on every iteration so a frame
			// enqueued before Close cancels the context is always flushed
			// rather than racing the ctx.Done case in the select below.
			select {
			case of, ok := <-s.outbound:
				if !ok {
					return
				}
				if !s.writeFrame(of) {
					return
				}
				continue
			default:
			}
			select {
			case <-s.ctx.Done():
				return
			case of, ok := <-s.outbound:
				if !ok {
					return
				}
				if !s.writeFrame(of) {
					return
				}
			}
		}
	}()
}

// writeFrame encodes and writes one queued frame, returning false if the
// write loop should stop.
func (s *Stream) writeFrame(of outboundFrame) bool {
	if err := EncodeHeader(s.conn, of.header); err != nil {
		s.log.Error("packet stream write header failed", "error", err)
		return false
	}
	if len(of.payload) > 0 {
		if _, err := s.conn.Write(of.payload); err != nil {
			s.log.Error("packet stream write payload failed", "error", err)
			return false
		}
	}
	if len(s.outbound) == 0 && s.onDrain != nil {
		s.onDrain()
	}
	return true
}

// sliceWriter is a tiny io.Writer over a pre-sized byte slice, used to
// encode a fixed-size ShmRef without an extra bytes.Buffer allocation.
type sliceWriter struct{ b []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
