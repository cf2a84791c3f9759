// Package dispatch implements the Dispatcher: a tag→callback table for
// outgoing requests awaiting a REPLY/ERROR, plus a static opcode→handler
// table for incoming commands.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/logger"
)

// Opcode identifies an incoming command.
type Opcode uint32

// ReplyFunc is invoked when a REPLY or ERROR frame arrives for a tag this
// Dispatcher allocated. err is non-nil (and carries the wire code via
// errors.WireCode) for an ERROR frame.
type ReplyFunc func(payload []byte, err error)

// CommandHandler processes an incoming command identified by opcode,
// returning the REPLY payload to send back, or an error to convert into an
// ERROR(tag, code) frame.
type CommandHandler func(tag uint32, payload []byte) ([]byte, error)

type pendingCall struct {
	fn    ReplyFunc
	timer *time.Timer
}

// Dispatcher correlates outgoing request tags with reply callbacks and
// routes incoming commands through a static opcode table. One Dispatcher
// per connection; not safe for use after Close.
type Dispatcher struct {
	log *slog.Logger

	nextTag uint32

	mu      sync.Mutex
	pending map[uint32]*pendingCall
	closed  bool

	commands map[Opcode]CommandHandler
}

// New creates a Dispatcher with the given static command table. The table
// is copied so later mutation by the caller has no effect.
func New(commands map[Opcode]CommandHandler) *Dispatcher {
	tbl := make(map[Opcode]CommandHandler, len(commands))
	for op, h := range commands {
		tbl[op] = h
	}
	return &Dispatcher{
		log:      logger.Logger().With("component", "dispatcher"),
		pending:  make(map[uint32]*pendingCall),
		commands: tbl,
	}
}

// NewTag allocates the next outgoing request tag. Tags are monotonically
// increasing 32-bit values that wrap; the pending map is always small
// enough in practice (bounded by in-flight requests) that wraparound
// collisions are a pre-existing peer bug, not a normal occurrence.
func (d *Dispatcher) NewTag() uint32 {
	return atomic.AddUint32(&d.nextTag, 1)
}

// Register records a reply callback for tag, to be invoked (or timed out)
// exactly once. timeout <= 0 means no timeout.
func (d *Dispatcher) Register(tag uint32, timeout time.Duration, fn ReplyFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return perr.NewBadState("dispatcher.register", fmt.Errorf("dispatcher closed"))
	}
	call := &pendingCall{fn: fn}
	if timeout > 0 {
		call.timer = time.AfterFunc(timeout, func() {
			d.completeTimeout(tag, timeout)
		})
	}
	d.pending[tag] = call
	return nil
}

func (d *Dispatcher) completeTimeout(tag uint32, timeout time.Duration) {
	d.mu.Lock()
	call, ok := d.pending[tag]
	if ok {
		delete(d.pending, tag)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	call.fn(nil, perr.NewTimeoutError("dispatcher.reply", timeout, fmt.Errorf("tag %d", tag)))
}

// HandleReply routes an incoming REPLY frame to its registered callback. An
// unknown tag is a ProtocolError per §4.4 (fails the connection).
func (d *Dispatcher) HandleReply(tag uint32, payload []byte) error {
	return d.complete(tag, payload, nil)
}

// HandleError routes an incoming ERROR frame to its registered callback.
func (d *Dispatcher) HandleError(tag uint32, wireErr error) error {
	return d.complete(tag, nil, wireErr)
}

func (d *Dispatcher) complete(tag uint32, payload []byte, wireErr error) error {
	d.mu.Lock()
	call, ok := d.pending[tag]
	if ok {
		delete(d.pending, tag)
	}
	d.mu.Unlock()
	if !ok {
		return perr.NewProtocolError("dispatcher.reply", fmt.Errorf("unknown tag %d", tag))
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.fn(payload, wireErr)
	return nil
}

// HandleCommand routes an incoming command by opcode through the static
// table. An unregistered opcode is a ProtocolError.
func (d *Dispatcher) HandleCommand(op Opcode, tag uint32, payload []byte) ([]byte, error) {
	d.mu.Lock()
	handler, ok := d.commands[op]
	d.mu.Unlock()
	if !ok {
		return nil, perr.NewProtocolError("dispatcher.command", fmt.Errorf("unknown opcode %d", op))
	}
	return handler(tag, payload)
}

// Close cancels every pending call's timer and fails any still-registered
// tag with a BadState error (the connection is going away, not timing out).
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	pending := d.pending
	d.pending = make(map[uint32]*pendingCall)
	d.mu.Unlock()

	for tag, call := range pending {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.fn(nil, perr.NewBadState("dispatcher.close", fmt.Errorf("connection closing, tag %d abandoned", tag)))
	}
}

// Pending reports the number of outstanding (not yet replied) requests,
// useful for tests and for deciding whether a drain can proceed.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
