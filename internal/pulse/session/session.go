// Package session implements the per-connection Connection/Session FSM
// (spec.md §4.7): the AUTH handshake (§4.7.1), static command routing
// (§4.7.2), and the version-gate/sample-spec-fixup rules (§4.7.3, §4.7.4)
// that keep replies compatible with older clients.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/logger"
	"github.com/alxayo/pulsenative/internal/pulse/auth"
	"github.com/alxayo/pulsenative/internal/pulse/dispatch"
	"github.com/alxayo/pulsenative/internal/pulse/frame"
	"github.com/alxayo/pulsenative/internal/pulse/hooks"
	"github.com/alxayo/pulsenative/internal/pulse/mempool"
	"github.com/alxayo/pulsenative/internal/pulse/mixer"
	"github.com/alxayo/pulsenative/internal/pulse/stream"
	"github.com/alxayo/pulsenative/internal/pulse/tagstruct"
)

var errUnsupportedPlatform = errors.New("srb channel requires eventfd support")

// State is a Connection's position in the handshake/authorization
// lifecycle.
type State int32

const (
	StateHandshakePending State = iota
	StateAuthenticating
	StateAuthorized
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshakePending:
		return "handshake-pending"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthorized:
		return "authorized"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// authTimeout is the spec.md §4.7.1 "60 s timer, armed on connection
// creation and cancelled on authorization" deadline.
const authTimeout = 60 * time.Second

// Opcode values for the command subset this core routes. AUTH is handled
// outside the table since it is only valid as the very first command
// (§4.7.1); every other opcode goes through HandleCommand's authorized
// check (§4.7.2 step 1).
// OpAuth is reserved as opcode 0 but never registered in the command
// table; it is only accepted as the literal first packet (§4.7.1).
const OpAuth dispatch.Opcode = 0

const (
	OpSetClientName dispatch.Opcode = iota + 1
	OpLookupSink
	OpLookupSource
	OpGetServerInfo
	OpCreatePlaybackStream
	OpDeletePlaybackStream
	OpCreateRecordStream
	OpDeleteRecordStream
	OpExit
	OpExtension
)

// ExtensionHandler processes an EXTENSION command payload for one module
// once the command's module-lookup prefix has already been consumed. It
// must produce an already-enveloped REPLY/ERROR, exactly like a
// dispatch.CommandHandler (spec.md §4.8's "extension modules may register
// opcode handlers").
type ExtensionHandler func(tag uint32, payload []byte) ([]byte, error)

// SRBChannel is the negotiated shared ring-buffer fast path: two semaphore
// file descriptors plus the memblock backing the ring itself
// (spec.md §4.7.1's ENABLE_SRBCHANNEL).
type SRBChannel struct {
	ReadFD, WriteFD int
	Ring            *mempool.Block
}

// Close releases the SRB channel's file descriptors. The ring memblock is
// released by its owning pool.
func (s *SRBChannel) Close() {
	if s == nil {
		return
	}
	closeFD(s.ReadFD)
	closeFD(s.WriteFD)
}

// Options configures a Session: the module's authorization policy plus the
// feature gates that depend on local deployment choices.
type Options struct {
	Auth           auth.Options
	EnableSRB      bool   // module option: offer ENABLE_SRBCHANNEL when negotiated
	ServerName     string // echoed in GET_SERVER_INFO replies
	RingBufferSize uint32 // SRB ring size in bytes, if EnableSRB
	OnExit         func() // invoked on a successful EXIT command, if set

	// ExtensionLookup resolves a module name to its registered handler for
	// the EXTENSION opcode (spec.md §4.8). Nil means no extensions are
	// registered; every EXTENSION command then fails NoExtension.
	ExtensionLookup func(name string) (ExtensionHandler, bool)
}

// Session is one client connection's FSM, transport, and command router.
type Session struct {
	id  string
	log *slog.Logger

	stream     *frame.Stream
	dispatcher *dispatch.Dispatcher
	registry   mixer.Registry
	hookMgr    *hooks.Manager
	opts       Options
	pool       *mempool.Pool

	peer     auth.PeerCredentials
	peerIP   net.IP
	isLocal  bool

	mu          sync.Mutex
	state       State
	version     uint32
	clientSHM   bool
	clientMemfd bool
	shmEnabled  bool
	srb         *SRBChannel
	authTimer   *time.Timer

	clientIndex uint32
	clientProps tagstruct.PropList

	streamSeq       uint32
	playbackStreams map[uint32]*stream.PlaybackStream
	recordStreams   map[uint32]*stream.RecordStream

	onClosed func(*Session)
}

// New creates a Session wrapping an already-accepted transport. Call Start
// after wiring OnClosed (if needed) to begin the handshake-pending timer
// and the frame.Stream's read/write loops.
func New(id string, conn net.Conn, peer auth.PeerCredentials, isLocal bool, registry mixer.Registry, hookMgr *hooks.Manager, pool *mempool.Pool, opts Options) *Session {
	log := logger.WithConn(logger.Logger(), id, conn.RemoteAddr().String())
	s := &Session{
		id:       id,
		log:      log,
		registry: registry,
		hookMgr:  hookMgr,
		opts:     opts,
		pool:     pool,
		peer:     peer,
		isLocal:  isLocal,
		state:    StateHandshakePending,
	}
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.peerIP = tcp.IP
	}
	s.stream = frame.New(conn, log)
	s.stream.OnPacket(s.handlePacket)
	s.stream.OnDie(s.handleDie)

	commands := map[dispatch.Opcode]dispatch.CommandHandler{
		OpSetClientName:        s.cmdSetClientName,
		OpLookupSink:           s.cmdLookupSink,
		OpLookupSource:         s.cmdLookupSource,
		OpGetServerInfo:        s.cmdGetServerInfo,
		OpCreatePlaybackStream: s.cmdCreatePlaybackStream,
		OpDeletePlaybackStream: s.cmdDeleteStream,
		OpCreateRecordStream:   s.cmdCreateRecordStream,
		OpDeleteRecordStream:   s.cmdDeleteStream,
		OpExit:                 s.cmdExit,
		OpExtension:            s.cmdExtension,
	}
	s.dispatcher = dispatch.New(commands)
	return s
}

// ID returns the connection's logical identifier.
func (s *Session) ID() string { return s.id }

// State returns the current FSM state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnClosed registers a callback fired once Close completes (used by
// ProtocolService to unlink the connection and fire ConnectionUnlink).
func (s *Session) OnClosed(fn func(*Session)) { s.onClosed = fn }

// Start arms the auth timeout and begins the transport's I/O loops. The
// first packet received must be AUTH; everything else closes the connection
// as a ProtocolError.
func (s *Session) Start() {
	s.mu.Lock()
	s.authTimer = time.AfterFunc(authTimeout, s.onAuthTimeout)
	s.mu.Unlock()
	s.stream.Start()
}

func (s *Session) onAuthTimeout() {
	s.log.Warn("auth timeout expired")
	s.fireAuthFailed("timeout")
	_ = s.Close()
}

func (s *Session) handleDie(err error) {
	s.log.Debug("transport closed", "error", err)
	// Called from the transport's own read-loop goroutine; Close joins that
	// same goroutine via stream.Close's wg.Wait, so it must run detached.
	go func() { _ = s.Close() }()
}

// Close transitions to Closed, stops the auth timer, tears down the
// transport and any SRB channel, and notifies onClosed exactly once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	if s.authTimer != nil {
		s.authTimer.Stop()
	}
	srb := s.srb
	s.srb = nil
	s.mu.Unlock()

	srb.Close()
	s.dispatcher.Close()
	err := s.stream.Close()
	if s.onClosed != nil {
		s.onClosed(s)
	}
	return err
}

func (s *Session) handlePacket(payload []byte) {
	op, tag, args, err := decodeEnvelope(payload)
	if err != nil {
		s.closeProtocolError(err)
		return
	}

	if s.State() != StateAuthorized {
		if err := s.handleHandshake(op, tag, args); err != nil {
			s.closeProtocolError(err)
		}
		return
	}

	respPayload, cmdErr := s.dispatcher.HandleCommand(op, tag, args.RemainingBytes())
	if cmdErr != nil {
		if perr.IsProtocolError(cmdErr) && perr.WireCode(cmdErr) == perr.KindProtocolError {
			s.closeProtocolError(cmdErr)
			return
		}
		if err := s.stream.SendPacket(encodeError(tag, cmdErr)); err != nil {
			s.log.Error("failed to send error reply", "error", err)
		}
		return
	}
	if err := s.stream.SendPacket(respPayload); err != nil {
		s.log.Error("failed to send reply", "error", err)
	}
}

func (s *Session) closeProtocolError(err error) {
	s.log.Error("protocol error, closing connection", "error", err)
	// handlePacket runs on the transport's own read-loop goroutine; see the
	// note in handleDie for why Close must not be called inline here.
	go func() { _ = s.Close() }()
}

// requireAuthorized is called by every CommandHandler per §4.7.2 step 1.
func (s *Session) requireAuthorized() error {
	if s.State() != StateAuthorized {
		return perr.NewAccess("session.command", fmt.Errorf("connection not authorized"))
	}
	return nil
}

func (s *Session) fireAuthFailed(reason string) {
	if s.hookMgr == nil {
		return
	}
	ev := hooks.NewEvent(hooks.EventAuthFailed).WithConnectionID(s.id).WithData("reason", reason)
	s.hookMgr.TriggerEvent(context.Background(), *ev)
}
