package session

import (
	"context"
	"fmt"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"github.com/alxayo/pulsenative/internal/pulse/auth"
	"github.com/alxayo/pulsenative/internal/pulse/dispatch"
	"github.com/alxayo/pulsenative/internal/pulse/hooks"
	"github.com/alxayo/pulsenative/internal/pulse/tagstruct"
)

// handleHandshake processes every packet received before authorization.
// The only legal command in this state is AUTH(version, cookie); anything
// else is a protocol error (spec.md §4.7.1: "the first command from the
// client must be AUTH").
func (s *Session) handleHandshake(op dispatch.Opcode, tag uint32, args *tagstruct.Reader) error {
	if op != OpAuth {
		return perr.NewProtocolError("session.handshake", fmt.Errorf("expected AUTH, got opcode %d", op))
	}

	s.mu.Lock()
	s.state = StateAuthenticating
	s.mu.Unlock()

	rawVersion, err := args.GetU32()
	if err != nil {
		return err
	}
	cookie, err := args.GetArbitrary()
	if err != nil {
		return err
	}
	if len(cookie) != auth.CookieLength {
		return perr.NewProtocolError("session.handshake.auth", fmt.Errorf("cookie is %d bytes, want %d", len(cookie), auth.CookieLength))
	}
	if !args.Eof() {
		return perr.NewProtocolError("session.handshake.auth", fmt.Errorf("trailing bytes after AUTH args"))
	}

	version, clientSHM, clientMemfd := splitVersion(rawVersion)
	if version < MinProtocolVersion {
		if sendErr := s.stream.SendPacket(encodeError(tag, perr.NewProtocolVersion("session.handshake.auth", fmt.Errorf("client version %d below minimum %d", version, MinProtocolVersion)))); sendErr != nil {
			s.log.Error("failed to send version-reject reply", "error", sendErr)
		}
		s.fireAuthFailed("protocol-version")
		return perr.NewProtocolVersion("session.handshake.auth", fmt.Errorf("client version %d below minimum %d", version, MinProtocolVersion))
	}

	ok := s.authorize(cookie)
	if !ok {
		if sendErr := s.stream.SendPacket(encodeError(tag, perr.NewAccess("session.handshake.auth", fmt.Errorf("authorization denied")))); sendErr != nil {
			s.log.Error("failed to send access-denied reply", "error", sendErr)
		}
		s.fireAuthFailed("access-denied")
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return perr.NewAccess("session.handshake.auth", fmt.Errorf("authorization denied"))
	}

	s.mu.Lock()
	s.version = version
	s.clientSHM = clientSHM
	s.clientMemfd = clientMemfd
	s.state = StateAuthorized
	if s.authTimer != nil {
		s.authTimer.Stop()
	}
	s.mu.Unlock()

	shmEnabled := s.negotiateSHM(clientSHM)
	memfdEnabled := shmEnabled && version >= SinceMemfdSHM && clientMemfd

	var reply tagstruct.Writer
	replyVersion := version
	if shmEnabled {
		replyVersion |= flagSHM
	}
	if memfdEnabled {
		replyVersion |= flagMemfd
	}
	reply.PutU32(replyVersion)
	if err := s.stream.SendPacket(encodeReply(tag, &reply)); err != nil {
		return perr.NewInternal("session.handshake.auth.reply", err)
	}

	// The client only enables memfd transport on its own side after seeing
	// our capability flags, so the memfd pool registration control frame
	// must follow strictly after the reply (§4.7.1). This core sends no
	// registration frame; it only logs that memfd was negotiated.
	if memfdEnabled {
		s.log.Debug("memfd SHM negotiated")
	}

	if s.opts.EnableSRB && version >= SinceSRBChannel {
		if err := s.setupSRBChannel(tag); err != nil {
			s.log.Warn("SRB channel setup failed, continuing without it", "error", err)
		}
	}

	if s.hookMgr != nil {
		ev := hooks.NewEvent(hooks.EventConnectionPut).WithConnectionID(s.id)
		s.hookMgr.TriggerEvent(context.Background(), *ev)
	}

	return nil
}

// authorize applies §4.7.1's authorization rule using this session's peer
// credentials and the module's configured policy.
func (s *Session) authorize(cookie []byte) bool {
	ok, _ := auth.Decide(s.opts.Auth, s.peer, s.peerIP, cookie)
	return ok
}

// negotiateSHM applies §4.7.1's rule: "SHM is enabled only when both peers
// advertise it AND the transport is local AND peer uid == server uid."
func (s *Session) negotiateSHM(clientAdvertisesSHM bool) bool {
	if !clientAdvertisesSHM || !s.isLocal {
		return false
	}
	if s.peer.UID != s.opts.Auth.ServerUID {
		return false
	}
	s.mu.Lock()
	s.shmEnabled = true
	s.mu.Unlock()
	return true
}

// setupSRBChannel allocates the semaphore fds and ring memblock and sends
// ENABLE_SRBCHANNEL, matching §4.7.1's "two file descriptors and a
// ring-buffer memblock" description. The client is expected to ack with
// the same tag; that ack is handled like any other reply via the
// dispatcher once SendMemblock's control path exposes it.
func (s *Session) setupSRBChannel(tag uint32) error {
	readFD, writeFD, err := newSemaphoreFDs()
	if err != nil {
		return err
	}
	block, err := s.pool.Alloc(int(s.opts.RingBufferSize))
	if err != nil {
		closeFD(readFD)
		closeFD(writeFD)
		return err
	}
	srb := &SRBChannel{ReadFD: readFD, WriteFD: writeFD, Ring: block}

	s.mu.Lock()
	s.srb = srb
	s.mu.Unlock()

	var w tagstruct.Writer
	w.PutU32(s.opts.RingBufferSize)
	if err := s.stream.SendPacket(encodeReply(tag, &w)); err != nil {
		return perr.NewInternal("session.srb.enable", err)
	}
	return nil
}
