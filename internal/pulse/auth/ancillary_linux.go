//go:build linux

package auth

import (
	"fmt"
	"net"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"golang.org/x/sys/unix"
)

// SendFDs transmits fds as SCM_RIGHTS ancillary data alongside payload, for
// the ENABLE_SRBCHANNEL handshake step (§4.7.1) that hands the client two
// file descriptors for the lock-free shared ring.
func SendFDs(conn *net.UnixConn, payload []byte, fds []int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return perr.NewInternal("auth.send_fds", err)
	}
	rights := unix.UnixRights(fds...)
	var writeErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		writeErr = unix.Sendmsg(int(fd), payload, rights, nil, 0)
	})
	if ctrlErr != nil {
		return perr.NewInternal("auth.send_fds", ctrlErr)
	}
	if writeErr != nil {
		return perr.NewInternal("auth.send_fds", fmt.Errorf("sendmsg: %w", writeErr))
	}
	return nil
}

// RecvFDs receives a payload plus any SCM_RIGHTS ancillary fds from conn.
func RecvFDs(conn *net.UnixConn, maxPayload, maxFDs int) (payload []byte, fds []int, err error) {
	buf := make([]byte, maxPayload)
	oob := make([]byte, unix.CmsgSpace(maxFDs*4))

	raw, rawErr := conn.SyscallConn()
	if rawErr != nil {
		return nil, nil, perr.NewInternal("auth.recv_fds", rawErr)
	}

	var n, oobn int
	var recvErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		n, oobn, _, _, recvErr = unix.Recvmsg(int(fd), buf, oob, 0)
	})
	if ctrlErr != nil {
		return nil, nil, perr.NewInternal("auth.recv_fds", ctrlErr)
	}
	if recvErr != nil {
		return nil, nil, perr.NewInternal("auth.recv_fds", fmt.Errorf("recvmsg: %w", recvErr))
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, nil, perr.NewInternal("auth.recv_fds", err)
	}
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return buf[:n], fds, nil
}
