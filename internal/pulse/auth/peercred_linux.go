//go:build linux

package auth

import (
	"fmt"
	"net"
	"syscall"

	perr "github.com/alxayo/pulsenative/internal/errors"
	"golang.org/x/sys/unix"
)

// PeerCredentialsFromConn reads SO_PEERCRED off a Unix-domain socket, per
// spec.md §6's "On UNIX the server may request SO_PEERCRED". Returns
// IsLocal=false with zero credentials for any other conn type (e.g. TCP),
// matching the "on local socket" qualifier in §4.7.1's authorization rule.
func PeerCredentialsFromConn(conn net.Conn) (PeerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return PeerCredentials{}, nil
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return PeerCredentials{}, perr.NewInternal("auth.peercred", err)
	}

	var cred *unix.Ucred
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), syscall.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return PeerCredentials{}, perr.NewInternal("auth.peercred", ctrlErr)
	}
	if sockErr != nil {
		return PeerCredentials{}, perr.NewInternal("auth.peercred", fmt.Errorf("getsockopt SO_PEERCRED: %w", sockErr))
	}

	return PeerCredentials{
		IsLocal: true,
		UID:     cred.Uid,
		GID:     cred.Gid,
	}, nil
}
