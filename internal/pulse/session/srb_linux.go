//go:build linux

package session

import (
	"golang.org/x/sys/unix"

	perr "github.com/alxayo/pulsenative/internal/errors"
)

// newSemaphoreFDs creates the two eventfd-backed semaphores the shared ring
// buffer channel uses to signal "data available" in each direction
// (spec.md §4.7.1's "two file descriptors" for ENABLE_SRBCHANNEL).
func newSemaphoreFDs() (readFD, writeFD int, err error) {
	readFD, err = unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, perr.NewInternal("session.srb.eventfd", err)
	}
	writeFD, err = unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(readFD)
		return -1, -1, perr.NewInternal("session.srb.eventfd", err)
	}
	return readFD, writeFD, nil
}

func closeFD(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}
