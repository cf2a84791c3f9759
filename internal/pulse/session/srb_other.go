//go:build !linux

package session

import perr "github.com/alxayo/pulsenative/internal/errors"

// newSemaphoreFDs has no portable non-Linux implementation; SRB channel
// setup is a Linux-only optimization (it requires eventfd), matching the
// reference implementation's own platform restriction.
func newSemaphoreFDs() (readFD, writeFD int, err error) {
	return -1, -1, perr.NewInternal("session.srb.eventfd", errUnsupportedPlatform)
}

func closeFD(fd int) {}
