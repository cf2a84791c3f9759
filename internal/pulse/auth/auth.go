// Package auth implements the authorization decision of §4.7.1: anonymous
// auth, peer-IP ACL, local-socket uid/gid matching, and constant-time
// cookie comparison.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net"
	"os"

	perr "github.com/alxayo/pulsenative/internal/errors"
)

// CookieLength is the fixed size of the shared-secret cookie file, per
// spec.md §6 ("AUTH cookie length = 256 bytes").
const CookieLength = 256

// PeerCredentials describes what the transport layer was able to determine
// about the connecting peer, gathered via SO_PEERCRED on a Unix-domain
// socket or left zero-valued for a TCP peer.
type PeerCredentials struct {
	IsLocal bool
	UID     uint32
	GID     uint32
	Groups  []uint32 // supplementary group IDs, if resolved
}

// Options are the recognised module options from spec.md §6.
type Options struct {
	AuthAnonymous    bool
	AuthGroupEnable  bool
	AuthGroup        string
	AuthGroupGID     uint32 // resolved GID for AuthGroup, 0 if unresolved
	AuthIPACL        []*net.IPNet
	AuthCookieEnable bool
	Cookie           []byte // exactly CookieLength bytes when AuthCookieEnable
	ServerUID        uint32
}

// Decide implements §4.7.1's authorization rule: "authorization succeeds if
// any of: anonymous auth enabled; peer IP matches the ACL; on local socket,
// peer uid equals server uid or belongs to the configured group; cookie
// matches the server's cookie file (constant-time compare)."
func Decide(opts Options, peer PeerCredentials, peerIP net.IP, cookie []byte) (bool, error) {
	if opts.AuthAnonymous {
		return true, nil
	}
	if peerIP != nil && matchesACL(opts.AuthIPACL, peerIP) {
		return true, nil
	}
	if peer.IsLocal {
		if peer.UID == opts.ServerUID {
			return true, nil
		}
		if opts.AuthGroupEnable && inGroup(peer, opts.AuthGroupGID) {
			return true, nil
		}
	}
	if opts.AuthCookieEnable && cookieMatches(opts.Cookie, cookie) {
		return true, nil
	}
	return false, nil
}

func matchesACL(acl []*net.IPNet, ip net.IP) bool {
	for _, n := range acl {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func inGroup(peer PeerCredentials, gid uint32) bool {
	if peer.GID == gid {
		return true
	}
	for _, g := range peer.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// cookieMatches performs a constant-time, fixed-length comparison so a
// timing side channel can't be used to guess the cookie byte by byte.
func cookieMatches(server, client []byte) bool {
	if len(server) != CookieLength || len(client) != CookieLength {
		return false
	}
	return subtle.ConstantTimeCompare(server, client) == 1
}

// ParseACL parses a comma-separated CIDR list, per spec.md §6's
// "auth-ip-acl (string): comma-separated CIDR list".
func ParseACL(spec string) ([]*net.IPNet, error) {
	var nets []*net.IPNet
	start := 0
	for i := 0; i <= len(spec); i++ {
		if i == len(spec) || spec[i] == ',' {
			entry := trimSpace(spec[start:i])
			start = i + 1
			if entry == "" {
				continue
			}
			_, n, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, perr.NewInvalid("auth.parse_acl", fmt.Errorf("invalid CIDR %q: %w", entry, err))
			}
			nets = append(nets, n)
		}
	}
	return nets, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}

// LoadCookie reads a cookie file, searching the user's home directory
// before the system path per spec.md §6's fallback rule, and validates its
// length.
func LoadCookie(userPath, systemPath string) ([]byte, error) {
	for _, p := range []string{userPath, systemPath} {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, perr.NewInternal("auth.load_cookie", err)
		}
		if len(data) != CookieLength {
			return nil, perr.NewInvalid("auth.load_cookie", fmt.Errorf("cookie file %s is %d bytes, want %d", p, len(data), CookieLength))
		}
		return data, nil
	}
	return nil, perr.NewNoEntity("auth.load_cookie", fmt.Errorf("no cookie file found"))
}
