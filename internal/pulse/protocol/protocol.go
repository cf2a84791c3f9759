// Package protocol implements ProtocolService (spec.md §4.8): the
// ref-counted singleton that accepts connections, allocates Sessions,
// enforces MAX_CONNECTIONS, and fans out the ConnectionPut/ConnectionUnlink/
// ServersChanged lifecycle hooks. Grounded on internal/rtmp/server.Server's
// accept loop and tracked-connections map: Start binds its own listener on
// Config.ListenAddr (unix or tcp), and the service enforces a connection
// cap and fires lifecycle hooks instead of RTMP-specific ones.
package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/alxayo/pulsenative/internal/logger"
	"github.com/alxayo/pulsenative/internal/pulse/auth"
	"github.com/alxayo/pulsenative/internal/pulse/hooks"
	"github.com/alxayo/pulsenative/internal/pulse/mempool"
	"github.com/alxayo/pulsenative/internal/pulse/mixer"
	"github.com/alxayo/pulsenative/internal/pulse/session"
)

// MaxConnections is the spec.md §4.8 connection cap ("enforces
// MAX_CONNECTIONS = 64").
const MaxConnections = 64

// Config configures a Service: the listen address, the per-session
// authorization/feature options, and the hook subsystem's configuration.
type Config struct {
	ListenAddr     string
	MaxConnections int // 0 means MaxConnections

	Auth           auth.Options
	ServerName     string
	EnableSRB      bool
	RingBufferSize uint32

	HookScripts     []string // event_type=script_path pairs
	HookWebhooks    []string // event_type=webhook_url pairs
	HookStdioFormat string
	HookTimeout     string
	HookConcurrency int
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "/run/pulse/native"
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = MaxConnections
	}
	if c.ServerName == "" {
		c.ServerName = "pulsenative"
	}
	if c.HookTimeout == "" {
		c.HookTimeout = "30s"
	}
	if c.HookConcurrency == 0 {
		c.HookConcurrency = 10
	}
}

// Service is the ref-counted singleton owning the set of live Connections,
// the advertised server-address list, and the extension opcode registry
// (spec.md §3, §4.8).
type Service struct {
	cfg      Config
	log      *slog.Logger
	registry mixer.Registry
	hookMgr  *hooks.Manager
	pool     *mempool.Pool

	mu          sync.Mutex
	ln          net.Listener
	closing     bool
	conns       map[string]*session.Session
	nextConnID  uint64
	servers     map[string]int // advertised server string -> refcount
	extensions  map[string]session.ExtensionHandler
	forwarders  []func(servers []string)
	acceptingWg sync.WaitGroup
}

// New creates an unstarted Service. registry resolves sinks/sources for
// every Session it accepts.
func New(cfg Config, registry mixer.Registry) *Service {
	cfg.applyDefaults()
	hookMgr := hooks.NewManager(hooks.Config{
		Timeout:     cfg.HookTimeout,
		Concurrency: cfg.HookConcurrency,
		StdioFormat: cfg.HookStdioFormat,
	}, logger.Logger())
	registerConfiguredHooks(hookMgr, cfg, logger.Logger())

	return &Service{
		cfg:        cfg,
		log:        logger.Logger().With("component", "protocol_service"),
		registry:   registry,
		hookMgr:    hookMgr,
		pool:       mempool.NewPool(mempool.BackingPosix),
		conns:      make(map[string]*session.Session),
		servers:    make(map[string]int),
		extensions: make(map[string]session.ExtensionHandler),
	}
}

// Start binds the listen address and launches the accept loop. Safe to
// call only once.
func (svc *Service) Start() error {
	svc.mu.Lock()
	if svc.ln != nil {
		svc.mu.Unlock()
		return errors.New("protocol service already started")
	}
	network := "unix"
	if isTCPAddr(svc.cfg.ListenAddr) {
		network = "tcp"
	}
	ln, err := net.Listen(network, svc.cfg.ListenAddr)
	if err != nil {
		svc.mu.Unlock()
		return fmt.Errorf("listen %s %s: %w", network, svc.cfg.ListenAddr, err)
	}
	svc.ln = ln
	svc.mu.Unlock()

	svc.AddServerAddr(fmt.Sprintf("%s:%s", network, ln.Addr().String()))

	svc.log.Info("protocol service listening", "network", network, "addr", ln.Addr().String())
	svc.acceptingWg.Add(1)
	go svc.acceptLoop()
	return nil
}

// isTCPAddr is a conservative heuristic: an address containing a ':' not
// at position 0 and parsing as host:port is treated as TCP; everything
// else (a filesystem path, the common "unix socket" shape) is unix.
func isTCPAddr(addr string) bool {
	if addr == "" {
		return false
	}
	if addr[0] == '/' || addr[0] == '.' {
		return false
	}
	_, _, err := net.SplitHostPort(addr)
	return err == nil
}

func (svc *Service) acceptLoop() {
	defer svc.acceptingWg.Done()
	for {
		svc.mu.Lock()
		ln := svc.ln
		svc.mu.Unlock()
		if ln == nil {
			return
		}
		conn, err := ln.Accept()
		if err != nil {
			svc.mu.Lock()
			closing := svc.closing
			svc.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return
			}
			svc.log.Warn("accept error", "error", err)
			return
		}
		svc.handleAccept(conn)
	}
}

func (svc *Service) handleAccept(conn net.Conn) {
	svc.mu.Lock()
	if len(svc.conns) >= svc.cfg.MaxConnections {
		svc.mu.Unlock()
		svc.log.Warn("connection rejected, MAX_CONNECTIONS reached", "limit", svc.cfg.MaxConnections)
		_ = conn.Close()
		return
	}
	svc.nextConnID++
	id := fmt.Sprintf("conn-%d", svc.nextConnID)
	svc.mu.Unlock()

	peer, err := auth.PeerCredentialsFromConn(conn)
	if err != nil {
		svc.log.Error("peer credential lookup failed", "error", err)
		_ = conn.Close()
		return
	}
	s := session.New(id, conn, peer, peer.IsLocal, svc.registry, svc.hookMgr, svc.pool, session.Options{
		Auth:            svc.cfg.Auth,
		EnableSRB:       svc.cfg.EnableSRB,
		ServerName:      svc.cfg.ServerName,
		RingBufferSize:  svc.cfg.RingBufferSize,
		ExtensionLookup: svc.lookupExtension,
	})
	s.OnClosed(svc.handleUnlink)

	svc.mu.Lock()
	svc.conns[id] = s
	svc.mu.Unlock()

	svc.fireEvent(hooks.EventConnectionPut, id, map[string]interface{}{
		"remote_addr": conn.RemoteAddr().String(),
		"is_local":    peer.IsLocal,
	})
	svc.log.Info("connection accepted", "conn_id", id, "remote", conn.RemoteAddr().String())

	s.Start()
}

func (svc *Service) handleUnlink(s *session.Session) {
	svc.mu.Lock()
	_, ok := svc.conns[s.ID()]
	delete(svc.conns, s.ID())
	svc.mu.Unlock()
	if !ok {
		return
	}
	svc.fireEvent(hooks.EventConnectionUnlink, s.ID(), nil)
	svc.log.Info("connection unlinked", "conn_id", s.ID())
}

// Stop stops accepting, closes every live Connection, and waits for the
// accept loop and hook manager to drain.
func (svc *Service) Stop() error {
	svc.mu.Lock()
	if svc.ln == nil {
		svc.mu.Unlock()
		return nil
	}
	svc.closing = true
	ln := svc.ln
	svc.ln = nil
	conns := make([]*session.Session, 0, len(svc.conns))
	for _, s := range svc.conns {
		conns = append(conns, s)
	}
	svc.mu.Unlock()

	_ = ln.Close()
	for _, s := range conns {
		_ = s.Close()
	}
	svc.acceptingWg.Wait()

	if err := svc.hookMgr.Close(); err != nil {
		svc.log.Error("hook manager close error", "error", err)
	}
	svc.log.Info("protocol service stopped")
	return nil
}

// Addr returns the bound listener address, or nil if Start has not been
// called.
func (svc *Service) Addr() net.Addr {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.ln == nil {
		return nil
	}
	return svc.ln.Addr()
}

// ConnectionCount reports the number of live connections, for tests and
// operational visibility.
func (svc *Service) ConnectionCount() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return len(svc.conns)
}

// AddServerAddr increments the refcount of an advertised server string,
// firing ServersChanged on its first registration (spec.md §4.8's
// "ref-counted list of advertised server strings").
func (svc *Service) AddServerAddr(addr string) {
	svc.mu.Lock()
	svc.servers[addr]++
	first := svc.servers[addr] == 1
	svc.mu.Unlock()
	if first {
		svc.fireServersChanged(addr)
	}
}

// RemoveServerAddr decrements the refcount, firing ServersChanged when it
// drops to zero and the address is no longer advertised.
func (svc *Service) RemoveServerAddr(addr string) {
	svc.mu.Lock()
	n, ok := svc.servers[addr]
	if !ok {
		svc.mu.Unlock()
		return
	}
	n--
	if n <= 0 {
		delete(svc.servers, addr)
	} else {
		svc.servers[addr] = n
	}
	svc.mu.Unlock()
	if n <= 0 {
		svc.fireServersChanged(addr)
	}
}

// ServerAddrs returns a snapshot of the currently advertised server
// strings.
func (svc *Service) ServerAddrs() []string {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]string, 0, len(svc.servers))
	for addr := range svc.servers {
		out = append(out, addr)
	}
	return out
}

// RegisterForwarder adds a callback invoked with the current server list
// every time it changes, adapting the teacher's relay.DestinationManager
// fan-out pattern to ServersChanged notification instead of RTMP relaying.
func (svc *Service) RegisterForwarder(fn func(servers []string)) {
	svc.mu.Lock()
	svc.forwarders = append(svc.forwarders, fn)
	svc.mu.Unlock()
}

func (svc *Service) fireServersChanged(addr string) {
	svc.fireEventAddr(hooks.EventServersChanged, addr)
	servers := svc.ServerAddrs()
	svc.mu.Lock()
	forwarders := append([]func([]string){}, svc.forwarders...)
	svc.mu.Unlock()
	for _, fn := range forwarders {
		fn(servers)
	}
}

// RegisterExtension installs an opcode handler for an extension module
// (spec.md §4.8's "extension modules may register opcode handlers"). It is
// an error to register the same name twice.
func (svc *Service) RegisterExtension(name string, handler session.ExtensionHandler) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if _, exists := svc.extensions[name]; exists {
		return fmt.Errorf("extension %q already registered", name)
	}
	svc.extensions[name] = handler
	return nil
}

// UnregisterExtension removes a previously registered extension module.
func (svc *Service) UnregisterExtension(name string) {
	svc.mu.Lock()
	delete(svc.extensions, name)
	svc.mu.Unlock()
}

func (svc *Service) lookupExtension(name string) (session.ExtensionHandler, bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	h, ok := svc.extensions[name]
	return h, ok
}

func (svc *Service) fireEvent(t hooks.EventType, connID string, data map[string]interface{}) {
	ev := hooks.NewEvent(t).WithConnectionID(connID)
	for k, v := range data {
		ev.WithData(k, v)
	}
	svc.hookMgr.TriggerEvent(context.Background(), *ev)
}

func (svc *Service) fireEventAddr(t hooks.EventType, addr string) {
	ev := hooks.NewEvent(t).WithServerAddr(addr)
	svc.hookMgr.TriggerEvent(context.Background(), *ev)
}
