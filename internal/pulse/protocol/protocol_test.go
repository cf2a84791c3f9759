package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/alxayo/pulsenative/internal/pulse/auth"
	"github.com/alxayo/pulsenative/internal/pulse/frame"
	"github.com/alxayo/pulsenative/internal/pulse/mixer"
	"github.com/alxayo/pulsenative/internal/pulse/session"
	"github.com/alxayo/pulsenative/internal/pulse/tagstruct"
)

type fakeRegistry struct{}

func (fakeRegistry) LookupSink(index uint32, name string) (mixer.Sink, error) {
	return nil, errNotFound{}
}
func (fakeRegistry) LookupSource(index uint32, name string) (mixer.Source, error) {
	return nil, errNotFound{}
}
func (fakeRegistry) DefaultSinkName() string   { return "default-sink" }
func (fakeRegistry) DefaultSourceName() string { return "default-source" }

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

func newTestService(t *testing.T, maxConns int) *Service {
	t.Helper()
	svc := New(Config{
		ListenAddr:     "127.0.0.1:0",
		MaxConnections: maxConns,
		Auth:           auth.Options{AuthAnonymous: true},
	}, fakeRegistry{})
	if err := svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop() })
	return svc
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func authPacket(version uint32) []byte {
	var w tagstruct.Writer
	w.PutU32(uint32(session.OpAuth))
	w.PutU32(1)
	w.PutU32(version)
	w.PutArbitrary(make([]byte, auth.CookieLength))
	return w.Bytes()
}

func TestAcceptRegistersAndUnlinksConnection(t *testing.T) {
	svc := newTestService(t, MaxConnections)
	conn := dial(t, svc.Addr())
	defer conn.Close()

	payload := authPacket(session.ProtocolVersion)
	if err := frame.EncodeHeader(conn, frame.Header{Channel: frame.ChannelCommand, Length: uint32(len(payload))}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount = %d, want 1", svc.ConnectionCount())
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for svc.ConnectionCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := svc.ConnectionCount(); got != 0 {
		t.Fatalf("ConnectionCount after close = %d, want 0", got)
	}
}

func TestMaxConnectionsEnforced(t *testing.T) {
	svc := newTestService(t, 1)

	first := dial(t, svc.Addr())
	defer first.Close()
	deadline := time.Now().Add(2 * time.Second)
	for svc.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if svc.ConnectionCount() != 1 {
		t.Fatalf("ConnectionCount = %d, want 1 before second dial", svc.ConnectionCount())
	}

	second := dial(t, svc.Addr())
	defer second.Close()
	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(buf); err == nil {
		t.Fatal("expected the over-limit connection to be closed by the server")
	}
	if got := svc.ConnectionCount(); got != 1 {
		t.Fatalf("ConnectionCount = %d, want still 1", got)
	}
}

func TestServerAddrRefCounting(t *testing.T) {
	svc := New(Config{ListenAddr: "127.0.0.1:0"}, fakeRegistry{})
	svc.AddServerAddr("tcp:127.0.0.1:4317")
	svc.AddServerAddr("tcp:127.0.0.1:4317")
	if got := svc.ServerAddrs(); len(got) != 1 {
		t.Fatalf("ServerAddrs = %v, want 1 entry", got)
	}
	svc.RemoveServerAddr("tcp:127.0.0.1:4317")
	if got := svc.ServerAddrs(); len(got) != 1 {
		t.Fatalf("ServerAddrs after one remove = %v, want still 1 entry (refcount 1)", got)
	}
	svc.RemoveServerAddr("tcp:127.0.0.1:4317")
	if got := svc.ServerAddrs(); len(got) != 0 {
		t.Fatalf("ServerAddrs after second remove = %v, want 0 entries", got)
	}
}

func TestExtensionRegistryRejectsDuplicate(t *testing.T) {
	svc := New(Config{ListenAddr: "127.0.0.1:0"}, fakeRegistry{})
	handler := func(tag uint32, payload []byte) ([]byte, error) { return nil, nil }
	if err := svc.RegisterExtension("module-echo", handler); err != nil {
		t.Fatalf("first RegisterExtension: %v", err)
	}
	if err := svc.RegisterExtension("module-echo", handler); err == nil {
		t.Fatal("expected duplicate extension registration to fail")
	}
	if _, ok := svc.lookupExtension("module-echo"); !ok {
		t.Fatal("expected module-echo to be resolvable")
	}
	svc.UnregisterExtension("module-echo")
	if _, ok := svc.lookupExtension("module-echo"); ok {
		t.Fatal("expected module-echo to be gone after UnregisterExtension")
	}
}

func TestRegisterForwarderNotifiedOnServersChanged(t *testing.T) {
	svc := New(Config{ListenAddr: "127.0.0.1:0"}, fakeRegistry{})
	notified := make(chan []string, 1)
	svc.RegisterForwarder(func(servers []string) { notified <- servers })

	svc.AddServerAddr("unix:/run/pulse/native")

	select {
	case servers := <-notified:
		if len(servers) != 1 || servers[0] != "unix:/run/pulse/native" {
			t.Fatalf("forwarder got %v", servers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder was not notified")
	}
}
