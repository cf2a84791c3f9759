package frame

import (
	"net"
	"sync"
	"testing"
	"time"
)

func pipeStreams(t *testing.T) (*Stream, *Stream) {
	t.Helper()
	a, b := net.Pipe()
	sa := New(a, nil)
	sb := New(b, nil)
	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb
}

func TestPacketRoundTripOverStream(t *testing.T) {
	client, server := pipeStreams(t)

	received := make(chan []byte, 1)
	server.OnPacket(func(payload []byte) { received <- payload })
	server.Start()
	client.Start()

	if err := client.SendPacket([]byte("hello")); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for packet")
	}
}

func TestMemblockWithShmRefOverStream(t *testing.T) {
	client, server := pipeStreams(t)

	received := make(chan Frame, 1)
	server.OnMemblock(func(f Frame) { received <- f })
	server.Start()
	client.Start()

	ref := &ShmRef{PoolID: 1, BlockID: 2, Offset: 0, Length: 4096}
	if err := client.SendMemblock(5, 0, 0, nil, ref); err != nil {
		t.Fatalf("SendMemblock: %v", err)
	}

	select {
	case f := <-received:
		if f.Header.Channel != 5 {
			t.Fatalf("Channel = %d, want 5", f.Header.Channel)
		}
		if f.Shm == nil || *f.Shm != *ref {
			t.Fatalf("Shm = %+v, want %+v", f.Shm, ref)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for memblock")
	}
}

func TestControlRoundTripOverStream(t *testing.T) {
	client, server := pipeStreams(t)

	var mu sync.Mutex
	var gotReleased uint32
	released := make(chan struct{}, 1)
	server.OnRelease(func(blockID uint32) {
		mu.Lock()
		gotReleased = blockID
		mu.Unlock()
		released <- struct{}{}
	})
	server.Start()
	client.Start()

	if err := client.SendControl(Control{Op: ControlReleaseBlock, BlockID: 44}); err != nil {
		t.Fatalf("SendControl: %v", err)
	}

	select {
	case <-released:
		mu.Lock()
		defer mu.Unlock()
		if gotReleased != 44 {
			t.Fatalf("released block = %d, want 44", gotReleased)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for control release")
	}
}

func TestOnDrainFiresWhenQueueEmpties(t *testing.T) {
	client, server := pipeStreams(t)
	_ = server

	drained := make(chan struct{}, 1)
	client.OnDrain(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})
	server.OnPacket(func([]byte) {})
	server.Start()
	client.Start()

	if err := client.SendPacket([]byte("x")); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drain")
	}
}

func TestOnDieFiresOnClose(t *testing.T) {
	client, server := pipeStreams(t)

	died := make(chan struct{}, 1)
	server.OnDie(func(err error) {
		select {
		case died <- struct{}{}:
		default:
		}
	})
	server.Start()
	client.Start()

	client.Close()

	select {
	case <-died:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for on_die")
	}
}
