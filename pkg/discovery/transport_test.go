package discovery

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer pc.Close()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

// Loopback stands in for the broadcast address so the test does not depend
// on the host's interfaces.
func TestUDPTransport_Loopback(t *testing.T) {
	port := freeUDPPort(t)
	a, err := ListenUDP(port, "127.0.0.1")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP(port, "127.0.0.1")
	if err != nil {
		t.Fatalf("second ListenUDP on shared port: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := a.Broadcast(ctx, []byte("AAAAAAAA ON 6000")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	// With SO_REUSEPORT the kernel picks one of the two sockets for a
	// unicast datagram, so read from whichever gets it.
	got := make(chan Datagram, 2)
	for _, tr := range []*UDPTransport{a, b} {
		go func(tr *UDPTransport) {
			if d, err := tr.Receive(ctx); err == nil {
				got <- d
			}
		}(tr)
	}
	select {
	case d := <-got:
		if string(d.Payload) != "AAAAAAAA ON 6000" {
			t.Fatalf("payload = %q", d.Payload)
		}
		if d.Source.Addr() != netip.MustParseAddr("127.0.0.1") {
			t.Fatalf("source = %s, want 127.0.0.1", d.Source)
		}
	case <-ctx.Done():
		t.Fatalf("no datagram received")
	}
}

func TestUDPTransport_ReceiveHonoursContext(t *testing.T) {
	tr, err := ListenUDP(freeUDPPort(t), "127.0.0.1")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := tr.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive err = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Receive ignored cancellation")
	}
}

func TestUDPTransport_DeadlineDoesNotOutliveCall(t *testing.T) {
	tr, err := ListenUDP(freeUDPPort(t), "127.0.0.1")
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer tr.Close()

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if err := tr.Broadcast(expired, []byte("AAAAAAAA ON 6000")); err == nil {
		t.Fatalf("Broadcast with expired deadline = nil error")
	}
	if err := tr.Broadcast(context.Background(), []byte("AAAAAAAA ON 6000")); err != nil {
		t.Fatalf("Broadcast without deadline after an expired one = %v", err)
	}
}

func TestChannelBus_DeliversToAllMembers(t *testing.T) {
	bus := NewChannelBus()
	src := netip.MustParseAddrPort("10.0.0.1:35498")
	a := bus.Join(src)
	b := bus.Join(netip.MustParseAddrPort("10.0.0.2:35498"))
	defer b.Close()

	ctx := context.Background()
	if err := a.Broadcast(ctx, []byte("hello")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	for name, tr := range map[string]*ChannelTransport{"sender": a, "peer": b} {
		d, err := tr.Receive(ctx)
		if err != nil || string(d.Payload) != "hello" || d.Source != src {
			t.Fatalf("%s Receive = (%+v,%v)", name, d, err)
		}
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("second Close = %v, want net.ErrClosed", err)
	}
	if err := a.Broadcast(ctx, []byte("x")); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("Broadcast after Close = %v, want net.ErrClosed", err)
	}
}

type failingTransport struct {
	*ChannelTransport
	sends chan struct{}
}

func (f failingTransport) Broadcast(context.Context, []byte) error {
	select {
	case f.sends <- struct{}{}:
	default:
	}
	return errors.New("network is unreachable")
}

func TestAnnouncer_KeepsGoingAfterSendFailure(t *testing.T) {
	f := failingTransport{sends: make(chan struct{}, 16)}
	a, err := NewAnnouncer(f, Announcement{ID: "AAAAAAAA", Port: 6000}, 5*time.Millisecond, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAnnouncer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	for range 3 {
		select {
		case <-f.sends:
		case <-time.After(2 * time.Second):
			t.Fatalf("announcer stopped sending after a failure")
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}

func TestNewAnnouncer_RejectsBadIdentity(t *testing.T) {
	if _, err := NewAnnouncer(nil, Announcement{ID: "x", Port: 1}, time.Second, zap.NewNop()); err == nil {
		t.Fatalf("NewAnnouncer with bad id = nil error")
	}
}
