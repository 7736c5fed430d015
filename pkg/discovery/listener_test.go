package discovery

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrlink/pkg/identity"
	"github.com/ryandielhenn/zephyrlink/pkg/neighbor"
)

type triggerLog struct {
	mu    sync.Mutex
	calls []netip.AddrPort
	ids   []identity.ID
}

func (r *triggerLog) trigger(id identity.ID, addr netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	r.calls = append(r.calls, addr)
}

func (r *triggerLog) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var peerSrc = netip.MustParseAddrPort("192.168.1.20:35498")

func datagram(payload string) Datagram {
	return Datagram{Payload: []byte(payload), Source: peerSrc}
}

func newTestListener(self identity.ID) (*Listener, *neighbor.Table, *triggerLog) {
	tbl := neighbor.NewTable()
	rec := &triggerLog{}
	l := NewListener(nil, self, tbl, rec.trigger, zap.NewNop())
	return l, tbl, rec
}

func TestHandle_NewPeerIsRecordedAndMeasured(t *testing.T) {
	l, tbl, rec := newTestListener("AAAAAAAA")

	l.handle(datagram("BBBBBBBB ON 7000"))

	e, ok := tbl.Get("BBBBBBBB")
	if !ok {
		t.Fatalf("BBBBBBBB not in table")
	}
	want := netip.MustParseAddrPort("192.168.1.20:7000")
	if e.Addr != want || e.Liveness != 1 {
		t.Fatalf("entry = %+v, want addr %s liveness 1", e, want)
	}
	if rec.count() != 1 || rec.ids[0] != "BBBBBBBB" || rec.calls[0] != want {
		t.Fatalf("triggers = %v %v, want one for BBBBBBBB at %s", rec.ids, rec.calls, want)
	}
}

func TestHandle_IgnoresSelfAndMalformed(t *testing.T) {
	l, tbl, rec := newTestListener("AAAAAAAA")

	for _, p := range []string{"AAAAAAAA ON 6000", "garbage", "BBBBBBBB ON x", "BBBBBBBB-ON-7000"} {
		l.handle(datagram(p))
	}
	if tbl.Len() != 0 || rec.count() != 0 {
		t.Fatalf("table len %d, triggers %d; want 0, 0", tbl.Len(), rec.count())
	}
}

func TestHandle_RemeasuresEveryTenthAnnouncement(t *testing.T) {
	l, tbl, rec := newTestListener("AAAAAAAA")

	l.handle(datagram("BBBBBBBB ON 7000")) // created, liveness 1, trigger #1
	for i := 2; i <= neighbor.MaxLiveness; i++ {
		l.handle(datagram("BBBBBBBB ON 7000"))
		if e, _ := tbl.Get("BBBBBBBB"); e.Liveness != i {
			t.Fatalf("liveness = %d, want %d", e.Liveness, i)
		}
	}
	if rec.count() != 1 {
		t.Fatalf("triggers before wrap = %d, want 1", rec.count())
	}

	l.handle(datagram("BBBBBBBB ON 7000")) // 11th: wraps to 1
	if e, _ := tbl.Get("BBBBBBBB"); e.Liveness != 1 {
		t.Fatalf("liveness after wrap = %d, want 1", e.Liveness)
	}
	if rec.count() != 2 {
		t.Fatalf("triggers after wrap = %d, want 2", rec.count())
	}
}

func TestHandle_RefreshesAdvertisedPort(t *testing.T) {
	l, tbl, _ := newTestListener("AAAAAAAA")
	l.handle(datagram("BBBBBBBB ON 7000"))
	l.handle(datagram("BBBBBBBB ON 7001"))

	e, _ := tbl.Get("BBBBBBBB")
	if e.Addr.Port() != 7001 {
		t.Fatalf("port = %d, want 7001", e.Addr.Port())
	}
}

func TestRun_TwoNodesOnChannelBus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := NewChannelBus()
	type member struct {
		id  identity.ID
		tbl *neighbor.Table
		rec *triggerLog
	}
	var members []member
	for i, id := range []identity.ID{"AAAAAAAA", "BBBBBBBB"} {
		tr := bus.Join(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), uint16(40000+i)))
		defer tr.Close()

		tbl := neighbor.NewTable()
		rec := &triggerLog{}
		a, err := NewAnnouncer(tr, Announcement{ID: id, Port: uint16(6000 + i*1000)}, 10*time.Millisecond, zap.NewNop())
		if err != nil {
			t.Fatalf("NewAnnouncer: %v", err)
		}
		l := NewListener(tr, id, tbl, rec.trigger, zap.NewNop())
		go a.Run(ctx)
		go l.Run(ctx)
		members = append(members, member{id, tbl, rec})
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if members[0].tbl.Len() == 1 && members[1].tbl.Len() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if e, ok := members[0].tbl.Get("BBBBBBBB"); !ok || e.Addr.Port() != 7000 {
		t.Fatalf("A's view of B = (%+v,%v), want port 7000", e, ok)
	}
	if e, ok := members[1].tbl.Get("AAAAAAAA"); !ok || e.Addr.Port() != 6000 {
		t.Fatalf("B's view of A = (%+v,%v), want port 6000", e, ok)
	}
	for _, m := range members {
		if m.tbl.Len() != 1 {
			t.Fatalf("%s table has %d entries, want 1 (self must be filtered)", m.id, m.tbl.Len())
		}
		if m.rec.count() < 1 {
			t.Fatalf("%s never triggered a measurement", m.id)
		}
	}
}

func TestRun_StopsOnClose(t *testing.T) {
	bus := NewChannelBus()
	tr := bus.Join(peerSrc)
	l := NewListener(tr, "AAAAAAAA", neighbor.NewTable(), func(identity.ID, netip.AddrPort) {}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	tr.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Close")
	}
}

type brokenReceiver struct {
	*ChannelTransport
	calls atomic.Int32
}

func (b *brokenReceiver) Receive(context.Context) (Datagram, error) {
	b.calls.Add(1)
	return Datagram{}, errors.New("no buffer space available")
}

func TestRun_BacksOffOnPersistentReceiveError(t *testing.T) {
	tr := &brokenReceiver{}
	l := NewListener(tr, "AAAAAAAA", neighbor.NewTable(), func(identity.ID, netip.AddrPort) {}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return while backing off")
	}
	// 5ms doubling reaches 150ms in about six attempts.
	if n := tr.calls.Load(); n < 2 || n > 20 {
		t.Fatalf("Receive called %d times in 150ms, want a backed-off retry", n)
	}
}
