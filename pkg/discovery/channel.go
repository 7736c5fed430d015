package discovery

import (
	"context"
	"net"
	"net/netip"
	"sync"
)

// ChannelBus is an in-process broadcast domain. Every broadcast is delivered
// to every joined transport, the sender included, as on a real segment.
type ChannelBus struct {
	mu      sync.RWMutex
	members map[*ChannelTransport]struct{}
}

func NewChannelBus() *ChannelBus {
	return &ChannelBus{members: make(map[*ChannelTransport]struct{})}
}

// Join attaches a transport whose datagrams appear to come from source.
func (b *ChannelBus) Join(source netip.AddrPort) *ChannelTransport {
	t := &ChannelTransport{
		bus:    b,
		source: source,
		inbox:  make(chan Datagram, 64),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.members[t] = struct{}{}
	b.mu.Unlock()
	return t
}

// ChannelTransport is one member of a ChannelBus. Datagrams that find a full
// inbox are dropped, matching best-effort UDP.
type ChannelTransport struct {
	bus    *ChannelBus
	source netip.AddrPort
	inbox  chan Datagram
	done   chan struct{}
	once   sync.Once
}

func (t *ChannelTransport) Broadcast(ctx context.Context, payload []byte) error {
	select {
	case <-t.done:
		return net.ErrClosed
	default:
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	t.bus.mu.RLock()
	defer t.bus.mu.RUnlock()
	for m := range t.bus.members {
		d := Datagram{Payload: append([]byte(nil), payload...), Source: t.source}
		select {
		case m.inbox <- d:
		default:
		}
	}
	return nil
}

func (t *ChannelTransport) Receive(ctx context.Context) (Datagram, error) {
	select {
	case d := <-t.inbox:
		return d, nil
	case <-t.done:
		return Datagram{}, net.ErrClosed
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

// Close detaches the transport from its bus. A second Close reports net.ErrClosed.
func (t *ChannelTransport) Close() error {
	err := net.ErrClosed
	t.once.Do(func() {
		t.bus.mu.Lock()
		delete(t.bus.members, t)
		t.bus.mu.Unlock()
		close(t.done)
		err = nil
	})
	return err
}
