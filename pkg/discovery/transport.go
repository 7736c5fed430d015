package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Datagram is one received broadcast and the transport address it came from.
type Datagram struct {
	Payload []byte
	Source  netip.AddrPort
}

// Transport carries announcements across one broadcast domain. Implementations
// must allow Broadcast and Receive to be called from different goroutines.
type Transport interface {
	Broadcast(ctx context.Context, payload []byte) error
	// Receive blocks until a datagram arrives, ctx is done, or the transport is closed.
	Receive(ctx context.Context) (Datagram, error)
	Close() error
}

// maxDatagram bounds a single read; announcements are well under it.
const maxDatagram = 4096

// UDPTransport broadcasts and listens on a single UDP socket bound to the
// discovery port on all interfaces.
type UDPTransport struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
	buf  []byte
}

// ListenUDP binds the discovery port. The socket is shared with other
// processes on the host through SO_REUSEADDR and SO_REUSEPORT.
func ListenUDP(port int, broadcastAddr string) (*UDPTransport, error) {
	ip, err := netip.ParseAddr(broadcastAddr)
	if err != nil {
		return nil, fmt.Errorf("broadcast addr: %w", err)
	}
	lc := net.ListenConfig{Control: reuseControl}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen udp :%d: %w", port, err)
	}
	return &UDPTransport{
		conn: pc.(*net.UDPConn),
		dst:  net.UDPAddrFromAddrPort(netip.AddrPortFrom(ip, uint16(port))),
		buf:  make([]byte, maxDatagram),
	}, nil
}

func (t *UDPTransport) Broadcast(ctx context.Context, payload []byte) error {
	d, _ := ctx.Deadline()
	_ = t.conn.SetWriteDeadline(d)
	_, err := t.conn.WriteToUDP(payload, t.dst)
	return err
}

// Receive is not safe for concurrent use; the discovery listener is its only caller.
func (t *UDPTransport) Receive(ctx context.Context) (Datagram, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, src, err := t.conn.ReadFromUDPAddrPort(t.buf)
	if err != nil {
		if ctx.Err() != nil {
			_ = t.conn.SetReadDeadline(time.Time{})
			return Datagram{}, ctx.Err()
		}
		return Datagram{}, err
	}
	return Datagram{
		Payload: append([]byte(nil), t.buf[:n]...),
		Source:  netip.AddrPortFrom(src.Addr().Unmap(), src.Port()),
	}, nil
}

func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *UDPTransport) Close() error {
	if err := t.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
