package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"
)

// Sample is one timestamp exchange, both clocks in seconds since the epoch.
type Sample struct {
	PeerTime  float64 // sent by the peer
	LocalTime float64 // when the reply was fully read here
}

// Delay is receive time minus peer send time: one-way latency plus clock skew.
// It can be negative when the peer's clock runs ahead.
func (s Sample) Delay() float64 {
	return s.LocalTime - s.PeerTime
}

// Exchange connects to a responder, reads its timestamp until EOF and stamps
// the local receipt time. ctx bounds both the connect and the read.
func Exchange(ctx context.Context, d *net.Dialer, addr netip.AddrPort, now func() time.Time) (Sample, error) {
	conn, err := d.DialContext(ctx, "tcp", addr.String())
	if err != nil {
		return Sample{}, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	b, err := io.ReadAll(io.LimitReader(conn, maxReply+1))
	if err != nil {
		if ctx.Err() != nil {
			return Sample{}, ctx.Err()
		}
		return Sample{}, err
	}
	local := now()
	if len(b) > maxReply {
		return Sample{}, fmt.Errorf("reply longer than %d bytes", maxReply)
	}
	peer, err := ParseTimestamp(string(b))
	if err != nil {
		return Sample{}, err
	}
	return Sample{PeerTime: peer, LocalTime: seconds(local)}, nil
}
