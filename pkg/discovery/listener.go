package discovery

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrlink/internal/telemetry"
	"github.com/ryandielhenn/zephyrlink/pkg/identity"
	"github.com/ryandielhenn/zephyrlink/pkg/neighbor"
)

const (
	minBackoff = 5 * time.Millisecond
	maxBackoff = time.Second
)

// Trigger starts a delay measurement of a neighbor. It must not block; the
// in-flight guard is the measurer's job.
type Trigger func(id identity.ID, addr netip.AddrPort)

// Listener turns received announcements into neighbor table updates and
// decides when a neighbor's delay is (re-)measured.
type Listener struct {
	transport Transport
	self      identity.ID
	table     *neighbor.Table
	trigger   Trigger
	log       *zap.Logger
}

func NewListener(t Transport, self identity.ID, table *neighbor.Table, trigger Trigger, log *zap.Logger) *Listener {
	return &Listener{
		transport: t,
		self:      self,
		table:     table,
		trigger:   trigger,
		log:       log.Named("listener"),
	}
}

// Run receives until ctx is done or the transport is closed. Other receive
// errors are retried with a backoff capped at maxBackoff.
func (l *Listener) Run(ctx context.Context) error {
	var backoff time.Duration
	for {
		d, err := l.transport.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = minBackoff
			} else {
				backoff *= 2
			}
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			l.log.Warn("receive failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0
		l.handle(d)
	}
}

func (l *Listener) handle(d Datagram) {
	a, err := ParseAnnouncement(d.Payload)
	if err != nil {
		telemetry.DatagramsReceived.WithLabelValues("malformed").Inc()
		l.log.Debug("discarding datagram", zap.Stringer("from", d.Source), zap.Error(err))
		return
	}
	if a.ID == l.self {
		telemetry.DatagramsReceived.WithLabelValues("self").Inc()
		return
	}
	telemetry.DatagramsReceived.WithLabelValues("ok").Inc()
	l.log.Debug("recv", zap.ByteString("payload", d.Payload), zap.Stringer("from", d.Source))

	addr := netip.AddrPortFrom(d.Source.Addr(), a.Port)
	if _, created := l.table.Upsert(a.ID, addr); created {
		telemetry.Neighbors.Set(float64(l.table.Len()))
		l.log.Info("new neighbor", zap.Stringer("peer", a.ID), zap.Stringer("addr", addr))
		l.trigger(a.ID, addr)
		return
	}
	// A bump that wraps to 1 is the periodic re-measurement signal.
	if l.table.BumpLiveness(a.ID) == 1 {
		l.trigger(a.ID, addr)
	}
}
