package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrlink/internal/telemetry"
)

// Announcer periodically broadcasts this node's announcement.
type Announcer struct {
	transport Transport
	payload   []byte
	interval  time.Duration
	log       *zap.Logger
}

func NewAnnouncer(t Transport, self Announcement, interval time.Duration, log *zap.Logger) (*Announcer, error) {
	payload, err := self.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Announcer{
		transport: t,
		payload:   payload,
		interval:  interval,
		log:       log.Named("announcer"),
	}, nil
}

// Run broadcasts immediately and then once per interval until ctx is done.
// Send failures are logged and never stop the loop.
func (a *Announcer) Run(ctx context.Context) error {
	a.log.Info("announcing", zap.ByteString("payload", a.payload), zap.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		a.send(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *Announcer) send(ctx context.Context) {
	if err := a.transport.Broadcast(ctx, a.payload); err != nil {
		if ctx.Err() != nil {
			return
		}
		telemetry.AnnouncementsSent.WithLabelValues("error").Inc()
		a.log.Warn("broadcast failed", zap.Error(err))
		return
	}
	telemetry.AnnouncementsSent.WithLabelValues("ok").Inc()
}
