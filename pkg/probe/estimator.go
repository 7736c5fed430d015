package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrlink/internal/telemetry"
	"github.com/ryandielhenn/zephyrlink/pkg/identity"
	"github.com/ryandielhenn/zephyrlink/pkg/neighbor"
)

var (
	// ErrInFlight means another measurement of the same neighbor is running.
	ErrInFlight = errors.New("measurement already in flight")
	// ErrPeerGone means the exchange failed and the neighbor was dropped.
	ErrPeerGone = errors.New("peer unreachable")
)

// Estimator measures neighbor delays and records them in a table. A neighbor
// that cannot be measured is presumed to have left and is evicted.
type Estimator struct {
	table   *neighbor.Table
	dialer  *net.Dialer
	timeout time.Duration
	settle  time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewEstimator bounds every exchange by timeout. settle is waited out after
// claiming a neighbor and before connecting to it.
func NewEstimator(table *neighbor.Table, timeout, settle time.Duration, log *zap.Logger) *Estimator {
	return &Estimator{
		table:   table,
		dialer:  &net.Dialer{Timeout: timeout},
		timeout: timeout,
		settle:  settle,
		now:     time.Now,
		log:     log.Named("estimator"),
	}
}

// Measure runs one timestamp exchange against id at addr and returns the new
// delay estimate. It returns ErrInFlight without any I/O if a measurement of id
// is already running, and an error wrapping ErrPeerGone after evicting id when
// the exchange fails. Cancelling ctx abandons the measurement but keeps id.
func (e *Estimator) Measure(ctx context.Context, id identity.ID, addr netip.AddrPort) (float64, error) {
	claim, ok := e.table.TryBeginMeasurement(id)
	if !ok {
		telemetry.Measurements.WithLabelValues("skipped").Inc()
		return 0, ErrInFlight
	}
	defer e.table.EndMeasurement(id, claim)

	telemetry.MeasurementsInFlight.Inc()
	defer telemetry.MeasurementsInFlight.Dec()

	if e.settle > 0 {
		select {
		case <-time.After(e.settle):
		case <-ctx.Done():
			telemetry.Measurements.WithLabelValues("canceled").Inc()
			return 0, ctx.Err()
		}
	}

	e.log.Debug("measuring", zap.Stringer("peer", id), zap.Stringer("addr", addr))
	mctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	sample, err := Exchange(mctx, e.dialer, addr, e.now)
	telemetry.MeasurementDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			telemetry.Measurements.WithLabelValues("canceled").Inc()
			return 0, ctx.Err()
		}
		telemetry.Measurements.WithLabelValues("peer_gone").Inc()
		if e.table.Evict(id, claim) {
			telemetry.PeerDelay.DeleteLabelValues(string(id))
			telemetry.Neighbors.Set(float64(e.table.Len()))
			e.log.Warn("neighbor left", zap.Stringer("peer", id), zap.Stringer("addr", addr), zap.Error(err))
		}
		return 0, fmt.Errorf("%w: %s at %s: %v", ErrPeerGone, id, addr, err)
	}

	delay := sample.Delay()
	old, _ := e.table.Get(id)
	e.table.SetDelay(id, delay)
	telemetry.Measurements.WithLabelValues("ok").Inc()
	telemetry.PeerDelay.WithLabelValues(string(id)).Set(delay)

	fields := []zap.Field{zap.Stringer("peer", id), zap.Float64("delay", delay)}
	if old.HasDelay {
		fields = append(fields, zap.Float64("old_delay", old.Delay))
	}
	e.log.Info("delay updated", fields...)
	return delay, nil
}
