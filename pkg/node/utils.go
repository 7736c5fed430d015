package node

import (
	"time"

	"github.com/ryandielhenn/zephyrlink/pkg/identity"
	"github.com/ryandielhenn/zephyrlink/pkg/neighbor"
)

// neighborView is the JSON shape of one neighbor. Delay is null until the
// first successful measurement.
type neighborView struct {
	ID         identity.ID `json:"id"`
	Addr       string      `json:"addr"`
	Delay      *float64    `json:"delay_seconds"`
	Liveness   int         `json:"liveness"`
	Measuring  bool        `json:"measuring"`
	FirstSeen  time.Time   `json:"first_seen"`
	LastSeen   time.Time   `json:"last_seen"`
	MeasuredAt *time.Time  `json:"measured_at,omitempty"`
}

func viewOf(e neighbor.Entry) neighborView {
	v := neighborView{
		ID:        e.ID,
		Addr:      e.Addr.String(),
		Liveness:  e.Liveness,
		Measuring: e.Measuring,
		FirstSeen: e.FirstSeen.UTC(),
		LastSeen:  e.LastSeen.UTC(),
	}
	if e.HasDelay {
		d := e.Delay
		at := e.MeasuredAt.UTC()
		v.Delay = &d
		v.MeasuredAt = &at
	}
	return v
}
