package probe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// maxReply bounds what a client accepts from a responder.
const maxReply = 64

// FormatTimestamp renders t as UTC seconds since the epoch with microsecond
// fraction, e.g. "1700000000.250000".
func FormatTimestamp(t time.Time) string {
	us := t.UnixMicro()
	return fmt.Sprintf("%d.%06d", us/1e6, us%1e6)
}

// ParseTimestamp reads a decimal seconds-since-epoch value as sent by a
// responder. Surrounding whitespace is ignored.
func ParseTimestamp(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("timestamp %q: not finite", s)
	}
	return v, nil
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
