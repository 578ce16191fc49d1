package pipeline

import (
	"time"

	"github.com/schuyler/corazonn/internal/domain"
)

// Compile-time interface check.
var _ domain.Clock = (*SystemClock)(nil)

// SystemClock derives both time scales from a single monotonic
// reference captured at construction plus the UTC instant at that
// moment, so phase math and beat timestamps can never drift apart.
type SystemClock struct {
	start     time.Time
	startUnix float64
}

// NewSystemClock captures the process time reference.
func NewSystemClock() *SystemClock {
	now := time.Now()
	return &SystemClock{
		start:     now,
		startUnix: float64(now.UnixNano()) / 1e9,
	}
}

// NowMS returns elapsed monotonic milliseconds since construction.
func (c *SystemClock) NowMS() int64 {
	return time.Since(c.start).Milliseconds()
}

// NowUnix returns UTC seconds derived from the monotonic reference.
func (c *SystemClock) NowUnix() float64 {
	return c.startUnix + time.Since(c.start).Seconds()
}
