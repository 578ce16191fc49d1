// Package detect implements the signal-quality-gated threshold
// detector: the first stage of each sensor pipeline. It watches the
// rolling robust statistics of the raw ADC stream and emits an upward
// threshold crossing as a candidate beat observation, but only while
// the signal is healthy enough to trust.
package detect

import (
	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/stats"
)

// Detector tunables. The threshold rides K MADs above the rolling
// median; a window whose MAD collapses below MinQualityMAD is flat
// noise, and one pinned to a single rail is a disconnected or
// saturated sensor.
const (
	ThresholdK      = 4.5
	MinQualityMAD   = 40.0
	SaturationLimit = 0.8
	BottomRail      = 10
	TopRail         = domain.ADCMax - 10
	RecoveryMS      = 2000
)

// Mode is the detector's gate state.
type Mode int

const (
	// ModeWarmup holds until the stats window fills after start or reset.
	ModeWarmup Mode = iota
	// ModeActive emits crossings.
	ModeActive
	// ModePaused suppresses crossings while signal quality is poor.
	ModePaused
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeWarmup:
		return "warmup"
	case ModeActive:
		return "active"
	case ModePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Detector gates one sensor's sample stream and emits upward threshold
// crossings. Not safe for concurrent use; each pipeline owns exactly
// one and feeds it serially.
type Detector struct {
	win  *stats.Window
	mode Mode

	above    bool
	havePrev bool
	prev     int

	// goodSinceMS is the start of the current sustained-good-quality
	// streak while paused; -1 when the streak is broken.
	goodSinceMS int64
}

// New returns a detector in warmup.
func New() *Detector {
	return &Detector{
		win:         stats.NewWindow(),
		goodSinceMS: -1,
	}
}

// Mode returns the current gate state.
func (d *Detector) Mode() Mode {
	return d.mode
}

// Reset reinitializes the detector in place: empty window, warmup,
// no crossing armed. Used on upstream resets and arrival gaps.
func (d *Detector) Reset() {
	d.win.Reset()
	d.mode = ModeWarmup
	d.above = false
	d.havePrev = false
	d.goodSinceMS = -1
}

// OnSample pushes one sample through the gate. It returns a crossing
// and true when the sample completes an upward transit of the
// threshold while the detector is active. Out-of-range samples are
// dropped without touching any state.
func (d *Detector) OnSample(s domain.Sample) (domain.Crossing, bool) {
	if s.ADC < 0 || s.ADC > domain.ADCMax {
		return domain.Crossing{}, false
	}

	d.win.Push(s.ADC)

	st, ok := d.win.Stats()
	if !ok {
		// Still warming up. Remember the sample so the first
		// crossing check after fill has a predecessor.
		d.prev = s.ADC
		d.havePrev = true
		return domain.Crossing{}, false
	}

	good := d.quality(st)
	d.step(good, s.TMS)

	threshold := st.Median + ThresholdK*st.MAD

	emit := false
	if d.havePrev && !d.above && float64(d.prev) < threshold && float64(s.ADC) >= threshold {
		d.above = true
		emit = d.mode == ModeActive
	}
	if d.above && float64(s.ADC) < threshold {
		d.above = false
	}

	d.prev = s.ADC
	d.havePrev = true

	if !emit {
		return domain.Crossing{}, false
	}
	return domain.Crossing{
		TMS:       s.TMS,
		Value:     s.ADC,
		Threshold: threshold,
		MAD:       st.MAD,
	}, true
}

// quality applies the two gate checks: enough dispersion to contain a
// pulse, and no single rail dominating the window. Rhythmic clipping
// splits its rail time between both rails and passes; a stuck sensor
// pins one rail and fails.
func (d *Detector) quality(st stats.Stats) bool {
	if st.MAD < MinQualityMAD {
		return false
	}
	low, high := d.win.Rails(BottomRail, TopRail)
	sat := low
	if high > sat {
		sat = high
	}
	return sat < SaturationLimit
}

// step advances the gate state machine for one sample.
func (d *Detector) step(good bool, nowMS int64) {
	switch d.mode {
	case ModeWarmup:
		// Window just filled (stats became available).
		if good {
			d.mode = ModeActive
		} else {
			d.mode = ModePaused
			d.goodSinceMS = -1
		}
	case ModeActive:
		if !good {
			d.mode = ModePaused
			d.goodSinceMS = -1
		}
	case ModePaused:
		if !good {
			d.goodSinceMS = -1
			return
		}
		if d.goodSinceMS < 0 {
			d.goodSinceMS = nowMS
			return
		}
		if nowMS-d.goodSinceMS >= RecoveryMS {
			d.mode = ModeActive
			d.goodSinceMS = -1
		}
	}
}
