package pipeline

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/schuyler/corazonn/internal/detect"
	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
	"github.com/schuyler/corazonn/internal/rhythm"
)

// manualClock is a hand-advanced clock so pipeline runs are fully
// deterministic.
type manualClock struct {
	ms int64
}

func (c *manualClock) NowMS() int64     { return c.ms }
func (c *manualClock) NowUnix() float64 { return float64(c.ms) / 1000 }
func (c *manualClock) Advance(ms int64) { c.ms += ms }

// collectSink records every published beat.
type collectSink struct {
	mu    sync.Mutex
	beats []domain.BeatEvent
}

func (s *collectSink) Beat(_ context.Context, ev domain.BeatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beats = append(s.beats, ev)
	return nil
}

func (s *collectSink) all() []domain.BeatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.BeatEvent, len(s.beats))
	copy(out, s.beats)
	return out
}

// pulseADC is a synthetic capillary pulse train: jittering baseline
// with a tall spike every period samples (period 50 = 60 BPM at 50 Hz).
func pulseADC(i, period int) int {
	if period > 0 && i%period == 0 {
		return 3000
	}
	offsets := [5]int{-90, -45, 0, 45, 90}
	return 2000 + offsets[i%5]
}

// runBundles feeds n bundles of the synthetic pulse train through the
// pipeline, advancing the clock one bundle period per bundle.
func runBundles(p *Pipeline, clock *manualClock, startSample, n, period int) {
	ctx := context.Background()
	for b := 0; b < n; b++ {
		clock.Advance(domain.BundlePeriodMS)
		var bundle domain.Bundle
		bundle.Sensor = p.id
		bundle.DeviceMS = clock.NowMS()
		for k := 0; k < domain.SamplesPerBundle; k++ {
			bundle.ADC[k] = pulseADC(startSample+b*domain.SamplesPerBundle+k, period)
		}
		p.Ingest(ctx, bundle)
	}
}

func setupPipeline(t *testing.T) (*Pipeline, *manualClock, *collectSink) {
	t.Helper()
	clock := &manualClock{}
	sink := &collectSink{}
	log := logger.New(logger.LevelOff, nil)
	return NewPipeline(0, clock, []domain.BeatSink{sink}, log), clock, sink
}

func TestColdStartCleanSixtyBPM(t *testing.T) {
	p, clock, sink := setupPipeline(t)

	// 30 seconds of a clean 60 BPM pulse train.
	runBundles(p, clock, 0, 300, 50)

	beats := sink.all()
	if len(beats) == 0 {
		t.Fatal("no beats from a clean signal")
	}

	// Warmup (2 s) plus five init crossings (4 s) pass before the
	// first beat can emit.
	if first := beats[0].TUnix; first < 6.0 {
		t.Fatalf("first beat at %.2f s, before init could complete", first)
	}

	// Steady state: 60 BPM at full confidence, one beat per second.
	for _, b := range beats {
		if b.BPM < 58 || b.BPM > 62 {
			t.Fatalf("bpm = %v, want within [58,62]", b.BPM)
		}
		if b.Intensity != 1 {
			t.Fatalf("intensity = %v, want 1.0 on a clean signal", b.Intensity)
		}
		if b.Sensor != 0 {
			t.Fatalf("beat carries sensor %d, want 0", b.Sensor)
		}
	}

	// Roughly one beat per second once locked.
	if len(beats) < 20 || len(beats) > 26 {
		t.Fatalf("got %d beats over ~24 locked seconds, want about 24", len(beats))
	}
}

func TestBeatsMonotoneAndAhead(t *testing.T) {
	p, clock, sink := setupPipeline(t)
	runBundles(p, clock, 0, 300, 50)

	beats := sink.all()
	last := 0.0
	for _, b := range beats {
		if b.TUnix < last {
			t.Fatalf("beat timestamps went backwards: %v after %v", b.TUnix, last)
		}
		last = b.TUnix
	}

	// Every beat lands in the consumer acceptance window relative to
	// the end of the run at the latest; spot-check the lookahead with
	// the final beat against the emission clock.
	if lastBeat := beats[len(beats)-1]; lastBeat.TUnix > clock.NowUnix()+float64(rhythm.LookaheadMS)/1000+0.001 {
		t.Fatalf("final beat %.3f further ahead than the lookahead allows (now %.3f)",
			lastBeat.TUnix, clock.NowUnix())
	}
}

func TestSignalLossFadesOut(t *testing.T) {
	p, clock, sink := setupPipeline(t)

	// Lock on 20 s of clean signal, then 20 s of idle noise floor
	// (no crossings).
	runBundles(p, clock, 0, 200, 50)
	locked := len(sink.all())
	if locked == 0 {
		t.Fatal("setup failed: no beats before signal loss")
	}

	runBundles(p, clock, 1000, 200, 0)

	beats := sink.all()
	coast := beats[locked:]
	if len(coast) == 0 {
		t.Fatal("no coasting beats after signal loss")
	}

	// Intensity decays monotonically toward zero...
	for i := 1; i < len(coast); i++ {
		if coast[i].Intensity > coast[i-1].Intensity {
			t.Fatalf("coast intensity rose: %v after %v", coast[i].Intensity, coast[i-1].Intensity)
		}
	}
	// ...and emission stops roughly ten seconds in.
	lastT := coast[len(coast)-1].TUnix
	if lastT > 20.0+12.0 {
		t.Fatalf("still emitting at %.1f s, decay should have silenced by then", lastT)
	}

	if p.Predictor().Mode() != rhythm.ModeStop {
		t.Fatalf("predictor mode = %s after exhaustion, want stop", p.Predictor().Mode())
	}
}

func TestNoiseFloorEmitsNothing(t *testing.T) {
	p, clock, sink := setupPipeline(t)

	// 60 s of flat noise: detector never activates, predictor never
	// leaves init, zero beats.
	ctx := context.Background()
	for b := 0; b < 600; b++ {
		clock.Advance(domain.BundlePeriodMS)
		var bundle domain.Bundle
		bundle.DeviceMS = clock.NowMS()
		for k := 0; k < domain.SamplesPerBundle; k++ {
			bundle.ADC[k] = 2040 + (b*domain.SamplesPerBundle+k)%16
		}
		p.Ingest(ctx, bundle)
	}

	if beats := sink.all(); len(beats) != 0 {
		t.Fatalf("%d beats from the noise floor, want 0", len(beats))
	}
	if m := p.Detector().Mode(); m == detect.ModeActive {
		t.Fatalf("detector mode = %s on noise floor", m)
	}
	if m := p.Predictor().Mode(); m != rhythm.ModeInit {
		t.Fatalf("predictor mode = %s, want init", m)
	}
}

func TestArrivalGapForcesReset(t *testing.T) {
	p, clock, sink := setupPipeline(t)

	runBundles(p, clock, 0, 200, 50)
	if p.Predictor().Mode() != rhythm.ModeLocked {
		t.Fatalf("setup failed: predictor mode = %s", p.Predictor().Mode())
	}

	// The device goes quiet for five seconds, then returns.
	clock.Advance(5000)
	runBundles(p, clock, 1000, 1, 50)

	if m := p.Detector().Mode(); m != detect.ModeWarmup {
		t.Fatalf("detector mode = %s after gap, want warmup", m)
	}
	if m := p.Predictor().Mode(); m != rhythm.ModeCoast {
		t.Fatalf("predictor mode = %s after gap, want coast", m)
	}

	// Coasting continues to emit while the detector warms back up, at
	// fading intensity — but no crossing-driven re-lock can happen
	// before the window refills.
	before := len(sink.all())
	runBundles(p, clock, 1005, 15, 50)
	after := sink.all()
	for _, b := range after[before:] {
		if b.Intensity >= 1 {
			t.Fatalf("ghost beat at full intensity during warmup")
		}
	}
}

func TestDeviceClockRegressionForcesReset(t *testing.T) {
	p, clock, _ := setupPipeline(t)

	runBundles(p, clock, 0, 200, 50)
	if p.Predictor().Mode() != rhythm.ModeLocked {
		t.Fatalf("setup failed: predictor mode = %s", p.Predictor().Mode())
	}

	// A rebooted sensor restarts its millisecond clock at zero.
	clock.Advance(domain.BundlePeriodMS)
	var b domain.Bundle
	b.DeviceMS = 3
	for k := range b.ADC {
		b.ADC[k] = pulseADC(k+1, 0)
	}
	p.Ingest(context.Background(), b)

	if m := p.Detector().Mode(); m != detect.ModeWarmup {
		t.Fatalf("detector mode = %s after device clock regression, want warmup", m)
	}
}

func TestExternalResetDuringRun(t *testing.T) {
	p, clock, _ := setupPipeline(t)

	runBundles(p, clock, 0, 200, 50)
	p.Reset("test")

	if m := p.Detector().Mode(); m != detect.ModeWarmup {
		t.Fatalf("detector mode = %s after reset, want warmup", m)
	}
	if m := p.Predictor().Mode(); m != rhythm.ModeCoast {
		t.Fatalf("predictor mode = %s after reset, want coast", m)
	}

	// The same stream locks again after warmup: resumed crossings ramp
	// the coasting confidence back to full.
	runBundles(p, clock, 1000, 300, 50)
	if m := p.Predictor().Mode(); m != rhythm.ModeLocked {
		t.Fatalf("predictor mode = %s after recovery, want locked", m)
	}
	if got := p.Predictor().BPM(); math.Abs(got-60) > 2 {
		t.Fatalf("bpm = %v after recovery, want ~60", got)
	}
}
