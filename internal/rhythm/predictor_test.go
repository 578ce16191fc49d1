package rhythm

import (
	"math"
	"testing"

	"github.com/schuyler/corazonn/internal/domain"
)

// obs feeds a crossing at t milliseconds.
func obs(p *Predictor, t int64) {
	p.Observe(domain.Crossing{TMS: t})
}

// tickRange ticks the predictor on a 20 ms grid over (from, to],
// collecting every emitted beat. nowUnix is derived from the
// millisecond clock so timestamp assertions stay exact.
func tickRange(p *Predictor, from, to int64) []domain.BeatEvent {
	var out []domain.BeatEvent
	for t := from + 20; t <= to; t += 20 {
		if ev, ok := p.Tick(t, float64(t)/1000); ok {
			out = append(out, ev)
		}
	}
	return out
}

// lockAt drives a fresh predictor into LOCKED with the given IBI,
// observing at t = ibi, 2·ibi, … 5·ibi. Returns the lock time.
func lockAt(p *Predictor, ibi int64) int64 {
	for i := int64(1); i <= InitObs; i++ {
		obs(p, i*ibi)
	}
	return InitObs * ibi
}

func TestInitCollectsFiveObservations(t *testing.T) {
	p := New()

	wantConf := []float64{0.2, 0.4, 0.6, 0.8, 1.0}
	for i := int64(1); i <= InitObs; i++ {
		obs(p, i*1000)
		if got := p.Confidence(); math.Abs(got-wantConf[i-1]) > 1e-9 {
			t.Fatalf("confidence after obs %d = %v, want %v", i, got, wantConf[i-1])
		}
		if i < InitObs && p.Mode() != ModeInit {
			t.Fatalf("mode after obs %d = %s, want init", i, p.Mode())
		}
	}

	if p.Mode() != ModeLocked {
		t.Fatalf("mode after %d observations = %s, want locked", InitObs, p.Mode())
	}
	if p.IBI() != 1000 {
		t.Fatalf("ibi = %v, want 1000", p.IBI())
	}
}

func TestInitIBIClampedToBounds(t *testing.T) {
	p := New()
	lockAt(p, 300) // faster than any plausible heart

	if p.IBI() != IBIMinMS {
		t.Fatalf("ibi = %v, want clamped to %v", p.IBI(), IBIMinMS)
	}
}

func TestNoEmissionDuringInit(t *testing.T) {
	p := New()

	obs(p, 1000)
	obs(p, 2000)
	if beats := tickRange(p, 2000, 4000); len(beats) != 0 {
		t.Fatalf("%d beats emitted during init, want 0", len(beats))
	}
}

func TestLockedEmissionSchedule(t *testing.T) {
	p := New()
	lockTime := lockAt(p, 1000)

	// τ = 1 − 150/1000 = 0.85, so the first beat leaves 860 ms after
	// lock on a 20 ms grid, predicting the beat instant one full IBI
	// after the locking observation.
	beats := tickRange(p, lockTime, lockTime+900)
	if len(beats) != 1 {
		t.Fatalf("got %d beats, want 1", len(beats))
	}

	ev := beats[0]
	if math.Abs(ev.TUnix-float64(lockTime+1000)/1000) > 1e-9 {
		t.Fatalf("predicted beat at %v, want %v", ev.TUnix, float64(lockTime+1000)/1000)
	}
	if math.Abs(ev.BPM-60) > 1e-9 {
		t.Fatalf("bpm = %v, want 60", ev.BPM)
	}
	if ev.Intensity != 1 {
		t.Fatalf("intensity = %v, want 1", ev.Intensity)
	}
}

func TestLookaheadBound(t *testing.T) {
	for _, ibi := range []int64{400, 600, 750, 1000, 1200} {
		p := New()
		lockTime := lockAt(p, ibi)

		for t2 := lockTime + 20; t2 <= lockTime+3*ibi; t2 += 20 {
			// Keep the rhythm confirmed so it never coasts: observe on
			// the first 20 ms grid tick of each interval.
			if (t2-lockTime)%ibi < 20 {
				obs(p, t2)
			}
			if ev, ok := p.Tick(t2, float64(t2)/1000); ok {
				ahead := ev.TUnix - float64(t2)/1000
				if ahead < 0 || ahead > float64(LookaheadMS)/1000+0.001 {
					t.Fatalf("ibi %d: beat %v ahead of emission, want within [0, %v]",
						ibi, ahead, float64(LookaheadMS)/1000)
				}
			}
		}
	}
}

func TestCoastDecayAndStop(t *testing.T) {
	p := New()
	lockTime := lockAt(p, 1000)

	// No further observations: one IBI of grace, then linear decay to
	// zero over CoastMS, emitting progressively fainter beats.
	beats := tickRange(p, lockTime, lockTime+15000)

	if p.Mode() != ModeStop {
		t.Fatalf("mode after long silence = %s, want stop", p.Mode())
	}
	if len(beats) == 0 {
		t.Fatal("no beats during coast")
	}

	for i := 1; i < len(beats); i++ {
		if beats[i].Intensity >= beats[i-1].Intensity {
			t.Fatalf("coast intensity not decreasing: %v then %v",
				beats[i-1].Intensity, beats[i].Intensity)
		}
	}
	for _, b := range beats {
		if b.Intensity <= 0 {
			t.Fatalf("emitted beat with intensity %v", b.Intensity)
		}
	}

	// Quiescence: decay ran out roughly CoastMS + one IBI after lock.
	last := beats[len(beats)-1]
	lastMS := int64(last.TUnix * 1000)
	if lastMS > lockTime+int64(CoastMS)+2000 {
		t.Fatalf("beat at %d ms, after decay should have finished", lastMS)
	}

	// And silence stays silent.
	if more := tickRange(p, lockTime+15000, lockTime+30000); len(more) != 0 {
		t.Fatalf("%d beats after stop, want 0", len(more))
	}
}

func TestStopRestartsInitOnObservation(t *testing.T) {
	p := New()
	lockTime := lockAt(p, 1000)
	tickRange(p, lockTime, lockTime+15000) // decay to stop
	if p.Mode() != ModeStop {
		t.Fatalf("setup failed: mode = %s", p.Mode())
	}

	restart := lockTime + 20000
	obs(p, restart)
	if p.Mode() != ModeInit {
		t.Fatalf("mode after first new observation = %s, want init", p.Mode())
	}
	if math.Abs(p.Confidence()-ConfRamp) > 1e-9 {
		t.Fatalf("confidence = %v, want %v (observation counts as the first)", p.Confidence(), ConfRamp)
	}

	// Four more complete a fresh lock.
	for i := int64(1); i <= 4; i++ {
		obs(p, restart+i*800)
	}
	if p.Mode() != ModeLocked {
		t.Fatalf("mode = %s after five observations, want locked", p.Mode())
	}
	if p.IBI() != 800 {
		t.Fatalf("ibi = %v, want 800", p.IBI())
	}
}

func TestDebounceMutatesNothing(t *testing.T) {
	p := New()
	lockTime := lockAt(p, 1000)

	// An early echo 300 ms after the locking observation: inside the
	// 0.7·IBI window, so it must not even re-anchor the reference.
	obs(p, lockTime+300)
	if p.IBI() != 1000 {
		t.Fatalf("ibi = %v after debounced obs, want 1000", p.IBI())
	}

	// The next on-schedule observation measures a clean 1000 ms
	// interval, leaving the IBI untouched. Had the echo re-anchored,
	// it would measure 700 ms and drag the estimate down.
	obs(p, lockTime+1000)
	if p.IBI() != 1000 {
		t.Fatalf("ibi = %v after on-schedule obs, want 1000", p.IBI())
	}
}

func TestOutlierRejected(t *testing.T) {
	p := New()
	lockTime := lockAt(p, 750) // 80 BPM

	// A missed beat: next crossing 3500 ms late.
	obs(p, lockTime+3500)
	if got := p.IBI(); math.Abs(got-750) > 7.5 {
		t.Fatalf("ibi = %v after outlier, want within 1%% of 750", got)
	}
	if p.Confidence() != 1 {
		t.Fatalf("confidence = %v after outlier, want unchanged", p.Confidence())
	}

	// The outlier re-anchored the reference, so the rhythm resumes
	// cleanly from it.
	obs(p, lockTime+3500+750)
	if got := p.IBI(); math.Abs(got-750) > 1e-9 {
		t.Fatalf("ibi = %v after resumed rhythm, want 750", got)
	}
}

func TestObservationBlendsIBI(t *testing.T) {
	p := New()
	lockTime := lockAt(p, 1000)

	// A slightly fast beat blends in at one tenth weight.
	obs(p, lockTime+900)
	want := 0.9*1000 + 0.1*900
	if math.Abs(p.IBI()-want) > 1e-9 {
		t.Fatalf("ibi = %v, want %v", p.IBI(), want)
	}
}

func TestForceCoast(t *testing.T) {
	p := New()
	lockTime := lockAt(p, 1000)

	p.ForceCoast()
	if p.Mode() != ModeCoast {
		t.Fatalf("mode = %s after ForceCoast, want coast", p.Mode())
	}

	// Confidence decays immediately even though an observation just
	// arrived.
	p.Tick(lockTime+20, float64(lockTime+20)/1000)
	if p.Confidence() >= 1 {
		t.Fatalf("confidence = %v, want decaying", p.Confidence())
	}
}

func TestCoastRecoversOnObservations(t *testing.T) {
	p := New()
	lockTime := lockAt(p, 1000)

	// Coast for three seconds.
	tickRange(p, lockTime, lockTime+3000)
	if p.Mode() != ModeCoast {
		t.Fatalf("setup failed: mode = %s, want coast", p.Mode())
	}
	low := p.Confidence()

	// Rhythm returns. The first crossing is an outlier (gap-sized
	// interval) and only re-anchors; the ones after it ramp
	// confidence back up.
	base := lockTime + 3000
	obs(p, base)
	for i := int64(1); i <= 4; i++ {
		tickRange(p, base+(i-1)*1000, base+i*1000)
		obs(p, base+i*1000)
	}

	if p.Confidence() <= low {
		t.Fatalf("confidence = %v, want recovery above %v", p.Confidence(), low)
	}
	if p.Mode() != ModeLocked {
		t.Fatalf("mode = %s after sustained rhythm, want locked", p.Mode())
	}
}
