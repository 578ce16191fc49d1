// Package pipeline drives the per-sensor signal→beat machinery: it
// feeds bundled ADC samples through the threshold detector, routes
// crossings into the rhythm predictor, ticks the predictor at the
// sample rate, and publishes the resulting beat events.
package pipeline

import (
	"context"

	"github.com/schuyler/corazonn/internal/detect"
	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
	"github.com/schuyler/corazonn/internal/rhythm"
)

// GapResetMS is the bundle-arrival gap treated as a device restart:
// ten missed bundle periods.
const GapResetMS = 10 * domain.BundlePeriodMS

// Pipeline is the signal→beat machine for one sensor. All methods must
// be called from a single goroutine; the coordinator serializes them.
type Pipeline struct {
	id    domain.SensorID
	det   *detect.Detector
	pred  *rhythm.Predictor
	clock domain.Clock
	sinks []domain.BeatSink
	log   *logger.Logger

	lastBundleMS int64
	lastDeviceMS int64
	lastBeatUnix float64
}

// NewPipeline builds a pipeline for one sensor slot.
func NewPipeline(id domain.SensorID, clock domain.Clock, sinks []domain.BeatSink, log *logger.Logger) *Pipeline {
	return &Pipeline{
		id:           id,
		det:          detect.New(),
		pred:         rhythm.New(),
		clock:        clock,
		sinks:        sinks,
		log:          log,
		lastBundleMS: -1,
		lastDeviceMS: -1,
	}
}

// Detector exposes the detector state for status reporting.
func (p *Pipeline) Detector() *detect.Detector { return p.det }

// Predictor exposes the predictor state for status reporting.
func (p *Pipeline) Predictor() *rhythm.Predictor { return p.pred }

// Reset returns the detector to warmup and fades the predictor out via
// coast. Identities survive; only the rhythm state restarts.
func (p *Pipeline) Reset(reason string) {
	p.log.Info("sensor %d: reset (%s)", p.id, reason)
	p.det.Reset()
	p.pred.ForceCoast()
}

// Ingest runs one bundle through the detector and predictor. The five
// samples are assigned times ending at the arrival instant, the
// predictor is ticked after every sample, and any emitted beat is
// published to every sink.
func (p *Pipeline) Ingest(ctx context.Context, b domain.Bundle) {
	now := p.clock.NowMS()
	nowUnix := p.clock.NowUnix()

	if p.lastBundleMS >= 0 && now-p.lastBundleMS > GapResetMS {
		p.Reset("arrival gap")
	}
	if p.lastDeviceMS >= 0 && b.DeviceMS < p.lastDeviceMS {
		p.Reset("device clock regression")
	}
	p.lastBundleMS = now
	p.lastDeviceMS = b.DeviceMS

	for i, adc := range b.ADC {
		// Sample i happened (4-i) periods before the bundle arrived.
		offset := int64(domain.SamplesPerBundle-1-i) * domain.SamplePeriodMS
		t := now - offset
		tUnix := nowUnix - float64(offset)/1000

		if c, ok := p.det.OnSample(domain.Sample{ADC: adc, TMS: t}); ok {
			p.pred.Observe(c)
		}
		if ev, ok := p.pred.Tick(t, tUnix); ok {
			p.publish(ctx, ev)
		}
	}
}

// publish stamps the event with the sensor id, enforces monotone
// timestamps within the sensor, and fans it out. Sink errors are
// best-effort: the sink owns its own failure reporting.
func (p *Pipeline) publish(ctx context.Context, ev domain.BeatEvent) {
	ev.Sensor = p.id
	if ev.TUnix < p.lastBeatUnix {
		ev.TUnix = p.lastBeatUnix
	}
	p.lastBeatUnix = ev.TUnix

	p.log.Debug("sensor %d: beat t=%.3f bpm=%.1f intensity=%.2f", p.id, ev.TUnix, ev.BPM, ev.Intensity)
	for _, s := range p.sinks {
		if err := s.Beat(ctx, ev); err != nil {
			p.log.Debug("sensor %d: beat sink: %v", p.id, err)
		}
	}
}
