package light

import (
	"context"
	"time"

	"github.com/crazy3lf/colorconv"

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
)

// pulseQueueCap bounds pending pulses. Lighting is decoration; when
// the bulbs can't keep up, beats are simply skipped.
const pulseQueueCap = 16

// smoothMS is the bulb-side transition time for the pulse flash.
const smoothMS = 120

// Compile-time interface check.
var _ domain.BeatSink = (*Controller)(nil)

// Controller maps beat events onto bulb pulses: hue from the sensor's
// configured color, brightness from intensity, timed at the beat's
// predicted instant.
type Controller struct {
	bulbs []*Bulb
	hues  [domain.NumSensors]float64
	clock domain.Clock
	log   *logger.Logger
	cmds  chan pulse
}

type pulse struct {
	sensor    domain.SensorID
	at        float64 // unix seconds
	intensity float64
}

// NewController builds a controller over the given bulbs. hues maps
// each sensor to a hue in degrees; unconfigured sensors fall back to
// spreading the hue circle evenly.
func NewController(bulbs []*Bulb, hues map[domain.SensorID]float64, clock domain.Clock, log *logger.Logger) *Controller {
	c := &Controller{
		bulbs: bulbs,
		clock: clock,
		log:   log,
		cmds:  make(chan pulse, pulseQueueCap),
	}
	for id := domain.SensorID(0); id < domain.NumSensors; id++ {
		if h, ok := hues[id]; ok {
			c.hues[id] = h
		} else {
			c.hues[id] = float64(int(id)*360/domain.NumSensors)
		}
	}
	return c
}

// Beat enqueues a pulse for the event. Non-blocking: when the queue is
// full the pulse is dropped.
func (c *Controller) Beat(ctx context.Context, ev domain.BeatEvent) error {
	select {
	case c.cmds <- pulse{sensor: ev.Sensor, at: ev.TUnix, intensity: ev.Intensity}:
	default:
		c.log.Debug("lights: pulse queue full, skipping beat")
	}
	return nil
}

// Run drains the pulse queue until ctx is cancelled. Intended to be
// called as a goroutine.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, b := range c.bulbs {
				b.Close()
			}
			return
		case p := <-c.cmds:
			c.fire(ctx, p)
		}
	}
}

// fire waits for the pulse's instant and flashes every bulb.
func (c *Controller) fire(ctx context.Context, p pulse) {
	delay := time.Duration((p.at - c.clock.NowUnix()) * float64(time.Second))
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	r, g, b, err := colorconv.HSVToRGB(c.hues[p.sensor], 1, p.intensity)
	if err != nil {
		c.log.Debug("lights: hue %f: %v", c.hues[p.sensor], err)
		return
	}
	rgb := int(r)<<16 | int(g)<<8 | int(b)

	bright := 1 + int(p.intensity*99)
	for _, bulb := range c.bulbs {
		if err := bulb.Send("set_rgb", rgb, "smooth", smoothMS); err != nil {
			c.log.Debug("lights: %v", err)
			continue
		}
		if err := bulb.Send("set_bright", bright, "smooth", smoothMS); err != nil {
			c.log.Debug("lights: %v", err)
		}
	}
}
