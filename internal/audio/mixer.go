package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
)

const (
	mixRate     = 44100
	mixChannels = 2
)

// Compile-time interface check.
var _ domain.BeatSink = (*Mixer)(nil)

// Mixer plays each sensor's clip at the beat's predicted instant.
// Gain is the beat intensity multiplied by the sensor's own gain,
// which the MIDI control surface can move at runtime.
type Mixer struct {
	ctx   *oto.Context
	bank  *Bank
	clock domain.Clock
	log   *logger.Logger

	mu    sync.RWMutex
	gains [domain.NumSensors]float64
}

// NewMixer initializes the system audio context. Returns an error if
// the audio device is unavailable, in which case the caller runs
// without sound.
func NewMixer(bank *Bank, clock domain.Clock, log *logger.Logger) (*Mixer, error) {
	op := &oto.NewContextOptions{
		SampleRate:   mixRate,
		ChannelCount: mixChannels,
		Format:       oto.FormatSignedInt16LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready

	m := &Mixer{ctx: ctx, bank: bank, clock: clock, log: log}
	for i := range m.gains {
		m.gains[i] = 1
	}
	log.Debug("mixer initialized (rate=%d, channels=%d)", mixRate, mixChannels)
	return m, nil
}

// SetGain sets a sensor's playback gain in [0,1]. Safe to call from
// the MIDI listener goroutine.
func (m *Mixer) SetGain(id domain.SensorID, gain float64) {
	if !id.Valid() {
		return
	}
	if gain < 0 {
		gain = 0
	} else if gain > 1 {
		gain = 1
	}
	m.mu.Lock()
	m.gains[id] = gain
	m.mu.Unlock()
}

// Gain returns a sensor's current playback gain.
func (m *Mixer) Gain(id domain.SensorID) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gains[id]
}

// Beat schedules the sensor's clip to start at the beat's predicted
// instant. Returns immediately; playback happens on its own goroutine.
func (m *Mixer) Beat(ctx context.Context, ev domain.BeatEvent) error {
	clip := m.bank.Clip(ev.Sensor)
	if clip == nil {
		return nil
	}

	gain := ev.Intensity * m.Gain(ev.Sensor)
	if gain <= 0 {
		return nil
	}

	delay := time.Duration((ev.TUnix - m.clock.NowUnix()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}

	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		m.play(clip, gain)
	})
	return nil
}

// play renders one clip at the given gain and blocks until it
// finishes, in the style of a one-shot sampler voice.
func (m *Mixer) play(clip *Clip, gain float64) {
	p := m.ctx.NewPlayer(bytes.NewReader(render(clip, gain)))
	p.Play()
	for p.IsPlaying() {
		time.Sleep(10 * time.Millisecond)
	}
	if err := p.Close(); err != nil {
		m.log.Debug("mixer: close voice: %v", err)
	}
}

// render resamples a clip to the mixer rate, applies gain, and
// interleaves it to stereo 16-bit little-endian.
func render(clip *Clip, gain float64) []byte {
	frames := len(clip.PCM)
	outFrames := frames
	step := 1.0
	if clip.Rate != mixRate && clip.Rate > 0 {
		step = float64(clip.Rate) / mixRate
		outFrames = int(float64(frames) / step)
	}

	out := make([]byte, 0, outFrames*mixChannels*2)
	var scratch [2]byte
	pos := 0.0
	for i := 0; i < outFrames; i++ {
		idx := int(pos)
		if idx >= frames {
			break
		}
		v := int16(float64(clip.PCM[idx]) * gain)
		binary.LittleEndian.PutUint16(scratch[:], uint16(v))
		out = append(out, scratch[0], scratch[1]) // left
		out = append(out, scratch[0], scratch[1]) // right
		pos += step
	}
	return out
}
