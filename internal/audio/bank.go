// Package audio turns beat events into sound: a bank of WAV clips,
// one per sensor, and a mixer that schedules each clip at the beat's
// predicted instant with the beat's intensity as gain.
package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
)

// Clip is a decoded sample: mono 16-bit PCM at its source rate.
type Clip struct {
	PCM  []int16
	Rate int
}

// Bank holds the per-sensor clips. Built once at startup and read-only
// afterwards.
type Bank struct {
	clips map[domain.SensorID]*Clip
}

// NewBank loads the given sensor→path assignments. A clip that fails
// to load is reported and skipped; its sensor simply stays silent.
func NewBank(paths map[domain.SensorID]string, log *logger.Logger) *Bank {
	b := &Bank{clips: make(map[domain.SensorID]*Clip)}
	for id, path := range paths {
		if path == "" {
			continue
		}
		clip, err := LoadClip(path)
		if err != nil {
			log.Warn("sensor %d: sample %s: %v", id, path, err)
			continue
		}
		b.clips[id] = clip
		log.Info("sensor %d: sample %s (%d frames @ %d Hz)", id, path, len(clip.PCM), clip.Rate)
	}
	return b
}

// Clip returns the clip for a sensor, or nil when none is assigned.
func (b *Bank) Clip(id domain.SensorID) *Clip {
	return b.clips[id]
}

// LoadClip decodes a WAV file to mono 16-bit PCM. Stereo sources are
// averaged down; other bit depths are rescaled.
func LoadClip(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decoding: %w", err)
	}
	return clipFromBuffer(buf)
}

// clipFromBuffer folds a decoded PCM buffer down to mono int16.
func clipFromBuffer(buf *goaudio.IntBuffer) (*Clip, error) {
	if buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("missing format information")
	}

	ch := buf.Format.NumChannels
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}
	shift := depth - 16 // rescale anything to 16 bits

	frames := len(buf.Data) / ch
	pcm := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < ch; c++ {
			sum += buf.Data[i*ch+c]
		}
		v := sum / ch
		if shift > 0 {
			v >>= shift
		} else if shift < 0 {
			v <<= -shift
		}
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i] = int16(v)
	}

	return &Clip{PCM: pcm, Rate: buf.Format.SampleRate}, nil
}
