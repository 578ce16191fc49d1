// Package midi bridges beats to a MIDI rig: every beat event becomes a
// note on a per-sensor key, and an attached control surface's CC knobs
// steer the audio mixer's per-sensor gains.
package midi

import (
	"context"
	"math"
	"time"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // registers the rtmidi driver

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
	"github.com/schuyler/corazonn/internal/rhythm"
)

// beatChannel is the MIDI channel beats are sent on.
const beatChannel = 0

// noteLength is how long each beat note rings before NoteOff.
const noteLength = rhythm.LookaheadMS * time.Millisecond

// Compile-time interface check.
var _ domain.BeatSink = (*Surface)(nil)

// Surface owns the MIDI out port (beat notes) and optionally an in
// port (control surface CCs 0-7 → per-sensor gains).
type Surface struct {
	send  func(midi.Message) error
	stop  func()
	notes [domain.NumSensors]uint8
	clock domain.Clock
	log   *logger.Logger
}

// New opens the out port whose name contains portName (empty matches
// the first available port). notes maps sensors to keys; unmapped
// sensors get ascending keys from C2.
func New(portName string, notes map[domain.SensorID]int, clock domain.Clock, log *logger.Logger) (*Surface, error) {
	out, err := midi.FindOutPort(portName)
	if err != nil {
		return nil, err
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, err
	}

	s := &Surface{send: send, clock: clock, log: log}
	for id := domain.SensorID(0); id < domain.NumSensors; id++ {
		if n, ok := notes[id]; ok {
			s.notes[id] = uint8(n)
		} else {
			s.notes[id] = uint8(36 + int(id))
		}
	}
	log.Info("midi: sending beats to %s", out.String())
	return s, nil
}

// Beat schedules NoteOn at the beat instant and NoteOff a lookahead
// later. Velocity tracks intensity but never drops to zero — a beat
// that emits is audible by contract.
func (s *Surface) Beat(ctx context.Context, ev domain.BeatEvent) error {
	key := s.notes[ev.Sensor]
	vel := uint8(math.Round(ev.Intensity*126)) + 1

	delay := time.Duration((ev.TUnix - s.clock.NowUnix()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}

	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := s.send(midi.NoteOn(beatChannel, key, vel)); err != nil {
			s.log.Debug("midi: note on: %v", err)
			return
		}
		time.AfterFunc(noteLength, func() {
			if err := s.send(midi.NoteOff(beatChannel, key)); err != nil {
				s.log.Debug("midi: note off: %v", err)
			}
		})
	})
	return nil
}

// ListenControls attaches the control surface: CC 0-7 values are
// scaled to [0,1] and handed to onGain with the matching sensor id.
// No-op error if the in port is missing; beats still go out.
func (s *Surface) ListenControls(portName string, onGain func(domain.SensorID, float64)) error {
	in, err := midi.FindInPort(portName)
	if err != nil {
		return err
	}

	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		var ch, cc, val uint8
		if !msg.GetControlChange(&ch, &cc, &val) {
			return
		}
		if int(cc) >= domain.NumSensors {
			return
		}
		onGain(domain.SensorID(cc), float64(val)/127)
	})
	if err != nil {
		return err
	}

	s.stop = stop
	s.log.Info("midi: control surface on %s", in.String())
	return nil
}

// Close stops the listener and releases the MIDI driver.
func (s *Surface) Close() {
	if s.stop != nil {
		s.stop()
	}
	midi.CloseDriver()
}
