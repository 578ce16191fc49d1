package record

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
)

// Replayer feeds a capture file back through the pipeline, paced by
// the recorded arrival times. Physical ids are shifted into the
// virtual range (0→4 … 3→7) so live sensors and their ghosts can run
// side by side.
type Replayer struct {
	path   string
	ingest func(domain.Bundle)
	log    *logger.Logger
}

// NewReplayer builds a replayer that pushes bundles through ingest.
func NewReplayer(path string, ingest func(domain.Bundle), log *logger.Logger) *Replayer {
	return &Replayer{path: path, ingest: ingest, log: log}
}

// Run streams the capture until it ends or ctx is cancelled. Intended
// to be called as a goroutine.
func (r *Replayer) Run(ctx context.Context) error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r.log.Info("replaying %s onto virtual channels", r.path)

	sc := bufio.NewScanner(f)
	start := time.Now()
	var baseMS int64 = -1
	count := 0

	for sc.Scan() {
		b, recvMS, err := decodeEntry(sc.Bytes())
		if err != nil {
			r.log.Debug("replay: skipping line: %v", err)
			continue
		}

		if baseMS < 0 {
			baseMS = recvMS
		}
		due := start.Add(time.Duration(recvMS-baseMS) * time.Millisecond)
		if wait := time.Until(due); wait > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
		}

		r.ingest(b)
		count++
	}

	r.log.Info("replay finished: %d bundles", count)
	return sc.Err()
}

// decodeEntry parses one capture line and shifts the sensor id into
// the virtual range.
func decodeEntry(line []byte) (domain.Bundle, int64, error) {
	var e entry
	if err := json.Unmarshal(line, &e); err != nil {
		return domain.Bundle{}, 0, err
	}

	id := domain.SensorID(e.ID)
	if !id.Virtual() {
		id += domain.NumPhysical
	}

	b := domain.Bundle{
		Sensor:   id,
		DeviceMS: e.DeviceMS,
		ADC:      e.Samples,
	}
	if err := b.Validate(); err != nil {
		return domain.Bundle{}, 0, err
	}
	return b, e.RecvMS, nil
}
