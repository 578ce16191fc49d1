// Package record captures ingested sample bundles to disk and plays
// them back later through the virtual pipeline channels. Captures are
// line-delimited JSON so they stay greppable when debugging a session
// after the fact.
package record

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
)

// entry is one captured bundle. RecvMS is the coordinator clock at
// arrival and drives replay pacing.
type entry struct {
	ID       int                          `json:"id"`
	RecvMS   int64                        `json:"recv_ms"`
	DeviceMS int64                        `json:"device_ms"`
	Samples  [domain.SamplesPerBundle]int `json:"samples"`
}

// Compile-time interface check.
var _ domain.BundleSink = (*Recorder)(nil)

// Recorder appends every admissible bundle to a capture file named
// from a strftime pattern.
type Recorder struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	log *logger.Logger
}

// NewRecorder opens a capture file in dir, named by expanding pattern
// with the current time.
func NewRecorder(dir, pattern string, log *logger.Logger) (*Recorder, error) {
	p, err := strftime.New(pattern)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, p.FormatString(time.Now()))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	log.Info("recording bundles to %s", path)
	return &Recorder{f: f, enc: json.NewEncoder(f), log: log}, nil
}

// Record appends one bundle.
func (r *Recorder) Record(b domain.Bundle, recvMS int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(entry{
		ID:       int(b.Sensor),
		RecvMS:   recvMS,
		DeviceMS: b.DeviceMS,
		Samples:  b.ADC,
	})
}

// Close flushes and closes the capture file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
