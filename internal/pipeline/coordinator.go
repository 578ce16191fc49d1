package pipeline

import (
	"context"
	"sync"

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
)

// ingestQueueCap bounds each sensor's pending-bundle queue. At ten
// bundles a second, eight slots is nearly a second of backlog; beyond
// that the stream is stale and dropping is the right call.
const ingestQueueCap = 8

// Option configures the coordinator.
type Option func(*Coordinator)

// WithRecorder attaches a bundle sink that observes every admissible
// bundle (the capture recorder).
func WithRecorder(r domain.BundleSink) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// Coordinator owns the per-sensor pipelines. Physical sensor slots are
// created at start; virtual (replay) slots appear lazily on their
// first bundle. Each pipeline runs on its own goroutine and shares no
// state with its peers, so a broken sensor never affects the others.
type Coordinator struct {
	clock    domain.Clock
	sinks    []domain.BeatSink
	recorder domain.BundleSink
	log      *logger.Logger

	mu      sync.RWMutex
	workers map[domain.SensorID]*worker

	ctx context.Context
	wg  sync.WaitGroup
}

type worker struct {
	pipe *Pipeline
	ch   chan message
}

type message struct {
	reset       bool
	resetReason string
	bundle      domain.Bundle
}

// New builds a coordinator publishing beats to the given sinks.
func New(clock domain.Clock, sinks []domain.BeatSink, log *logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		clock:   clock,
		sinks:   sinks,
		log:     log,
		workers: make(map[domain.SensorID]*worker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the physical sensor pipelines and remembers the
// context that bounds all pipeline goroutines. Must be called before
// Ingest.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := domain.SensorID(0); id < domain.NumPhysical; id++ {
		c.spawnLocked(id)
	}
}

// Wait blocks until every pipeline goroutine has drained and exited.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Ingest routes one bundle to its sensor's pipeline. Malformed bundles
// are dropped with a debug log (TransientInputFault). Delivery is
// non-blocking: if the sensor's queue is full the bundle is dropped,
// never stalling the transport.
func (c *Coordinator) Ingest(b domain.Bundle) {
	if err := b.Validate(); err != nil {
		c.log.Debug("sensor %d: dropping bundle: %v", b.Sensor, err)
		return
	}

	if c.recorder != nil {
		if err := c.recorder.Record(b, c.clock.NowMS()); err != nil {
			c.log.Debug("recorder: %v", err)
		}
	}

	w := c.workerFor(b.Sensor)
	select {
	case w.ch <- message{bundle: b}:
	default:
		c.log.Debug("sensor %d: queue full, dropping bundle", b.Sensor)
	}
}

// Reset asks the named pipeline to return its detector to warmup and
// coast its predictor. Unknown or never-seen sensors are ignored.
func (c *Coordinator) Reset(id domain.SensorID) {
	if !id.Valid() {
		c.log.Debug("reset for invalid sensor %d ignored", id)
		return
	}
	c.mu.RLock()
	w, ok := c.workers[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case w.ch <- message{reset: true, resetReason: "upstream reset"}:
	default:
		c.log.Debug("sensor %d: queue full, dropping reset", id)
	}
}

// Pipeline returns the pipeline for a sensor, or nil if it has not
// been created. For status reporting only; the pipeline's own
// goroutine remains the sole mutator.
func (c *Coordinator) Pipeline(id domain.SensorID) *Pipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if w, ok := c.workers[id]; ok {
		return w.pipe
	}
	return nil
}

func (c *Coordinator) workerFor(id domain.SensorID) *worker {
	c.mu.RLock()
	w, ok := c.workers[id]
	c.mu.RUnlock()
	if ok {
		return w
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok = c.workers[id]; ok {
		return w
	}
	return c.spawnLocked(id)
}

func (c *Coordinator) spawnLocked(id domain.SensorID) *worker {
	w := &worker{
		pipe: NewPipeline(id, c.clock, c.sinks, c.log),
		ch:   make(chan message, ingestQueueCap),
	}
	c.workers[id] = w

	c.wg.Add(1)
	go c.run(w)

	if id.Virtual() {
		c.log.Info("sensor %d: virtual channel created", id)
	}
	return w
}

// run is one sensor's serialization loop: bundles, resets, ticks, and
// emissions happen strictly in arrival order. Shutdown is cooperative;
// the current bundle finishes before the goroutine exits.
func (c *Coordinator) run(w *worker) {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case m := <-w.ch:
			if m.reset {
				w.pipe.Reset(m.resetReason)
				continue
			}
			w.pipe.Ingest(c.ctx, m.bundle)
		}
	}
}
