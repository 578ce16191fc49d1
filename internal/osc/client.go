package osc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
)

// errLogInterval throttles egress failure logging to once per sensor
// per minute; beat delivery is best-effort and a dead consumer must
// not flood the log.
const errLogInterval = time.Minute

// Compile-time interface check.
var _ domain.BeatSink = (*BeatClient)(nil)

// BeatClient unicasts /beat/{id} messages to every configured
// downstream consumer.
type BeatClient struct {
	clients []*osc.Client
	log     *logger.Logger

	mu         sync.Mutex
	lastErrLog map[domain.SensorID]time.Time
}

// NewBeatClient builds a client for the given "host:port" targets.
func NewBeatClient(targets []string, log *logger.Logger) (*BeatClient, error) {
	c := &BeatClient{
		log:        log,
		lastErrLog: make(map[domain.SensorID]time.Time),
	}
	for _, t := range targets {
		host, portStr, err := net.SplitHostPort(t)
		if err != nil {
			return nil, fmt.Errorf("%w: beat target %q: %v", domain.ErrInvalidConfig, t, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("%w: beat target %q: %v", domain.ErrInvalidConfig, t, err)
		}
		c.clients = append(c.clients, osc.NewClient(host, port))
	}
	return c, nil
}

// Beat sends one beat event to every target. The timestamp travels as
// a float64 (a float32 mantissa cannot hold a unix time to the
// millisecond); bpm and intensity as float32.
func (c *BeatClient) Beat(ctx context.Context, ev domain.BeatEvent) error {
	msg := osc.NewMessage(fmt.Sprintf("/beat/%d", ev.Sensor))
	msg.Append(ev.TUnix)
	msg.Append(float32(ev.BPM))
	msg.Append(float32(ev.Intensity))

	var firstErr error
	for _, cl := range c.clients {
		if err := cl.Send(msg); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.maybeLogError(ev.Sensor, err)
		}
	}
	return firstErr
}

// maybeLogError reports an egress failure at most once per sensor per
// minute.
func (c *BeatClient) maybeLogError(id domain.SensorID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Sub(c.lastErrLog[id]) < errLogInterval {
		return
	}
	c.lastErrLog[id] = now
	c.log.Warn("sensor %d: beat egress failing: %v", id, err)
}
