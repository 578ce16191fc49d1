// Package osc carries the system's wire traffic: an ingress server
// receiving sample bundles and reset commands from sensor nodes, and
// an egress client unicasting beat events to downstream consumers.
package osc

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/brutella/dnssd"
	"github.com/hypebeast/go-osc/osc"

	"github.com/schuyler/corazonn/internal/domain"
	"github.com/schuyler/corazonn/internal/logger"
	"github.com/schuyler/corazonn/internal/pipeline"
)

// dnsSDService is the service type sensor nodes browse for.
const dnsSDService = "_osc._udp"

// ServerOption configures the ingress server.
type ServerOption func(*Server)

// WithAnnounce toggles DNS-SD advertisement of the ingress port.
func WithAnnounce(on bool) ServerOption {
	return func(s *Server) {
		s.announce = on
	}
}

// Server is the OSC ingress: it listens for /ppg/{id} sample bundles
// and /reset/{id} commands and feeds them into the coordinator.
type Server struct {
	addr     string
	coord    *pipeline.Coordinator
	log      *logger.Logger
	announce bool
}

// NewServer builds an ingress server bound to addr (host:port).
func NewServer(addr string, coord *pipeline.Coordinator, log *logger.Logger, opts ...ServerOption) *Server {
	s := &Server{
		addr:  addr,
		coord: coord,
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run serves until ctx is cancelled. Intended to be called as a
// goroutine; the returned error reports why the listener stopped.
func (s *Server) Run(ctx context.Context) error {
	d := osc.NewStandardDispatcher()
	for id := domain.SensorID(0); id < domain.NumSensors; id++ {
		id := id
		if err := d.AddMsgHandler(fmt.Sprintf("/ppg/%d", id), func(msg *osc.Message) {
			s.handlePPG(id, msg)
		}); err != nil {
			return err
		}
		if err := d.AddMsgHandler(fmt.Sprintf("/reset/%d", id), func(msg *osc.Message) {
			s.log.Info("sensor %d: reset requested over OSC", id)
			s.coord.Reset(id)
		}); err != nil {
			return err
		}
	}

	srv := &osc.Server{Addr: s.addr, Dispatcher: d}

	if s.announce {
		go s.announceService(ctx)
	}

	go func() {
		<-ctx.Done()
		if err := srv.CloseConnection(); err != nil {
			s.log.Debug("osc: close: %v", err)
		}
	}()

	s.log.Info("osc: listening on %s", s.addr)
	err := srv.ListenAndServe()
	if ctx.Err() != nil {
		return nil // shut down on purpose
	}
	return err
}

// handlePPG converts one wire bundle and hands it to the coordinator.
// Anything malformed is a TransientInputFault: debug log, drop.
func (s *Server) handlePPG(id domain.SensorID, msg *osc.Message) {
	b, err := parseBundle(id, msg)
	if err != nil {
		s.log.Debug("sensor %d: %v", id, err)
		return
	}
	s.coord.Ingest(b)
}

// parseBundle extracts the five samples and the device clock from a
// /ppg message: six integer arguments.
func parseBundle(id domain.SensorID, msg *osc.Message) (domain.Bundle, error) {
	if len(msg.Arguments) != domain.SamplesPerBundle+1 {
		return domain.Bundle{}, fmt.Errorf("%w: got %d arguments, want %d",
			domain.ErrMalformedBundle, len(msg.Arguments), domain.SamplesPerBundle+1)
	}

	b := domain.Bundle{Sensor: id}
	for i := 0; i < domain.SamplesPerBundle; i++ {
		v, ok := argInt(msg.Arguments[i])
		if !ok {
			return domain.Bundle{}, fmt.Errorf("%w: sample %d is not an integer", domain.ErrMalformedBundle, i)
		}
		b.ADC[i] = int(v)
	}
	dev, ok := argInt(msg.Arguments[domain.SamplesPerBundle])
	if !ok {
		return domain.Bundle{}, fmt.Errorf("%w: device_ms is not an integer", domain.ErrMalformedBundle)
	}
	b.DeviceMS = dev

	if err := b.Validate(); err != nil {
		return domain.Bundle{}, err
	}
	return b, nil
}

// argInt accepts the integer widths OSC senders actually use.
func argInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}

// announceService advertises the ingress over mDNS so sensor nodes can
// find the host without hard-coded addresses. Failure is harmless;
// nodes can still be pointed at us directly.
func (s *Server) announceService(ctx context.Context) {
	_, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		s.log.Warn("dns-sd: cannot parse listen address %q: %v", s.addr, err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.log.Warn("dns-sd: cannot parse listen port %q: %v", portStr, err)
		return
	}

	sv, err := dnssd.NewService(dnssd.Config{
		Name: "corazonn",
		Type: dnsSDService,
		Port: port,
	})
	if err != nil {
		s.log.Warn("dns-sd: service: %v", err)
		return
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		s.log.Warn("dns-sd: responder: %v", err)
		return
	}
	if _, err := rp.Add(sv); err != nil {
		s.log.Warn("dns-sd: add: %v", err)
		return
	}

	s.log.Info("dns-sd: announcing %s on port %d", dnsSDService, port)
	if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
		s.log.Warn("dns-sd: responder stopped: %v", err)
	}
}
