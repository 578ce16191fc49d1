// Package light pulses LAN smart bulbs on beat events. Each sensor is
// assigned a hue; beat intensity drives brightness. Bulbs speak the
// Yeelight LAN control protocol: newline-delimited JSON commands over
// a plain TCP connection.
package light

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/schuyler/corazonn/internal/logger"
)

const (
	dialTimeout  = 2 * time.Second
	writeTimeout = 500 * time.Millisecond
)

// Bulb is one LAN bulb. Commands are fire-and-forget: the connection
// is re-dialed lazily after a failure and errors never propagate past
// the controller.
type Bulb struct {
	addr string
	log  *logger.Logger

	mu   sync.Mutex
	conn net.Conn
	seq  int
}

// NewBulb names a bulb by host and port; no connection is made until
// the first command.
func NewBulb(host string, port int, log *logger.Logger) *Bulb {
	return &Bulb{
		addr: fmt.Sprintf("%s:%d", host, port),
		log:  log,
	}
}

type command struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Send issues one command. A write failure drops the connection so the
// next command re-dials.
func (b *Bulb) Send(method string, params ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		conn, err := net.DialTimeout("tcp", b.addr, dialTimeout)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", b.addr, err)
		}
		b.conn = conn
	}

	b.seq++
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(command{ID: b.seq, Method: method, Params: params})
	if err != nil {
		return err
	}
	payload = append(payload, '\r', '\n')

	if err := b.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		b.drop()
		return err
	}
	if _, err := b.conn.Write(payload); err != nil {
		b.drop()
		return fmt.Errorf("writing to %s: %w", b.addr, err)
	}
	return nil
}

// Close tears down the connection if one is open.
func (b *Bulb) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drop()
}

func (b *Bulb) drop() {
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}
