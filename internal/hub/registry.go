// Package hub keeps the set of live WebSocket connections and fans state
// changes out to them.
package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"library-occupancy-backend/internal/wire"
)

// ErrShuttingDown is returned by Open once Shutdown has been called.
var ErrShuttingDown = errors.New("hub is shutting down")

const writeWait = 10 * time.Second

// Conn is one open live feed connection.
type Conn struct {
	ID string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Registry is the set of open connections. Every enqueue happens under mu,
// so a connection's queue order is the order of Broadcast and Send calls.
type Registry struct {
	mu     sync.Mutex
	conns  map[*Conn]struct{}
	closed bool

	sendBuffer   int
	pingInterval time.Duration
	logger       *log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(sendBuffer int, pingInterval time.Duration, logger *log.Logger) *Registry {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		conns:        make(map[*Conn]struct{}),
		sendBuffer:   sendBuffer,
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Open registers ws and queues the message built by initial as its first
// frame. initial runs while the registry is locked, so no broadcast can be
// queued ahead of it.
func (r *Registry) Open(ws *websocket.Conn, initial func() (wire.Message, error)) (*Conn, error) {
	c := &Conn{
		ID:   uuid.NewString(),
		ws:   ws,
		send: make(chan []byte, r.sendBuffer),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShuttingDown
	}
	msg, err := initial()
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("build initial data: %w", err)
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("encode initial data: %w", err)
	}
	r.conns[c] = struct{}{}
	c.send <- frame
	r.mu.Unlock()

	go r.writePump(c)
	r.logger.Printf("hub: connection %s opened (%d open)", c.ID, r.Count())
	return c, nil
}

// Close removes c from the fan-out set and stops delivery to it. Queued
// frames are discarded. Closing twice is a no-op.
func (r *Registry) Close(c *Conn) {
	r.mu.Lock()
	removed := r.removeLocked(c)
	r.mu.Unlock()
	if removed {
		r.logger.Printf("hub: connection %s closed", c.ID)
	}
}

func (r *Registry) removeLocked(c *Conn) bool {
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	close(c.done)
	return true
}

// Broadcast queues msg on every open connection. A connection whose queue
// is full is closed; the others are unaffected.
func (r *Registry) Broadcast(msg wire.Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		r.logger.Printf("hub: dropping %s broadcast: %v", msg.Type, err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.conns {
		r.enqueueLocked(c, frame)
	}
}

// Send queues msg on c only.
func (r *Registry) Send(c *Conn, msg wire.Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return fmt.Errorf("connection %s is closed", c.ID)
	}
	r.enqueueLocked(c, frame)
	return nil
}

func (r *Registry) enqueueLocked(c *Conn, frame []byte) {
	select {
	case c.send <- frame:
	default:
		r.logger.Printf("hub: connection %s is not keeping up, closing it", c.ID)
		r.removeLocked(c)
	}
}

// Count returns the number of open connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Shutdown closes every connection and rejects new ones.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for c := range r.conns {
		r.removeLocked(c)
	}
}

// writePump is the only goroutine that writes to c.ws.
func (r *Registry) writePump(c *Conn) {
	ticker := time.NewTicker(r.pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			// done wins over queued frames once the connection is closed.
			select {
			case <-c.done:
				continue
			default:
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				r.logger.Printf("hub: write to %s failed: %v", c.ID, err)
				r.Close(c)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.Close(c)
				return
			}
		}
	}
}
