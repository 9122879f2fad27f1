// Package syncclient keeps a local mirror of the live feed for Go consumers
// such as kiosks and display boards.
package syncclient

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/wire"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultPollInterval   = 60 * time.Second
)

// ConnectionError reports a failed dial or a dropped connection.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("live feed %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Mirror is the client-side copy of server state.
type Mirror struct {
	Occupancy     *wire.OccupancyUpdate
	Capacity      *wire.CapacityUpdate
	Announcements []model.Announcement
	SeatPosts     []model.SeatPost
	LastUpdated   time.Time
}

func (m Mirror) clone() Mirror {
	out := m
	out.Announcements = append([]model.Announcement(nil), m.Announcements...)
	out.SeatPosts = append([]model.SeatPost(nil), m.SeatPosts...)
	if m.Occupancy != nil {
		occ := *m.Occupancy
		occ.Zones = append([]wire.ZoneOccupancy(nil), m.Occupancy.Zones...)
		out.Occupancy = &occ
	}
	if m.Capacity != nil {
		capacity := *m.Capacity
		capacity.Zones = append([]model.Zone(nil), m.Capacity.Zones...)
		out.Capacity = &capacity
	}
	return out
}

// Listener is called after every merged message with the updated mirror.
type Listener func(msg wire.Message, state Mirror)

// Client is one live feed connection shared by all of its subscribers.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger *log.Logger

	ReconnectDelay time.Duration
	PollInterval   time.Duration

	runMu sync.Mutex
	users int
	stop  context.CancelFunc

	connMu sync.Mutex
	ws     *websocket.Conn
	queue  []wire.Message

	stateMu   sync.Mutex
	state     Mirror
	listeners map[int]Listener
	nextID    int
}

var (
	sharedMu sync.Mutex
	shared   = make(map[string]*Client)
)

// Shared returns the process-wide client for url, creating it on first use.
// Each consumer calls Start with its own context; the connection lives as
// long as any of them.
func Shared(url string) *Client {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if c, ok := shared[url]; ok {
		return c
	}
	c := New(url, nil)
	shared[url] = c
	return c
}

// New creates a client that is not yet connected.
func New(url string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		url:            url,
		dialer:         websocket.DefaultDialer,
		logger:         logger,
		ReconnectDelay: DefaultReconnectDelay,
		PollInterval:   DefaultPollInterval,
		listeners:      make(map[int]Listener),
	}
}

// Start keeps the connection open, reconnecting as needed, until ctx is
// done. Calls may overlap: the connection stays up while any caller's
// context is live, and a Start after the last one ended connects again.
func (c *Client) Start(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	c.runMu.Lock()
	c.users++
	if c.users == 1 {
		runCtx, cancel := context.WithCancel(context.Background())
		c.stop = cancel
		go c.run(runCtx)
	}
	c.runMu.Unlock()

	go func() {
		<-ctx.Done()
		c.release()
	}()
}

func (c *Client) release() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.users--
	if c.users == 0 {
		c.stop()
		c.stop = nil
	}
}

// Subscribe registers fn and returns a function that removes it.
func (c *Client) Subscribe(fn Listener) (unsubscribe func()) {
	c.stateMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.stateMu.Unlock()

	return func() {
		c.stateMu.Lock()
		delete(c.listeners, id)
		c.stateMu.Unlock()
	}
}

// State returns a copy of the mirror.
func (c *Client) State() Mirror {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state.clone()
}

// Connected reports whether the feed is currently open.
func (c *Client) Connected() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.ws != nil
}

// Send writes a command, or queues it until the next connection opens.
func (c *Client) Send(msgType string, data any) error {
	msg := wire.Message{Type: msgType}
	if data != nil {
		var err error
		if msg, err = wire.New(msgType, data); err != nil {
			return err
		}
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.ws == nil {
		c.queue = append(c.queue, msg)
		return nil
	}
	if err := c.writeLocked(msg); err != nil {
		c.queue = append(c.queue, msg)
		return &ConnectionError{URL: c.url, Err: err}
	}
	return nil
}

func (c *Client) writeLocked(msg wire.Message) error {
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(msg)
}

func (c *Client) run(ctx context.Context) {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return
		}
		c.logger.Printf("syncclient: %v; reconnecting in %s", err, c.ReconnectDelay)

		select {
		case <-time.After(c.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// session runs one connection until it drops.
func (c *Client) session(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return &ConnectionError{URL: c.url, Err: err}
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		ws.Close()
	}()

	if err := c.attach(ws); err != nil {
		return &ConnectionError{URL: c.url, Err: err}
	}
	defer c.detach(ws)

	go c.poll(sessionCtx)

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return &ConnectionError{URL: c.url, Err: err}
		}
		msg, err := wire.Decode(frame)
		if err != nil {
			c.logger.Printf("syncclient: %v", err)
			continue
		}
		c.receive(msg)
	}
}

// attach makes ws the current connection and flushes queued commands in order.
func (c *Client) attach(ws *websocket.Conn) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.ws = ws
	for len(c.queue) > 0 {
		if err := c.writeLocked(c.queue[0]); err != nil {
			c.ws = nil
			return err
		}
		c.queue = c.queue[1:]
	}
	return nil
}

// detach clears ws unless a newer session has already replaced it.
func (c *Client) detach(ws *websocket.Conn) {
	c.connMu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.connMu.Unlock()
}

func (c *Client) poll(ctx context.Context) {
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Send(wire.CmdGetOccupancy, nil); err != nil {
				c.logger.Printf("syncclient: poll: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) receive(msg wire.Message) {
	c.stateMu.Lock()
	if err := merge(&c.state, msg); err != nil {
		c.stateMu.Unlock()
		c.logger.Printf("syncclient: %v", err)
		return
	}
	c.state.LastUpdated = time.Now()
	snapshot := c.state.clone()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.stateMu.Unlock()

	for _, fn := range listeners {
		fn(msg, snapshot)
	}
}
