package hub

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/fasthttp/websocket"

	"library-occupancy-backend/internal/model"
	"library-occupancy-backend/internal/wire"
)

const maxFrameSize = 64 << 10

// Source answers the commands a client can send over the feed.
type Source interface {
	Snapshot(ctx context.Context) (wire.InitialData, error)
	Occupancy(ctx context.Context) (wire.OccupancyUpdate, error)
	Capacity(ctx context.Context) (wire.CapacityUpdate, error)
	ActiveSeatPosts(ctx context.Context) ([]model.SeatPost, error)
	UpdateCapacity(ctx context.Context, in wire.UpdateCapacity) (*wire.CapacityUpdate, error)
}

// Server is the /ws endpoint.
type Server struct {
	registry *Registry
	source   Source
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewServer creates the endpoint handler.
func NewServer(registry *Registry, source Source, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		registry: registry,
		source:   source,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards may be served from another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request, sends initialData and then serves commands
// until the client goes away.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("hub: upgrade failed: %v", err)
		return
	}

	ctx := r.Context()
	c, err := s.registry.Open(ws, func() (wire.Message, error) {
		snap, err := s.source.Snapshot(ctx)
		if err != nil {
			return wire.Message{}, err
		}
		return wire.New(wire.TypeInitialData, snap)
	})
	if err != nil {
		s.logger.Printf("hub: rejecting connection: %v", err)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, ""), time.Now().Add(writeWait))
		ws.Close()
		return
	}
	defer s.registry.Close(c)

	pongWait := 2 * s.registry.pingInterval
	ws.SetReadLimit(maxFrameSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("hub: read from %s failed: %v", c.ID, err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(ctx, c, frame)
	}
}

// handle answers one command. Replies go to c only; updateCapacity is
// broadcast to everyone by the source.
func (s *Server) handle(ctx context.Context, c *Conn, frame []byte) {
	msg, err := wire.Decode(frame)
	if err != nil {
		s.logger.Printf("hub: %s sent a malformed frame: %v", c.ID, err)
		return
	}

	var (
		replyType string
		payload   any
	)
	switch msg.Type {
	case wire.CmdGetOccupancy:
		replyType = wire.TypeOccupancyUpdate
		payload, err = s.source.Occupancy(ctx)
	case wire.CmdGetAdminData:
		replyType = wire.TypeCapacityUpdate
		payload, err = s.source.Capacity(ctx)
	case wire.CmdGetSeatPosts:
		replyType = wire.TypeSeatPosts
		payload, err = s.source.ActiveSeatPosts(ctx)
	case wire.CmdUpdateCapacity:
		var in wire.UpdateCapacity
		if err := msg.Into(&in); err != nil {
			s.logger.Printf("hub: %s sent a bad updateCapacity: %v", c.ID, err)
			return
		}
		if _, err := s.source.UpdateCapacity(ctx, in); err != nil {
			s.logger.Printf("hub: updateCapacity from %s rejected: %v", c.ID, err)
		}
		return
	default:
		s.logger.Printf("hub: %s sent unknown command %q", c.ID, msg.Type)
		return
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Printf("hub: %s for %s failed: %v", msg.Type, c.ID, err)
		}
		return
	}

	reply, err := wire.New(replyType, payload)
	if err != nil {
		s.logger.Printf("hub: %v", err)
		return
	}
	if err := s.registry.Send(c, reply); err != nil {
		s.logger.Printf("hub: reply to %s dropped: %v", c.ID, err)
	}
}
