// Package wire defines the live feed frames exchanged over the WebSocket.
package wire

import (
	"encoding/json"
	"fmt"

	"library-occupancy-backend/internal/model"
)

// Server → client message types.
const (
	TypeOccupancyUpdate    = "occupancyUpdate"
	TypeInitialData        = "initialData"
	TypeNewSeatPost        = "newSeatPost"
	TypeSeatPostUpdate     = "seatPostUpdate"
	TypeNewAnnouncement    = "newAnnouncement"
	TypeAnnouncementUpdate = "announcementUpdate"
	TypeCapacityUpdate     = "capacityUpdate"
	TypeSeatPosts          = "seatPosts"
)

// Client → server command types.
const (
	CmdGetOccupancy   = "getOccupancy"
	CmdGetAdminData   = "getAdminData"
	CmdGetSeatPosts   = "getSeatPosts"
	CmdUpdateCapacity = "updateCapacity"
)

// Message is the envelope of every frame in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New wraps payload in an envelope of the given type.
func New(msgType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Data: data}, nil
}

// Decode parses a raw frame. Frames without a type are rejected.
func Decode(frame []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return Message{}, fmt.Errorf("malformed frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("malformed frame: missing type")
	}
	return msg, nil
}

// Into unmarshals the message payload into v.
func (m Message) Into(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: %w", m.Type, err)
	}
	return nil
}

// ZoneOccupancy is one zone's share of an occupancy update.
type ZoneOccupancy struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Current    int    `json:"current"`
	Capacity   int    `json:"capacity"`
	Percentage int    `json:"percentage"`
}

// OccupancyUpdate is the payload of occupancyUpdate.
type OccupancyUpdate struct {
	Current    int             `json:"current"`
	Total      int             `json:"total"`
	Percentage int             `json:"percentage"`
	Zones      []ZoneOccupancy `json:"zones"`
}

// OccupancySummary is the occupancy part of initialData.
type OccupancySummary struct {
	Current int             `json:"current"`
	Total   int             `json:"total"`
	Zones   []ZoneOccupancy `json:"zones"`
}

// InitialData is the snapshot sent as the first frame on every new connection.
type InitialData struct {
	Occupancy     OccupancySummary     `json:"occupancy"`
	Announcements []model.Announcement `json:"announcements"`
	SeatPosts     []model.SeatPost     `json:"seatPosts"`
}

// CapacityUpdate is the payload of capacityUpdate.
type CapacityUpdate struct {
	Zones         []model.Zone `json:"zones"`
	TotalCapacity int          `json:"totalCapacity"`
}

// UpdateCapacity is the payload of the updateCapacity command. Zone
// capacities are keyed by zone id.
type UpdateCapacity struct {
	TotalCapacity  int            `json:"totalCapacity"`
	ZoneCapacities map[string]int `json:"zoneCapacities"`
}
