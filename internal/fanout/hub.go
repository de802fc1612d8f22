package fanout

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/metrics"
)

// RoomName builds the room key for a camera-scoped event kind.
func RoomName(cameraID int64, kind string) string {
	return fmt.Sprintf("camera-%d-%s", cameraID, kind)
}

// Hub routes events to viewer clients by room membership. Delivery is
// concurrent per room and per client: one slow viewer never blocks the rest.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
	}
}

// Unregister removes a client from every room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.rooms {
		h.leaveLocked(room, c)
	}
}

// Join adds a client to a room.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}

	log.Debug().Str("room", room).Str("sid", c.sid).Int("members", len(members)).Msg("Client joined room")
}

// Leave removes a client from a room and reports whether the room is now
// empty.
func (h *Hub) Leave(room string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(room, c)
}

func (h *Hub) leaveLocked(room string, c *Client) bool {
	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
		return true
	}
	return false
}

// Members reports the current size of a room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast delivers an event to every client in a room. A client whose send
// buffer is full has the event dropped and counted; the others still get it.
func (h *Hub) Broadcast(room, event string, data []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if c.Send(event, data) {
			metrics.FanoutDeliveries.WithLabelValues(event, "ok").Inc()
		} else {
			metrics.FanoutDeliveries.WithLabelValues(event, "dropped").Inc()
		}
	}
}
