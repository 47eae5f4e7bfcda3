package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Entities and actions carried by change notifications.
const (
	EntityProfile   = "profile"
	EntityAccess    = "access"
	EntityHousehold = "household"
	EntitySettings  = "settings"

	ActionUpdated = "updated"
)

// Event types pushed to browsers, as built by NewMessage.
const (
	TypeProfileUpdated   = EntityProfile + "_" + ActionUpdated
	TypeAccessUpdated    = EntityAccess + "_" + ActionUpdated
	TypeHouseholdUpdated = EntityHousehold + "_" + ActionUpdated
	TypeSettingsUpdated  = EntitySettings + "_" + ActionUpdated
)

// AccessEvents are the event types after which a page must re-check its
// gates.
var AccessEvents = []string{TypeAccessUpdated, TypeHouseholdUpdated}

// Message is a change notification. Clients refetch what they need; messages
// never carry permission data.
type Message struct {
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	ID     int64          `json:"id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action string, id int64, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		ID:     id,
		Extra:  extra,
	}
}

// Hub tracks connected clients by user and household.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// BroadcastHousehold sends msg to every client of one household.
func (h *Hub) BroadcastHousehold(householdID int64, msg Message) {
	if householdID == 0 {
		return
	}
	h.send(msg, func(c *Client) bool { return c.householdID == householdID })
}

// SendUser sends msg to every connection of one user, household or not.
func (h *Hub) SendUser(userID int64, msg Message) {
	h.send(msg, func(c *Client) bool { return c.userID == userID })
}

// MoveUser rebinds a user's open connections after they join or leave a
// household. householdID 0 means none.
func (h *Hub) MoveUser(userID, householdID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.userID == userID {
			c.householdID = householdID
		}
	}
}

func (h *Hub) send(msg Message, match func(*Client) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !match(c) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	// A full buffer disconnects the client; it reconnects and refetches.
	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", "user_id", c.userID, "type", msg.Type)
		h.Unregister(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
