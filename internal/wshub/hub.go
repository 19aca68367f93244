package wshub

import (
	"context"
	"errors"
	"sync"

	"signroom/internal/events"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const sendBuffer = 64

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ID       string
	UserID   string
	Username string
	Conn     *websocket.Conn
	Send     chan []byte

	limiter *rate.Limiter
}

// NewClient wraps conn. Inbound frames above limit per second (with the
// given burst) are dropped by ReadPump.
func NewClient(id, userID, username string, conn *websocket.Conn, limit rate.Limit, burst int) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// ReadPump decodes inbound frames and hands them to handle until the
// connection closes. A normal closure returns nil.
func (c *Client) ReadPump(ctx context.Context, handle func(events.Envelope)) error {
	for {
		_, frame, err := c.Conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if c.limiter != nil && !c.limiter.Allow() {
			log.Warn().Str("component", "wshub").Str("conn", c.ID).Msg("rate limit exceeded, dropping frame")
			continue
		}
		env, err := events.Decode(frame)
		if err != nil {
			log.Debug().Str("component", "wshub").Str("conn", c.ID).Err(err).Msg("ignoring malformed frame")
			continue
		}
		handle(env)
	}
}

// Hub tracks connections and which room each one is attributed to.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	roomOf  map[string]string
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		roomOf:  make(map[string]string),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes a client from its room and closes its Send channel.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	h.leaveLocked(connID)
	delete(h.clients, connID)
	close(c.Send)
}

// Join attributes the connection to room, leaving any previous room.
func (h *Hub) Join(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	h.leaveLocked(connID)
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[connID] = c
	h.roomOf[connID] = room
}

func (h *Hub) Leave(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID)
}

func (h *Hub) leaveLocked(connID string) {
	room, ok := h.roomOf[connID]
	if !ok {
		return
	}
	delete(h.roomOf, connID)
	delete(h.rooms[room], connID)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

// CloseRoom detaches every connection from room. The connections stay open.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.rooms[room] {
		delete(h.roomOf, connID)
	}
	delete(h.rooms, room)
}

// RoomOf returns the room the connection is attributed to.
func (h *Hub) RoomOf(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	room, ok := h.roomOf[connID]
	return room, ok
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Emit sends an event to every connection in room.
func (h *Hub) Emit(room, event string, payload any) {
	h.EmitExcept(room, "", event, payload)
}

// EmitExcept sends an event to every connection in room but exceptID.
// Non-blocking: drops if a client's channel is full.
func (h *Hub) EmitExcept(room, exceptID, event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.rooms[room] {
		if id == exceptID {
			continue
		}
		deliver(c, event, data)
	}
}

// EmitTo sends an event to a single connection.
func (h *Hub) EmitTo(connID, event string, payload any) {
	data, ok := encode(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if c, ok := h.clients[connID]; ok {
		deliver(c, event, data)
	}
}

func encode(event string, payload any) ([]byte, bool) {
	data, err := events.Encode(event, payload)
	if err != nil {
		log.Error().Str("component", "wshub").Err(err).Msg("marshal error")
		return nil, false
	}
	return data, true
}

func deliver(c *Client, event string, data []byte) {
	select {
	case c.Send <- data:
	default:
		log.Warn().Str("component", "wshub").Str("conn", c.ID).Str("event", event).Msg("send buffer full, dropping")
	}
}
