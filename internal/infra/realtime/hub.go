package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"exodrive/internal/app/policies"
)

const (
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventError             = "error"
)

// Frame is the envelope exchanged with websocket clients.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func UserRoom(userID string) string { return "user_" + userID }

func ConversationRoom(conversationID string) string { return "conversation_" + conversationID }

// Broker fans room frames out across instances. Every instance, including the
// publisher, receives the frame through its subscription.
type Broker interface {
	Publish(ctx context.Context, room string, frame []byte) error
	Subscribe(ctx context.Context, deliver func(room string, frame []byte)) error
}

// Hub tracks room membership for the connections of this instance.
// Rooms exist only while they have members.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	members map[*Client]map[string]struct{}
	broker  Broker
	logger  *slog.Logger

	retryMin time.Duration
	retryMax time.Duration
}

func NewHub(broker Broker, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Client]struct{}),
		members:  make(map[*Client]map[string]struct{}),
		broker:   broker,
		logger:   logger,
		retryMin: time.Second,
		retryMax: 30 * time.Second,
	}
}

// Run consumes the broker subscription until ctx is done, resubscribing with
// backoff when it ends. Without a broker it returns immediately.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		return nil
	}
	delay := h.retryMin
	for {
		err := h.broker.Subscribe(ctx, h.deliver)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.warn("realtime subscription ended, resubscribing", "error", err, "retry_in", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > h.retryMax {
			delay = h.retryMax
		}
	}
}

func (h *Hub) Join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.members[c]
	if !ok {
		// connection already removed
		if c.closed {
			return
		}
		rooms = make(map[string]struct{})
		h.members[c] = rooms
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	rooms[room] = struct{}{}
}

func (h *Hub) Leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

// Remove drops the connection from every room and closes its send queue.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.members[c] {
		h.leaveLocked(c, room)
	}
	delete(h.members, c)
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.members[c]; ok {
		delete(rooms, room)
	}
}

// Members reports how many local connections are in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast sends event to every member of room. Members that are not
// connected miss it; there is no replay.
func (h *Hub) Broadcast(ctx context.Context, room, event string, payload any) error {
	frame, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	if h.broker != nil {
		if err := h.broker.Publish(ctx, room, frame); err != nil {
			h.warn("realtime broker publish failed, delivering locally", "error", err, "room", room)
			h.deliver(room, frame)
		}
		return nil
	}
	h.deliver(room, frame)
	return nil
}

func (h *Hub) EmitToUser(ctx context.Context, userID, event string, payload any) error {
	return h.Broadcast(ctx, UserRoom(userID), event, payload)
}

func (h *Hub) deliver(room string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if !c.enqueue(frame) {
			h.warn("realtime frame dropped, send buffer full", "room", room, "user_id", c.userID)
		}
	}
}

func (h *Hub) warn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}

var _ policies.RealtimePublisher = (*Hub)(nil)
