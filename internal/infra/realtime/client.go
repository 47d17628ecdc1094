package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	domainmessaging "exodrive/internal/domain/messaging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// ConversationAuthorizer decides whether a user may join a conversation room.
type ConversationAuthorizer interface {
	AuthorizeConversation(ctx context.Context, conversationID, userID string) error
}

// Client is one websocket connection of an authenticated user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	// guarded by hub.mu
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, buffer int) *Client {
	return &Client{hub: hub, conn: conn, userID: userID, send: make(chan []byte, buffer)}
}

// enqueue must be called with hub.mu held.
func (c *Client) enqueue(frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type errorData struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Server upgrades authenticated requests and runs the connection pumps.
type Server struct {
	Hub            *Hub
	Authorizer     ConversationAuthorizer
	AllowedOrigins []string
	upgrader       websocket.Upgrader
}

func NewServer(hub *Hub, authorizer ConversationAuthorizer, allowedOrigins []string) *Server {
	s := &Server{Hub: hub, Authorizer: authorizer, AllowedOrigins: allowedOrigins}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Serve upgrades the request for userID, who must already be authenticated.
// It returns once the connection is registered; pumps run in the background.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(s.Hub, conn, userID, sendBuffer)
	s.Hub.Join(c, UserRoom(userID))
	go c.writePump()
	go s.readPump(context.WithoutCancel(r.Context()), c)
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, allowed := range s.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		switch {
		case allowed == "*", allowed == origin, allowed == host:
			return true
		case strings.HasPrefix(allowed, "*.") && strings.HasSuffix(host, allowed[1:]):
			return true
		}
	}
	return false
}

func (s *Server) readPump(ctx context.Context, c *Client) {
	defer func() {
		s.Hub.Remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.Hub.logger != nil {
				s.Hub.logger.Debug("websocket closed", "user_id", c.userID, "error", err)
			}
			return
		}
		s.handleFrame(ctx, c, raw)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *Client, raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		s.replyError(c, "validation_error", "malformed frame")
		return
	}
	var conversationID string
	if err := json.Unmarshal(in.Data, &conversationID); err != nil || strings.TrimSpace(conversationID) == "" {
		s.replyError(c, "validation_error", "conversation id required")
		return
	}
	conversationID = strings.TrimSpace(conversationID)
	switch in.Event {
	case EventJoinConversation:
		if s.Authorizer != nil {
			if err := s.Authorizer.AuthorizeConversation(ctx, conversationID, c.userID); err != nil {
				kind := "transient_infra"
				if errors.Is(err, domainmessaging.ErrNotFound) || errors.Is(err, domainmessaging.ErrValidation) {
					kind = "not_found"
				}
				s.replyError(c, kind, "conversation not found")
				return
			}
		}
		s.Hub.Join(c, ConversationRoom(conversationID))
	case EventLeaveConversation:
		s.Hub.Leave(c, ConversationRoom(conversationID))
	default:
		s.replyError(c, "validation_error", "unknown event")
	}
}

func (s *Server) replyError(c *Client, kind, msg string) {
	frame, err := json.Marshal(Frame{Event: EventError, Data: errorData{Kind: kind, Error: msg}})
	if err != nil {
		return
	}
	s.Hub.mu.RLock()
	defer s.Hub.mu.RUnlock()
	c.enqueue(frame)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
