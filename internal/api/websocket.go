package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Morfar22/nexus-rp-portal-sub003/internal/auth"
	"github.com/Morfar22/nexus-rp-portal-sub003/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the SPA may be served from another origin in development
	},
}

// WebSocketClient represents a connected WebSocket client. Staff clients
// have an empty chatSession and receive every event; visitor clients only
// receive chat events of their own session.
type WebSocketClient struct {
	hub         *WebSocketHub
	conn        *websocket.Conn
	send        chan []byte
	remoteAddr  string
	chatSession string

	// Staff clients only. verify reports whether the login session behind
	// the socket is still valid; it runs on every ping.
	userID    int64
	sessionID string
	verify    func() bool
}

func (c *WebSocketClient) wants(m hubMessage) bool {
	if c.chatSession == "" {
		return true
	}
	return m.chatEvent && m.chatSession == c.chatSession
}

// hubMessage is an encoded event plus what the filters need
type hubMessage struct {
	data        []byte
	chatEvent   bool
	chatSession string
}

// WebSocketHub manages WebSocket connections
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan hubMessage
	register   chan *WebSocketClient
	unregister chan *WebSocketClient
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	pingInterval time.Duration
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan hubMessage, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		done:       make(chan struct{}),

		pingInterval: 30 * time.Second,
	}
}

// Run starts the hub's main loop; it returns after Stop
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			zap.L().Debug("websocket client connected",
				zap.String("remote", client.remoteAddr),
				zap.String("chat_session", client.chatSession),
				zap.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			zap.L().Debug("websocket client disconnected", zap.String("remote", client.remoteAddr), zap.Int("total", total))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(message) {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					// Client's buffer is full, close connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Stop ends Run and disconnects every client
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast sends an event to every client that wants it
func (h *WebSocketHub) Broadcast(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("marshaling websocket event", zap.String("event", event.Type), zap.Error(err))
		return
	}

	msg := hubMessage{data: data, chatEvent: event.IsChatEvent(), chatSession: event.ChatSessionID}
	select {
	case h.broadcast <- msg:
	default:
		zap.L().Warn("websocket broadcast channel full, dropping event", zap.String("event", event.Type))
	}
}

// DropSession disconnects the staff clients authenticated by a login session
func (h *WebSocketHub) DropSession(sessionID string) int {
	return h.drop(func(c *WebSocketClient) bool { return c.sessionID != "" && c.sessionID == sessionID })
}

// DropUser disconnects a staff member's clients except those on keepSession
func (h *WebSocketHub) DropUser(userID int64, keepSession string) int {
	return h.drop(func(c *WebSocketClient) bool {
		return c.sessionID != "" && c.userID == userID && c.sessionID != keepSession
	})
}

func (h *WebSocketHub) drop(match func(*WebSocketClient) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for client := range h.clients {
		if match(client) {
			close(client.send)
			delete(h.clients, client)
			n++
		}
	}
	return n
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket streams every event to an authenticated staff member.
// Browsers cannot set headers on websocket requests, so the token comes in ?token=.
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(req)
	}
	ac, err := r.authenticateToken(req.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	r.serveWebSocket(w, req, &WebSocketClient{
		userID:    ac.user.ID,
		sessionID: ac.claims.SessionID(),
		verify:    func() bool { return r.sessionStillValid(token) },
	})
}

// sessionStillValid re-checks a staff token. Storage errors keep the socket
// open; only an invalid token or revoked session closes it.
func (r *Router) sessionStillValid(token string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.authenticateToken(ctx, token)
	if errors.Is(err, auth.ErrInvalidToken) {
		return false
	}
	if err != nil {
		zap.L().Warn("re-checking websocket session", zap.Error(err))
	}
	return true
}

// handleChatWebSocket streams one chat session's events to its visitor
func (r *Router) handleChatWebSocket(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	session, token := q.Get("session"), q.Get("token")
	if session == "" || token == "" {
		writeError(w, http.StatusUnauthorized, "chat token required")
		return
	}
	ok, err := r.store.CheckChatToken(req.Context(), session, token)
	if err != nil {
		writeFailure(w, req, err, "chat session")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid chat token")
		return
	}
	r.serveWebSocket(w, req, &WebSocketClient{chatSession: session})
}

func (r *Router) serveWebSocket(w http.ResponseWriter, req *http.Request, client *WebSocketClient) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		zap.L().Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client.hub = r.wsHub
	client.conn = conn
	client.send = make(chan []byte, 256)
	client.remoteAddr = r.clientIP(req)

	select {
	case r.wsHub.register <- client:
	case <-r.wsHub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket (and handles close)
func (c *WebSocketClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				zap.L().Debug("websocket read error", zap.String("remote", c.remoteAddr), zap.Error(err))
			}
			break
		}
		// Incoming messages are ignored; the socket is push only
	}
}

// writePump sends messages to the WebSocket
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain queued messages into this write, one JSON document per line
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if c.verify != nil && !c.verify() {
				zap.L().Debug("websocket session ended", zap.String("remote", c.remoteAddr), zap.Int64("user_id", c.userID))
				c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
