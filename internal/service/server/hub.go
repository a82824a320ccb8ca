package server

import (
	"errors"
	"snapsafe/internal/model"
	"snapsafe/internal/utils/log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

var errDuplicateUser = errors.New("duplicated userID")

type (
	// Hub tracks one notification socket per user.
	Hub struct {
		mu      sync.Mutex
		clients map[string]*wsClient
	}

	wsClient struct {
		hub    *Hub
		userID string
		conn   *websocket.Conn
		send   chan *model.Notification
	}
)

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*wsClient),
	}
}

func (h *Hub) register(c *wsClient) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.userID]; ok {
		return errDuplicateUser
	}
	h.clients[c.userID] = c
	return nil
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.userID]; ok && cur == c {
		delete(h.clients, c.userID)
		close(c.send)
	}
}

// Notify tells recipientID's socket, if any, that its mailbox has new
// envelopes. It never blocks: a slow client just waits for its next poll.
func (h *Hub) Notify(recipientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[recipientID]
	if !ok {
		return
	}

	select {
	case c.send <- &model.Notification{Type: model.NotificationMailbox, RecipientID: recipientID}:
	default:
		log.Debug("notification dropped, client buffer full", zap.String("userID", recipientID))
	}
}

func (h *Hub) Connected(userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.clients[userID]
	return ok
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// readPump only exists to process control frames and notice disconnects;
// clients never send data over this socket.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("notification socket closed", zap.String("userID", c.userID), zap.Error(err))
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case n, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(n); err != nil {
				log.Debug("write notification failed", zap.String("userID", c.userID), zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
