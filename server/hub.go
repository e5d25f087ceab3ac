package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MessageType tags every websocket message.
type MessageType string

const (
	MsgConnection    MessageType = "connection_status"
	MsgBalance       MessageType = "balance"
	MsgPositions     MessageType = "positions"
	MsgHistory       MessageType = "history"
	MsgSignalRequest MessageType = "signal_request"
	MsgSignal        MessageType = "signal"
	MsgError         MessageType = "error"
)

// Message is the websocket envelope.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

type connectionStatus struct {
	Status    string `json:"status"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// Hub maintains active clients and broadcasts messages
type Hub struct {
	log *zap.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.Info("websocket client connected", zap.String("client", client.ID), zap.Int("clients", n))

			status, err := json.Marshal(Message{
				Type: MsgConnection,
				Data: connectionStatus{Status: "connected", ClientID: client.ID, Timestamp: time.Now().UnixMilli()},
			})
			if err == nil {
				h.deliver(client, status)
			}

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.log.Info("websocket client disconnected", zap.String("client", client.ID), zap.Int("clients", len(h.clients)))
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mutex.RUnlock()
			for _, c := range clients {
				h.deliver(c, message)
			}
		}
	}
}

// deliver queues data for c, dropping c if its buffer is full.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.mutex.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.Send)
			h.log.Warn("websocket client too slow, dropped", zap.String("client", c.ID))
		}
		h.mutex.Unlock()
	}
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.Send)
	}
}

// Broadcast sends a typed message to all connected clients. It never blocks
// the caller; when the hub is backed up the message is dropped.
func (h *Hub) Broadcast(t MessageType, data any) {
	raw, err := json.Marshal(Message{Type: t, Data: data})
	if err != nil {
		h.log.Error("marshal websocket message", zap.String("type", string(t)), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.log.Warn("websocket broadcast queue full, message dropped", zap.String("type", string(t)))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
