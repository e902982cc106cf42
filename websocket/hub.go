package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 10 * 1024 * 1024
	sendBuffer     = 256
)

var ErrClientClosed = errors.New("websocket client closed")

// Hub keeps track of the open voice session connections
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// Frame is one outgoing message, text or binary
type Frame struct {
	Type int
	Data []byte
}

type Client struct {
	Hub          *Hub
	Conn         *websocket.Conn
	Send         chan Frame
	SessionID    string
	SimulationID uint

	// OnText and OnBinary are called from the read pump in arrival order
	OnText   func(*Client, []byte)
	OnBinary func(*Client, []byte)

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			slog.Info("Client registered", "session_id", client.SessionID, "simulation_id", client.SimulationID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.shutdown()
			}
			h.mu.Unlock()
			slog.Info("Client unregistered", "session_id", client.SessionID, "simulation_id", client.SimulationID)
		}
	}
}

// Count returns the number of registered clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) RegisterClient(conn *websocket.Conn, simulationID uint) *Client {
	client := &Client{
		Hub:          h,
		Conn:         conn,
		Send:         make(chan Frame, sendBuffer),
		SessionID:    uuid.New().String(),
		SimulationID: simulationID,
		done:         make(chan struct{}),
	}

	h.register <- client
	return client
}

// Done is closed once the client has been unregistered
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump blocks until the connection fails or closes
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				slog.Error("WebSocket error", "error", err, "session_id", c.SessionID)
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msgType {
		case websocket.TextMessage:
			if c.OnText != nil {
				c.OnText(c, data)
			}
		case websocket.BinaryMessage:
			if c.OnBinary != nil {
				c.OnBinary(c, data)
			}
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(frame.Type, frame.Data); err != nil {
				slog.Debug("Failed to write frame", "error", err, "session_id", c.SessionID)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON queues a text frame. It fails once the client is gone.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.enqueue(Frame{Type: websocket.TextMessage, Data: data})
}

// SendBinary queues a binary frame
func (c *Client) SendBinary(data []byte) error {
	return c.enqueue(Frame{Type: websocket.BinaryMessage, Data: data})
}

func (c *Client) enqueue(frame Frame) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.Send <- frame:
		return nil
	case <-c.done:
		return ErrClientClosed
	}
}
