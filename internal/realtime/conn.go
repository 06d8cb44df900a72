package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	// ErrSlowConsumer is returned when a connection's send buffer is full.
	// The connection is closed.
	ErrSlowConsumer = errors.New("realtime: send buffer full")
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("realtime: connection closed")
)

// Conn is one client connection.
type Conn struct {
	hub       *Hub
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	topics    map[string]struct{}
	Namespace string
	mu        sync.Mutex
	closeOnce sync.Once
	ID        uuid.UUID
}

func newConn(h *Hub, ws *websocket.Conn, namespace string) *Conn {
	return &Conn{
		ID:        uuid.New(),
		Namespace: namespace,
		hub:       h,
		ws:        ws,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		topics:    make(map[string]struct{}),
	}
}

// Subscribe adds topic to the topics published to the connection.
func (c *Conn) Subscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.topics[topic] = struct{}{}
}

// Unsubscribe removes topic.
func (c *Conn) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.topics, topic)
}

// Subscribed reports whether the connection is subscribed to topic.
func (c *Conn) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.topics[topic]
	return ok
}

// Send queues msg for the client.
func (c *Conn) Send(msg Message) error {
	frame, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// SendEvent queues an event whose payload is marshaled to JSON.
func (c *Conn) SendEvent(topic, event string, payload any) error {
	frame, err := encode(topic, event, "", payload)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// Close closes the connection. Frames still queued are dropped.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Conn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	default:
		c.hub.logger.Warn("realtime send buffer full", "conn", c.ID)
		c.Close()
		return ErrSlowConsumer
	}
}

func (c *Conn) readPump(ctx context.Context, endpoint Endpoint) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("realtime read failed", "conn", c.ID, "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.SendEvent("", EventError, map[string]string{"message": "invalid message"})
			continue
		}

		if err := c.hub.dispatch(ctx, c, endpoint, msg); err != nil {
			frame, encErr := encode(msg.Topic, EventError, msg.Ref, map[string]string{"message": err.Error()})
			if encErr == nil {
				_ = c.enqueue(frame)
			}
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
