// Package realtime serves the realtime endpoints registered in a kernel over
// WebSocket connections.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mazrean/kiban"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// Events handled by the hub itself.
const (
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventSubscribed  = "subscribed"
	EventError       = "error"
)

// Message is the frame exchanged with clients.
type Message struct {
	Topic   string          `json:"topic,omitempty"`
	Event   string          `json:"event"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Endpoint handles the messages clients send to a namespace.
type Endpoint interface {
	HandleMessage(ctx context.Context, c *Conn, msg Message) error
}

// Connector is implemented by endpoints that want to know about new connections.
type Connector interface {
	Connected(c *Conn)
}

// Disconnector is implemented by endpoints that want to know about closed connections.
type Disconnector interface {
	Disconnected(c *Conn)
}

// Subscriber is implemented by endpoints that react to topic subscriptions.
type Subscriber interface {
	Subscribed(c *Conn, topic string)
}

// ErrNamespaceTaken is returned when two endpoints claim one namespace.
var ErrNamespaceTaken = errors.New("realtime: namespace already mounted")

// Hub tracks the WebSocket connections of every mounted namespace.
type Hub struct {
	logger    *slog.Logger
	endpoints map[string]Endpoint
	conns     map[uuid.UUID]*Conn
	upgrader  websocket.Upgrader
	mu        sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Hub{
		logger:    logger,
		endpoints: make(map[string]Endpoint),
		conns:     make(map[uuid.UUID]*Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Mount serves e under namespace.
func (h *Hub) Mount(namespace string, e Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.endpoints[namespace]; ok {
		return fmt.Errorf("%w: %s", ErrNamespaceTaken, namespace)
	}
	h.endpoints[namespace] = e
	return nil
}

// Bind resolves every RealtimeEndpoint registration of k and mounts it under
// its namespace option. Each instance must implement Endpoint.
func (h *Hub) Bind(k *kiban.Kernel) error {
	for _, id := range k.AllOfKind(kiban.KindRealtimeEndpoint) {
		reg, _ := k.Registration(id)
		if reg.Options.Namespace == "" {
			return fmt.Errorf("realtime endpoint %s: no namespace", id)
		}

		instance, err := k.Resolve(id)
		if err != nil {
			return fmt.Errorf("resolve realtime endpoint %s: %w", id, err)
		}

		e, ok := instance.(Endpoint)
		if !ok {
			return fmt.Errorf("realtime endpoint %s: %T does not implement realtime.Endpoint", id, instance)
		}

		if err := h.Mount(reg.Options.Namespace, e); err != nil {
			return fmt.Errorf("realtime endpoint %s: %w", id, err)
		}
		h.logger.Debug("endpoint bound", "endpoint", id, "namespace", reg.Options.Namespace)
	}

	return nil
}

// Namespaces returns the mounted namespaces in sorted order.
func (h *Hub) Namespaces() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ns := make([]string, 0, len(h.endpoints))
	for name := range h.endpoints {
		ns = append(ns, name)
	}
	slices.Sort(ns)
	return ns
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// ServeHTTP upgrades the request and serves the namespace named by its path.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	endpoint, ok := h.endpoints[r.URL.Path]
	h.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "namespace", r.URL.Path, "error", err)
		return
	}

	c := newConn(h, ws, r.URL.Path)

	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()

	h.logger.Debug("realtime connection opened", "conn", c.ID, "namespace", c.Namespace)
	if connector, ok := endpoint.(Connector); ok {
		connector.Connected(c)
	}

	go c.writePump()
	c.readPump(r.Context(), endpoint)

	h.mu.Lock()
	delete(h.conns, c.ID)
	h.mu.Unlock()

	if disconnector, ok := endpoint.(Disconnector); ok {
		disconnector.Disconnected(c)
	}
	h.logger.Debug("realtime connection closed", "conn", c.ID, "namespace", c.Namespace)
}

// Publish sends event with payload to every connection subscribed to topic
// and returns how many connections it was queued for.
func (h *Hub) Publish(topic, event string, payload any) (int, error) {
	frame, err := encode(topic, event, "", payload)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		if c.Subscribed(topic) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(frame) == nil {
			delivered++
		}
	}
	return delivered, nil
}

// Close closes every open connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Conn, endpoint Endpoint, msg Message) error {
	switch msg.Event {
	case EventSubscribe:
		if msg.Topic == "" {
			return errors.New("subscribe: no topic")
		}
		c.Subscribe(msg.Topic)
		if err := c.Send(Message{Topic: msg.Topic, Event: EventSubscribed, Ref: msg.Ref}); err != nil {
			return err
		}
		if subscriber, ok := endpoint.(Subscriber); ok {
			subscriber.Subscribed(c, msg.Topic)
		}
		return nil
	case EventUnsubscribe:
		c.Unsubscribe(msg.Topic)
		return nil
	}

	return endpoint.HandleMessage(ctx, c, msg)
}

func encode(topic, event, ref string, payload any) ([]byte, error) {
	msg := Message{Topic: topic, Event: event, Ref: ref}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		msg.Payload = raw
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return frame, nil
}
