package hub

import (
	"encoding/json"
	"sync"

	"qms/patient-queue/internal/feed"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const DefaultBuffer = 16

var (
	hubClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_hub_clients",
		Help: "Connected viewers",
	})

	hubDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_hub_dropped_total",
		Help: "Events not delivered because a viewer buffer was full",
	}, []string{"type"})
)

// Client is one live viewer connection. Send is closed by Unregister.
type Client struct {
	ID        string
	Transport string
	Send      chan feed.Event
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	last    *feed.Event
	closed  bool
	buffer  int
	logger  *zap.Logger
}

type ControlMessage struct {
	Action string `json:"action"`
}

func New(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), buffer: buffer, logger: logger}
}

func (h *Hub) NewClient(transport string) *Client {
	return &Client{ID: uuid.NewString(), Transport: transport, Send: make(chan feed.Event, h.buffer)}
}

// Register adds the client and queues the latest snapshot for it in the same
// critical section, so it cannot miss a broadcast in between.
// After Close the client is refused and its Send closed at once.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(client.Send)
		return
	}
	h.clients[client.ID] = client
	if h.last != nil {
		h.deliver(client, *h.last)
	}
	hubClients.Set(float64(len(h.clients)))
	h.logger.Debug("viewer connected", zap.String("client_id", client.ID), zap.String("transport", client.Transport))
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
	hubClients.Set(float64(len(h.clients)))
	h.logger.Debug("viewer disconnected", zap.String("client_id", client.ID), zap.String("transport", client.Transport))
}

// Close disconnects every viewer. Their writers see Send closed and end the
// connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, client := range h.clients {
		delete(h.clients, id)
		close(client.Send)
	}
	hubClients.Set(0)
}

// Replay queues the latest snapshot for one client again.
func (h *Hub) Replay(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok || h.last == nil {
		return false
	}
	return h.deliver(client, *h.last)
}

func (h *Hub) Publish(event feed.Event) {
	h.Broadcast(event)
}

// Broadcast never blocks on a slow viewer. The full lock keeps every client
// queue in feed order and excludes a concurrent Unregister closing Send.
func (h *Hub) Broadcast(event feed.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if event.Type == feed.EventPatients {
		last := event
		h.last = &last
	}
	for _, client := range h.clients {
		h.deliver(client, event)
	}
}

func (h *Hub) Last() (feed.Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return feed.Event{}, false
	}
	return *h.last, true
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver must be called with h.mu held. When the buffer is full a heartbeat
// is dropped; a snapshot replaces the oldest queued event since every snapshot
// supersedes the ones before it.
func (h *Hub) deliver(client *Client, event feed.Event) bool {
	select {
	case client.Send <- event:
		return true
	default:
	}
	if event.Type != feed.EventPatients {
		hubDropped.WithLabelValues(event.Type).Inc()
		return false
	}
	select {
	case <-client.Send:
	default:
	}
	select {
	case client.Send <- event:
		hubDropped.WithLabelValues("superseded").Inc()
		h.logger.Debug("viewer lagging, discarded oldest event", zap.String("client_id", client.ID))
		return true
	default:
		hubDropped.WithLabelValues(event.Type).Inc()
		h.logger.Warn("drop snapshot for viewer", zap.String("client_id", client.ID), zap.Uint64("seq", event.Seq))
		return false
	}
}

// ParseControl recognises the one message viewers may send: a resync request.
func ParseControl(data []byte) (ControlMessage, bool) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, false
	}
	if msg.Action != "resync" {
		return ControlMessage{}, false
	}
	return msg, true
}
