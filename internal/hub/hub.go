package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Subscription is what a connected client currently watches.
type Subscription struct {
	View     string
	TicketID string
	Staff    bool
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	View     string `json:"view"`
	TicketID string `json:"ticket_id"`
	Token    string `json:"token"`
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Each visits every registered client. Clients cannot unregister while fn
// runs, so fn may deliver to them.
func (h *Hub) Each(fn func(client *Client, sub Subscription)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		fn(client, client.Subscription)
	}
}

// Deliver queues payload without blocking; a full buffer drops it.
func (h *Hub) Deliver(client *Client, payload []byte) bool {
	select {
	case client.Send <- payload:
		return true
	default:
		h.logger.Warn("drop message for client", zap.String("client_id", client.ID))
		return false
	}
}

// SendTo delivers to one registered client.
func (h *Hub) SendTo(client *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	return h.Deliver(client, payload)
}

// Broadcast delivers payload to every client whose subscription matches.
func (h *Hub) Broadcast(payload []byte, match func(Subscription) bool) {
	h.Each(func(client *Client, sub Subscription) {
		if match != nil && !match(sub) {
			return
		}
		h.Deliver(client, payload)
	})
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
