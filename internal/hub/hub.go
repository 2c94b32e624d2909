package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscription selects the queues a client follows. Empty fields match any
// value, so a doctor-only subscription follows every day of that doctor.
type Subscription struct {
	DoctorID string
	Date     string
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription

	// Last queue version handed to Send per key; guarded by the hub.
	versions map[Subscription]uint64
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *zap.Logger
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
}

func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), log: log}
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
	client.versions = nil
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers version of a key's queue to every matching client
// without blocking. It returns how many clients received it.
func (h *Hub) Broadcast(payload []byte, key Subscription, version uint64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, client := range h.clients {
		if !subscribed(client.Subscription) || !match(client.Subscription, key) {
			continue
		}
		if h.offer(client, payload, key, version) {
			delivered++
		}
	}
	return delivered
}

// Deliver hands one client a payload outside the broadcast path, such as
// the snapshot sent on subscribe. It goes through the same version check,
// so it never overtakes a newer update of the key.
func (h *Hub) Deliver(client *Client, payload []byte, key Subscription, version uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	return h.offer(client, payload, key, version)
}

// offer sends unless the client already holds this version of the key or a
// newer one. h.mu must be held for writing.
func (h *Hub) offer(client *Client, payload []byte, key Subscription, version uint64) bool {
	if last, ok := client.versions[key]; ok && version <= last {
		return false
	}
	select {
	case client.Send <- payload:
	default:
		h.log.Warn("drop message for client", zap.String("client_id", client.ID), zap.Uint64("version", version))
		return false
	}
	if client.versions == nil {
		client.versions = make(map[Subscription]uint64)
	}
	client.versions[key] = version
	return true
}

func subscribed(sub Subscription) bool {
	return sub.DoctorID != ""
}

func match(sub Subscription, meta Subscription) bool {
	if sub.DoctorID != "" && meta.DoctorID != sub.DoctorID {
		return false
	}
	if sub.Date != "" && meta.Date != sub.Date {
		return false
	}
	return true
}

// ParseSubscribe accepts subscribe and unsubscribe messages. A subscribe
// needs a UUID doctor_id and, when given, a YYYY-MM-DD date.
func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	switch msg.Action {
	case "unsubscribe":
		return msg, true
	case "subscribe":
	default:
		return SubscribeMessage{}, false
	}
	if _, err := uuid.Parse(msg.DoctorID); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Date != "" {
		if _, err := time.Parse("2006-01-02", msg.Date); err != nil {
			return SubscribeMessage{}, false
		}
	}
	return msg, true
}
