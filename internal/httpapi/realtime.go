package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"qms/doctor-queue/internal/hub"
	"qms/doctor-queue/internal/models"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

const clientBuffer = 16

// SnapshotReader serves the current state to a viewer that just subscribed.
type SnapshotReader interface {
	Snapshot(ctx context.Context, key models.QueueKey) (models.QueueSnapshot, error)
}

type snapshotEnvelope struct {
	Type      string               `json:"type"`
	Payload   models.QueueSnapshot `json:"payload"`
	CreatedAt time.Time            `json:"created_at"`
}

// session is the part of a SockJS session the subscription loop uses.
type session interface {
	Recv() (string, error)
	Send(string) error
}

// NewRealtimeHandler serves live queue updates over SockJS at prefix. Clients
// send {"action":"subscribe","doctor_id":...,"date":...} to follow a queue.
func NewRealtimeHandler(prefix string, h *hub.Hub, snapshots SnapshotReader, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(s sockjs.Session) {
		serveSession(s, h, snapshots, log)
	})
}

func serveSession(s session, h *hub.Hub, snapshots SnapshotReader, log *zap.Logger) {
	client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, clientBuffer)}
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := s.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := s.Recv()
		if err != nil {
			return
		}
		parsed, ok := hub.ParseSubscribe([]byte(msg))
		if !ok {
			log.Debug("ignored realtime message", zap.String("client_id", client.ID))
			continue
		}
		if parsed.Action == "unsubscribe" {
			h.UpdateSubscription(client, hub.Subscription{})
			continue
		}
		sub := hub.Subscription{DoctorID: parsed.DoctorID, Date: parsed.Date}
		h.UpdateSubscription(client, sub)
		if sub.Date != "" && snapshots != nil {
			sendInitialSnapshot(h, client, snapshots, sub, log)
		}
	}
}

// sendInitialSnapshot queues the current state behind any update already
// pending for the client; the hub drops it if a newer version got there first.
func sendInitialSnapshot(h *hub.Hub, client *hub.Client, snapshots SnapshotReader, sub hub.Subscription, log *zap.Logger) {
	key := models.QueueKey{DoctorID: sub.DoctorID, Date: sub.Date}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := snapshots.Snapshot(ctx, key)
	if err != nil {
		log.Warn("initial snapshot failed", zap.String("key", key.String()), zap.Error(err))
		return
	}
	payload, err := json.Marshal(snapshotEnvelope{Type: "queue-snapshot", Payload: snap, CreatedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	h.Deliver(client, payload, sub, snap.Version)
}
