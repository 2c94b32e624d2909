package models

import "time"

const EventQueueUpdated = "queue-updated"

// QueueEvent is emitted after every committed mutation of a key.
type QueueEvent struct {
	EventID   string        `json:"event_id"`
	Type      string        `json:"type"`
	Op        string        `json:"op"`
	DoctorID  string        `json:"doctor_id"`
	Date      string        `json:"date"`
	Version   uint64        `json:"version"`
	Snapshot  QueueSnapshot `json:"snapshot"`
	EmittedAt time.Time     `json:"emitted_at"`
}

func (e QueueEvent) Key() QueueKey {
	return QueueKey{DoctorID: e.DoctorID, Date: e.Date}
}
