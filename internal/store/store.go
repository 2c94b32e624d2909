package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/doctor-queue/internal/models"
)

// AppointmentSource reads booking records at check-in time.
type AppointmentSource interface {
	GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error)
}

// Journal persists committed queue events and the latest snapshot per key.
type Journal interface {
	SaveEvent(ctx context.Context, event models.QueueEvent) error
	LoadSnapshot(ctx context.Context, key models.QueueKey) (models.QueueSnapshot, bool, error)
	ListEvents(ctx context.Context, key models.QueueKey, afterVersion uint64, limit int) ([]QueueEventRecord, error)
}

type QueueEventRecord struct {
	EventID   string          `json:"event_id"`
	DoctorID  string          `json:"doctor_id"`
	Date      string          `json:"date"`
	Version   uint64          `json:"version"`
	Op        string          `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}
