package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/doctor-queue/internal/models"
	"qms/doctor-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultEventLimit = 200

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID string) (models.Appointment, error) {
	var appt models.Appointment
	var slotDate time.Time
	var tag sql.NullString
	row := s.pool.QueryRow(ctx, `
		SELECT appointment_id::text, doctor_id, slot_date, slot_time, patient_name, patient_tag
		FROM appointments
		WHERE appointment_id = $1
	`, appointmentID)
	if err := row.Scan(&appt.AppointmentID, &appt.DoctorID, &slotDate, &appt.SlotTime, &appt.PatientName, &tag); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, err
	}
	appt.SlotDate = slotDate.Format(models.DateLayout)
	appt.SlotTime = appt.SlotTime.UTC()
	if tag.Valid {
		appt.PatientTag = tag.String
	}
	return appt, nil
}

// SaveEvent appends the event to its key's hash chain and replaces the stored
// snapshot when the event is newer. Replayed versions are ignored.
func (s *Store) SaveEvent(ctx context.Context, event models.QueueEvent) error {
	payload, err := json.Marshal(event.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.Key().String()); err != nil {
		return err
	}

	var lastVersion int64
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT version, hash
		FROM queue_events
		WHERE doctor_id = $1 AND queue_date = $2
		ORDER BY version DESC
		LIMIT 1
	`, event.DoctorID, event.Date)
	if scanErr := row.Scan(&lastVersion, &prevHash); scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows) {
		err = scanErr
		return err
	}
	if prevHash.Valid && uint64(lastVersion) >= event.Version {
		err = tx.Commit(ctx)
		return err
	}

	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	createdAt := event.EmittedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	// timestamptz keeps microseconds; the hash must survive a round trip.
	createdAt = createdAt.Truncate(time.Microsecond)
	hash := store.ComputeQueueEventHash(prev, event.DoctorID, event.Date, event.Version, event.Op, payload, createdAt)

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_events (event_id, doctor_id, queue_date, version, op, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.EventID, event.DoctorID, event.Date, int64(event.Version), event.Op, string(payload), createdAt, prev, hash)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO queue_snapshots (doctor_id, queue_date, version, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id, queue_date) DO UPDATE
		SET version = EXCLUDED.version, snapshot = EXCLUDED.snapshot, updated_at = EXCLUDED.updated_at
		WHERE queue_snapshots.version < EXCLUDED.version
	`, event.DoctorID, event.Date, int64(event.Version), payload, createdAt)
	if err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) LoadSnapshot(ctx context.Context, key models.QueueKey) (models.QueueSnapshot, bool, error) {
	var payload []byte
	row := s.pool.QueryRow(ctx, `
		SELECT snapshot
		FROM queue_snapshots
		WHERE doctor_id = $1 AND queue_date = $2
	`, key.DoctorID, key.Date)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueSnapshot{}, false, nil
		}
		return models.QueueSnapshot{}, false, err
	}
	var snap models.QueueSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return models.QueueSnapshot{}, false, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	return snap, true, nil
}

func (s *Store) ListEvents(ctx context.Context, key models.QueueKey, afterVersion uint64, limit int) ([]store.QueueEventRecord, error) {
	if limit <= 0 || limit > defaultEventLimit {
		limit = defaultEventLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id::text, doctor_id, queue_date, version, op, payload, created_at, prev_hash, hash
		FROM queue_events
		WHERE doctor_id = $1 AND queue_date = $2 AND version > $3
		ORDER BY version ASC
		LIMIT $4
	`, key.DoctorID, key.Date, int64(afterVersion), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []store.QueueEventRecord
	for rows.Next() {
		var record store.QueueEventRecord
		var day time.Time
		var version int64
		var payload string
		if err := rows.Scan(&record.EventID, &record.DoctorID, &day, &version, &record.Op, &payload, &record.CreatedAt, &record.PrevHash, &record.Hash); err != nil {
			return nil, err
		}
		record.Date = day.Format(models.DateLayout)
		record.Version = uint64(version)
		record.Payload = json.RawMessage(payload)
		record.CreatedAt = record.CreatedAt.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
