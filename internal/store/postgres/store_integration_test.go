package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"qms/doctor-queue/internal/models"
	"qms/doctor-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestGetAppointment(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	appointmentID := uuid.NewString()
	slot := time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)
	if _, err := pool.Exec(ctx, `
		INSERT INTO appointments (appointment_id, doctor_id, slot_date, slot_time, patient_name, patient_tag)
		VALUES ($1, 'doc-1', '2026-03-02', $2, 'Sari', 'follow-up')
	`, appointmentID, slot); err != nil {
		t.Fatalf("insert appointment: %v", err)
	}

	appt, err := st.GetAppointment(ctx, appointmentID)
	if err != nil {
		t.Fatalf("get appointment: %v", err)
	}
	if appt.DoctorID != "doc-1" || appt.SlotDate != "2026-03-02" || !appt.SlotTime.Equal(slot) {
		t.Fatalf("unexpected appointment: %+v", appt)
	}
	if appt.PatientTag != models.TagFollowUp {
		t.Fatalf("expected follow-up tag, got %q", appt.PatientTag)
	}

	if _, err := st.GetAppointment(ctx, uuid.NewString()); !errors.Is(err, store.ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestJournalChainAndSnapshot(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	key := models.QueueKey{DoctorID: "doc-1", Date: "2026-03-02"}
	emitted := time.Date(2026, 3, 2, 10, 0, 0, 123456789, time.UTC)
	for v := uint64(1); v <= 3; v++ {
		event := models.QueueEvent{
			EventID:   uuid.NewString(),
			Type:      models.EventQueueUpdated,
			Op:        "enqueue",
			DoctorID:  key.DoctorID,
			Date:      key.Date,
			Version:   v,
			Snapshot:  models.QueueSnapshot{Key: key, Version: v, Entries: []models.QueueEntry{}},
			EmittedAt: emitted.Add(time.Duration(v) * time.Second),
		}
		if err := st.SaveEvent(ctx, event); err != nil {
			t.Fatalf("save event %d: %v", v, err)
		}
	}
	replay := models.QueueEvent{EventID: uuid.NewString(), DoctorID: key.DoctorID, Date: key.Date, Version: 2, Op: "enqueue"}
	if err := st.SaveEvent(ctx, replay); err != nil {
		t.Fatalf("replay event: %v", err)
	}

	records, err := st.ListEvents(ctx, key, 0, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if err := store.VerifyChain(records); err != nil {
		t.Fatalf("verify chain: %v", err)
	}

	snap, found, err := st.LoadSnapshot(ctx, key)
	if err != nil || !found {
		t.Fatalf("load snapshot: found=%v err=%v", found, err)
	}
	if snap.Version != 3 {
		t.Fatalf("expected version 3, got %d", snap.Version)
	}

	_, found, err = st.LoadSnapshot(ctx, models.QueueKey{DoctorID: "doc-2", Date: key.Date})
	if err != nil || found {
		t.Fatalf("expected no snapshot, found=%v err=%v", found, err)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
