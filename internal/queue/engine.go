// Package queue owns the live appointment queue of every doctor for a day.
//
// State is partitioned by models.QueueKey. Mutations of one key are
// serialized by that key's mutex and never interleave; different keys never
// share a lock after their board has been created. Each committed mutation
// publishes an immutable snapshot that readers load without locking, together
// with the delay projection and suggestions computed from it.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qms/doctor-queue/internal/estimate"
	"qms/doctor-queue/internal/models"
	"qms/doctor-queue/internal/suggest"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Publisher receives committed events in mutation order. Publish is called
// while the key is still held and must not block.
type Publisher interface {
	Publish(event models.QueueEvent)
}

// Loader restores a key's last committed snapshot on first access.
type Loader interface {
	LoadSnapshot(ctx context.Context, key models.QueueKey) (models.QueueSnapshot, bool, error)
}

type Options struct {
	Estimate     estimate.Config
	Suggest      suggest.Config
	DefaultBreak time.Duration
	Now          func() time.Time
	Publisher    Publisher
	Loader       Loader
	Logger       *zap.Logger
}

type Engine struct {
	mu     sync.Mutex
	boards map[models.QueueKey]*board

	estimator    *estimate.Estimator
	suggester    *suggest.Engine
	defaultBreak time.Duration
	now          func() time.Time
	publisher    Publisher
	loader       Loader
	log          *zap.Logger
	tracer       trace.Tracer
}

func NewEngine(options Options) *Engine {
	estimator := estimate.New(options.Estimate)
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	defaultBreak := options.DefaultBreak
	if defaultBreak <= 0 {
		defaultBreak = 15 * time.Minute
	}
	log := options.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		boards:       make(map[models.QueueKey]*board),
		estimator:    estimator,
		suggester:    suggest.New(options.Suggest, estimator),
		defaultBreak: defaultBreak,
		now:          now,
		publisher:    options.Publisher,
		loader:       options.Loader,
		log:          log,
		tracer:       otel.Tracer("qms/doctor-queue/queue"),
	}
}

// Snapshot returns the latest committed state of the key. An elapsed break
// is shown as ended even before the next mutation commits it. A key with no
// mutations and nothing stored reads as an empty queue and is not kept in
// memory.
func (e *Engine) Snapshot(ctx context.Context, key models.QueueKey) (models.QueueSnapshot, error) {
	if snap, ok := e.committed(key); ok {
		return snap, nil
	}
	stored, found, err := e.load(ctx, key)
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	if !found {
		if snap, ok := e.committed(key); ok {
			return snap, nil
		}
		return e.derive(newBoard(key), e.now()), nil
	}

	b := e.board(key)
	b.mu.Lock()
	e.install(b, stored, true)
	b.mu.Unlock()
	snap, _ := b.committedSnapshot()
	expireBreak(&snap.Doctor, e.now())
	return snap, nil
}

func (e *Engine) committed(key models.QueueKey) (models.QueueSnapshot, bool) {
	b := e.lookup(key)
	if b == nil {
		return models.QueueSnapshot{}, false
	}
	snap, ok := b.committedSnapshot()
	if !ok {
		return models.QueueSnapshot{}, false
	}
	expireBreak(&snap.Doctor, e.now())
	return snap, true
}

// Enqueue checks an appointment into its doctor's queue at the tail.
func (e *Engine) Enqueue(ctx context.Context, appt models.Appointment) (models.QueueEntry, error) {
	var entry models.QueueEntry
	_, err := e.mutate(ctx, appt.Key(), "enqueue", func(b *board, now time.Time) (bool, error) {
		var err error
		entry, err = b.enqueue(appt, now)
		return err == nil, err
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// Move repositions a non-terminal entry. A nil expectedVersion skips the
// optimistic version check.
func (e *Engine) Move(ctx context.Context, key models.QueueKey, appointmentID string, newPosition int, expectedVersion *uint64) (models.QueueSnapshot, error) {
	return e.mutate(ctx, key, "move", func(b *board, now time.Time) (bool, error) {
		if expectedVersion != nil && *expectedVersion != b.version {
			return false, ErrStaleQueueVersion
		}
		return b.move(appointmentID, newPosition)
	})
}

// MarkTerminal closes a waiting entry as cancelled or no-show. Entries in
// consultation are closed through Complete.
func (e *Engine) MarkTerminal(ctx context.Context, key models.QueueKey, appointmentID, outcome string) (models.QueueEntry, error) {
	var entry models.QueueEntry
	_, err := e.mutate(ctx, key, "mark_"+outcome, func(b *board, now time.Time) (bool, error) {
		idx, err := b.activeIndex(appointmentID)
		if err != nil {
			return false, err
		}
		if b.active[idx].Status == models.EntryInConsult {
			return false, ErrQueueConflict
		}
		entry, err = b.markTerminal(appointmentID, outcome, now)
		return err == nil, err
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// UpdateDoctorStatus applies an explicit doctor status change. A zero
// breakMinutes uses the configured default break.
func (e *Engine) UpdateDoctorStatus(ctx context.Context, key models.QueueKey, state string, breakMinutes int) (models.DoctorStatus, error) {
	if breakMinutes < 0 {
		return models.DoctorStatus{}, ErrInvalidStatusTransition
	}
	breakFor := time.Duration(breakMinutes) * time.Minute
	if breakFor == 0 {
		breakFor = e.defaultBreak
	}
	snap, err := e.mutate(ctx, key, "doctor_status", func(b *board, now time.Time) (bool, error) {
		return applyDoctorStatus(&b.doctor, state, breakFor, now)
	})
	if err != nil {
		return models.DoctorStatus{}, err
	}
	return snap.Doctor, nil
}

type mutation func(b *board, now time.Time) (bool, error)

// mutate runs fn with the key held and commits when fn reports a change.
func (e *Engine) mutate(ctx context.Context, key models.QueueKey, op string, fn mutation) (models.QueueSnapshot, error) {
	ctx, span := e.tracer.Start(ctx, "queue."+op, trace.WithAttributes(
		attribute.String("doctor_id", key.DoctorID),
		attribute.String("date", key.Date),
	))
	defer span.End()

	var b *board
	for {
		var err error
		b, err = e.hydratedBoard(ctx, key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			mutationsTotal.WithLabelValues(op, "error").Inc()
			return models.QueueSnapshot{}, err
		}
		b.mu.Lock()
		if e.lookup(key) == b {
			break
		}
		// Evicted between lookup and lock.
		b.mu.Unlock()
	}
	defer b.mu.Unlock()

	now := e.now()
	expired := expireBreak(&b.doctor, now)
	changed, err := fn(b, now)
	if err != nil {
		if expired {
			e.commit(b, now, op, false)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		mutationsTotal.WithLabelValues(op, "rejected").Inc()
		return models.QueueSnapshot{}, err
	}
	if !changed {
		if expired {
			e.commit(b, now, op, false)
		}
		mutationsTotal.WithLabelValues(op, "noop").Inc()
		snap, _ := b.committedSnapshot()
		return snap, nil
	}

	snap := e.commit(b, now, op, true)
	span.SetAttributes(attribute.Int64("version", int64(snap.Version)))
	mutationsTotal.WithLabelValues(op, "ok").Inc()
	e.log.Debug("queue committed",
		zap.String("doctor_id", key.DoctorID),
		zap.String("date", key.Date),
		zap.String("op", op),
		zap.Uint64("version", snap.Version),
	)
	return snap, nil
}

// commit recomputes derived output, swaps the committed snapshot and, when
// the version advances, hands the event to the publisher.
func (e *Engine) commit(b *board, now time.Time, op string, advance bool) models.QueueSnapshot {
	if advance {
		b.version++
	}
	snap := e.derive(b, now)
	stored := snap.Clone()
	b.committed.Store(&stored)

	if advance && e.publisher != nil {
		e.publisher.Publish(models.QueueEvent{
			EventID:   uuid.NewString(),
			Type:      models.EventQueueUpdated,
			Op:        op,
			DoctorID:  b.key.DoctorID,
			Date:      b.key.Date,
			Version:   snap.Version,
			Snapshot:  snap.Clone(),
			EmittedAt: now,
		})
	}
	return snap
}

// derive builds the board's snapshot together with its delay projection and
// suggestions.
func (e *Engine) derive(b *board, now time.Time) models.QueueSnapshot {
	snap := b.snapshot(now)
	result := e.estimator.Compute(snap, now)
	snap.Delays = result.Records
	snap.AverageConsultMinutes = result.Average.Minutes()
	snap.Suggestions = e.suggester.Suggest(snap, result, now)
	return snap
}

func (e *Engine) lookup(key models.QueueKey) *board {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.boards[key]
}

func (e *Engine) board(key models.QueueKey) *board {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.boards[key]
	if !ok {
		b = newBoard(key)
		e.boards[key] = b
		boardsActive.Set(float64(len(e.boards)))
	}
	return b
}

// hydratedBoard returns the key's board, restoring it from the loader on
// first use. The load runs before the board lock is taken. A failed load
// leaves nothing behind and the next access retries.
func (e *Engine) hydratedBoard(ctx context.Context, key models.QueueKey) (*board, error) {
	if b := e.lookup(key); b != nil && b.committed.Load() != nil {
		return b, nil
	}
	stored, found, err := e.load(ctx, key)
	if err != nil {
		return nil, err
	}
	b := e.board(key)
	b.mu.Lock()
	e.install(b, stored, found)
	b.mu.Unlock()
	return b, nil
}

func (e *Engine) load(ctx context.Context, key models.QueueKey) (models.QueueSnapshot, bool, error) {
	if e.loader == nil {
		return models.QueueSnapshot{}, false, nil
	}
	snap, found, err := e.loader.LoadSnapshot(ctx, key)
	if err != nil {
		e.log.Warn("queue hydrate failed", zap.String("key", key.String()), zap.Error(err))
		return models.QueueSnapshot{}, false, fmt.Errorf("hydrate %s: %w", key, err)
	}
	return snap, found, nil
}

// install makes the loaded state the board's first commit. b.mu must be held;
// when two first accesses race, the earlier install wins.
func (e *Engine) install(b *board, stored models.QueueSnapshot, found bool) {
	if b.hydrated {
		return
	}
	if found {
		b.restore(stored)
	}
	b.hydrated = true
	e.commit(b, e.now(), "hydrate", false)
}

// Evict drops the in-memory state of every key dated before the given day
// (YYYY-MM-DD) and returns the evicted keys. A key with a mutation in flight
// is left for the next call. A later access to an evicted key starts over
// from the loader.
func (e *Engine) Evict(before string) []models.QueueKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	var evicted []models.QueueKey
	for key, b := range e.boards {
		if key.Date >= before || !b.mu.TryLock() {
			continue
		}
		delete(e.boards, key)
		b.mu.Unlock()
		evicted = append(evicted, key)
	}
	boardsActive.Set(float64(len(e.boards)))
	return evicted
}
