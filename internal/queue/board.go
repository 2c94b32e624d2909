package queue

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"qms/doctor-queue/internal/models"
)

// board is the queue store for one key. Every method except committedSnapshot
// must be called with mu held; committed is swapped atomically so readers
// never take the lock.
type board struct {
	mu        sync.Mutex
	key       models.QueueKey
	hydrated  bool
	active    []models.QueueEntry
	closed    []models.QueueEntry
	lastToken int
	version   uint64
	doctor    models.DoctorStatus
	committed atomic.Pointer[models.QueueSnapshot]
}

func newBoard(key models.QueueKey) *board {
	return &board{
		key:    key,
		doctor: models.DoctorStatus{State: models.DoctorInClinic},
	}
}

func (b *board) committedSnapshot() (models.QueueSnapshot, bool) {
	snap := b.committed.Load()
	if snap == nil {
		return models.QueueSnapshot{}, false
	}
	return snap.Clone(), true
}

// activeIndex resolves an appointment to its slot in the active list.
func (b *board) activeIndex(appointmentID string) (int, error) {
	for i, entry := range b.active {
		if entry.AppointmentID == appointmentID {
			return i, nil
		}
	}
	for _, entry := range b.closed {
		if entry.AppointmentID == appointmentID {
			return -1, ErrEntryTerminal
		}
	}
	return -1, ErrEntryNotFound
}

func (b *board) inConsultIndex() int {
	for i, entry := range b.active {
		if entry.Status == models.EntryInConsult {
			return i
		}
	}
	return -1
}

// firstWaitingPosition is the lowest position a waiting entry may occupy;
// the entry in consultation holds position 1.
func (b *board) firstWaitingPosition() int {
	if len(b.active) > 0 && b.active[0].Status == models.EntryInConsult {
		return 2
	}
	return 1
}

func (b *board) enqueue(appt models.Appointment, now time.Time) (models.QueueEntry, error) {
	if _, err := b.activeIndex(appt.AppointmentID); err == nil {
		return models.QueueEntry{}, ErrDuplicateAppointment
	}
	b.lastToken++
	entry := models.QueueEntry{
		AppointmentID: appt.AppointmentID,
		TokenNumber:   b.lastToken,
		Position:      len(b.active) + 1,
		PatientName:   appt.PatientName,
		PatientTag:    appt.PatientTag,
		ScheduledAt:   appt.SlotTime,
		Status:        models.EntryWaiting,
		CheckInAt:     now,
	}
	b.active = append(b.active, entry)
	return entry, nil
}

// move reports false when the entry already sits at the resolved position.
func (b *board) move(appointmentID string, newPosition int) (bool, error) {
	idx, err := b.activeIndex(appointmentID)
	if err != nil {
		return false, err
	}
	if newPosition < 1 || newPosition > len(b.active) {
		return false, ErrInvalidPosition
	}
	target := newPosition
	if floor := b.firstWaitingPosition(); target < floor {
		target = floor
	}
	if b.active[idx].Status == models.EntryInConsult {
		target = idx + 1
	}
	if target == idx+1 {
		return false, nil
	}
	entry := b.active[idx]
	b.active = slices.Delete(b.active, idx, idx+1)
	b.active = slices.Insert(b.active, target-1, entry)
	b.renumber()
	return true, nil
}

func (b *board) startConsult(idx int, now time.Time) models.QueueEntry {
	entry := b.active[idx]
	started := now
	entry.Status = models.EntryInConsult
	entry.ConsultStartedAt = &started
	b.active = slices.Delete(b.active, idx, idx+1)
	b.active = slices.Insert(b.active, 0, entry)
	b.renumber()
	return b.active[0]
}

// markTerminal freezes the entry at its current position and closes the gap
// it leaves in the active order.
func (b *board) markTerminal(appointmentID, outcome string, now time.Time) (models.QueueEntry, error) {
	if !models.IsTerminal(outcome) {
		return models.QueueEntry{}, ErrInvalidStatusTransition
	}
	idx, err := b.activeIndex(appointmentID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	entry := b.active[idx]
	if !ValidEntryTransition(outcome, entry.Status) {
		return models.QueueEntry{}, ErrQueueConflict
	}
	if entry.Status == models.EntryInConsult {
		ended := now
		entry.ConsultEndedAt = &ended
	}
	entry.Status = outcome
	b.active = slices.Delete(b.active, idx, idx+1)
	b.closed = append(b.closed, entry)
	b.renumber()
	return entry, nil
}

func (b *board) renumber() {
	for i := range b.active {
		b.active[i].Position = i + 1
	}
}

func (b *board) snapshot(now time.Time) models.QueueSnapshot {
	entries := make([]models.QueueEntry, 0, len(b.active)+len(b.closed))
	entries = append(entries, b.active...)
	entries = append(entries, b.closed...)
	snap := models.QueueSnapshot{
		Key:         b.key,
		Version:     b.version,
		Doctor:      b.doctor,
		Entries:     entries,
		CommittedAt: now,
	}
	return snap.Clone()
}

// restore loads a previously committed snapshot into an empty board.
func (b *board) restore(snap models.QueueSnapshot) {
	snap = snap.Clone()
	b.active = b.active[:0]
	b.closed = b.closed[:0]
	for _, entry := range snap.Entries {
		if entry.TokenNumber > b.lastToken {
			b.lastToken = entry.TokenNumber
		}
		if entry.Terminal() {
			b.closed = append(b.closed, entry)
			continue
		}
		b.active = append(b.active, entry)
	}
	slices.SortStableFunc(b.active, func(x, y models.QueueEntry) int {
		return x.Position - y.Position
	})
	b.renumber()
	b.version = snap.Version
	b.doctor = snap.Doctor
	if b.doctor.State == "" {
		b.doctor.State = models.DoctorInClinic
	}
}
