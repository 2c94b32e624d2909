package queue

import (
	"context"
	"errors"
	"time"

	"qms/doctor-queue/internal/models"
)

// Start begins the consultation of a waiting entry. At most one entry per key
// is ever in consultation; of two concurrent starts exactly one succeeds.
func (e *Engine) Start(ctx context.Context, key models.QueueKey, appointmentID string) (models.QueueEntry, error) {
	var started models.QueueEntry
	_, err := e.mutate(ctx, key, "start", func(b *board, now time.Time) (bool, error) {
		switch b.doctor.State {
		case models.DoctorOnBreak, models.DoctorUnavailable:
			return false, ErrDoctorUnavailable
		case models.DoctorInConsult:
			return false, ErrQueueConflict
		}
		idx, err := b.activeIndex(appointmentID)
		if err != nil {
			return false, err
		}
		if b.inConsultIndex() >= 0 {
			return false, ErrQueueConflict
		}
		if !ValidEntryTransition(models.EntryInConsult, b.active[idx].Status) {
			return false, ErrInvalidStatusTransition
		}
		started = b.startConsult(idx, now)
		enterConsult(&b.doctor, appointmentID, now)
		return true, nil
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	return started, nil
}

// Complete ends the running consultation, as completed or as a no-show, and
// returns the doctor to the clinic.
func (e *Engine) Complete(ctx context.Context, key models.QueueKey, appointmentID string, noShow bool) (models.QueueEntry, error) {
	outcome := models.EntryCompleted
	op := "complete"
	if noShow {
		outcome = models.EntryNoShow
		op = "complete_no_show"
	}
	var closed models.QueueEntry
	_, err := e.mutate(ctx, key, op, func(b *board, now time.Time) (bool, error) {
		idx, err := b.activeIndex(appointmentID)
		switch {
		case errors.Is(err, ErrEntryTerminal):
			return false, ErrNotActiveConsultation
		case err != nil:
			return false, err
		}
		if b.active[idx].Status != models.EntryInConsult || b.doctor.ActiveAppointmentID != appointmentID {
			return false, ErrNotActiveConsultation
		}
		closed, err = b.markTerminal(appointmentID, outcome, now)
		if err != nil {
			return false, err
		}
		leaveConsult(&b.doctor, now)
		return true, nil
	})
	if err != nil {
		return models.QueueEntry{}, err
	}
	return closed, nil
}
