package queue

import (
	"time"

	"qms/doctor-queue/internal/models"
)

// expireBreak ends a break whose deadline has passed. Expiry is evaluated
// lazily on access; there is no timer behind it.
func expireBreak(status *models.DoctorStatus, now time.Time) bool {
	if status.State != models.DoctorOnBreak || status.BreakEndsAt == nil {
		return false
	}
	if now.Before(*status.BreakEndsAt) {
		return false
	}
	status.UpdatedAt = *status.BreakEndsAt
	status.State = models.DoctorInClinic
	status.BreakEndsAt = nil
	if status.ActiveAppointmentID != "" {
		status.State = models.DoctorInConsult
	}
	return true
}

// applyDoctorStatus performs an explicit, caller-requested transition.
// Repeating the current state is a no-op, except for breaks, which cannot be
// re-entered while one is running. in_consult is never a valid request, even
// while a consultation runs.
func applyDoctorStatus(status *models.DoctorStatus, target string, breakFor time.Duration, now time.Time) (bool, error) {
	if !requestable(target) {
		return false, ErrInvalidStatusTransition
	}
	expireBreak(status, now)
	if target == status.State && target != models.DoctorOnBreak {
		return false, nil
	}
	if !ValidDoctorTransition(target, status.State) {
		return false, ErrInvalidStatusTransition
	}

	switch target {
	case models.DoctorOnBreak:
		if breakFor <= 0 {
			return false, ErrInvalidStatusTransition
		}
		ends := now.Add(breakFor)
		status.BreakEndsAt = &ends
	default:
		status.BreakEndsAt = nil
	}
	status.State = target
	// Resuming while a consultation is still open mirrors it again.
	if target == models.DoctorInClinic && status.ActiveAppointmentID != "" {
		status.State = models.DoctorInConsult
	}
	status.UpdatedAt = now
	return true, nil
}

func enterConsult(status *models.DoctorStatus, appointmentID string, now time.Time) {
	status.State = models.DoctorInConsult
	status.ActiveAppointmentID = appointmentID
	status.BreakEndsAt = nil
	status.UpdatedAt = now
}

// leaveConsult clears the active consultation and returns the doctor to the
// clinic, including one who went unavailable mid-consultation.
func leaveConsult(status *models.DoctorStatus, now time.Time) {
	status.ActiveAppointmentID = ""
	status.State = models.DoctorInClinic
	status.BreakEndsAt = nil
	status.UpdatedAt = now
}
