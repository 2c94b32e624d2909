package queue

import "errors"

var (
	ErrDoctorUnavailable       = errors.New("doctor unavailable")
	ErrQueueConflict           = errors.New("queue conflict")
	ErrNotActiveConsultation   = errors.New("not the active consultation")
	ErrInvalidPosition         = errors.New("invalid position")
	ErrEntryNotFound           = errors.New("entry not found")
	ErrEntryTerminal           = errors.New("entry is terminal")
	ErrDuplicateAppointment    = errors.New("duplicate appointment")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrStaleQueueVersion       = errors.New("stale queue version")
)
