package store

import "errors"

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrAppointmentMismatch = errors.New("appointment does not belong to this queue")
	ErrJournalDisabled     = errors.New("queue journal not configured")
	ErrBrokenChain         = errors.New("queue event chain broken")
)
