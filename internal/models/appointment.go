package models

import "time"

// Appointment is the booking-layer record consumed once at check-in.
type Appointment struct {
	AppointmentID string    `json:"appointment_id"`
	DoctorID      string    `json:"doctor_id"`
	SlotDate      string    `json:"slot_date"`
	SlotTime      time.Time `json:"slot_time"`
	PatientName   string    `json:"patient_name"`
	PatientTag    string    `json:"patient_tag,omitempty"`
}

func (a Appointment) Key() QueueKey {
	return QueueKey{DoctorID: a.DoctorID, Date: a.SlotDate}
}
