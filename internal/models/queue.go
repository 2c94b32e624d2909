package models

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// QueueKey partitions all queue state: one doctor, one calendar day.
type QueueKey struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
}

func NewQueueKey(doctorID string, day time.Time) QueueKey {
	return QueueKey{DoctorID: doctorID, Date: day.Format(DateLayout)}
}

func (k QueueKey) String() string {
	return fmt.Sprintf("%s/%s", k.DoctorID, k.Date)
}

type QueueEntry struct {
	AppointmentID    string     `json:"appointment_id"`
	TokenNumber      int        `json:"token_number"`
	Position         int        `json:"position"`
	PatientName      string     `json:"patient_name"`
	PatientTag       string     `json:"patient_tag,omitempty"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	Status           string     `json:"status"`
	CheckInAt        time.Time  `json:"check_in_at"`
	ConsultStartedAt *time.Time `json:"consult_started_at,omitempty"`
	ConsultEndedAt   *time.Time `json:"consult_ended_at,omitempty"`
}

const (
	EntryWaiting   = "waiting"
	EntryInConsult = "in_consult"
	EntryCompleted = "completed"
	EntryNoShow    = "no_show"
	EntryCancelled = "cancelled"
)

const TagFollowUp = "follow-up"

func (e QueueEntry) Terminal() bool {
	return IsTerminal(e.Status)
}

func (e QueueEntry) FollowUp() bool {
	return e.PatientTag == TagFollowUp
}

func IsTerminal(status string) bool {
	switch status {
	case EntryCompleted, EntryNoShow, EntryCancelled:
		return true
	default:
		return false
	}
}

type DoctorStatus struct {
	State               string     `json:"state"`
	BreakEndsAt         *time.Time `json:"break_ends_at,omitempty"`
	ActiveAppointmentID string     `json:"active_appointment_id,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

const (
	DoctorInClinic    = "in_clinic"
	DoctorInConsult   = "in_consult"
	DoctorOnBreak     = "on_break"
	DoctorUnavailable = "unavailable"
)

type Suggestion struct {
	Type                  string `json:"type"`
	TargetAppointmentID   string `json:"target_appointment_id"`
	TargetTokenNumber     int    `json:"target_token_number"`
	SuggestedPosition     int    `json:"suggested_position"`
	Rationale             string `json:"rationale"`
	EstimatedMinutesSaved int    `json:"estimated_minutes_saved"`
}

const (
	SuggestionPullNext     = "pull_next"
	SuggestionMoveFollowUp = "move_followup"
)

type DelayRecord struct {
	AppointmentID  string    `json:"appointment_id"`
	TokenNumber    int       `json:"token_number"`
	Position       int       `json:"position"`
	EstimatedStart time.Time `json:"estimated_start"`
	DelayMinutes   int       `json:"delay_minutes"`
	Delayed        bool      `json:"delayed"`
}

// QueueSnapshot is an immutable copy of one key's committed state. Active
// entries come first in position order, terminal entries follow in the
// order they left the queue.
type QueueSnapshot struct {
	Key                   QueueKey      `json:"key"`
	Version               uint64        `json:"version"`
	Doctor                DoctorStatus  `json:"doctor"`
	Entries               []QueueEntry  `json:"entries"`
	Suggestions           []Suggestion  `json:"suggestions"`
	Delays                []DelayRecord `json:"delays"`
	AverageConsultMinutes float64       `json:"average_consult_minutes"`
	CommittedAt           time.Time     `json:"committed_at"`
}

func (s QueueSnapshot) Active() []QueueEntry {
	active := make([]QueueEntry, 0, len(s.Entries))
	for _, entry := range s.Entries {
		if !entry.Terminal() {
			active = append(active, entry)
		}
	}
	return active
}

func (s QueueSnapshot) Find(appointmentID string) (QueueEntry, bool) {
	// An appointment checked in again after a terminal outcome appears twice;
	// the active entry wins, then the most recent terminal one.
	for _, entry := range s.Entries {
		if entry.AppointmentID == appointmentID && !entry.Terminal() {
			return entry, true
		}
	}
	for i := len(s.Entries) - 1; i >= 0; i-- {
		if s.Entries[i].AppointmentID == appointmentID {
			return s.Entries[i], true
		}
	}
	return QueueEntry{}, false
}

// InConsult returns the entry currently in consultation, if any.
func (s QueueSnapshot) InConsult() (QueueEntry, bool) {
	for _, entry := range s.Entries {
		if entry.Status == EntryInConsult {
			return entry, true
		}
	}
	return QueueEntry{}, false
}

// Clone deep-copies the snapshot so callers may not alias engine state.
func (s QueueSnapshot) Clone() QueueSnapshot {
	out := s
	out.Doctor.BreakEndsAt = cloneTime(s.Doctor.BreakEndsAt)
	out.Entries = make([]QueueEntry, len(s.Entries))
	for i, entry := range s.Entries {
		entry.ConsultStartedAt = cloneTime(entry.ConsultStartedAt)
		entry.ConsultEndedAt = cloneTime(entry.ConsultEndedAt)
		out.Entries[i] = entry
	}
	out.Suggestions = append(make([]Suggestion, 0, len(s.Suggestions)), s.Suggestions...)
	out.Delays = append(make([]DelayRecord, 0, len(s.Delays)), s.Delays...)
	return out
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
