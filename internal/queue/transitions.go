package queue

import "qms/doctor-queue/internal/models"

// Keyed by target status; values are the statuses it may be entered from.
var entryTransitions = map[string][]string{
	models.EntryInConsult: {models.EntryWaiting},
	models.EntryCompleted: {models.EntryInConsult},
	models.EntryNoShow:    {models.EntryWaiting, models.EntryInConsult},
	models.EntryCancelled: {models.EntryWaiting},
}

// in_consult has no row: the doctor only enters it by starting a consultation.
var doctorTransitions = map[string][]string{
	models.DoctorInClinic:    {models.DoctorOnBreak, models.DoctorUnavailable},
	models.DoctorOnBreak:     {models.DoctorInClinic},
	models.DoctorUnavailable: {models.DoctorInClinic, models.DoctorInConsult, models.DoctorOnBreak},
}

func ValidEntryTransition(to, from string) bool {
	return allowed(entryTransitions, to, from)
}

func ValidDoctorTransition(to, from string) bool {
	return allowed(doctorTransitions, to, from)
}

// requestable reports whether a caller may ask for the doctor state at all.
func requestable(state string) bool {
	_, ok := doctorTransitions[state]
	return ok
}

func allowed(table map[string][]string, to, from string) bool {
	froms, ok := table[to]
	if !ok {
		return false
	}
	for _, status := range froms {
		if status == from {
			return true
		}
	}
	return false
}
