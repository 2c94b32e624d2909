package suggest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/doctor-queue/internal/estimate"
	"qms/doctor-queue/internal/models"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func clock(hour, minute int) time.Time {
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func waiting(id string, token, position int, scheduled time.Time, tag string) models.QueueEntry {
	return models.QueueEntry{
		AppointmentID: id,
		TokenNumber:   token,
		Position:      position,
		ScheduledAt:   scheduled,
		Status:        models.EntryWaiting,
		PatientTag:    tag,
	}
}

func run(snap models.QueueSnapshot, now time.Time) []models.Suggestion {
	estimator := estimate.New(estimate.Config{})
	engine := New(Config{}, estimator)
	return engine.Suggest(snap, estimator.Compute(snap, now), now)
}

func overrunSnapshot() models.QueueSnapshot {
	started := clock(10, 0)
	return models.QueueSnapshot{
		Doctor: models.DoctorStatus{State: models.DoctorInConsult, ActiveAppointmentID: "a1"},
		Entries: []models.QueueEntry{
			{AppointmentID: "a1", TokenNumber: 1, Position: 1, ScheduledAt: clock(10, 0), Status: models.EntryInConsult, ConsultStartedAt: &started},
			waiting("a2", 2, 2, clock(10, 15), ""),
			waiting("a3", 3, 3, clock(10, 30), ""),
			waiting("a4", 4, 4, clock(10, 45), ""),
		},
	}
}

func TestPullNextAfterOverrun(t *testing.T) {
	suggestions := run(overrunSnapshot(), clock(10, 31))

	require.Len(t, suggestions, 1)
	s := suggestions[0]
	assert.Equal(t, models.SuggestionPullNext, s.Type)
	assert.Equal(t, "a2", s.TargetAppointmentID)
	assert.Equal(t, 2, s.TargetTokenNumber)
	assert.Equal(t, 2, s.SuggestedPosition)
	assert.Equal(t, 16, s.EstimatedMinutesSaved)
	assert.NotEmpty(t, s.Rationale)
}

func TestPullNextTargetsNextWaitingEntry(t *testing.T) {
	snap := overrunSnapshot()
	snap.Entries[1].ScheduledAt = clock(10, 25)
	snap.Entries[2].ScheduledAt = clock(10, 5)

	suggestions := run(snap, clock(10, 31))
	require.Len(t, suggestions, 1)
	s := suggestions[0]
	assert.Equal(t, "a2", s.TargetAppointmentID)
	assert.Equal(t, 2, s.SuggestedPosition)
	assert.Equal(t, 6, s.EstimatedMinutesSaved)
	assert.Contains(t, s.Rationale, "token #2 was due at 10:25")
}

func TestPullNextNeedsOverdueSlot(t *testing.T) {
	snap := overrunSnapshot()
	snap.Entries[1].ScheduledAt = clock(10, 40)
	snap.Entries[2].ScheduledAt = clock(10, 50)
	snap.Entries[3].ScheduledAt = clock(11, 0)

	assert.Empty(t, run(snap, clock(10, 31)))
}

func TestPullNextWithinExpectedDuration(t *testing.T) {
	assert.Empty(t, run(overrunSnapshot(), clock(10, 30)))
}

func TestMoveFollowUpBehindLateEntry(t *testing.T) {
	snap := models.QueueSnapshot{
		Doctor: models.DoctorStatus{State: models.DoctorInClinic},
		Entries: []models.QueueEntry{
			waiting("f", 1, 1, clock(10, 30), models.TagFollowUp),
			waiting("b", 2, 2, clock(9, 40), ""),
		},
	}

	suggestions := run(snap, clock(10, 0))
	require.Len(t, suggestions, 1)
	s := suggestions[0]
	assert.Equal(t, models.SuggestionMoveFollowUp, s.Type)
	assert.Equal(t, "f", s.TargetAppointmentID)
	assert.Equal(t, 2, s.SuggestedPosition)
	assert.Equal(t, 15, s.EstimatedMinutesSaved)
}

func TestMoveFollowUpNeedsTag(t *testing.T) {
	snap := models.QueueSnapshot{
		Doctor: models.DoctorStatus{State: models.DoctorInClinic},
		Entries: []models.QueueEntry{
			waiting("f", 1, 1, clock(10, 30), ""),
			waiting("b", 2, 2, clock(9, 40), ""),
		},
	}

	suggestions := run(snap, clock(10, 0))
	assert.NotNil(t, suggestions)
	assert.Empty(t, suggestions)
}

func TestMoveFollowUpTieGoesToLowestToken(t *testing.T) {
	snap := models.QueueSnapshot{
		Doctor: models.DoctorStatus{State: models.DoctorInClinic},
		Entries: []models.QueueEntry{
			waiting("f1", 3, 1, clock(12, 0), models.TagFollowUp),
			waiting("b1", 4, 2, clock(9, 0), ""),
			waiting("f2", 1, 3, clock(12, 0), models.TagFollowUp),
			waiting("b2", 2, 4, clock(9, 30), ""),
		},
	}

	suggestions := run(snap, clock(10, 0))
	require.Len(t, suggestions, 1)
	assert.Equal(t, "f2", suggestions[0].TargetAppointmentID)
	assert.Equal(t, 4, suggestions[0].SuggestedPosition)
	assert.Equal(t, 15, suggestions[0].EstimatedMinutesSaved)
}
