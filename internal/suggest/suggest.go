// Package suggest proposes reorderings of a doctor's queue from a committed
// snapshot and its delay projection. At most one suggestion of each type is
// returned: the highest-impact candidate, ties going to the lowest token.
package suggest

import (
	"fmt"
	"time"

	"qms/doctor-queue/internal/estimate"
	"qms/doctor-queue/internal/models"
)

type Config struct {
	PullNextFactor float64
	MaterialDelay  time.Duration
}

type Engine struct {
	cfg       Config
	estimator *estimate.Estimator
}

func New(cfg Config, estimator *estimate.Estimator) *Engine {
	if cfg.PullNextFactor <= 0 {
		cfg.PullNextFactor = 2
	}
	if cfg.MaterialDelay <= 0 {
		cfg.MaterialDelay = 10 * time.Minute
	}
	return &Engine{cfg: cfg, estimator: estimator}
}

func (e *Engine) Suggest(snapshot models.QueueSnapshot, result estimate.Result, now time.Time) []models.Suggestion {
	suggestions := []models.Suggestion{}
	if s, ok := e.pullNext(snapshot, result, now); ok {
		suggestions = append(suggestions, s)
	}
	if s, ok := e.moveFollowUp(snapshot, result); ok {
		suggestions = append(suggestions, s)
	}
	return suggestions
}

func (e *Engine) pullNext(snapshot models.QueueSnapshot, result estimate.Result, now time.Time) (models.Suggestion, bool) {
	active, ok := snapshot.InConsult()
	if !ok || active.ConsultStartedAt == nil {
		return models.Suggestion{}, false
	}
	expected := e.estimator.DurationFor(active, result.Average)
	limit := time.Duration(float64(expected) * e.cfg.PullNextFactor)
	elapsed := now.Sub(*active.ConsultStartedAt)
	if elapsed <= limit {
		return models.Suggestion{}, false
	}

	waiting := estimate.Waiting(snapshot)
	overdue, ok := firstOverdue(waiting, now)
	if !ok {
		return models.Suggestion{}, false
	}
	next := waiting[0]
	saved := result.ByAppointment()[next.AppointmentID].DelayMinutes

	return models.Suggestion{
		Type:                models.SuggestionPullNext,
		TargetAppointmentID: next.AppointmentID,
		TargetTokenNumber:   next.TokenNumber,
		SuggestedPosition:   next.Position,
		Rationale: fmt.Sprintf("token #%d has been in consultation for %d min (expected %d); token #%d was due at %s, call token #%d next",
			active.TokenNumber, int(elapsed/time.Minute), int(expected/time.Minute), overdue.TokenNumber, overdue.ScheduledAt.Format("15:04"), next.TokenNumber),
		EstimatedMinutesSaved: saved,
	}, true
}

// firstOverdue is the first waiting entry, in position order, whose slot has
// already passed.
func firstOverdue(waiting []models.QueueEntry, now time.Time) (models.QueueEntry, bool) {
	for _, entry := range waiting {
		if !entry.ScheduledAt.IsZero() && !entry.ScheduledAt.After(now) {
			return entry, true
		}
	}
	return models.QueueEntry{}, false
}

func (e *Engine) moveFollowUp(snapshot models.QueueSnapshot, result estimate.Result) (models.Suggestion, bool) {
	waiting := estimate.Waiting(snapshot)
	if len(waiting) < 2 || len(result.Records) != len(waiting) {
		return models.Suggestion{}, false
	}
	baseline := estimate.TotalDelay(result.Records)
	material := int(e.cfg.MaterialDelay / time.Minute)

	var best models.Suggestion
	found := false
	for i, entry := range waiting {
		if !entry.FollowUp() {
			continue
		}
		for j := i + 1; j < len(waiting); j++ {
			if result.Records[j].DelayMinutes-result.Records[i].DelayMinutes < material {
				continue
			}
			swapped := append([]models.QueueEntry(nil), waiting...)
			swapped[i], swapped[j] = swapped[j], swapped[i]
			saved := baseline - estimate.TotalDelay(e.estimator.Project(swapped, result.StartAt, result.Average))
			if saved <= 0 {
				continue
			}
			candidate := models.Suggestion{
				Type:                models.SuggestionMoveFollowUp,
				TargetAppointmentID: entry.AppointmentID,
				TargetTokenNumber:   entry.TokenNumber,
				SuggestedPosition:   waiting[j].Position,
				Rationale: fmt.Sprintf("follow-up token #%d can swap with token #%d (%d min late) to cut total delay by %d min",
					entry.TokenNumber, waiting[j].TokenNumber, result.Records[j].DelayMinutes, saved),
				EstimatedMinutesSaved: saved,
			}
			if !found || saved > best.EstimatedMinutesSaved ||
				(saved == best.EstimatedMinutesSaved && entry.TokenNumber < best.TargetTokenNumber) {
				best = candidate
				found = true
			}
			break
		}
	}
	return best, found
}
