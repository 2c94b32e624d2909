// Package estimate projects start times and delays for the waiting patients
// of one doctor's queue.
//
// Every function here is pure: it reads a committed snapshot and returns
// derived values the caller owns. Consult length is the configured default
// until the doctor has completed consultations that day, after which it is an
// exponential moving average over the most recent ones.
package estimate

import (
	"sort"
	"time"

	"qms/doctor-queue/internal/models"
)

type Config struct {
	DefaultDuration  time.Duration
	FollowUpDuration time.Duration
	Alpha            float64
	Window           int
	DelayThreshold   time.Duration
}

func (c Config) normalize() Config {
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = 15 * time.Minute
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		c.Alpha = 0.3
	}
	if c.Window <= 0 {
		c.Window = 5
	}
	if c.DelayThreshold <= 0 {
		c.DelayThreshold = 15 * time.Minute
	}
	return c
}

type Result struct {
	Average time.Duration
	StartAt time.Time
	Records []models.DelayRecord
}

// Delayed returns the records whose delay is beyond the threshold.
func (r Result) Delayed() []models.DelayRecord {
	var out []models.DelayRecord
	for _, record := range r.Records {
		if record.Delayed {
			out = append(out, record)
		}
	}
	return out
}

func (r Result) ByAppointment() map[string]models.DelayRecord {
	out := make(map[string]models.DelayRecord, len(r.Records))
	for _, record := range r.Records {
		out[record.AppointmentID] = record
	}
	return out
}

type Estimator struct {
	cfg Config
}

func New(cfg Config) *Estimator {
	return &Estimator{cfg: cfg.normalize()}
}

func (e *Estimator) Config() Config {
	return e.cfg
}

// Compute runs the projection over the snapshot's waiting entries.
func (e *Estimator) Compute(snapshot models.QueueSnapshot, now time.Time) Result {
	avg := e.AverageDuration(CompletedDurations(snapshot))
	start := e.StartAt(snapshot, now, avg)
	return Result{
		Average: avg,
		StartAt: start,
		Records: e.Project(Waiting(snapshot), start, avg),
	}
}

// AverageDuration is the moving average of the last Window durations, oldest
// first, or the default when nothing has been observed yet.
func (e *Estimator) AverageDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return e.cfg.DefaultDuration
	}
	if len(durations) > e.cfg.Window {
		durations = durations[len(durations)-e.cfg.Window:]
	}
	avg := float64(durations[0])
	for _, d := range durations[1:] {
		avg = e.cfg.Alpha*float64(d) + (1-e.cfg.Alpha)*avg
	}
	return time.Duration(avg)
}

// DurationFor is the expected consult length of one entry.
func (e *Estimator) DurationFor(entry models.QueueEntry, avg time.Duration) time.Duration {
	if entry.FollowUp() && e.cfg.FollowUpDuration > 0 {
		return e.cfg.FollowUpDuration
	}
	return avg
}

// StartAt is when the first waiting patient can expect to be seen: not
// before now, the expected end of the running consultation, or the end of
// the doctor's break.
func (e *Estimator) StartAt(snapshot models.QueueSnapshot, now time.Time, avg time.Duration) time.Time {
	start := now
	if active, ok := snapshot.InConsult(); ok && active.ConsultStartedAt != nil {
		end := active.ConsultStartedAt.Add(e.DurationFor(active, avg))
		if end.After(start) {
			start = end
		}
	}
	if snapshot.Doctor.State == models.DoctorOnBreak && snapshot.Doctor.BreakEndsAt != nil {
		if snapshot.Doctor.BreakEndsAt.After(start) {
			start = *snapshot.Doctor.BreakEndsAt
		}
	}
	return start
}

// Project walks entries in the given order accumulating expected durations.
func (e *Estimator) Project(order []models.QueueEntry, start time.Time, avg time.Duration) []models.DelayRecord {
	records := make([]models.DelayRecord, 0, len(order))
	running := start
	for _, entry := range order {
		delay := DelayMinutes(running, entry.ScheduledAt)
		records = append(records, models.DelayRecord{
			AppointmentID:  entry.AppointmentID,
			TokenNumber:    entry.TokenNumber,
			Position:       entry.Position,
			EstimatedStart: running,
			DelayMinutes:   delay,
			Delayed:        time.Duration(delay)*time.Minute > e.cfg.DelayThreshold,
		})
		running = running.Add(e.DurationFor(entry, avg))
	}
	return records
}

func DelayMinutes(estimatedStart, scheduledAt time.Time) int {
	if scheduledAt.IsZero() || !estimatedStart.After(scheduledAt) {
		return 0
	}
	return int(estimatedStart.Sub(scheduledAt) / time.Minute)
}

func TotalDelay(records []models.DelayRecord) int {
	total := 0
	for _, record := range records {
		total += record.DelayMinutes
	}
	return total
}

// Waiting returns the waiting entries in position order.
func Waiting(snapshot models.QueueSnapshot) []models.QueueEntry {
	var waiting []models.QueueEntry
	for _, entry := range snapshot.Entries {
		if entry.Status == models.EntryWaiting {
			waiting = append(waiting, entry)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		return waiting[i].Position < waiting[j].Position
	})
	return waiting
}

// CompletedDurations returns the observed consult lengths, in the order the
// consultations ended.
func CompletedDurations(snapshot models.QueueSnapshot) []time.Duration {
	type observed struct {
		end time.Time
		d   time.Duration
	}
	var items []observed
	for _, entry := range snapshot.Entries {
		if entry.Status != models.EntryCompleted || entry.ConsultStartedAt == nil || entry.ConsultEndedAt == nil {
			continue
		}
		d := entry.ConsultEndedAt.Sub(*entry.ConsultStartedAt)
		if d <= 0 {
			continue
		}
		items = append(items, observed{end: *entry.ConsultEndedAt, d: d})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].end.Before(items[j].end)
	})
	durations := make([]time.Duration, 0, len(items))
	for _, item := range items {
		durations = append(durations, item.d)
	}
	return durations
}
