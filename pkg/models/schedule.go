package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is the runtime row behind a schedule trigger. It carries the
// precomputed next execution time so the scanner can query due schedules
// without keeping per-trigger timers.
type Schedule struct {
	ID             string `json:"id"         validate:"required"`
	TriggerID      string `json:"trigger_id" validate:"required"`
	WorkflowID     string `json:"workflow_id"`
	CronExpression string `json:"cron_expression" validate:"required"`
	Timezone       string `json:"timezone,omitempty"`
	SkipWeekends   bool   `json:"skip_weekends"`
	SkipDates      []string `json:"skip_dates,omitempty"`
	AllowOverlap   bool   `json:"allow_overlap"`

	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// maxSkipAdvance bounds the eligible-day search so a schedule whose skip set
// covers every candidate day cannot loop forever.
const maxSkipAdvance = 366

func parseCron(expression string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	return parser.Parse(expression)
}

// NewSchedule builds the runtime schedule for a schedule trigger, with the
// first run time computed from now.
func NewSchedule(id string, trigger *Trigger) (*Schedule, error) {
	if trigger.Type != TriggerTypeSchedule || trigger.Schedule == nil {
		return nil, ErrInvalidSchedule
	}

	cfg := trigger.Schedule
	now := time.Now().UTC()

	schedule := &Schedule{
		ID:             id,
		TriggerID:      trigger.ID,
		WorkflowID:     trigger.WorkflowID,
		CronExpression: cfg.CronExpression,
		Timezone:       cfg.Timezone,
		SkipWeekends:   cfg.SkipWeekends,
		SkipDates:      cfg.SkipDates,
		AllowOverlap:   cfg.AllowOverlap,
		Active:         trigger.Active,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := schedule.computeNextRunAt(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// IsDue reports whether this schedule should fire at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextRunAt.After(now)
}

// MarkFired records the run and advances NextRunAt past the reference time.
func (s *Schedule) MarkFired(at time.Time) error {
	fired := at
	s.LastRunAt = &fired

	return s.computeNextRunAt(at)
}

// AdvanceNextRunAt recomputes NextRunAt from the current time. Used when a
// due tick is suppressed (overlap) so the same tick is not re-evaluated.
func (s *Schedule) AdvanceNextRunAt() error {
	return s.computeNextRunAt(time.Now().UTC())
}

func (s *Schedule) location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}

	return loc
}

// computeNextRunAt walks cron occurrences after the reference time until one
// lands on an eligible day (weekend/holiday skip applied).
func (s *Schedule) computeNextRunAt(reference time.Time) error {
	cronSchedule, err := parseCron(s.CronExpression)
	if err != nil {
		return err
	}

	loc := s.location()
	next := cronSchedule.Next(reference.In(loc))

	for range maxSkipAdvance {
		if s.eligibleDay(next) {
			s.NextRunAt = next.UTC()
			s.UpdatedAt = time.Now().UTC()

			return nil
		}

		// Advance to the next occurrence after the skipped day ends.
		dayEnd := time.Date(next.Year(), next.Month(), next.Day(), 23, 59, 59, 0, loc)
		next = cronSchedule.Next(dayEnd)
	}

	return ErrInvalidSchedule
}

func (s *Schedule) eligibleDay(t time.Time) bool {
	if s.SkipWeekends {
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}

	day := t.Format("2006-01-02")
	for _, skip := range s.SkipDates {
		if skip == day {
			return false
		}
	}

	return true
}

// MissedRun records a due tick that was suppressed because the trigger's
// prior execution was still running and overlap is disallowed.
type MissedRun struct {
	ID          string    `json:"id"`
	ScheduleID  string    `json:"schedule_id"`
	TriggerID   string    `json:"trigger_id"`
	WorkflowID  string    `json:"workflow_id"`
	DueAt       time.Time `json:"due_at"`
	RecordedAt  time.Time `json:"recorded_at"`
	BlockedByID string    `json:"blocked_by_id"` // Execution still running at the tick
}
