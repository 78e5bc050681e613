package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const reminderRunTimeout = 5 * time.Minute

// ReminderJob sends the deadline reminders due at now.
type ReminderJob interface {
	SendReminders(ctx context.Context, now time.Time) (sent, failed int, err error)
}

// ReminderScheduler runs the reminder job on a cron schedule in the
// configured time zone.
type ReminderScheduler struct {
	cron *cron.Cron
	job  ReminderJob
	log  zerolog.Logger
}

// NewReminderScheduler parses spec (standard five-field cron) and registers
// the job. It does not start the scheduler.
func NewReminderScheduler(job ReminderJob, spec string, loc *time.Location, log zerolog.Logger) (*ReminderScheduler, error) {
	s := &ReminderScheduler{
		cron: cron.New(cron.WithLocation(loc)),
		job:  job,
		log:  log.With().Str("component", "reminder_scheduler").Logger(),
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, err
	}
	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *ReminderScheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.log.Info().Time("next_run", e.Next).Msg("Reminder scheduler started")
	}
}

// Stop stops scheduling and waits for a running job, bounded by ctx.
func (s *ReminderScheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes the reminder job immediately.
func (s *ReminderScheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, reminderRunTimeout)
	defer cancel()

	s.log.Info().Msg("Deadline check started")
	sent, failed, err := s.job.SendReminders(ctx, time.Now())
	if err != nil {
		s.log.Error().Err(err).Msg("Deadline check failed")
		return
	}
	s.log.Info().Int("sent", sent).Int("errors", failed).Msg("Deadline check finished")
}
