// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a named maintenance function run on a cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// Scheduler runs maintenance jobs on their cron schedules.
type Scheduler struct {
	jobs   []Job
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Scheduler for the given jobs.
func New(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs: jobs,
		cron: cron.New(cron.WithParser(cronParser)),
	}
}

// ValidateSchedule reports whether spec parses as a schedule.
func ValidateSchedule(spec string) error {
	_, err := cronParser.Parse(spec)
	return err
}

// Start registers every job with a valid schedule and starts the cron
// ticker. Jobs with an empty schedule are disabled; invalid schedules are
// logged and skipped. It returns the number of registered jobs.
func (s *Scheduler) Start(ctx context.Context) int {
	s.ctx, s.cancel = context.WithCancel(ctx)

	registered := 0
	for _, job := range s.jobs {
		if job.Schedule == "" {
			slog.Info("maintenance job disabled", "name", job.Name)
			continue
		}

		_, err := s.cron.AddFunc(job.Schedule, func() {
			slog.Debug("cron firing job", "name", job.Name)
			job.Run(s.ctx)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", job.Name, "schedule", job.Schedule, "error", err)
			continue
		}
		registered++
		slog.Info("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	s.cron.Start()
	return registered
}

// Stop stops the cron ticker, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}
