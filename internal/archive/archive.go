// Package archive runs the periodic sweep that archives idle completed
// interview sessions.
package archive

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper archives sessions idle for longer than after.
type Sweeper interface {
	ArchiveIdle(ctx context.Context, after time.Duration) (int, error)
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	Sweeper  Sweeper
	Schedule string        // 5-field cron expression
	After    time.Duration // idle time before a completed session is archived

	// For testing.
	Now func() time.Time
}

// Scheduler fires the archive sweep on a cron schedule.
type Scheduler struct {
	sweeper  Sweeper
	schedule cron.Schedule
	after    time.Duration
	now      func() time.Time
}

// New creates a Scheduler.
func New(opts SchedulerOpts) (*Scheduler, error) {
	if opts.Sweeper == nil {
		return nil, fmt.Errorf("archive: sweeper is required")
	}
	if opts.After <= 0 {
		return nil, fmt.Errorf("archive: idle duration must be positive")
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("archive: parse schedule %q: %w", opts.Schedule, err)
	}
	s := &Scheduler{
		sweeper:  opts.Sweeper,
		schedule: sched,
		after:    opts.After,
		now:      opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Next returns the first fire time after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// NextDuration returns the wait until the next fire time.
func (s *Scheduler) NextDuration() time.Duration {
	now := s.now()
	d := s.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RunOnce performs a single sweep.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	n, err := s.sweeper.ArchiveIdle(ctx, s.after)
	if err != nil {
		return n, fmt.Errorf("archive: sweep: %w", err)
	}
	return n, nil
}

// Run sweeps on schedule until ctx is cancelled. Sweep failures are logged
// and the next fire time is kept.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(s.NextDuration())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			n, err := s.RunOnce(ctx)
			switch {
			case err != nil:
				log.Printf("%v", err)
			case n > 0:
				log.Printf("archive: archived %d idle sessions", n)
			}
			timer.Reset(s.NextDuration())
		}
	}
}
