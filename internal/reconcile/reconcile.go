// Package reconcile periodically flips lapsed seat posts and announcements
// to their inactive stored state. Reads never depend on it having run.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Expirer is the part of the store the sweep needs.
type Expirer interface {
	ExpireSeatPosts(ctx context.Context, now time.Time) (int, error)
	ExpireAnnouncements(ctx context.Context, now time.Time) (int, error)
}

// Scheduler runs the sweep on a cron schedule.
type Scheduler struct {
	store  Expirer
	cron   *cron.Cron
	logger *log.Logger

	// Now is the clock the sweep compares end times against.
	Now func() time.Time
}

// New creates a scheduler running on schedule, e.g. "@every 5m" or "*/5 * * * *".
func New(st Expirer, schedule string, logger *log.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = log.Default()
	}
	s := &Scheduler{
		store:  st,
		logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
		)),
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Printf("reconcile: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Println("reconcile: scheduler started")
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
		s.logger.Println("reconcile: scheduler stopped")
	}()
}

// Sweep expires everything that lapsed before now and reports the counts.
func (s *Scheduler) Sweep(ctx context.Context) (posts, announcements int, err error) {
	now := s.Now()
	if posts, err = s.store.ExpireSeatPosts(ctx, now); err != nil {
		return 0, 0, fmt.Errorf("expire seat posts: %w", err)
	}
	if announcements, err = s.store.ExpireAnnouncements(ctx, now); err != nil {
		return posts, 0, fmt.Errorf("expire announcements: %w", err)
	}
	if posts > 0 || announcements > 0 {
		s.logger.Printf("reconcile: expired %d seat posts, %d announcements", posts, announcements)
	}
	return posts, announcements, nil
}
