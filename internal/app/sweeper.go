/**
 * @description
 * Periodic maintenance job that flips the active flag of sessions past the inactivity
 * window. Correctness never depends on it: every session read already enforces the window.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Cron scheduler.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/transfa/ussd-service/internal/store"
)

type Sweeper struct {
	sessions store.SessionStore
	cron     *cron.Cron
	schedule string
	now      func() time.Time
}

func NewSweeper(sessions store.SessionStore, schedule string) *Sweeper {
	cronLogger := cron.PrintfLogger(log.Default())
	return &Sweeper{
		sessions: sessions,
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		schedule: schedule,
		now:      time.Now,
	}
}

// RunOnce expires every session idle past the window and returns how many were closed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	swept, err := s.sessions.SweepExpired(ctx, s.now())
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"sweep failed\" err=%v", err)
		return 0, err
	}
	if swept > 0 {
		log.Printf("level=info component=sweeper msg=\"expired sessions closed\" count=%d", swept)
	}
	return swept, nil
}

// Start registers the job and starts the scheduler.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return err
	}
	log.Printf("level=info component=sweeper msg=\"scheduled session sweep\" schedule=%q", s.schedule)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done when a running sweep finishes.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
