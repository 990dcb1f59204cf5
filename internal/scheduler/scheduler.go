package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a unit of background work run on a cron schedule
type Job func(ctx context.Context) error

// Scheduler runs jobs on cron schedules and logs their outcome
type Scheduler struct {
	cron       *cron.Cron
	log        *logrus.Logger
	jobTimeout time.Duration
}

func New(log *logrus.Logger, jobTimeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		log:        log,
		jobTimeout: jobTimeout,
	}
}

// Add registers job under name. spec accepts standard five-field expressions and descriptors like @hourly.
func (s *Scheduler) Add(spec, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.log.Errorf("Job %s failed: %v", name, err)
			return
		}
		s.log.Infof("Job %s finished in %s", name, time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs or ctx, whichever ends first
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler stopped before running jobs finished")
	}
}
