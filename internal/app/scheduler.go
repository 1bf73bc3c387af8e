package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"wprecur/internal/config"
	logx "wprecur/pkg/logx"
)

// scheduler fires job on a cron spec. Rescheduling swaps the underlying
// cron so a timezone change takes effect too.
type scheduler struct {
	job func()
	log logx.Logger

	mu   sync.Mutex
	c    *cron.Cron
	id   cron.EntryID
	spec string
	tz   string
}

func newScheduler(spec, tz string, job func(), log logx.Logger) (*scheduler, error) {
	s := &scheduler{job: job, log: log}
	c, id, err := s.cron(spec, tz)
	if err != nil {
		return nil, err
	}
	s.c, s.id, s.spec, s.tz = c, id, spec, tz
	return s, nil
}

func (s *scheduler) cron(spec, tz string) (*cron.Cron, cron.EntryID, error) {
	loc, err := location(tz)
	if err != nil {
		return nil, 0, fmt.Errorf("schedule.timezone: %w", err)
	}
	c := cron.New(cron.WithParser(config.CronParser), cron.WithLocation(loc))
	id, err := c.AddJob(strings.TrimSpace(spec), cron.FuncJob(s.job))
	if err != nil {
		return nil, 0, fmt.Errorf("schedule.spec: %w", err)
	}
	return c, id, nil
}

func (s *scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Start()
	s.log.Info("scheduler started", logx.String("spec", s.spec), logx.Time("next", s.c.Entry(s.id).Next))
}

// Reschedule is a no-op when neither spec nor timezone changed.
func (s *scheduler) Reschedule(spec, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec && tz == s.tz {
		return nil
	}
	c, id, err := s.cron(spec, tz)
	if err != nil {
		return err
	}
	// A job already running on the old cron finishes on its own.
	s.c.Stop()
	s.c, s.id, s.spec, s.tz = c, id, spec, tz
	s.c.Start()
	s.log.Info("scheduler rescheduled", logx.String("spec", spec), logx.String("timezone", tz), logx.Time("next", s.c.Entry(id).Next))
	return nil
}

// Next is the next fire time; zero before Start.
func (s *scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c.Entry(s.id).Next
}

// Stop waits up to timeout for a running job.
func (s *scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	select {
	case <-c.Stop().Done():
	case <-time.After(timeout):
		s.log.Warn("scheduler stop timed out", logx.Duration("timeout", timeout))
	}
}
