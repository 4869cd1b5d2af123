// Package scheduler runs the periodic housekeeping sweeps of a long-running server.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"agencyops/internal/logging"
)

const DefaultSchedule = "@every 5m"

// Sweeper is implemented by the engine.
type Sweeper interface {
	SweepAcceptance(ctx context.Context) (int, error)
	SweepAnnouncements(ctx context.Context) (int, error)
}

// Scheduler expires overdue project assignments and stale announcements on a cron schedule.
type Scheduler struct {
	sweeper  Sweeper
	schedule string
	logger   *logrus.Logger
	timeout  time.Duration

	mu    sync.Mutex
	cron  *cron.Cron
	jobID cron.EntryID
}

func New(s Sweeper, schedule string, logger *logrus.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{sweeper: s, schedule: schedule, logger: logger, timeout: time.Minute}
}

// Start schedules the sweep and returns immediately. An invalid schedule is reported here.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})))
	id, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	s.cron, s.jobID = c, id
	c.Start()
	s.logger.WithField("schedule", s.schedule).Info("sweep scheduler started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("sweep scheduler stopped")
}

// RunOnce performs both sweeps. Errors are logged; one failing sweep does not skip the other.
func (s *Scheduler) RunOnce(ctx context.Context) (expired, deactivated int) {
	var err error
	if expired, err = s.sweeper.SweepAcceptance(ctx); err != nil {
		s.logger.WithError(err).Error("acceptance sweep failed")
	} else if expired > 0 {
		s.logger.WithField("count", expired).Info("expired project assignments")
	}
	if deactivated, err = s.sweeper.SweepAnnouncements(ctx); err != nil {
		s.logger.WithError(err).Error("announcement sweep failed")
	} else if deactivated > 0 {
		s.logger.WithField("count", deactivated).Info("deactivated announcements")
	}
	return expired, deactivated
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct{ l *logrus.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.WithFields(fields(kv)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.WithFields(fields(kv)).WithError(err).Error(msg)
}

func fields(kv []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
