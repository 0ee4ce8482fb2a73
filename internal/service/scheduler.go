package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"socialqueue/internal/constants"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TickRunner runs one scan tick. *Scanner implements it.
type TickRunner interface {
	Run(ctx context.Context, tick time.Time) (ScanReport, error)
}

// scheduleParser accepts 5-field specs, 6-field specs with seconds and
// descriptors such as @every.
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler fires scanner ticks on a cron schedule. Ticks may overlap: each
// one scans its own window.
type Scheduler struct {
	runner   TickRunner
	schedule string
	spec     cron.Schedule
	logger   *logrus.Logger
	now      func() time.Time

	mu   sync.Mutex
	next time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(runner TickRunner, schedule string, logger *logrus.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = constants.DefaultScanSchedule
	}
	spec, err := scheduleParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		spec:     spec,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start runs the schedule until ctx is cancelled or Stop is called, then
// waits for running ticks to finish.
func (s *Scheduler) Start(ctx context.Context) {
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.logger))),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.runTick(ctx) }); err != nil {
		s.logger.WithError(err).Error("Failed to register scan schedule")
		return
	}

	s.logger.WithField("schedule", s.schedule).Info("Starting queue scheduler")
	s.arm(s.now())
	c.Start()

	select {
	case <-ctx.Done():
		s.logger.Info("Scheduler context cancelled, stopping")
	case <-s.stopCh:
		s.logger.Info("Scheduler stop signal received, stopping")
	}
	<-c.Stop().Done()
}

// Stop ends Start. It is safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// arm records the first activation after now.
func (s *Scheduler) arm(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = s.spec.Next(now.UTC())
}

// plannedTick returns the activation a firing at now belongs to: the latest
// scheduled time not after now. A firing delayed past half a minute still
// scans its own window rather than the next tick's.
func (s *Scheduler) plannedTick(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next.IsZero() {
		return now
	}
	planned := s.next
	for n := s.spec.Next(planned); !n.IsZero() && !n.After(now); n = s.spec.Next(n) {
		planned = n
	}
	s.next = s.spec.Next(planned)
	return planned
}

func (s *Scheduler) runTick(ctx context.Context) {
	report, err := s.runner.Run(ctx, s.plannedTick(s.now()))
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldWindowFrom: report.From.Format(time.RFC3339),
			LogFieldWindowTo:   report.To.Format(time.RFC3339),
		}).Error("Scan tick failed")
	}
}
