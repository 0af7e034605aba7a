package status

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-limits/pkg/errors"
	"github.com/core-tools/hsu-limits/pkg/logging"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@every 30s"

type ReconcileCallback func([]ProcessStatus)

// Scheduler runs a Reconciler on a cron schedule. Runs never overlap.
type Scheduler struct {
	reconciler *Reconciler
	schedule   string
	logger     logging.Logger

	mutex      sync.RWMutex
	cron       *cron.Cron
	isRunning  bool
	stopped    chan struct{}
	callback   ReconcileCallback
	lastResult []ProcessStatus
	lastErr    error
}

// NewScheduler accepts standard five-field specs and descriptors such as
// "@every 30s"; an empty schedule means DefaultSchedule.
func NewScheduler(reconciler *Reconciler, schedule string, logger logging.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, errors.NewValidationError("invalid reconcile schedule", err).WithContext("schedule", schedule)
	}
	return &Scheduler{
		reconciler: reconciler,
		schedule:   schedule,
		logger:     logging.OrNop(logger),
	}, nil
}

func (s *Scheduler) SetCallback(callback ReconcileCallback) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.callback = callback
}

// Start schedules reconciliation until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.isRunning {
		return errors.NewValidationError("reconcile scheduler is already running", nil)
	}

	cronLogger := &cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger)))
	if _, err := c.AddFunc(s.schedule, s.RunOnce); err != nil {
		return errors.NewValidationError("invalid reconcile schedule", err).WithContext("schedule", s.schedule)
	}

	stopped := make(chan struct{})
	s.cron = c
	s.stopped = stopped
	s.isRunning = true
	c.Start()

	s.logger.Infof("Reconcile scheduler started, schedule: %s", s.schedule)

	go func() {
		select {
		case <-ctx.Done():
			s.stop(stopped)
		case <-stopped:
		}
	}()
	return nil
}

// Stop waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	s.stop(nil)
}

// stop ends the current run. A non-nil stopped must be the current run's
// channel; a cancel from an earlier run is ignored.
func (s *Scheduler) stop(stopped chan struct{}) {
	s.mutex.Lock()
	if !s.isRunning || (stopped != nil && stopped != s.stopped) {
		s.mutex.Unlock()
		return
	}
	c := s.cron
	close(s.stopped)
	s.isRunning = false
	s.cron = nil
	s.stopped = nil
	s.mutex.Unlock()

	<-c.Stop().Done()
	s.logger.Infof("Reconcile scheduler stopped")
}

// RunOnce reconciles immediately and records the result.
func (s *Scheduler) RunOnce() {
	result, err := s.reconciler.Reconcile()
	if err != nil {
		s.logger.Errorf("Reconcile failed, error: %v", err)
	} else {
		s.logger.Debugf("Reconciled, managed processes: %d", len(result))
	}

	s.mutex.Lock()
	s.lastResult, s.lastErr = result, err
	callback := s.callback
	s.mutex.Unlock()

	if err == nil && callback != nil {
		callback(result)
	}
}

// LastResult returns the most recent reconcile outcome.
func (s *Scheduler) LastResult() ([]ProcessStatus, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastResult, s.lastErr
}

// cronLogger routes cron's own messages into the module logger.
type cronLogger struct {
	logger logging.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugf("cron: %s %v", msg, keysAndValues)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorf("cron: %s, error: %v %v", msg, err, keysAndValues)
}
