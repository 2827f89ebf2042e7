package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sunflower/pkg/ingestion"
	"github.com/Ramsey-B/sunflower/pkg/redis"
	"github.com/Ramsey-B/sunflower/pkg/tracing"
)

var (
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

	// ErrPassInProgress is returned when another pass, here or in another
	// replica, still holds the pass lock.
	ErrPassInProgress = errors.New("ingestion pass already in progress")
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultLockTTL  = 10 * time.Minute

	LockKey = "ingestion:pass"

	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// PassRunner is satisfied by *ingestion.Orchestrator.
type PassRunner interface {
	RunPass(ctx context.Context, trigger string) *ingestion.PassReport
}

// PassLocker is satisfied by *redis.Locker.
type PassLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

type Config struct {
	Interval time.Duration
	LockTTL  time.Duration
	// RunOnStart runs a pass as soon as the scheduler starts instead of
	// waiting for the first tick.
	RunOnStart bool
}

// Scheduler runs ingestion passes on a fixed interval and never lets two
// passes overlap. Without a locker the guard is local to the process.
type Scheduler struct {
	runner PassRunner
	locker PassLocker
	config Config
	logger ectologger.Logger

	local sync.Mutex

	stopCh   chan struct{}
	stoppedC chan struct{}
	cancel   context.CancelFunc
	running  bool
	mu       sync.RWMutex
}

func NewScheduler(runner PassRunner, locker PassLocker, config Config, logger ectologger.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	return &Scheduler{
		runner: runner,
		locker: locker,
		config: config,
		logger: logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedC = make(chan struct{})

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.logger.WithContext(ctx).Infof("Starting scheduler: interval=%s lock_ttl=%s", s.config.Interval, s.config.LockTTL)
	go s.loop(loopCtx)
	return nil
}

// Stop waits for an in-flight pass to finish. If ctx expires first the pass
// is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	select {
	case <-s.stoppedC:
		s.cancel()
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.stoppedC
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out, in-flight pass cancelled")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler loop stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	_, err := s.RunOnce(ctx, TriggerSchedule)
	if errors.Is(err, ErrPassInProgress) {
		s.logger.WithContext(ctx).Info("Previous ingestion pass still running, skipping tick")
		return
	}
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Scheduled ingestion pass failed to start")
	}
}

// RunOnce runs a single pass unless one is already in progress.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (*ingestion.PassReport, error) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunOnce")
	defer span.End()

	if !s.local.TryLock() {
		return nil, ErrPassInProgress
	}
	defer s.local.Unlock()

	if s.locker == nil {
		return s.runner.RunPass(ctx, trigger), nil
	}

	var report *ingestion.PassReport
	err := s.locker.WithLock(ctx, LockKey, s.config.LockTTL, func(ctx context.Context) error {
		report = s.runner.RunPass(ctx, trigger)
		return nil
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, ErrPassInProgress
	}
	if err != nil {
		tracing.Fail(span, err, "failed to acquire pass lock")
		return nil, err
	}
	return report, nil
}
