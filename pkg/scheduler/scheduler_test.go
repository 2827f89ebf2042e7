package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sunflower/pkg/ingestion"
	"github.com/Ramsey-B/sunflower/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

type countingRunner struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
}

func (r *countingRunner) RunPass(ctx context.Context, trigger string) *ingestion.PassReport {
	r.calls.Add(1)
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	return &ingestion.PassReport{Trigger: trigger}
}

func newLocker(t *testing.T) (*redis.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.NewLocker(redis.Wrap(rdb, testLogger()), "sunflower:lock:"), mr
}

func TestScheduler_RunOnce(t *testing.T) {
	runner := &countingRunner{}
	locker, _ := newLocker(t)
	s := NewScheduler(runner, locker, Config{}, testLogger())

	report, err := s.RunOnce(context.Background(), TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, report.Trigger)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduler_RunOnceSkipsWhenLockHeldElsewhere(t *testing.T) {
	runner := &countingRunner{}
	locker, mr := newLocker(t)
	require.NoError(t, mr.Set("sunflower:lock:"+LockKey, "other-replica"))

	s := NewScheduler(runner, locker, Config{}, testLogger())
	_, err := s.RunOnce(context.Background(), TriggerManual)

	assert.ErrorIs(t, err, ErrPassInProgress)
	assert.Equal(t, int32(0), runner.calls.Load())
}

func TestScheduler_RunOnceNeverOverlapsLocally(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewScheduler(runner, nil, Config{}, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.RunOnce(context.Background(), TriggerSchedule)
	}()
	<-runner.started

	_, err := s.RunOnce(context.Background(), TriggerManual)
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(runner.block)
	<-done
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestScheduler_StartRunsOnTicks(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, Config{Interval: 10 * time.Millisecond, RunOnStart: true}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestScheduler_StopCancelsInFlightPassOnTimeout(t *testing.T) {
	runner := &countingRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := NewScheduler(runner, nil, Config{Interval: time.Hour, RunOnStart: true}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}
