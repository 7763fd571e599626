package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnqueue_UnknownTaskRejected(t *testing.T) {
	s := New(zap.NewNop())

	err := s.Enqueue(context.Background(), "missing", nil, 3)

	assert.Error(t, err)
}

func TestEnqueue_SucceedsFirstAttempt(t *testing.T) {
	s := New(zap.NewNop())
	var calls int32
	s.RegisterHandler("work", func(ctx context.Context, payload interface{}) error {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, uint(42), payload)
		return nil
	})

	require.NoError(t, s.Enqueue(context.Background(), "work", uint(42), 3))
	s.wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEnqueue_RetriesUntilSuccess(t *testing.T) {
	s := New(zap.NewNop())
	s.retryBase = time.Millisecond
	var calls int32
	s.RegisterHandler("flaky", func(ctx context.Context, payload interface{}) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, s.Enqueue(context.Background(), "flaky", nil, 5))
	s.wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEnqueue_AttemptsAreBounded(t *testing.T) {
	s := New(zap.NewNop())
	s.retryBase = time.Millisecond
	var calls int32
	s.RegisterHandler("broken", func(ctx context.Context, payload interface{}) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("permanent")
	})

	require.NoError(t, s.Enqueue(context.Background(), "broken", nil, 3))
	s.wg.Wait()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestEnqueue_CancelledContextStopsRetrying(t *testing.T) {
	s := New(zap.NewNop())
	s.retryBase = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	s.RegisterHandler("slow", func(ctx context.Context, payload interface{}) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("transient")
	})

	require.NoError(t, s.Enqueue(ctx, "slow", nil, 5))
	cancel()
	s.wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRun_PeriodicTaskTicksUntilCancelled(t *testing.T) {
	s := New(zap.NewNop())
	var ticks int32
	s.RegisterPeriodic("tick", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&ticks, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, atomic.LoadInt32(&ticks), int32(1))
}

func TestRun_FailingPeriodicTaskKeepsTicking(t *testing.T) {
	s := New(zap.NewNop())
	var ticks int32
	s.RegisterPeriodic("failing", 5*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt32(&ticks, 1)
		return errors.New("boom")
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, atomic.LoadInt32(&ticks), int32(2))
}
