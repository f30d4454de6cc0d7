package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWorkerRunsQueuedJobs(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := New(zap.New(core), 4)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	done := make(chan string, 2)
	require.True(t, s.Enqueue("conflict_scan", "t1", func(context.Context) (any, error) {
		done <- "t1"
		return nil, nil
	}))
	require.True(t, s.Enqueue("conflict_scan", "t2", func(context.Context) (any, error) {
		done <- "t2"
		return nil, errors.New("store offline")
	}))

	assert.Equal(t, "t1", <-done)
	assert.Equal(t, "t2", <-done)
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("job run failed").Len() == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	s.Wait()
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	s := New(nil, 1)
	noop := func(context.Context) (any, error) { return nil, nil }
	assert.True(t, s.Enqueue("a", "t1", noop))
	assert.False(t, s.Enqueue("b", "t1", noop))
}

func TestRunNowReturnsDetails(t *testing.T) {
	s := New(nil, 0)
	details, err := s.RunNow(context.Background(), "conflict_scan", "t1", func(context.Context) (any, error) {
		return map[string]int{"groups": 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"groups": 2}, details)
}

func TestEveryTicksUntilCancelled(t *testing.T) {
	s := New(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	s.Every(ctx, 5*time.Millisecond, func(context.Context) { ticks.Add(1) })
	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	s.Every(context.Background(), 0, func(context.Context) { t.Fatal("disabled schedule ticked") })
}
