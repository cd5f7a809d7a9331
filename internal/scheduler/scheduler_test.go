package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 5s", Every(5*time.Second))
	assert.Equal(t, "@every 1m0s", Every(time.Minute))
	assert.Equal(t, "@every 1s", Every(10*time.Millisecond))
}

func TestAdd_InvalidSpec(t *testing.T) {
	s := New(nil)
	err := s.Add("bad", "every now and then", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestAdd_EmptySpecDisablesJob(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add("off", "", func(context.Context) error { return nil }))
	_, ok := s.NextRun("off")
	assert.False(t, ok)
}

func TestScheduler_RunsJobsUntilCancelled(t *testing.T) {
	s := New(nil)
	var ok, failing, panicking int32
	require.NoError(t, s.Add("ok", Every(time.Second), func(context.Context) error {
		atomic.AddInt32(&ok, 1)
		return nil
	}))
	require.NoError(t, s.Add("failing", Every(time.Second), func(context.Context) error {
		atomic.AddInt32(&failing, 1)
		return errors.New("boom")
	}))
	require.NoError(t, s.Add("panicking", Every(time.Second), func(context.Context) error {
		atomic.AddInt32(&panicking, 1)
		panic("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.True(t, s.IsRunning())

	next, found := s.NextRun("ok")
	require.True(t, found)
	assert.False(t, next.IsZero())

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ok) >= 2 && atomic.LoadInt32(&failing) >= 2 && atomic.LoadInt32(&panicking) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)

	after := atomic.LoadInt32(&ok)
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&ok))
}

func TestAdd_ReplacesJobWithSameName(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Add("job", Every(time.Hour), func(context.Context) error { return nil }))
	require.NoError(t, s.Add("job", Every(time.Minute), func(context.Context) error { return nil }))
	assert.Len(t, s.cron.Entries(), 1)
}

func TestStop_Idempotent(t *testing.T) {
	s := New(nil)
	s.Stop()
	s.Start(context.Background())
	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}
