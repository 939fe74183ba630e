package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRejectsDuplicateWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var runs int32

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "sync", ID: "all"}))
	<-started
	assert.ErrorIs(t, q.Enqueue(Job{Type: "sync", ID: "all"}), ErrDuplicate)
	assert.NoError(t, q.Enqueue(Job{Type: "sweep", ID: "all"}))

	close(release)
	require.Eventually(t, func() bool { return !q.Pending("sync:all") }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, time.Second, 5*time.Millisecond)
}

func TestQueueRetriesFailedJob(t *testing.T) {
	var attempts int32
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{Type: "sweep"}))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) == 3 && !q.Pending("sweep") }, time.Second, 5*time.Millisecond)
}

func TestEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{Type: "sync"}))
	assert.False(t, q.Pending("sync"))
}

func TestEnqueueDoesNotBlockWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("tiny", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer q.Stop()
	defer close(release)

	require.NoError(t, q.Enqueue(Job{Type: "sync", ID: "c1"}))
	<-started
	require.NoError(t, q.Enqueue(Job{Type: "sync", ID: "c2"}))

	assert.ErrorIs(t, q.Enqueue(Job{Type: "sync", ID: "c3"}), ErrQueueFull)
	assert.False(t, q.Pending("sync:c3"))
}
