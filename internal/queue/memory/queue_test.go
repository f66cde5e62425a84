package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
	"github.com/wendelpaco/nfce-scraper-service/internal/queue"
)

func TestQueueDeliversAfterDelay(t *testing.T) {
	t.Parallel()

	q := New(queue.Options{Name: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delivered atomic.Int32
	go func() {
		_ = q.Consume(ctx, 1, func(_ context.Context, msg nfce.Message) error {
			require.Equal(t, "job-1", msg.JobID)
			delivered.Add(1)
			return nil
		})
	}()

	_, err := q.Enqueue(ctx, nfce.Message{JobID: "job-1"}, nfce.EnqueueOptions{Delay: 30 * time.Millisecond})
	require.NoError(t, err)

	require.Never(t, func() bool {
		return delivered.Load() > 0
	}, 20*time.Millisecond, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return delivered.Load() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestQueueRetriesUntilBudgetSpent(t *testing.T) {
	t.Parallel()

	q := New(queue.Options{Name: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	go func() {
		_ = q.Consume(ctx, 1, func(_ context.Context, _ nfce.Message) error {
			attempts.Add(1)
			return errors.New("boom")
		})
	}()

	_, err := q.Enqueue(ctx, nfce.Message{JobID: "job-2"}, nfce.EnqueueOptions{
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(q.Failed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(3), attempts.Load())
	require.Equal(t, "job-2", q.Failed()[0].JobID)
	require.Equal(t, 3, q.Failed()[0].AttemptsMade)
}

func TestQueueAcknowledgesOnSuccess(t *testing.T) {
	t.Parallel()

	q := New(queue.Options{Name: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delivered atomic.Int32
	go func() {
		_ = q.Consume(ctx, 2, func(_ context.Context, _ nfce.Message) error {
			delivered.Add(1)
			return nil
		})
	}()

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, nfce.Message{JobID: "job"}, nfce.EnqueueOptions{})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return delivered.Load() == 5 && q.Pending() == 0
	}, time.Second, 5*time.Millisecond)
	require.Empty(t, q.Failed())
}
