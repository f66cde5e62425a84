// Package memory provides an in-memory queue for development/testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
	"github.com/wendelpaco/nfce-scraper-service/internal/queue"
)

type scheduled struct {
	msg         nfce.Message
	backoffBase time.Duration
	readyAt     time.Time
}

// Queue implements nfce.Queue and nfce.Consumer without Redis. Delay
// and exponential backoff semantics match the Redis implementation;
// lease/stalled handling does not apply because delivery is in-process.
type Queue struct {
	mu      sync.Mutex
	pending []scheduled
	failed  []nfce.Message
	opts    queue.Options
}

// New constructs a Queue.
func New(opts queue.Options) *Queue {
	return &Queue{opts: opts}
}

// Enqueue schedules a message for delivery after opts.Delay.
func (q *Queue) Enqueue(_ context.Context, msg nfce.Message, opts nfce.EnqueueOptions) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if opts.MaxAttempts > 0 {
		msg.MaxAttempts = opts.MaxAttempts
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 5
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = 10 * time.Millisecond
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, scheduled{
		msg:         msg,
		backoffBase: backoffBase,
		readyAt:     time.Now().Add(opts.Delay),
	})
	return msg.ID, nil
}

// Consume polls for due messages until the context finishes.
func (q *Queue) Consume(ctx context.Context, concurrency int, h nfce.Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(5 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					item, ok := q.takeDue()
					if !ok {
						continue
					}
					item.msg.AttemptsMade++
					if err := h(ctx, item.msg); err != nil {
						q.requeue(item)
					}
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return nil
}

func (q *Queue) takeDue() (scheduled, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for i, item := range q.pending {
		if !item.readyAt.After(now) {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return item, true
		}
	}
	return scheduled{}, false
}

func (q *Queue) requeue(item scheduled) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.msg.AttemptsMade >= item.msg.MaxAttempts {
		q.failed = append(q.failed, item.msg)
		return
	}
	item.readyAt = time.Now().Add(queue.Backoff(item.backoffBase, item.msg.AttemptsMade))
	q.pending = append(q.pending, item)
}

// Pending returns how many messages await delivery.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Failed returns a copy of the permanently failed messages.
func (q *Queue) Failed() []nfce.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]nfce.Message, len(q.failed))
	copy(out, q.failed)
	return out
}
