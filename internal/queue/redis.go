package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/metrics"
	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Redis implements nfce.Queue and nfce.Consumer on a Redis instance.
//
// Key layout per queue name N (prefix nfce:queue:N:):
//
//	delayed     ZSET  message id -> ready-at unix ms
//	ready       LIST  message ids ready for delivery
//	data        HASH  message id -> envelope JSON
//	processing  ZSET  message id -> lease expiry unix ms
//	stalled     HASH  message id -> stall count
//	failed      LIST  envelope JSON of permanently failed messages
//	lock:<id>   lease lock held by the processing worker
type Redis struct {
	client *redis.Client
	locker *redislock.Client
	opts   Options
	logger *zap.Logger
}

// envelope is the stored form of a message plus its retry policy.
type envelope struct {
	nfce.Message
	BackoffBaseMs int64 `json:"backoffBaseMs"`
}

// NewRedis constructs a queue on an existing Redis client.
func NewRedis(client *redis.Client, opts Options, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		locker: redislock.New(client),
		opts:   opts.withDefaults(),
		logger: logger.With(zap.String("queue", opts.withDefaults().Name)),
	}
}

func (q *Redis) key(suffix string) string {
	return "nfce:queue:" + q.opts.Name + ":" + suffix
}

func (q *Redis) lockKey(msgID string) string {
	return q.key("lock:" + msgID)
}

// Enqueue stores the message and schedules its first delivery. Returns
// the queue message id.
func (q *Redis) Enqueue(ctx context.Context, msg nfce.Message, opts nfce.EnqueueOptions) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = q.opts.DefaultMaxAttempts
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = q.opts.DefaultBackoffBase
	}
	if opts.MaxAttempts > 0 {
		msg.MaxAttempts = opts.MaxAttempts
	}

	env := envelope{Message: msg, BackoffBaseMs: backoffBase.Milliseconds()}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.key("data"), msg.ID, data)
	if opts.Delay > 0 {
		readyAt := time.Now().Add(opts.Delay).UnixMilli()
		pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt), Member: msg.ID})
	} else {
		pipe.LPush(ctx, q.key("ready"), msg.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue message: %w", err)
	}
	return msg.ID, nil
}

// Consume blocks, draining the queue with the given concurrency until
// the context finishes. Handler errors reschedule the message per the
// backoff policy until its attempt budget is spent.
func (q *Redis) Consume(ctx context.Context, concurrency int, h nfce.Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.maintenanceLoop(ctx)
	}()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(ctx, h)
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (q *Redis) workerLoop(ctx context.Context, h nfce.Handler) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := q.client.BRPop(ctx, 5*time.Second, q.key("ready")).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			q.logger.Error("queue pop failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, member].
		q.deliver(ctx, h, res[1])
	}
}

func (q *Redis) deliver(ctx context.Context, h nfce.Handler, msgID string) {
	lock, err := q.locker.Obtain(ctx, q.lockKey(msgID), q.opts.LockDuration, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		// Another worker holds the lease; duplicate pop.
		return
	}
	if err != nil {
		q.logger.Error("obtain message lease failed", zap.String("message_id", msgID), zap.Error(err))
		return
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			q.logger.Warn("release message lease failed", zap.String("message_id", msgID), zap.Error(err))
		}
	}()

	raw, err := q.client.HGet(ctx, q.key("data"), msgID).Result()
	if errors.Is(err, redis.Nil) {
		// Evicted or acknowledged elsewhere; nothing to do.
		return
	}
	if err != nil {
		q.logger.Error("load message failed", zap.String("message_id", msgID), zap.Error(err))
		return
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		q.logger.Error("corrupt message dropped", zap.String("message_id", msgID), zap.Error(err))
		q.discard(ctx, msgID)
		return
	}

	env.AttemptsMade++
	q.markProcessing(ctx, env)

	handlerCtx, cancel := context.WithCancel(ctx)
	renewDone := make(chan struct{})
	go q.renewLease(handlerCtx, lock, env.ID, renewDone)

	err = h(handlerCtx, env.Message)
	cancel()
	<-renewDone

	// Shutdown mid-handler: leave the lease to expire and the stalled
	// sweep to redeliver.
	if ctx.Err() != nil && err != nil {
		return
	}
	if err != nil {
		q.retryOrFail(context.WithoutCancel(ctx), env, err)
		return
	}
	q.ack(context.WithoutCancel(ctx), env.ID)
}

// renewLease keeps the processing lock alive while the handler runs.
func (q *Redis) renewLease(ctx context.Context, lock *redislock.Lock, msgID string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(q.opts.LockDuration / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Refresh(ctx, q.opts.LockDuration, nil); err != nil {
				q.logger.Warn("lease refresh failed", zap.String("message_id", msgID), zap.Error(err))
				return
			}
			expiry := time.Now().Add(q.opts.LockDuration).UnixMilli()
			q.client.ZAdd(ctx, q.key("processing"), redis.Z{Score: float64(expiry), Member: msgID})
		}
	}
}

func (q *Redis) markProcessing(ctx context.Context, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		q.logger.Error("marshal envelope failed", zap.String("message_id", env.ID), zap.Error(err))
		return
	}
	expiry := time.Now().Add(q.opts.LockDuration).UnixMilli()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.key("data"), env.ID, data)
	pipe.ZAdd(ctx, q.key("processing"), redis.Z{Score: float64(expiry), Member: env.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("mark processing failed", zap.String("message_id", env.ID), zap.Error(err))
	}
}

func (q *Redis) ack(ctx context.Context, msgID string) {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key("processing"), msgID)
	pipe.HDel(ctx, q.key("data"), msgID)
	pipe.HDel(ctx, q.key("stalled"), msgID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("ack failed", zap.String("message_id", msgID), zap.Error(err))
	}
}

func (q *Redis) discard(ctx context.Context, msgID string) {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key("processing"), msgID)
	pipe.ZRem(ctx, q.key("delayed"), msgID)
	pipe.HDel(ctx, q.key("data"), msgID)
	pipe.HDel(ctx, q.key("stalled"), msgID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("discard failed", zap.String("message_id", msgID), zap.Error(err))
	}
}

func (q *Redis) retryOrFail(ctx context.Context, env envelope, cause error) {
	if env.AttemptsMade >= env.MaxAttempts {
		q.moveToFailed(ctx, env, cause)
		return
	}
	delay := Backoff(time.Duration(env.BackoffBaseMs)*time.Millisecond, env.AttemptsMade)
	readyAt := time.Now().Add(delay).UnixMilli()
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key("processing"), env.ID)
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(readyAt), Member: env.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("reschedule failed", zap.String("message_id", env.ID), zap.Error(err))
		return
	}
	q.logger.Info("message rescheduled",
		zap.String("message_id", env.ID),
		zap.String("job_id", env.JobID),
		zap.Int("attempts_made", env.AttemptsMade),
		zap.Int("max_attempts", env.MaxAttempts),
		zap.Duration("delay", delay),
		zap.String("cause", cause.Error()),
	)
}

func (q *Redis) moveToFailed(ctx context.Context, env envelope, cause error) {
	data, err := json.Marshal(env)
	if err != nil {
		data = []byte(env.ID)
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key("processing"), env.ID)
	pipe.HDel(ctx, q.key("data"), env.ID)
	pipe.HDel(ctx, q.key("stalled"), env.ID)
	pipe.LPush(ctx, q.key("failed"), data)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Error("move to failed-list failed", zap.String("message_id", env.ID), zap.Error(err))
		return
	}
	metrics.ObserveQueueFailure(q.opts.Name)
	q.logger.Warn("message permanently failed",
		zap.String("message_id", env.ID),
		zap.String("job_id", env.JobID),
		zap.Int("attempts_made", env.AttemptsMade),
		zap.String("cause", cause.Error()),
	)
}

// maintenanceLoop promotes due delayed messages and recovers stalled
// ones until the context finishes.
func (q *Redis) maintenanceLoop(ctx context.Context) {
	promote := time.NewTicker(time.Second)
	defer promote.Stop()
	stalled := time.NewTicker(q.opts.StalledInterval)
	defer stalled.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			q.promoteDue(ctx)
			q.reportDepth(ctx)
		case <-stalled.C:
			q.recoverStalled(ctx)
		}
	}
}

func (q *Redis) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("promote scan failed", zap.Error(err))
		}
		return
	}
	for _, id := range ids {
		// ZRem is the claim: only the remover may push to ready.
		removed, err := q.client.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("ready"), id).Err(); err != nil {
			q.logger.Error("promote push failed", zap.String("message_id", id), zap.Error(err))
		}
	}
}

// recoverStalled redelivers messages whose lease expired without ack,
// up to MaxStalledCount times each.
func (q *Redis) recoverStalled(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.key("processing"), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			q.logger.Error("stalled scan failed", zap.Error(err))
		}
		return
	}
	for _, id := range ids {
		held, err := q.client.Exists(ctx, q.lockKey(id)).Result()
		if err != nil {
			continue
		}
		if held > 0 {
			// Worker still renewing; push the deadline out.
			expiry := time.Now().Add(q.opts.LockDuration).UnixMilli()
			q.client.ZAdd(ctx, q.key("processing"), redis.Z{Score: float64(expiry), Member: id})
			continue
		}
		count, err := q.client.HIncrBy(ctx, q.key("stalled"), id, 1).Result()
		if err != nil {
			continue
		}
		if count > int64(q.opts.MaxStalledCount) {
			raw, err := q.client.HGet(ctx, q.key("data"), id).Result()
			env := envelope{}
			if err == nil {
				_ = json.Unmarshal([]byte(raw), &env)
			}
			if env.ID == "" {
				env.ID = id
			}
			q.moveToFailed(ctx, env, errors.New("stalled too many times"))
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.key("processing"), id)
		pipe.LPush(ctx, q.key("ready"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			q.logger.Error("stalled requeue failed", zap.String("message_id", id), zap.Error(err))
			continue
		}
		q.logger.Warn("stalled message requeued", zap.String("message_id", id), zap.Int64("stall_count", count))
	}
}

func (q *Redis) reportDepth(ctx context.Context) {
	ready, err1 := q.client.LLen(ctx, q.key("ready")).Result()
	delayed, err2 := q.client.ZCard(ctx, q.key("delayed")).Result()
	if err1 != nil || err2 != nil {
		return
	}
	metrics.SetQueueDepth(q.opts.Name, ready+delayed)
}
