package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Poller is the degraded fallback when the queue is unavailable. It
// periodically claims the oldest processable ledger row and runs it
// through the same job procedure. Claiming is atomic in the store, so
// concurrent pollers never pick the same job.
type Poller struct {
	worker   *Worker
	jobs     nfce.JobStore
	interval time.Duration
	logger   *zap.Logger
}

// NewPoller constructs a Poller around an existing Worker.
func NewPoller(w *Worker, jobs nfce.JobStore, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{worker: w, jobs: jobs, interval: interval, logger: logger}
}

// Run blocks, claiming and running jobs until the context finishes.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	job, ok, err := p.jobs.ClaimNextPending(ctx)
	if err != nil {
		p.logger.Error("claiming next pending job", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	p.logger.Info("claimed job via polling fallback", zap.String("job_id", job.ID))

	msg := nfce.Message{
		JobID:            job.ID,
		URL:              job.NormalizedURL,
		JurisdictionCode: job.JurisdictionCode,
		WebhookURL:       job.WebhookURL,
	}
	// The failure path inside runJob already persisted the outcome;
	// there is no queue behind the poller to retry through.
	if err := p.worker.runJob(ctx, &job, msg); err != nil {
		p.logger.Warn("polled job failed, left for next cycle",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}
