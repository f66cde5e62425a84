package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Escalation consumes the challenge queue. It re-opens the page,
// drives the solver through the interactive challenge and, when the
// receipt renders, finishes the job the same way the primary worker
// would.
type Escalation struct {
	jobs     nfce.JobStore
	results  nfce.ResultStore
	pool     nfce.BrowserPool
	scrapers ScraperResolver
	notifier nfce.Notifier
	clock    nfce.Clock
	ids      nfce.IDGenerator
	solver   ChallengeSolver
	cfg      Config
	logger   *zap.Logger
}

// NewEscalation constructs the escalation consumer. solver may be nil,
// in which case escalated messages are acknowledged and dropped; the
// job stays WAITING_CAPTCHA until an operator intervenes.
func NewEscalation(
	jobs nfce.JobStore,
	results nfce.ResultStore,
	pool nfce.BrowserPool,
	scrapers ScraperResolver,
	notifier nfce.Notifier,
	clock nfce.Clock,
	ids nfce.IDGenerator,
	solver ChallengeSolver,
	cfg Config,
	logger *zap.Logger,
) *Escalation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escalation{
		jobs:     jobs,
		results:  results,
		pool:     pool,
		scrapers: scrapers,
		notifier: notifier,
		clock:    clock,
		ids:      ids,
		solver:   solver,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run blocks draining the consumer until the context finishes.
func (e *Escalation) Run(ctx context.Context, consumer nfce.Consumer, concurrency int) error {
	return consumer.Consume(ctx, concurrency, e.Handle)
}

// Handle processes one escalated message.
func (e *Escalation) Handle(ctx context.Context, msg nfce.Message) error {
	if msg.JobID == "" {
		e.logger.Error("escalated message without job id dropped",
			zap.String("url", msg.URL))
		return nil
	}
	if e.solver == nil {
		e.logger.Info("no challenge solver configured, dropping message; job stays WAITING_CAPTCHA",
			zap.String("job_id", msg.JobID))
		return nil
	}

	job, err := e.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("reading escalated job %s: %w", msg.JobID, err)
	}
	if job.Status != nfce.StatusWaitingCaptcha {
		e.logger.Debug("escalated job no longer waiting, skipping",
			zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return nil
	}

	page, err := e.pool.OpenPage(ctx, job.NormalizedURL)
	if err != nil {
		return fmt.Errorf("opening page for escalated job %s: %w", job.ID, err)
	}
	defer func() { _ = page.Close() }()

	solved, err := e.solver.Resolve(ctx, page)
	if err != nil {
		return fmt.Errorf("resolving challenge for job %s: %w", job.ID, err)
	}
	if !solved {
		return fmt.Errorf("challenge for job %s not solved", job.ID)
	}

	if err := page.WaitVisible(ctx, e.cfg.ResultMarkerSelector, e.cfg.ResultMarkerTimeout); err != nil {
		return fmt.Errorf("receipt did not render after challenge for job %s: %w", job.ID, err)
	}

	strategy, err := e.scrapers.ForJurisdiction(job.JurisdictionCode)
	if err != nil {
		return fmt.Errorf("resolving scraper for escalated job %s: %w", job.ID, err)
	}
	payload, err := strategy.Scrape(ctx, page)
	if err != nil {
		return fmt.Errorf("scraping escalated job %s: %w", job.ID, err)
	}

	id, err := e.ids.NewID()
	if err != nil {
		return fmt.Errorf("generating result id: %w", err)
	}
	result := nfce.Result{
		ID:         id,
		JobID:      job.ID,
		URL:        job.URL,
		WebhookURL: job.WebhookURL,
		Payload:    payload,
		CreatedAt:  e.clock.Now(),
	}
	if err := e.results.CreateResult(ctx, result); err != nil {
		return fmt.Errorf("persisting escalated result for job %s: %w", job.ID, err)
	}

	endedAt := e.clock.Now()
	if err := e.jobs.FinishJob(ctx, job.ID, nfce.StatusDone, endedAt, ""); err != nil {
		return fmt.Errorf("finishing escalated job %s: %w", job.ID, err)
	}
	job.Status = nfce.StatusDone
	job.ProcessingEndedAt = &endedAt
	job.LastErrorMessage = ""

	e.logger.Info("escalated job resolved", zap.String("job_id", job.ID))

	if e.notifier != nil && job.WebhookURL != "" {
		wp := nfce.WebhookPayload{
			Status:               nfce.StatusDone,
			URL:                  job.URL,
			WebhookURL:           job.WebhookURL,
			CreatedAt:            job.CreatedAt,
			URLQueueID:           job.ID,
			ProcessingStartedAt:  job.ProcessingStartedAt,
			ProcessingEndedAt:    job.ProcessingEndedAt,
			ProcessingDurationMs: job.ProcessingDuration().Milliseconds(),
			Metadata:             &payload,
		}
		if err := e.notifier.Deliver(ctx, wp); err != nil {
			e.logger.Warn("webhook delivery failed",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}
