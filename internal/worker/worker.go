// Package worker runs the per-job state machine that drives a queue
// message through page acquisition, scraping, classification and
// persistence.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/wendelpaco/nfce-scraper-service/internal/classify"
	"github.com/wendelpaco/nfce-scraper-service/internal/metrics"
	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// ScraperResolver maps a jurisdiction code to its strategy.
type ScraperResolver interface {
	ForJurisdiction(code string) (nfce.Scraper, error)
}

// ChallengeSolver attempts automated resolution of an interactive
// challenge on an open page.
type ChallengeSolver interface {
	Resolve(ctx context.Context, page nfce.Page) (bool, error)
}

// Config controls Worker behavior.
type Config struct {
	// ResultMarkerSelector is the DOM element whose presence means the
	// receipt rendered.
	ResultMarkerSelector string
	// ResultMarkerTimeout bounds the wait for the marker. Absence is
	// not immediately fatal; classification decides.
	ResultMarkerTimeout time.Duration
	// ChallengeFrameURLPart identifies an interactive-challenge frame.
	ChallengeFrameURLPart string
	// ErrorBannerSelector, when present on the page, is preferred over
	// the whole body text for classification.
	ErrorBannerSelector string
	// PageMaxAge is handed to the stale-page sweep on the failure path.
	PageMaxAge time.Duration
	// SnapshotPrefix prefixes failure-page artifact paths.
	SnapshotPrefix string
}

func (c Config) withDefaults() Config {
	if c.ResultMarkerSelector == "" {
		c.ResultMarkerSelector = "#tabResult tr"
	}
	if c.ResultMarkerTimeout <= 0 {
		c.ResultMarkerTimeout = 15 * time.Second
	}
	if c.ChallengeFrameURLPart == "" {
		c.ChallengeFrameURLPart = "hcaptcha"
	}
	if c.ErrorBannerSelector == "" {
		c.ErrorBannerSelector = "#avisoErro"
	}
	if c.PageMaxAge <= 0 {
		c.PageMaxAge = 2 * time.Minute
	}
	if c.SnapshotPrefix == "" {
		c.SnapshotPrefix = "failures"
	}
	return c
}

// Worker consumes scrape messages and executes jobs end to end.
type Worker struct {
	jobs       nfce.JobStore
	results    nfce.ResultStore
	pool       nfce.BrowserPool
	scrapers   ScraperResolver
	escalation nfce.Queue
	notifier   nfce.Notifier
	publisher  nfce.Publisher
	artifacts  nfce.ArtifactStore
	clock      nfce.Clock
	ids        nfce.IDGenerator
	solver     ChallengeSolver
	cfg        Config
	logger     *zap.Logger
}

// Option adjusts Worker construction.
type Option func(*Worker)

// WithChallengeSolver installs an automated challenge solver. Without
// one, detected challenges are only logged.
func WithChallengeSolver(s ChallengeSolver) Option {
	return func(w *Worker) { w.solver = s }
}

// New constructs a Worker.
func New(
	jobs nfce.JobStore,
	results nfce.ResultStore,
	pool nfce.BrowserPool,
	scrapers ScraperResolver,
	escalation nfce.Queue,
	notifier nfce.Notifier,
	publisher nfce.Publisher,
	artifacts nfce.ArtifactStore,
	clock nfce.Clock,
	ids nfce.IDGenerator,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		jobs:       jobs,
		results:    results,
		pool:       pool,
		scrapers:   scrapers,
		escalation: escalation,
		notifier:   notifier,
		publisher:  publisher,
		artifacts:  artifacts,
		clock:      clock,
		ids:        ids,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks draining the consumer with the given concurrency until
// the context finishes.
func (w *Worker) Run(ctx context.Context, consumer nfce.Consumer, concurrency int) error {
	return consumer.Consume(ctx, concurrency, w.Handle)
}

// Handle processes one delivered message. A returned error asks the
// queue to reschedule per its backoff policy.
func (w *Worker) Handle(ctx context.Context, msg nfce.Message) error {
	if msg.JobID == "" {
		// A producer bug, not a scraping failure. Retrying cannot fix
		// it, so the message is acknowledged and dropped.
		w.logger.Error("message without job id dropped",
			zap.String("message_id", msg.ID), zap.String("url", msg.URL))
		return nil
	}

	job, err := w.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, nfce.ErrJobNotFound) {
			w.logger.Warn("orphan message, no ledger row",
				zap.String("job_id", msg.JobID))
			return nil
		}
		return fmt.Errorf("reading job %s: %w", msg.JobID, err)
	}

	// Duplicate-delivery guard. A redelivered message for a job some
	// other worker already finished is acknowledged without touching
	// anything.
	if !job.Status.Processable() {
		w.logger.Debug("job already handled, skipping",
			zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
		return nil
	}

	startedAt := w.clock.Now()
	if err := w.jobs.MarkProcessing(ctx, job.ID, startedAt); err != nil {
		return fmt.Errorf("marking job %s processing: %w", job.ID, err)
	}
	job.Status = nfce.StatusProcessing
	job.ProcessingStartedAt = &startedAt

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.logger.Info("processing job",
		zap.String("job_id", job.ID),
		zap.String("jurisdiction", job.JurisdictionCode),
		zap.Int("attempt", msg.AttemptsMade))

	return w.runJob(ctx, &job, msg)
}

func (w *Worker) runJob(ctx context.Context, job *nfce.Job, msg nfce.Message) error {
	page, err := w.pool.OpenPage(ctx, job.NormalizedURL)
	if err != nil {
		return w.fail(ctx, job, nil, err)
	}
	defer func() { _ = page.Close() }()

	markerVisible := page.WaitVisible(ctx, w.cfg.ResultMarkerSelector, w.cfg.ResultMarkerTimeout) == nil

	if hasChallenge, _ := page.HasFrameMatching(ctx, w.cfg.ChallengeFrameURLPart); hasChallenge {
		w.logger.Warn("interactive challenge frame detected",
			zap.String("job_id", job.ID), zap.String("url", job.NormalizedURL))
		if w.solver != nil {
			solved, err := w.solver.Resolve(ctx, page)
			if err != nil {
				w.logger.Warn("challenge resolution failed",
					zap.String("job_id", job.ID), zap.Error(err))
			} else if solved {
				w.logger.Info("challenge resolved", zap.String("job_id", job.ID))
			}
		}
	}

	pageText := w.visibleText(ctx, page)

	switch classify.Outcome(nil, pageText) {
	case nfce.StatusDone:
		if !markerVisible {
			return w.fail(ctx, job, page, errors.New("result table never rendered"))
		}
	case nfce.StatusInvalid:
		if classify.NeedsEscalation(pageText) {
			return w.escalate(ctx, job, msg, pageText)
		}
		return w.finishTerminal(ctx, job, nfce.StatusInvalid, pageText)
	case nfce.StatusBlocked:
		// Persist first, then surface the sentinel so the queue
		// schedules a retry after backoff.
		if err := w.persistFailure(ctx, job, nfce.StatusBlocked, pageText); err != nil {
			return err
		}
		w.deliverFailureWebhook(ctx, *job, nfce.StatusBlocked, nfce.ErrBlockedPage.Error(), pageText)
		return fmt.Errorf("job %s: %w", job.ID, nfce.ErrBlockedPage)
	}

	strategy, err := w.scrapers.ForJurisdiction(job.JurisdictionCode)
	if err != nil {
		return w.fail(ctx, job, page, err)
	}

	payload, err := strategy.Scrape(ctx, page)
	if err != nil {
		return w.fail(ctx, job, page, err)
	}

	if err := w.persistResult(ctx, job, payload); err != nil {
		return w.fail(ctx, job, page, err)
	}

	endedAt := w.clock.Now()
	if err := w.jobs.FinishJob(ctx, job.ID, nfce.StatusDone, endedAt, ""); err != nil {
		return fmt.Errorf("finishing job %s: %w", job.ID, err)
	}
	job.Status = nfce.StatusDone
	job.ProcessingEndedAt = &endedAt
	job.LastErrorMessage = ""

	metrics.ObserveJob(string(nfce.StatusDone), job.ProcessingDuration())
	w.logger.Info("job done",
		zap.String("job_id", job.ID),
		zap.Duration("took", job.ProcessingDuration()),
		zap.Int("items", len(payload.Items)))

	w.deliverSuccessWebhook(ctx, *job, payload)
	w.publishEvent(ctx, job.ID, nfce.StatusDone)
	return nil
}

// fail is the catch-all failure path. It inspects the page for block
// or rejection indicators, classifies with the caught error, persists
// the outcome, notifies, sweeps stale pages, and re-throws only for
// retryable outcomes.
func (w *Worker) fail(ctx context.Context, job *nfce.Job, page nfce.Page, cause error) error {
	var pageText string
	if page != nil {
		pageText = w.visibleText(ctx, page)
		w.snapshotPage(ctx, job, page)
	}

	status := classify.Outcome(cause, pageText)
	lastError := composeErrorMessage(pageText, cause)

	if err := w.persistFailure(ctx, job, status, lastError); err != nil {
		w.logger.Error("persisting failure status",
			zap.String("job_id", job.ID), zap.Error(err))
	}

	w.deliverFailureWebhook(ctx, *job, status, cause.Error(), lastError)

	if swept := w.pool.SweepStalePages(w.cfg.PageMaxAge); swept > 0 {
		w.logger.Info("swept stale pages", zap.Int("count", swept))
	}

	w.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Error(cause))

	if status.Terminal() {
		w.publishEvent(ctx, job.ID, status)
		return nil
	}
	return fmt.Errorf("job %s failed: %w", job.ID, cause)
}

func (w *Worker) escalate(ctx context.Context, job *nfce.Job, msg nfce.Message, pageText string) error {
	escMsg := nfce.Message{
		JobID:            job.ID,
		URL:              job.NormalizedURL,
		JurisdictionCode: job.JurisdictionCode,
		WebhookURL:       job.WebhookURL,
	}
	if _, err := w.escalation.Enqueue(ctx, escMsg, nfce.EnqueueOptions{}); err != nil {
		// Without the escalation handoff the job must stay retryable.
		return w.fail(ctx, job, nil, fmt.Errorf("escalating job %s: %w", job.ID, err))
	}

	if err := w.persistFailure(ctx, job, nfce.StatusWaitingCaptcha, pageText); err != nil {
		return err
	}
	w.logger.Info("job escalated for challenge resolution", zap.String("job_id", job.ID))
	w.publishEvent(ctx, job.ID, nfce.StatusWaitingCaptcha)
	return nil
}

func (w *Worker) finishTerminal(ctx context.Context, job *nfce.Job, status nfce.Status, lastError string) error {
	if err := w.persistFailure(ctx, job, status, lastError); err != nil {
		return err
	}
	w.deliverFailureWebhook(ctx, *job, status, lastError, lastError)
	w.publishEvent(ctx, job.ID, status)
	return nil
}

func (w *Worker) persistFailure(ctx context.Context, job *nfce.Job, status nfce.Status, lastError string) error {
	endedAt := w.clock.Now()
	if err := w.jobs.FinishJob(ctx, job.ID, status, endedAt, lastError); err != nil {
		return fmt.Errorf("persisting %s for job %s: %w", status, job.ID, err)
	}
	job.Status = status
	job.ProcessingEndedAt = &endedAt
	job.LastErrorMessage = lastError
	metrics.ObserveJob(string(status), job.ProcessingDuration())
	return nil
}

func (w *Worker) persistResult(ctx context.Context, job *nfce.Job, payload nfce.Payload) error {
	id, err := w.ids.NewID()
	if err != nil {
		return fmt.Errorf("generating result id: %w", err)
	}
	result := nfce.Result{
		ID:         id,
		JobID:      job.ID,
		URL:        job.URL,
		WebhookURL: job.WebhookURL,
		Payload:    payload,
		CreatedAt:  w.clock.Now(),
	}
	if err := w.results.CreateResult(ctx, result); err != nil {
		return fmt.Errorf("persisting result for job %s: %w", job.ID, err)
	}
	return nil
}

// visibleText prefers the portal's error banner when it is present,
// else falls back to the whole body text.
func (w *Worker) visibleText(ctx context.Context, page nfce.Page) string {
	if ok, err := page.HasElement(ctx, w.cfg.ErrorBannerSelector); err == nil && ok {
		if text, err := page.Text(ctx, w.cfg.ErrorBannerSelector); err == nil && strings.TrimSpace(text) != "" {
			return text
		}
	}
	text, err := page.BodyText(ctx)
	if err != nil {
		return ""
	}
	return text
}

func (w *Worker) snapshotPage(ctx context.Context, job *nfce.Job, page nfce.Page) {
	if w.artifacts == nil {
		return
	}
	html, err := page.HTML(ctx)
	if err != nil || html == "" {
		return
	}
	path := fmt.Sprintf("%s/%s/%d.html", w.cfg.SnapshotPrefix, job.ID, w.clock.Now().UnixMilli())
	uri, err := w.artifacts.Save(ctx, path, "text/html; charset=utf-8", []byte(html))
	if err != nil {
		w.logger.Warn("saving failure snapshot",
			zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	w.logger.Info("failure snapshot saved",
		zap.String("job_id", job.ID), zap.String("uri", uri))
}

func (w *Worker) deliverSuccessWebhook(ctx context.Context, job nfce.Job, payload nfce.Payload) {
	if w.notifier == nil || job.WebhookURL == "" {
		return
	}
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
	if err := w.notifier.Deliver(ctx, wp); err != nil {
		w.logger.Warn("webhook delivery failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) deliverFailureWebhook(ctx context.Context, job nfce.Job, status nfce.Status, errMsg, lastError string) {
	if w.notifier == nil || job.WebhookURL == "" {
		return
	}
	wp := nfce.WebhookPayload{
		Status:               status,
		URL:                  job.URL,
		WebhookURL:           job.WebhookURL,
		CreatedAt:            job.CreatedAt,
		URLQueueID:           job.ID,
		ProcessingStartedAt:  job.ProcessingStartedAt,
		ProcessingEndedAt:    job.ProcessingEndedAt,
		ProcessingDurationMs: job.ProcessingDuration().Milliseconds(),
		Error:                errMsg,
		LastErrorMessage:     lastError,
	}
	if err := w.notifier.Deliver(ctx, wp); err != nil {
		w.logger.Warn("webhook delivery failed",
			zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) publishEvent(ctx context.Context, jobID string, status nfce.Status) {
	if w.publisher == nil {
		return
	}
	event := nfce.JobEvent{JobID: jobID, Status: status, OccurredAt: w.clock.Now()}
	if err := w.publisher.PublishJobEvent(ctx, event); err != nil {
		w.logger.Warn("publishing job event",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

// maxPageTextInError caps how much page text ends up in the ledger.
const maxPageTextInError = 500

func composeErrorMessage(pageText string, cause error) string {
	text := strings.Join(strings.Fields(pageText), " ")
	if len(text) > maxPageTextInError {
		// Back up to a rune boundary so accented page text is not cut
		// mid-sequence.
		cut := maxPageTextInError
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	switch {
	case text == "" && cause == nil:
		return ""
	case text == "":
		return cause.Error()
	case cause == nil:
		return text
	default:
		return text + ": " + cause.Error()
	}
}
