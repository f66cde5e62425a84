package nfce

import (
	"context"
	"time"
)

// JobStore persists ledger rows. Status mutations are last-writer-wins
// except ClaimNextPending, which must be atomic.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	SetQueueMessageID(ctx context.Context, jobID, messageID string) error
	MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error
	FinishJob(ctx context.Context, jobID string, status Status, endedAt time.Time, lastError string) error
	// ResetJob moves an ERROR/BLOCKED job back to PENDING and clears
	// error fields and timestamps (operator reprocessing).
	ResetJob(ctx context.Context, jobID string) error
	// ClaimNextPending atomically claims the oldest processable job,
	// marking it PROCESSING. Used by the polling fallback only.
	ClaimNextPending(ctx context.Context) (Job, bool, error)
}

// ResultStore persists scrape outputs, one per DONE job.
type ResultStore interface {
	CreateResult(ctx context.Context, result Result) error
	GetResultByJobID(ctx context.Context, jobID string) (Result, bool, error)
}

// Queue is the producer side of the durable work queue.
type Queue interface {
	Enqueue(ctx context.Context, msg Message, opts EnqueueOptions) (string, error)
}

// Handler processes one delivered message. A returned error reschedules
// the message per the queue's backoff policy; nil acknowledges it.
type Handler func(ctx context.Context, msg Message) error

// Consumer is the worker side of the queue. Consume blocks until the
// context finishes, draining messages with the given concurrency.
type Consumer interface {
	Consume(ctx context.Context, concurrency int, h Handler) error
}

// Page is one isolated browser tab opened on a lookup URL.
type Page interface {
	URL() string
	CreatedAt() time.Time
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	HasElement(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	BodyText(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	HasFrameMatching(ctx context.Context, urlSubstring string) (bool, error)
	Evaluate(ctx context.Context, expression string, out any) error
	Click(ctx context.Context, selector string) error
	SendKeys(ctx context.Context, selector, value string) error
	Close() error
}

// BrowserPool owns the shared browser process and issues pages.
type BrowserPool interface {
	OpenPage(ctx context.Context, url string) (Page, error)
	OpenPages() []Page
	// SweepStalePages closes pages whose creation time exceeds maxAge
	// and returns how many were closed.
	SweepStalePages(maxAge time.Duration) int
	Close(ctx context.Context) error
}

// Scraper extracts structured receipt data from a rendered page. It
// must not fail for recoverable missing-section cases; partial data is
// returned instead.
type Scraper interface {
	Scrape(ctx context.Context, page Page) (Payload, error)
}

// Notifier delivers the terminal webhook callback. Best effort: a
// delivery failure never alters job status.
type Notifier interface {
	Deliver(ctx context.Context, payload WebhookPayload) error
}

// Publisher emits terminal job events to an external topic.
type Publisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error
}

// ArtifactStore writes failure-page snapshots and returns a URI.
type ArtifactStore interface {
	Save(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job/result IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
