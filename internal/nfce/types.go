// Package nfce defines core types shared across subsystems.
package nfce

import (
	"time"
)

// Status represents the lifecycle state of a scrape job.
type Status string

// Job status values persisted in the job ledger.
const (
	StatusPending        Status = "PENDING"
	StatusProcessing     Status = "PROCESSING"
	StatusDone           Status = "DONE"
	StatusError          Status = "ERROR"
	StatusBlocked        Status = "BLOCKED"
	StatusInvalid        Status = "INVALID"
	StatusWaitingCaptcha Status = "WAITING_CAPTCHA"
)

// Terminal reports whether the core will not automatically re-attempt
// processing from this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusInvalid, StatusWaitingCaptcha:
		return true
	default:
		return false
	}
}

// Processable reports whether a redelivered message for a job in this
// status should be processed. Anything else is treated as already
// handled and acknowledged without side effects.
func (s Status) Processable() bool {
	switch s {
	case StatusPending, StatusError, StatusBlocked:
		return true
	default:
		return false
	}
}

// Job is the ledger row persisted for each submitted lookup URL.
type Job struct {
	ID                  string     `json:"id"`
	URL                 string     `json:"url"`
	NormalizedURL       string     `json:"normalizedUrl"`
	JurisdictionCode    string     `json:"jurisdictionCode"`
	Status              Status     `json:"status"`
	WebhookURL          string     `json:"webhookUrl,omitempty"`
	OwnerTokenID        string     `json:"ownerTokenId,omitempty"`
	QueueMessageID      string     `json:"queueMessageId,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	ProcessingEndedAt   *time.Time `json:"processingEndedAt,omitempty"`
	LastErrorMessage    string     `json:"lastErrorMessage,omitempty"`
}

// ProcessingDuration derives the elapsed processing time, or zero when
// the job has not finished.
func (j Job) ProcessingDuration() time.Duration {
	if j.ProcessingStartedAt == nil || j.ProcessingEndedAt == nil {
		return 0
	}
	return j.ProcessingEndedAt.Sub(*j.ProcessingStartedAt)
}

// Item is one product line extracted from the receipt page.
type Item struct {
	Code       string `json:"code"`
	Title      string `json:"title"`
	Quantity   string `json:"quantity"`
	Unit       string `json:"unit"`
	UnitPrice  string `json:"unitPrice"`
	TotalPrice string `json:"totalPrice"`
}

// Totals holds the monetary summary block of the receipt.
type Totals struct {
	TotalItems    string `json:"totalItems,omitempty"`
	TotalValue    string `json:"totalValue,omitempty"`
	Discount      string `json:"discount,omitempty"`
	AmountToPay   string `json:"amountToPay,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	PaymentType   string `json:"paymentType,omitempty"`
	PaymentAmount string `json:"paymentAmount,omitempty"`
	TaxInfo       string `json:"taxInfo,omitempty"`
}

// Metadata carries document-level fields some jurisdictions expose.
type Metadata struct {
	Number       string `json:"numero,omitempty"`
	Series       string `json:"serie,omitempty"`
	IssuedAt     string `json:"dataEmissao,omitempty"`
	AuthProtocol string `json:"protocoloAutorizacao,omitempty"`
	IssuerName   string `json:"nomeEmpresa,omitempty"`
	IssuerTaxID  string `json:"cnpj,omitempty"`
}

// Payload is the structured output of one scraper strategy run.
type Payload struct {
	Metadata *Metadata `json:"metadata,omitempty"`
	Items    []Item    `json:"items"`
	Totals   Totals    `json:"totals"`
}

// Result is the persisted scrape output. At most one exists per job,
// created only on the transition to DONE.
type Result struct {
	ID         string    `json:"id"`
	JobID      string    `json:"jobId"`
	URL        string    `json:"url"`
	WebhookURL string    `json:"webhookUrl,omitempty"`
	Payload    Payload   `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Message is the queue-resident job envelope. Its lifecycle is
// independent of the ledger row.
type Message struct {
	ID               string `json:"id"`
	JobID            string `json:"jobId"`
	URL              string `json:"url"`
	JurisdictionCode string `json:"jurisdictionCode"`
	WebhookURL       string `json:"webhookUrl,omitempty"`
	AttemptsMade     int    `json:"attemptsMade"`
	MaxAttempts      int    `json:"maxAttempts"`
}

// EnqueueOptions control delivery timing and the retry budget of a
// single enqueued message.
type EnqueueOptions struct {
	Delay       time.Duration
	MaxAttempts int
	BackoffBase time.Duration
}

// WebhookPayload is the terminal callback envelope. Metadata is nil and
// Error/LastErrorMessage are set for non-DONE outcomes.
type WebhookPayload struct {
	Status               Status     `json:"status"`
	URL                  string     `json:"url"`
	WebhookURL           string     `json:"webhookUrl,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	URLQueueID           string     `json:"urlQueueId"`
	ProcessingStartedAt  *time.Time `json:"processingStartedAt,omitempty"`
	ProcessingEndedAt    *time.Time `json:"processingEndedAt,omitempty"`
	ProcessingDurationMs int64      `json:"processingDurationMs"`
	Metadata             *Payload   `json:"metadata"`
	Error                string     `json:"error,omitempty"`
	LastErrorMessage     string     `json:"lastErrorMessage,omitempty"`
}

// JobEvent is published on every terminal transition for downstream
// consumers (dashboards, alerting).
type JobEvent struct {
	JobID      string    `json:"job_id"`
	Status     Status    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}
