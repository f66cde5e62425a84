// Package postgres provides Postgres-backed persistence for the job
// ledger and scrape results.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

func newPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// JobStore implements nfce.JobStore over the url_queue table.
type JobStore struct {
	pool dbPool
}

// NewJobStore connects a pool and returns the store.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewJobStoreWithPool(pool dbPool) *JobStore {
	return &JobStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, url, normalized_url, jurisdiction_code, status, webhook_url,
	owner_token_id, queue_message_id, created_at, processing_started_at,
	processing_ended_at, last_error_message`

// CreateJob inserts a new PENDING ledger row.
func (s *JobStore) CreateJob(ctx context.Context, job nfce.Job) error {
	query := `
		INSERT INTO url_queue (id, url, normalized_url, jurisdiction_code, status,
			webhook_url, owner_token_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8);
	`
	_, err := s.pool.Exec(ctx, query,
		job.ID, job.URL, job.NormalizedURL, job.JurisdictionCode, job.Status,
		job.WebhookURL, job.OwnerTokenID, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob reads one ledger row by id.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (nfce.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM url_queue WHERE id = $1;`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nfce.Job{}, nfce.ErrJobNotFound
		}
		return nfce.Job{}, fmt.Errorf("failed to read job: %w", err)
	}
	return job, nil
}

// SetQueueMessageID stores the queue's message identifier on the row.
func (s *JobStore) SetQueueMessageID(ctx context.Context, jobID, messageID string) error {
	query := `UPDATE url_queue SET queue_message_id = $2 WHERE id = $1;`
	if _, err := s.pool.Exec(ctx, query, jobID, messageID); err != nil {
		return fmt.Errorf("failed to set queue message id: %w", err)
	}
	return nil
}

// MarkProcessing transitions the row to PROCESSING and records the
// start timestamp.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) error {
	query := `
		UPDATE url_queue
		SET status = $2, processing_started_at = $3
		WHERE id = $1;
	`
	if _, err := s.pool.Exec(ctx, query, jobID, nfce.StatusProcessing, startedAt); err != nil {
		return fmt.Errorf("failed to mark job processing: %w", err)
	}
	return nil
}

// FinishJob records the outcome of a processing attempt.
func (s *JobStore) FinishJob(ctx context.Context, jobID string, status nfce.Status, endedAt time.Time, lastError string) error {
	query := `
		UPDATE url_queue
		SET status = $2, processing_ended_at = $3, last_error_message = NULLIF($4, '')
		WHERE id = $1;
	`
	if _, err := s.pool.Exec(ctx, query, jobID, status, endedAt, lastError); err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// ResetJob moves an ERROR or BLOCKED job back to PENDING for operator
// reprocessing.
func (s *JobStore) ResetJob(ctx context.Context, jobID string) error {
	query := `
		UPDATE url_queue
		SET status = $2, processing_started_at = NULL,
			processing_ended_at = NULL, last_error_message = NULL
		WHERE id = $1 AND status = ANY($3);
	`
	resettable := []string{string(nfce.StatusError), string(nfce.StatusBlocked)}
	tag, err := s.pool.Exec(ctx, query, jobID, nfce.StatusPending, resettable)
	if err != nil {
		return fmt.Errorf("failed to reset job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("job %s is not in a resettable status", jobID)
	}
	return nil
}

// ClaimNextPending atomically claims the oldest processable row and
// marks it PROCESSING. SKIP LOCKED keeps concurrent pollers off the
// same row.
func (s *JobStore) ClaimNextPending(ctx context.Context) (nfce.Job, bool, error) {
	query := `
		UPDATE url_queue
		SET status = $1, processing_started_at = now()
		WHERE id = (
			SELECT id FROM url_queue
			WHERE status = ANY($2)
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns + `;`
	processable := []string{
		string(nfce.StatusPending), string(nfce.StatusError), string(nfce.StatusBlocked),
	}
	job, err := scanJob(s.pool.QueryRow(ctx, query, nfce.StatusProcessing, processable))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nfce.Job{}, false, nil
		}
		return nfce.Job{}, false, fmt.Errorf("failed to claim next job: %w", err)
	}
	return job, true, nil
}

func scanJob(row pgx.Row) (nfce.Job, error) {
	var (
		job            nfce.Job
		webhookURL     *string
		ownerTokenID   *string
		queueMessageID *string
		lastError      *string
	)
	err := row.Scan(
		&job.ID, &job.URL, &job.NormalizedURL, &job.JurisdictionCode, &job.Status,
		&webhookURL, &ownerTokenID, &queueMessageID, &job.CreatedAt,
		&job.ProcessingStartedAt, &job.ProcessingEndedAt, &lastError,
	)
	if err != nil {
		return nfce.Job{}, err
	}
	if webhookURL != nil {
		job.WebhookURL = *webhookURL
	}
	if ownerTokenID != nil {
		job.OwnerTokenID = *ownerTokenID
	}
	if queueMessageID != nil {
		job.QueueMessageID = *queueMessageID
	}
	if lastError != nil {
		job.LastErrorMessage = *lastError
	}
	return job, nil
}
