package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// ResultStore implements nfce.ResultStore over the nota_results table.
// A unique index on job_id enforces the at-most-one-result invariant.
type ResultStore struct {
	pool dbPool
}

// NewResultStore connects a pool and returns the store.
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: pool}, nil
}

// NewResultStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewResultStoreWithPool(pool dbPool) *ResultStore {
	return &ResultStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateResult inserts one scrape result row.
func (s *ResultStore) CreateResult(ctx context.Context, result nfce.Result) error {
	payload, err := json.Marshal(result.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode result payload: %w", err)
	}
	query := `
		INSERT INTO nota_results (id, job_id, url, webhook_url, payload, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6);
	`
	_, err = s.pool.Exec(ctx, query,
		result.ID, result.JobID, result.URL, result.WebhookURL, payload, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// GetResultByJobID reads the result for a job, if one exists.
func (s *ResultStore) GetResultByJobID(ctx context.Context, jobID string) (nfce.Result, bool, error) {
	query := `
		SELECT id, job_id, url, webhook_url, payload, created_at
		FROM nota_results
		WHERE job_id = $1;
	`
	var (
		result     nfce.Result
		webhookURL *string
		payload    []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&result.ID, &result.JobID, &result.URL, &webhookURL, &payload, &result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nfce.Result{}, false, nil
		}
		return nfce.Result{}, false, fmt.Errorf("failed to read result: %w", err)
	}
	if webhookURL != nil {
		result.WebhookURL = *webhookURL
	}
	if err := json.Unmarshal(payload, &result.Payload); err != nil {
		return nfce.Result{}, false, fmt.Errorf("failed to decode result payload: %w", err)
	}
	return result, true, nil
}
