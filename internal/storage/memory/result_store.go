package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// ResultStore is a mutex-guarded in-memory nfce.ResultStore. It
// enforces the one-result-per-job invariant the Postgres store gets
// from its unique index.
type ResultStore struct {
	mu      sync.Mutex
	byJobID map[string]nfce.Result
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{byJobID: make(map[string]nfce.Result)}
}

// CreateResult stores one scrape result.
func (s *ResultStore) CreateResult(_ context.Context, result nfce.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byJobID[result.JobID]; exists {
		return fmt.Errorf("job %s already has a result", result.JobID)
	}
	s.byJobID[result.JobID] = result
	return nil
}

// GetResultByJobID reads the result for a job, if one exists.
func (s *ResultStore) GetResultByJobID(_ context.Context, jobID string) (nfce.Result, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.byJobID[jobID]
	return result, ok, nil
}
