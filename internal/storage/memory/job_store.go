// Package memory provides in-memory store implementations for tests
// and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

// JobStore is a mutex-guarded in-memory nfce.JobStore.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]nfce.Job
}

// NewJobStore constructs an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]nfce.Job)}
}

// CreateJob stores a new ledger row.
func (s *JobStore) CreateJob(_ context.Context, job nfce.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob reads one row by id.
func (s *JobStore) GetJob(_ context.Context, jobID string) (nfce.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nfce.Job{}, nfce.ErrJobNotFound
	}
	return job, nil
}

// SetQueueMessageID stores the queue message identifier on the row.
func (s *JobStore) SetQueueMessageID(_ context.Context, jobID, messageID string) error {
	return s.update(jobID, func(job *nfce.Job) {
		job.QueueMessageID = messageID
	})
}

// MarkProcessing transitions the row to PROCESSING.
func (s *JobStore) MarkProcessing(_ context.Context, jobID string, startedAt time.Time) error {
	return s.update(jobID, func(job *nfce.Job) {
		job.Status = nfce.StatusProcessing
		job.ProcessingStartedAt = &startedAt
	})
}

// FinishJob records the outcome of a processing attempt.
func (s *JobStore) FinishJob(_ context.Context, jobID string, status nfce.Status, endedAt time.Time, lastError string) error {
	return s.update(jobID, func(job *nfce.Job) {
		job.Status = status
		job.ProcessingEndedAt = &endedAt
		job.LastErrorMessage = lastError
	})
}

// ResetJob moves an ERROR or BLOCKED row back to PENDING.
func (s *JobStore) ResetJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nfce.ErrJobNotFound
	}
	if job.Status != nfce.StatusError && job.Status != nfce.StatusBlocked {
		return fmt.Errorf("job %s is not in a resettable status", jobID)
	}
	job.Status = nfce.StatusPending
	job.ProcessingStartedAt = nil
	job.ProcessingEndedAt = nil
	job.LastErrorMessage = ""
	s.jobs[jobID] = job
	return nil
}

// ClaimNextPending claims the oldest processable row under the store
// lock, so concurrent claimers never pick the same job.
func (s *JobStore) ClaimNextPending(_ context.Context) (nfce.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]nfce.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Status.Processable() {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nfce.Job{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	claimed := candidates[0]
	now := time.Now()
	claimed.Status = nfce.StatusProcessing
	claimed.ProcessingStartedAt = &now
	s.jobs[claimed.ID] = claimed
	return claimed, true, nil
}

func (s *JobStore) update(jobID string, fn func(*nfce.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nfce.ErrJobNotFound
	}
	fn(&job)
	s.jobs[jobID] = job
	return nil
}
