package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

type fakeSolver struct {
	solved bool
	err    error
}

func (f *fakeSolver) Resolve(context.Context, nfce.Page) (bool, error) {
	return f.solved, f.err
}

func waitingJob() nfce.Job {
	job := pendingJob()
	job.Status = nfce.StatusWaitingCaptcha
	return job
}

func newEscalation(jobs *fakeJobStore, results *fakeResultStore, pool *fakePool, scraper nfce.Scraper, solver ChallengeSolver) *Escalation {
	return NewEscalation(
		jobs, results, pool, &fakeResolver{scraper: scraper}, &fakeNotifier{},
		fixedClock{t: time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)},
		&seqIDs{}, solver, Config{}, nil,
	)
}

func TestEscalationWithoutSolverDropsMessageJobStaysWaiting(t *testing.T) {
	job := waitingJob()
	jobs := newFakeJobStore(job)
	e := newEscalation(jobs, &fakeResultStore{}, &fakePool{page: &fakePage{}}, &fakeScraper{}, nil)

	err := e.Handle(context.Background(), msgFor(job))
	require.NoError(t, err)
	assert.Equal(t, nfce.StatusWaitingCaptcha, jobs.status(job.ID))
}

func TestEscalationSolvesAndFinishes(t *testing.T) {
	job := waitingJob()
	jobs := newFakeJobStore(job)
	results := &fakeResultStore{}
	scraper := &fakeScraper{payload: nfce.Payload{Items: []nfce.Item{{Title: "X"}}}}
	e := newEscalation(jobs, results, &fakePool{page: &fakePage{bodyText: "itens"}}, scraper, &fakeSolver{solved: true})

	err := e.Handle(context.Background(), msgFor(job))
	require.NoError(t, err)

	assert.Equal(t, nfce.StatusDone, jobs.status(job.ID))
	require.Len(t, results.results, 1)
	assert.Equal(t, job.ID, results.results[0].JobID)
}

func TestEscalationUnsolvedIsRetried(t *testing.T) {
	job := waitingJob()
	jobs := newFakeJobStore(job)
	e := newEscalation(jobs, &fakeResultStore{}, &fakePool{page: &fakePage{}}, &fakeScraper{}, &fakeSolver{solved: false})

	err := e.Handle(context.Background(), msgFor(job))
	require.Error(t, err)
	assert.Equal(t, nfce.StatusWaitingCaptcha, jobs.status(job.ID))
}

func TestEscalationSolverFailureIsRetried(t *testing.T) {
	job := waitingJob()
	jobs := newFakeJobStore(job)
	e := newEscalation(jobs, &fakeResultStore{}, &fakePool{page: &fakePage{}}, &fakeScraper{}, &fakeSolver{err: errors.New("provider down")})

	err := e.Handle(context.Background(), msgFor(job))
	require.Error(t, err)
}

func TestEscalationSkipsJobNoLongerWaiting(t *testing.T) {
	job := pendingJob()
	job.Status = nfce.StatusDone
	jobs := newFakeJobStore(job)
	results := &fakeResultStore{}
	e := newEscalation(jobs, results, &fakePool{page: &fakePage{}}, &fakeScraper{}, &fakeSolver{solved: true})

	err := e.Handle(context.Background(), msgFor(job))
	require.NoError(t, err)
	assert.Empty(t, results.results)
}
