package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

func TestPollerClaimsAndRunsJob(t *testing.T) {
	job := pendingJob()
	page := &fakePage{bodyText: "itens da nota"}
	f := newFixture(t, job, &fakePool{page: page}, &fakeScraper{payload: nfce.Payload{Items: []nfce.Item{{Title: "X"}}}})

	p := NewPoller(f.worker, f.jobs, 0, nil)
	p.tick(context.Background())

	assert.Equal(t, nfce.StatusDone, f.jobs.status(job.ID))
	require.Len(t, f.results.results, 1)
}

func TestPollerNoPendingJobsIsQuiet(t *testing.T) {
	job := pendingJob()
	job.Status = nfce.StatusDone
	f := newFixture(t, job, &fakePool{page: &fakePage{}}, &fakeScraper{})

	p := NewPoller(f.worker, f.jobs, 0, nil)
	p.tick(context.Background())

	assert.Empty(t, f.results.results)
}
