package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

var jobCols = []string{
	"id", "url", "normalized_url", "jurisdiction_code", "status", "webhook_url",
	"owner_token_id", "queue_message_id", "created_at", "processing_started_at",
	"processing_ended_at", "last_error_message",
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	job := nfce.Job{
		ID:               "job-1",
		URL:              "http://nfe.sefaz.ba.gov.br/qrcode?p=2924|2|1|4|A",
		NormalizedURL:    "http://nfe.sefaz.ba.gov.br/qrcode?p=2924|2|1|4|A",
		JurisdictionCode: "29",
		Status:           nfce.StatusPending,
		WebhookURL:       "http://callback.example/hook",
		CreatedAt:        now,
	}

	mock.ExpectExec("INSERT INTO url_queue").
		WithArgs(job.ID, job.URL, job.NormalizedURL, job.JurisdictionCode,
			job.Status, job.WebhookURL, job.OwnerTokenID, job.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	started := now.Add(time.Minute)
	webhook := "http://callback.example/hook"
	lastErr := "timeout"

	mock.ExpectQuery("SELECT (.+) FROM url_queue").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(
			"job-1", "http://u", "http://u", "33", nfce.StatusError,
			&webhook, (*string)(nil), (*string)(nil), now, &started,
			(*time.Time)(nil), &lastErr,
		))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)

	assert.Equal(t, nfce.StatusError, job.Status)
	assert.Equal(t, webhook, job.WebhookURL)
	assert.Equal(t, lastErr, job.LastErrorMessage)
	require.NotNil(t, job.ProcessingStartedAt)
	assert.Equal(t, started, *job.ProcessingStartedAt)
	assert.Nil(t, job.ProcessingEndedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	mock.ExpectQuery("SELECT (.+) FROM url_queue").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, nfce.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishJobUpdatesStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	endedAt := time.Unix(1700000300, 0).UTC()
	mock.ExpectExec("UPDATE url_queue").
		WithArgs("job-1", nfce.StatusBlocked, endedAt, "Acesso bloqueado").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.FinishJob(context.Background(), "job-1", nfce.StatusBlocked, endedAt, "Acesso bloqueado"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResetJobRejectsNonResettable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	resettable := []string{string(nfce.StatusError), string(nfce.StatusBlocked)}
	mock.ExpectExec("UPDATE url_queue").
		WithArgs("job-1", nfce.StatusPending, resettable).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM url_queue").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(
			"job-1", "http://u", "http://u", "29", nfce.StatusDone,
			(*string)(nil), (*string)(nil), (*string)(nil),
			time.Unix(1700000000, 0).UTC(), (*time.Time)(nil),
			(*time.Time)(nil), (*string)(nil),
		))

	err = store.ResetJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in a resettable status")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextPendingEmpty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithPool(mock)

	processable := []string{
		string(nfce.StatusPending), string(nfce.StatusError), string(nfce.StatusBlocked),
	}
	mock.ExpectQuery("UPDATE url_queue").
		WithArgs(nfce.StatusProcessing, processable).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.ClaimNextPending(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
