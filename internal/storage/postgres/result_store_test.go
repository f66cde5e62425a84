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

func TestCreateResultInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewResultStoreWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	result := nfce.Result{
		ID:        "res-1",
		JobID:     "job-1",
		URL:       "http://u",
		Payload:   nfce.Payload{Items: []nfce.Item{{Title: "CAFE", Code: "1"}}},
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO nota_results").
		WithArgs(result.ID, result.JobID, result.URL, result.WebhookURL,
			pgxmock.AnyArg(), result.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResultByJobIDDecodesPayload(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewResultStoreWithPool(mock)

	now := time.Unix(1700000000, 0).UTC()
	payload := []byte(`{"items":[{"code":"1","title":"CAFE","quantity":"1","unit":"UN","unitPrice":"18,90","totalPrice":"18,90"}],"totals":{"amountToPay":"18,90"}}`)

	mock.ExpectQuery("SELECT (.+) FROM nota_results").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "job_id", "url", "webhook_url", "payload", "created_at",
		}).AddRow("res-1", "job-1", "http://u", (*string)(nil), payload, now))

	result, found, err := store.GetResultByJobID(context.Background(), "job-1")
	require.NoError(t, err)
	require.True(t, found)

	require.Len(t, result.Payload.Items, 1)
	assert.Equal(t, "CAFE", result.Payload.Items[0].Title)
	assert.Equal(t, "18,90", result.Payload.Totals.AmountToPay)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResultByJobIDMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewResultStoreWithPool(mock)

	mock.ExpectQuery("SELECT (.+) FROM nota_results").
		WithArgs("job-9").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.GetResultByJobID(context.Background(), "job-9")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}
