package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelpaco/nfce-scraper-service/internal/nfce"
)

func TestDeliverPostsPayload(t *testing.T) {
	var got nfce.WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	payload := nfce.WebhookPayload{
		Status:               nfce.StatusDone,
		URL:                  "http://nfe.sefaz.ba.gov.br/example",
		WebhookURL:           srv.URL,
		URLQueueID:           "job-1",
		ProcessingDurationMs: 1200,
		Metadata:             &nfce.Payload{Totals: nfce.Totals{TotalValue: "10,00"}},
	}

	err := NewNotifier(nil).Deliver(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, nfce.StatusDone, got.Status)
	assert.Equal(t, "job-1", got.URLQueueID)
	assert.Equal(t, int64(1200), got.ProcessingDurationMs)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "10,00", got.Metadata.Totals.TotalValue)
}

func TestDeliverNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewNotifier(nil).Deliver(context.Background(), nfce.WebhookPayload{WebhookURL: srv.URL})
	assert.Error(t, err)
}

func TestDeliverUnreachable(t *testing.T) {
	n := NewNotifier(nil, WithTimeout(200*time.Millisecond))
	err := n.Deliver(context.Background(), nfce.WebhookPayload{WebhookURL: "http://127.0.0.1:1/hook"})
	assert.Error(t, err)
}

func TestDeliverSkipsEmptyURL(t *testing.T) {
	err := NewNotifier(nil).Deliver(context.Background(), nfce.WebhookPayload{})
	assert.NoError(t, err)
}
