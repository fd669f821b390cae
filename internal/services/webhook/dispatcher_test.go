package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/acta/internal/services/status"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := &common.WebhookConfig{
		MaxRetries:     3,
		RetryBackoff:   "1ms", // keep retries fast in tests
		RequestTimeout: "5s",
	}
	return NewDispatcher(cfg, status.NewManager(false), common.GetLogger())
}

func testPayload() *models.WebhookPayload {
	return &models.WebhookPayload{
		ProcessNumber:      "1000001-11.2024.8.26.0100",
		JobID:              "job_test",
		Status:             "completed",
		TotalDocuments:     1,
		CompletedDocuments: 1,
	}
}

func TestDeliverSuccess(t *testing.T) {
	var gotID, gotAttempt, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Webhook-ID")
		gotAttempt = r.Header.Get("X-Webhook-Attempt")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := newTestDispatcher(t)
	result := d.Deliver(context.Background(), server.URL, testPayload())

	require.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, http.StatusOK, result.LastStatusCode)
	assert.NotNil(t, result.SentAt)
	assert.Empty(t, result.LastError)
	assert.Equal(t, "job_test", gotID)
	assert.Equal(t, "1", gotAttempt)
	assert.Equal(t, "application/json", gotContentType)
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d := newTestDispatcher(t)
	result := d.Deliver(context.Background(), server.URL, testPayload())

	require.True(t, result.Success)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, http.StatusNoContent, result.LastStatusCode)
}

func TestDeliverExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := newTestDispatcher(t)
	result := d.Deliver(context.Background(), server.URL, testPayload())

	require.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, http.StatusServiceUnavailable, result.LastStatusCode)
	assert.Equal(t, models.WebhookFailureHTTPStatus, result.Failure)
	assert.Contains(t, result.LastError, "503")
	assert.Nil(t, result.SentAt)
}

func TestDeliverDoesNotFollowRedirects(t *testing.T) {
	var targetCalls atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		targetCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer server.Close()

	d := newTestDispatcher(t)
	result := d.Deliver(context.Background(), server.URL, testPayload())

	require.False(t, result.Success)
	assert.Equal(t, http.StatusFound, result.LastStatusCode)
	assert.Equal(t, models.WebhookFailureHTTPStatus, result.Failure)
	assert.Equal(t, int32(0), targetCalls.Load(), "redirect target must never be called")
}

func TestDeliverRejectsInvalidURL(t *testing.T) {
	d := newTestDispatcher(t)
	result := d.Deliver(context.Background(), "http://evil.example:22/x", testPayload())

	require.False(t, result.Success)
	assert.Equal(t, 0, result.Attempts)
	assert.Contains(t, result.LastError, "not allowed")
}

func TestConnectivityProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := newTestDispatcher(t)
	result := d.TestConnectivity(context.Background(), server.URL)

	require.True(t, result.Reachable)
	assert.Equal(t, http.StatusAccepted, result.StatusCode)
}

func TestConnectivityProbeUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // reachable URL, closed listener

	d := newTestDispatcher(t)
	result := d.TestConnectivity(context.Background(), server.URL)

	require.False(t, result.Reachable)
	assert.NotEmpty(t, result.Error)
}
