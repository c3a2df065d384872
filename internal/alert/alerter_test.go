package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAlert() Alert {
	return Alert{
		Type:    AlertTypeUnhealthy,
		Title:   "Projector unhealthy",
		Message: "stream has not advanced",
		Fields: map[string]string{
			"source":   "ledger",
			"position": "42-0",
		},
	}
}

func TestSlackAlerter_Send(t *testing.T) {
	var received atomic.Int64
	var lastBody atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewSlackAlerter(srv.URL)
	err := a.Send(context.Background(), testAlert())
	require.NoError(t, err)
	assert.Equal(t, int64(1), received.Load())

	var payload map[string]string
	require.NoError(t, json.Unmarshal(lastBody.Load().([]byte), &payload))
	assert.Contains(t, payload["text"], "Projector unhealthy")
	assert.Contains(t, payload["text"], "position: 42-0")
	assert.Contains(t, payload["text"], ":warning:")
}

func TestSlackAlerter_RecoveryEmoji(t *testing.T) {
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(body)
	}))
	defer srv.Close()

	a := NewSlackAlerter(srv.URL)
	alert := testAlert()
	alert.Type = AlertTypeRecovery
	require.NoError(t, a.Send(context.Background(), alert))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(lastBody.Load().([]byte), &payload))
	assert.Contains(t, payload["text"], ":white_check_mark:")
}

func TestSlackAlerter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewSlackAlerter(srv.URL)
	err := a.Send(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestWebhookAlerter_Send(t *testing.T) {
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		lastBody.Store(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a := NewWebhookAlerter(srv.URL)
	require.NoError(t, a.Send(context.Background(), testAlert()))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(lastBody.Load().([]byte), &payload))
	assert.Equal(t, string(AlertTypeUnhealthy), payload["type"])
	assert.Equal(t, "Projector unhealthy", payload["title"])
	assert.Equal(t, "stream has not advanced", payload["message"])
	assert.NotEmpty(t, payload["sent_at"])

	fields, ok := payload["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ledger", fields["source"])
}

func TestWebhookAlerter_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewWebhookAlerter(srv.URL)
	err := a.Send(context.Background(), testAlert())
	require.Error(t, err)
}

func TestMultiAlerter_FanOut(t *testing.T) {
	var slackCount, webhookCount atomic.Int64

	slackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slackCount.Add(1)
	}))
	defer slackSrv.Close()
	webhookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		webhookCount.Add(1)
	}))
	defer webhookSrv.Close()

	m := NewMultiAlerter(0, testLogger(),
		NewSlackAlerter(slackSrv.URL),
		NewWebhookAlerter(webhookSrv.URL),
	)

	require.NoError(t, m.Send(context.Background(), testAlert()))
	assert.Equal(t, int64(1), slackCount.Load())
	assert.Equal(t, int64(1), webhookCount.Load())
}

func TestMultiAlerter_Cooldown(t *testing.T) {
	var count atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
	}))
	defer srv.Close()

	m := NewMultiAlerter(time.Hour, testLogger(), NewWebhookAlerter(srv.URL))

	require.NoError(t, m.Send(context.Background(), testAlert()))
	require.NoError(t, m.Send(context.Background(), testAlert()))
	assert.Equal(t, int64(1), count.Load(), "second send within the cooldown must be suppressed")

	// A different alert type has its own cooldown window.
	other := testAlert()
	other.Type = AlertTypeStreamStalled
	require.NoError(t, m.Send(context.Background(), other))
	assert.Equal(t, int64(2), count.Load())
}

func TestMultiAlerter_PartialFailure(t *testing.T) {
	var okCount atomic.Int64
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCount.Add(1)
	}))
	defer okSrv.Close()
	failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failSrv.Close()

	m := NewMultiAlerter(0, testLogger(),
		NewSlackAlerter(failSrv.URL),
		NewWebhookAlerter(okSrv.URL),
	)

	err := m.Send(context.Background(), testAlert())
	require.Error(t, err, "a failed channel surfaces the first error")
	assert.Equal(t, int64(1), okCount.Load(), "healthy channels still receive the alert")
}

func TestMultiAlerter_NoChannels(t *testing.T) {
	m := NewMultiAlerter(time.Minute, testLogger())
	require.NoError(t, m.Send(context.Background(), testAlert()))
}
