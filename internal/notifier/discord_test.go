package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/download_coordinator/internal/logctx"
)

func TestDiscordNotifier_Send(t *testing.T) {
	var got map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := &DiscordNotifier{WebhookURL: server.URL, Client: server.Client()}

	require.NoError(t, n.Send(context.Background(), "Download completed."))
	assert.Equal(t, map[string]string{"content": "Download completed."}, got)
}

func TestDiscordNotifier_SendErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := (&DiscordNotifier{WebhookURL: server.URL}).Send(context.Background(), "hi")
	assert.EqualError(t, err, "webhook failed with status 429")

	err = (&DiscordNotifier{}).Send(context.Background(), "hi")
	assert.EqualError(t, err, "webhook URL is not set")
}

func TestDiscordNotifier_NotifyLogsFailures(t *testing.T) {
	var buf bytes.Buffer

	ctx := logctx.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	(&DiscordNotifier{}).Notify(ctx, "hi")

	assert.Contains(t, buf.String(), "failed to send notification")
}

type recorder struct {
	messages []string
}

func (r *recorder) Notify(_ context.Context, message string) {
	r.messages = append(r.messages, message)
}

func TestMulti_Notify(t *testing.T) {
	var buf bytes.Buffer

	ctx := logctx.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	first, second := &recorder{}, &recorder{}

	Multi{first, LogNotifier{}, second}.Notify(ctx, "Download failed.")

	assert.Equal(t, []string{"Download failed."}, first.messages)
	assert.Equal(t, []string{"Download failed."}, second.messages)
	assert.Contains(t, buf.String(), `"message":"Download failed."`)
}

func TestDiscordNotifier_SendTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	n := &DiscordNotifier{WebhookURL: server.URL, Client: &http.Client{Timeout: 20 * time.Millisecond}}

	start := time.Now()
	err := n.Send(context.Background(), "hi")

	require.Error(t, err)
	assert.ErrorContains(t, err, "failed to send request")
	assert.Less(t, time.Since(start), time.Second)
}

func TestDiscordNotifier_DefaultClientHasTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, defaultClient.Timeout)
}
