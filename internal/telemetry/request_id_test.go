package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/download_coordinator/internal/logctx"
)

func newLoggedRequest(buf *bytes.Buffer, requestID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/screen/downloads", nil)
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	logger := slog.New(slog.NewJSONHandler(buf, nil))

	return req.WithContext(logctx.WithLogger(req.Context(), logger))
}

func TestRequestID_GeneratesID(t *testing.T) {
	var (
		buf bytes.Buffer
		got string
	)

	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
		logctx.LoggerFromContext(r.Context()).Info("download enqueued")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newLoggedRequest(&buf, ""))

	_, err := uuid.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, got, rec.Header().Get(RequestIDHeader))
	assert.Contains(t, buf.String(), `"request_id":"`+got+`"`)
}

func TestRequestID_UpstreamID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{"well formed", "req-42", true},
		{"with space", "req 42", false},
		{"control character", "req\x0142", false},
		{"too long", strings.Repeat("a", maxRequestIDLength+1), false},
		{"at the limit", strings.Repeat("a", maxRequestIDLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			handler := RequestID(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, newLoggedRequest(&buf, tt.header))

			if tt.reused {
				assert.Equal(t, tt.header, rec.Header().Get(RequestIDHeader))
			} else {
				assert.NotEqual(t, tt.header, rec.Header().Get(RequestIDHeader))
				assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
			}
		})
	}
}

func TestHTTPLogging_CarriesRequestID(t *testing.T) {
	var buf bytes.Buffer

	handler := RequestID(HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newLoggedRequest(&buf, "req-7"))

	line := buf.String()
	assert.Equal(t, 1, strings.Count(line, `"request_id":"req-7"`))
	assert.Contains(t, line, `"level":"WARN"`)
	assert.Contains(t, line, `"status":409`)
}

func TestRequestIDFromContext_Missing(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
