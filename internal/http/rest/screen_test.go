package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/download_coordinator/internal/coordinator"
	"github.com/italolelis/download_coordinator/internal/screen"
)

type fakeScreen struct {
	snap       screen.Snapshot
	startErr   error
	openErr    error
	lifeErr    error
	granted    bool
	started    []string
	foreground int
	background int
}

func (f *fakeScreen) Snapshot(context.Context) (screen.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeScreen) StartDownload(_ context.Context, rawURL string) error {
	f.started = append(f.started, rawURL)

	if f.startErr != nil {
		return f.startErr
	}

	f.snap.State = screen.Downloading
	f.snap.DownloadID = 1

	return nil
}

func (f *fakeScreen) Open(context.Context) error {
	return f.openErr
}

func (f *fakeScreen) Foreground(context.Context) error {
	f.foreground++
	return f.lifeErr
}

func (f *fakeScreen) Background(context.Context) error {
	f.background++
	return f.lifeErr
}

func (f *fakeScreen) RequestPermission(context.Context) (bool, error) {
	return f.granted, nil
}

func serve(t *testing.T, h *ScreenHandler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Routes().ServeHTTP(rec, req)

	return rec
}

func TestScreenHandler_Snapshot(t *testing.T) {
	h := NewScreenHandler("", "", &fakeScreen{snap: screen.Snapshot{State: screen.Completed, Progress: 100, ProgressText: "Completed", OpenEnabled: true}})

	rec := serve(t, h, http.MethodGet, "/screen", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["state"])
	assert.Equal(t, true, body["open_enabled"])
}

func TestScreenHandler_StartDownload(t *testing.T) {
	s := &fakeScreen{}
	h := NewScreenHandler("", "", s)

	rec := serve(t, h, http.MethodPost, "/screen/downloads", `{"url":"example.com/app.apk"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"example.com/app.apk"}, s.started)
	assert.Contains(t, rec.Body.String(), `"state":"downloading"`)
}

func TestScreenHandler_StartDownloadErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"empty url", &coordinator.InvalidInputError{Reason: "URL is empty"}, http.StatusBadRequest, screen.MsgEmptyURL},
		{"invalid url", &coordinator.InvalidInputError{Input: "x y", Reason: "URL contains whitespace"}, http.StatusBadRequest, screen.MsgInvalidURL},
		{"permission", &coordinator.PermissionDeniedError{Permission: "write"}, http.StatusForbidden, screen.MsgPermissionDenied},
		{"in progress", &coordinator.DownloadInProgressError{ID: 4}, http.StatusConflict, screen.MsgDownloadInProgress},
		{"stopped", screen.ErrStopped, http.StatusServiceUnavailable, screen.MsgUnexpected},
		{"service", errors.New("failed to enqueue download: boom"), http.StatusInternalServerError, screen.MsgUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewScreenHandler("", "", &fakeScreen{startErr: tt.err})

			rec := serve(t, h, http.MethodPost, "/screen/downloads", `{"url":"x"}`)

			require.Equal(t, tt.status, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.message, body.Message)
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestScreenHandler_StartDownloadBadBody(t *testing.T) {
	s := &fakeScreen{}

	rec := serve(t, NewScreenHandler("", "", s), http.MethodPost, "/screen/downloads", `{`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.started)
}

func TestScreenHandler_Open(t *testing.T) {
	rec := serve(t, NewScreenHandler("", "", &fakeScreen{}), http.MethodPost, "/screen/open", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	s := &fakeScreen{openErr: &coordinator.OpenUnsupportedError{}}
	rec = serve(t, NewScreenHandler("", "", s), http.MethodPost, "/screen/open", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), screen.MsgUnableToOpen)
}

func TestScreenHandler_Lifecycle(t *testing.T) {
	s := &fakeScreen{}
	h := NewScreenHandler("", "", s)

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/screen/background", "").Code)
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/screen/foreground", "").Code)
	assert.Equal(t, 1, s.foreground)
	assert.Equal(t, 1, s.background)

	s.lifeErr = errors.New("db closed")
	assert.Equal(t, http.StatusInternalServerError, serve(t, h, http.MethodPost, "/screen/background", "").Code)
}

func TestScreenHandler_RequestPermission(t *testing.T) {
	s := &fakeScreen{}
	h := NewScreenHandler("", "", s)

	assert.Equal(t, http.StatusForbidden, serve(t, h, http.MethodPost, "/screen/permission", "").Code)

	s.granted = true
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodPost, "/screen/permission", "").Code)
}

func TestScreenHandler_BasicAuth(t *testing.T) {
	h := NewScreenHandler("admin", "secret", &fakeScreen{})

	rec := serve(t, h, http.MethodGet, "/screen", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/screen", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/screen", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
