package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/download_coordinator/internal/coordinator"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/screen"
)

// Screen is the controller the handler drives.
type Screen interface {
	Snapshot(ctx context.Context) (screen.Snapshot, error)
	StartDownload(ctx context.Context, rawURL string) error
	Open(ctx context.Context) error
	Foreground(ctx context.Context) error
	Background(ctx context.Context) error
	RequestPermission(ctx context.Context) (bool, error)
}

type StartDownloadRequest struct {
	URL string `json:"url"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type ScreenHandler struct {
	username string
	password string
	screen   Screen
}

// NewScreenHandler creates the screen handler. Basic auth is enforced when username is set.
func NewScreenHandler(username, password string, s Screen) *ScreenHandler {
	return &ScreenHandler{
		username: username,
		password: password,
		screen:   s,
	}
}

func (h *ScreenHandler) Routes() http.Handler {
	r := chi.NewRouter()

	if h.username != "" {
		r.Use(h.basicAuthMiddleware)
	}

	r.Get("/screen", h.HandleSnapshot)
	r.Post("/screen/downloads", h.HandleStartDownload)
	r.Post("/screen/open", h.HandleOpen)
	r.Post("/screen/foreground", h.lifecycle(h.screen.Foreground))
	r.Post("/screen/background", h.lifecycle(h.screen.Background))
	r.Post("/screen/permission", h.HandleRequestPermission)

	return r
}

// HandleSnapshot returns what the screen currently shows.
func (h *ScreenHandler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	h.respondSnapshot(w, r, http.StatusOK)
}

// HandleStartDownload starts downloading the URL of the request body.
func (h *ScreenHandler) HandleStartDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req StartDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		h.respondJSON(w, r, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})

		return
	}

	if err := h.screen.StartDownload(r.Context(), req.URL); err != nil {
		h.respondError(w, r, err)

		return
	}

	h.respondSnapshot(w, r, http.StatusAccepted)
}

// HandleOpen opens the file of the completed download.
func (h *ScreenHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	if err := h.screen.Open(r.Context()); err != nil {
		h.respondError(w, r, err)

		return
	}

	h.respondSnapshot(w, r, http.StatusOK)
}

// HandleRequestPermission asks for the download permission again.
func (h *ScreenHandler) HandleRequestPermission(w http.ResponseWriter, r *http.Request) {
	granted, err := h.screen.RequestPermission(r.Context())
	if err != nil {
		h.respondError(w, r, err)

		return
	}

	if !granted {
		h.respondError(w, r, &coordinator.PermissionDeniedError{})

		return
	}

	h.respondSnapshot(w, r, http.StatusOK)
}

func (h *ScreenHandler) lifecycle(fn func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			h.respondError(w, r, err)

			return
		}

		h.respondSnapshot(w, r, http.StatusOK)
	}
}

func (h *ScreenHandler) respondSnapshot(w http.ResponseWriter, r *http.Request, status int) {
	snap, err := h.screen.Snapshot(r.Context())
	if err != nil {
		h.respondError(w, r, err)

		return
	}

	h.respondJSON(w, r, status, snap)
}

func (h *ScreenHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logctx.LoggerFromContext(r.Context()).Error("screen action failed", "err", err)
	}

	h.respondJSON(w, r, status, ErrorResponse{Message: screen.MessageFor(err), Error: err.Error()})
}

func (h *ScreenHandler) respondJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func statusFor(err error) int {
	var (
		invalid    *coordinator.InvalidInputError
		denied     *coordinator.PermissionDeniedError
		inProgress *coordinator.DownloadInProgressError
		open       *coordinator.OpenUnsupportedError
	)

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &denied):
		return http.StatusForbidden
	case errors.As(err, &inProgress):
		return http.StatusConflict
	case errors.As(err, &open):
		return http.StatusUnprocessableEntity
	case errors.Is(err, screen.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *ScreenHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="download_coordinator"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
