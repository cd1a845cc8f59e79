// Package putio is a download service backed by put.io transfers.
package putio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/putdotio/go-putio"
	"golang.org/x/oauth2"

	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/telemetry"
)

// NewClient creates a put.io API client authenticated with token.
func NewClient(token string) *putio.Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return putio.NewClient(oauthClient)
}

// Service implements dm.Service on top of put.io transfers. Completion events are produced by
// Watch for the transfers this process enqueued or queried.
type Service struct {
	client   *putio.Client
	parentID int64
	interval time.Duration
	tel      *telemetry.Telemetry
	events   *dm.Broadcaster

	mu      sync.Mutex
	watched map[dm.ID]dm.Request
	started map[dm.ID]time.Time
}

var _ dm.Service = (*Service)(nil)

// New creates a service saving transfers under the put.io folder parentID (0 is the root).
func New(client *putio.Client, parentID int64, interval time.Duration, tel *telemetry.Telemetry) *Service {
	return &Service{
		client:   client,
		parentID: parentID,
		interval: interval,
		tel:      tel,
		events:   dm.NewBroadcaster(),
		watched:  make(map[dm.ID]dm.Request),
		started:  make(map[dm.ID]time.Time),
	}
}

// Authenticate checks the token against the account endpoint.
func (s *Service) Authenticate(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	user, err := s.client.Account.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account info: %w", err)
	}

	logger.InfoContext(ctx, "authenticated with Put.io", "user", user.Username)

	return nil
}

func (s *Service) Enqueue(ctx context.Context, req dm.Request) (dm.ID, error) {
	logger := logctx.LoggerFromContext(ctx)

	t, err := s.client.Transfers.Add(ctx, req.URL, s.parentID, "")
	if err != nil {
		return 0, fmt.Errorf("failed to add transfer: %w", mapError(err))
	}

	id := dm.ID(t.ID)

	s.mu.Lock()
	s.watched[id] = req
	s.started[id] = time.Now()
	s.mu.Unlock()

	logger.InfoContext(ctx, "transfer added to Put.io", "download_id", id, "status", t.Status)

	return id, nil
}

func (s *Service) Query(ctx context.Context, id dm.ID) (*dm.Record, error) {
	t, err := s.client.Transfers.Get(ctx, int64(id))
	if err != nil {
		return nil, mapError(err)
	}

	rec := s.toRecord(t)

	if rec.Status == dm.StatusSuccessful && t.FileID != 0 {
		location, err := s.client.Files.URL(ctx, t.FileID, false)
		if err != nil {
			return nil, fmt.Errorf("failed to get file download url: %w", mapError(err))
		}

		rec.LocalURI = location
	}

	if !rec.Status.Terminal() {
		s.watch(id, dm.Request{URL: t.Source, Title: t.Name})
	}

	return rec, nil
}

func (s *Service) Subscribe() *dm.Subscription {
	return s.events.Subscribe()
}

// Watch polls the watched transfers until ctx is done and publishes a completion event for
// every transfer that reached a terminal status.
func (s *Service) Watch(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("transfer watcher panic",
					"operation", "watch_transfers",
					"panic", r,
					"stack", string(debug.Stack()))

				if ctx.Err() == nil {
					logger.Info("restarting transfer watcher after panic",
						"operation", "watch_transfers")
					time.Sleep(time.Second)
					s.Watch(ctx)
				}
			}
		}()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("transfer watcher shutdown",
					"operation", "watch_transfers",
					"reason", "context_cancelled")
				return
			case <-ticker.C:
				s.checkWatched(ctx)
			}
		}
	}()
}

func (s *Service) checkWatched(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	for _, id := range s.watchedIDs() {
		transferLogger := logger.With("download_id", id)

		t, err := s.client.Transfers.Get(ctx, int64(id))
		if err != nil {
			if errors.Is(mapError(err), dm.ErrNotFound) {
				transferLogger.Warn("watched transfer was removed from Put.io")
				s.unwatch(id)

				continue
			}

			transferLogger.Error("failed to get transfer", "err", err)

			continue
		}

		status := mapStatus(t.Status)
		if !status.Terminal() {
			transferLogger.Debug("transfer not finished", "status", t.Status, "downloaded", t.Downloaded)

			continue
		}

		started := s.unwatch(id)
		if !started.IsZero() {
			s.tel.RecordDownloadFinished(ctx, string(status), time.Since(started))
		}

		transferLogger.Info("transfer finished", "status", t.Status)
		s.events.Publish(ctx, dm.CompletionEvent{ID: id})
	}
}

// Watched returns the number of transfers being watched.
func (s *Service) Watched() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.watched)
}

func (s *Service) watch(id dm.ID, req dm.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.watched[id]; !ok {
		s.watched[id] = req
	}
}

func (s *Service) unwatch(id dm.ID) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := s.started[id]

	delete(s.watched, id)
	delete(s.started, id)

	return started
}

func (s *Service) watchedIDs() []dm.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]dm.ID, 0, len(s.watched))
	for id := range s.watched {
		ids = append(ids, id)
	}

	return ids
}

func (s *Service) toRecord(t putio.Transfer) *dm.Record {
	rec := &dm.Record{
		ID:              dm.ID(t.ID),
		URL:             t.Source,
		Title:           t.Name,
		Status:          mapStatus(t.Status),
		BytesDownloaded: t.Downloaded,
		TotalBytes:      int64(t.Size),
		Reason:          t.ErrorMessage,
	}

	if rec.TotalBytes <= 0 {
		rec.TotalBytes = -1
	}

	s.mu.Lock()
	if req, ok := s.watched[rec.ID]; ok {
		rec.Description = req.Description
		rec.MimeType = req.MimeType
		rec.Destination = req.Destination
	}
	s.mu.Unlock()

	return rec
}

func mapStatus(status string) dm.Status {
	switch strings.ToUpper(status) {
	case "DOWNLOADING", "COMPLETING":
		return dm.StatusRunning
	case "COMPLETED", "SEEDING":
		return dm.StatusSuccessful
	case "ERROR":
		return dm.StatusFailed
	default:
		return dm.StatusPending
	}
}

func mapError(err error) error {
	var errResp *putio.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", dm.ErrNotFound, err)
	}

	return err
}
