package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/italolelis/download_coordinator/internal/config"
	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/storage"
)

// Coordinator wraps the download service. It starts downloads, queries them and keeps the
// tracked identifier in the preference store.
type Coordinator struct {
	svc     dm.Service
	prefs   storage.PreferenceStore
	profile config.RequestProfile
}

// New returns a coordinator enqueueing on svc with the fixed request profile.
func New(svc dm.Service, prefs storage.PreferenceStore, profile config.RequestProfile) *Coordinator {
	return &Coordinator{
		svc:     svc,
		prefs:   prefs,
		profile: profile,
	}
}

// Start validates rawURL and enqueues a download for it.
func (c *Coordinator) Start(ctx context.Context, rawURL string) (dm.ID, error) {
	logger := logctx.LoggerFromContext(ctx)

	target, err := NormalizeURL(rawURL)
	if err != nil {
		return 0, err
	}

	id, err := c.svc.Enqueue(ctx, dm.Request{
		URL:         target,
		Title:       c.profile.Title,
		Description: c.profile.Description,
		MimeType:    c.profile.MimeType,
		Destination: c.profile.FileName,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue download: %w", err)
	}

	logger.Info("download enqueued", "download_id", id, "url", target)

	return id, nil
}

// Query returns the status row of id. An unknown or zero identifier yields dm.ErrNotFound.
func (c *Coordinator) Query(ctx context.Context, id dm.ID) (*dm.Record, error) {
	if !id.Valid() {
		return nil, dm.ErrNotFound
	}

	rec, err := c.svc.Query(ctx, id)
	if err != nil {
		if errors.Is(err, dm.ErrNotFound) {
			return nil, dm.ErrNotFound
		}

		return nil, fmt.Errorf("failed to query download %s: %w", id, err)
	}

	return rec, nil
}

// ResolveLocalLocation returns the local file reference of id. The boolean is false when the
// download is unknown or has no file.
func (c *Coordinator) ResolveLocalLocation(ctx context.Context, id dm.ID) (string, bool, error) {
	rec, err := c.Query(ctx, id)
	if err != nil {
		if errors.Is(err, dm.ErrNotFound) {
			return "", false, nil
		}

		return "", false, err
	}

	if rec.LocalURI == "" {
		return "", false, nil
	}

	return rec.LocalURI, true, nil
}

// Subscribe opens a completion event subscription on the download service.
func (c *Coordinator) Subscribe() *dm.Subscription {
	return c.svc.Subscribe()
}

// MimeType is the MIME type downloads are requested with.
func (c *Coordinator) MimeType() string {
	return c.profile.MimeType
}

// RestoreTracked reads the persisted tracked identifier. A missing key reads as zero.
func (c *Coordinator) RestoreTracked(ctx context.Context) (dm.ID, error) {
	v, err := c.prefs.GetInt64(ctx, storage.KeyLatestDownloadID, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to restore tracked download: %w", err)
	}

	return dm.ID(v), nil
}

// SaveTracked persists the tracked identifier, replacing any previous value.
func (c *Coordinator) SaveTracked(ctx context.Context, id dm.ID) error {
	if err := c.prefs.PutInt64(ctx, storage.KeyLatestDownloadID, int64(id)); err != nil {
		return fmt.Errorf("failed to save tracked download: %w", err)
	}

	return nil
}
