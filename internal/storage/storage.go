package storage

import (
	"context"
	"errors"
	"time"

	"github.com/italolelis/download_coordinator/internal/dm"
)

// KeyLatestDownloadID is the preference key of the tracked download identifier.
const KeyLatestDownloadID = "latest_download_id"

// ErrNotFound is returned when a row or key does not exist.
var ErrNotFound = errors.New("not found")

// PreferenceStore is a durable single-integer key-value store. Writes are last-write-wins.
type PreferenceStore interface {
	GetInt64(ctx context.Context, key string, fallback int64) (int64, error)
	PutInt64(ctx context.Context, key string, value int64) error
}

// DownloadRepository keeps the rows of the local download service.
type DownloadRepository interface {
	CreateDownload(ctx context.Context, req dm.Request, owner string) (dm.ID, error)
	GetDownload(ctx context.Context, id dm.ID) (*dm.Record, error)
	GetDownloads(ctx context.Context) ([]dm.Record, error)
	MarkRunning(ctx context.Context, id dm.ID, totalBytes int64) error
	UpdateProgress(ctx context.Context, id dm.ID, downloaded int64) error
	MarkSuccessful(ctx context.Context, id dm.ID, downloaded int64, localURI string) error
	MarkFailed(ctx context.Context, id dm.ID, reason string) error
	FailOrphaned(ctx context.Context, owner, reason string) (int64, error)
	DeleteDownload(ctx context.Context, id dm.ID) error
}

// IsExpired reports whether a terminal record finished longer than keep ago.
func IsExpired(rec dm.Record, now time.Time, keep time.Duration) bool {
	return rec.Status.Terminal() && now.Sub(rec.UpdatedAt) > keep
}
