package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/storage"
)

// Store lists and removes finished downloads together with their files.
type Store interface {
	List(ctx context.Context) ([]dm.Record, error)
	Remove(ctx context.Context, id dm.ID) error
}

// DeleteExpired removes terminal downloads that finished longer than keep ago. The tracked
// download is never removed.
func DeleteExpired(ctx context.Context, store Store, tracked dm.ID, keep time.Duration, now time.Time) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	records, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list downloads: %w", err)
	}

	var deleted int

	for _, rec := range records {
		if rec.ID == tracked || !storage.IsExpired(rec, now, keep) {
			continue
		}

		if err := store.Remove(ctx, rec.ID); err != nil {
			logger.Error("failed to delete expired download", "download_id", rec.ID, "err", err)

			return deleted, err
		}

		deleted++

		logger.Info("deleted expired download", "download_id", rec.ID, "location", rec.LocalURI)
	}

	return deleted, nil
}

// Run deletes expired downloads every interval until ctx is done. tracked reports the download
// the screen currently follows.
func Run(ctx context.Context, store Store, tracked func(context.Context) dm.ID, interval, keep time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down")

			return
		case <-ticker.C:
			if _, err := DeleteExpired(ctx, store, tracked(ctx), keep, time.Now()); err != nil {
				logger.Error("failed to delete expired downloads", "err", err)
			}
		}
	}
}
