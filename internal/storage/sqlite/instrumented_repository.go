package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) CreateDownload(ctx context.Context, req dm.Request, owner string) (dm.ID, error) {
	var id dm.ID

	err := r.telemetry.InstrumentDBOperation(ctx, "create_download", func(ctx context.Context) error {
		var err error
		id, err = r.repo.CreateDownload(ctx, req, owner)

		return err
	})

	return id, err
}

func (r *InstrumentedDownloadRepository) GetDownload(ctx context.Context, id dm.ID) (*dm.Record, error) {
	var rec *dm.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "get_download", func(ctx context.Context) error {
		var err error
		rec, err = r.repo.GetDownload(ctx, id)

		return err
	})

	return rec, err
}

func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context) ([]dm.Record, error) {
	var recs []dm.Record

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error
		recs, err = r.repo.GetDownloads(ctx)

		return err
	})

	return recs, err
}

func (r *InstrumentedDownloadRepository) MarkRunning(ctx context.Context, id dm.ID, totalBytes int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_running", func(ctx context.Context) error {
		return r.repo.MarkRunning(ctx, id, totalBytes)
	})
}

func (r *InstrumentedDownloadRepository) UpdateProgress(ctx context.Context, id dm.ID, downloaded int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_progress", func(ctx context.Context) error {
		return r.repo.UpdateProgress(ctx, id, downloaded)
	})
}

func (r *InstrumentedDownloadRepository) MarkSuccessful(ctx context.Context, id dm.ID, downloaded int64, localURI string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_successful", func(ctx context.Context) error {
		return r.repo.MarkSuccessful(ctx, id, downloaded, localURI)
	})
}

func (r *InstrumentedDownloadRepository) MarkFailed(ctx context.Context, id dm.ID, reason string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_failed", func(ctx context.Context) error {
		return r.repo.MarkFailed(ctx, id, reason)
	})
}

func (r *InstrumentedDownloadRepository) FailOrphaned(ctx context.Context, owner, reason string) (int64, error) {
	var n int64

	err := r.telemetry.InstrumentDBOperation(ctx, "fail_orphaned", func(ctx context.Context) error {
		var err error
		n, err = r.repo.FailOrphaned(ctx, owner, reason)

		return err
	})

	return n, err
}

func (r *InstrumentedDownloadRepository) DeleteDownload(ctx context.Context, id dm.ID) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_download", func(ctx context.Context) error {
		return r.repo.DeleteDownload(ctx, id)
	})
}

// InstrumentedPreferenceRepository wraps PreferenceRepository with telemetry.
type InstrumentedPreferenceRepository struct {
	repo      *PreferenceRepository
	telemetry *telemetry.Telemetry
}

func NewInstrumentedPreferenceRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedPreferenceRepository {
	return &InstrumentedPreferenceRepository{
		repo:      NewPreferenceRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedPreferenceRepository) GetInt64(ctx context.Context, key string, fallback int64) (int64, error) {
	var value int64

	err := r.telemetry.InstrumentDBOperation(ctx, "get_preference", func(ctx context.Context) error {
		var err error
		value, err = r.repo.GetInt64(ctx, key, fallback)

		return err
	})

	return value, err
}

func (r *InstrumentedPreferenceRepository) PutInt64(ctx context.Context, key string, value int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "put_preference", func(ctx context.Context) error {
		return r.repo.PutInt64(ctx, key, value)
	})
}
