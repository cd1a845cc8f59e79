package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/storage"
)

const selectDownload = `
	SELECT id, url, title, description, mime_type, destination, status,
		bytes_downloaded, total_bytes, local_uri, reason, created_at, updated_at
	FROM downloads`

// DownloadRepository implements storage.DownloadRepository for the local download service.
type DownloadRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn, now: time.Now}
}

func (r *DownloadRepository) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

// CreateDownload inserts a pending row owned by owner and returns its identifier.
func (r *DownloadRepository) CreateDownload(ctx context.Context, req dm.Request, owner string) (dm.ID, error) {
	ts := r.timestamp()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO downloads (url, title, description, mime_type, destination, status, locked_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?, ?, ?)
	`, req.URL, req.Title, req.Description, req.MimeType, req.Destination, owner, ts, ts)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	return dm.ID(id), nil
}

func (r *DownloadRepository) GetDownload(ctx context.Context, id dm.ID) (*dm.Record, error) {
	row := r.db.QueryRowContext(ctx, selectDownload+` WHERE id = ?`, int64(id))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}

	if err != nil {
		return nil, err
	}

	return rec, nil
}

func (r *DownloadRepository) GetDownloads(ctx context.Context) ([]dm.Record, error) {
	rows, err := r.db.QueryContext(ctx, selectDownload+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []dm.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, *rec)
	}

	return downloads, rows.Err()
}

// MarkRunning moves a pending row to running with the announced size.
func (r *DownloadRepository) MarkRunning(ctx context.Context, id dm.ID, totalBytes int64) error {
	return r.update(ctx, id, `UPDATE downloads SET status = 'running', total_bytes = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		totalBytes, r.timestamp(), int64(id))
}

func (r *DownloadRepository) UpdateProgress(ctx context.Context, id dm.ID, downloaded int64) error {
	return r.update(ctx, id, `UPDATE downloads SET bytes_downloaded = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		downloaded, r.timestamp(), int64(id))
}

func (r *DownloadRepository) MarkSuccessful(ctx context.Context, id dm.ID, downloaded int64, localURI string) error {
	return r.update(ctx, id, `
		UPDATE downloads SET status = 'successful', bytes_downloaded = ?,
			total_bytes = CASE WHEN total_bytes < 0 THEN ? ELSE total_bytes END,
			local_uri = ?, locked_by = NULL, updated_at = ?
		WHERE id = ?`,
		downloaded, downloaded, localURI, r.timestamp(), int64(id))
}

func (r *DownloadRepository) MarkFailed(ctx context.Context, id dm.ID, reason string) error {
	return r.update(ctx, id, `UPDATE downloads SET status = 'failed', reason = ?, local_uri = NULL, locked_by = NULL, updated_at = ? WHERE id = ?`,
		reason, r.timestamp(), int64(id))
}

// FailOrphaned fails every non-terminal row that is not owned by owner and returns how many
// rows changed.
func (r *DownloadRepository) FailOrphaned(ctx context.Context, owner, reason string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE downloads SET status = 'failed', reason = ?, locked_by = NULL, updated_at = ?
		WHERE status IN ('pending', 'running') AND (locked_by IS NULL OR locked_by != ?)
	`, reason, r.timestamp(), owner)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *DownloadRepository) DeleteDownload(ctx context.Context, id dm.ID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, int64(id))

	return err
}

func (r *DownloadRepository) update(ctx context.Context, id dm.ID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("download %d: %w", id, storage.ErrNotFound)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*dm.Record, error) {
	var (
		rec    dm.Record
		id     int64
		status string

		title, description, mimeType, dest     sql.NullString
		localURI, reason, createdAt, updatedAt sql.NullString
	)

	err := s.Scan(&id, &rec.URL, &title, &description, &mimeType, &dest, &status,
		&rec.BytesDownloaded, &rec.TotalBytes, &localURI, &reason, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.ID = dm.ID(id)
	rec.Status = dm.Status(status)
	rec.Title = title.String
	rec.Description = description.String
	rec.MimeType = mimeType.String
	rec.Destination = dest.String
	rec.LocalURI = localURI.String
	rec.Reason = reason.String
	rec.CreatedAt = parseTime(createdAt.String)
	rec.UpdatedAt = parseTime(updatedAt.String)

	return &rec, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}

	return t
}
