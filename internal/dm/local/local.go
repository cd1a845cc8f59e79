// Package local is a download service that fetches files over HTTP into a blob bucket and keeps
// its rows in sqlite.
package local

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/storage"
	"github.com/italolelis/download_coordinator/internal/telemetry"
)

const (
	defaultReportInterval = 256 * 1024

	reasonOrphaned = "download interrupted by a restart"
	reasonStopped  = "download service stopped"
)

// Option configures a Service.
type Option func(*Service)

func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.client = client }
}

func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Service) { s.tel = tel }
}

// WithReportInterval sets how many bytes may be read between two progress writes.
func WithReportInterval(bytes int64) Option {
	return func(s *Service) { s.reportInterval = bytes }
}

func WithOwner(owner string) Option {
	return func(s *Service) { s.owner = owner }
}

// Service implements dm.Service. Each enqueued request is fetched by its own goroutine.
type Service struct {
	repo           storage.DownloadRepository
	bucket         *blob.Bucket
	bucketURL      *url.URL
	client         *http.Client
	tel            *telemetry.Telemetry
	owner          string
	reportInterval int64
	events         *dm.Broadcaster

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ dm.Service = (*Service)(nil)

// New creates a service writing into bucket. bucketURL is the URL the bucket was opened with and
// is used to build the local file reference of finished downloads.
func New(repo storage.DownloadRepository, bucket *blob.Bucket, bucketURL string, opts ...Option) (*Service, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket url: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		repo:           repo,
		bucket:         bucket,
		bucketURL:      u,
		client:         http.DefaultClient,
		reportInterval: defaultReportInterval,
		events:         dm.NewBroadcaster(),
		ctx:            ctx,
		cancel:         cancel,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.owner == "" {
		s.owner = ownerID()
	}

	return s, nil
}

// ownerID identifies this process as the owner of the rows it is downloading.
func ownerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	var rnd [4]byte
	_, _ = rand.Read(rnd[:])

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), hex.EncodeToString(rnd[:]))
}

// Recover fails the downloads a previous process left unfinished.
func (s *Service) Recover(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	n, err := s.repo.FailOrphaned(ctx, s.owner, reasonOrphaned)
	if err != nil {
		return fmt.Errorf("failed to fail orphaned downloads: %w", err)
	}

	if n > 0 {
		logger.Warn("failed orphaned downloads", "count", n)
	}

	return nil
}

func (s *Service) Enqueue(ctx context.Context, req dm.Request) (dm.ID, error) {
	if _, err := url.ParseRequestURI(req.URL); err != nil {
		return 0, fmt.Errorf("failed to parse download url: %w", err)
	}

	id, err := s.repo.CreateDownload(ctx, req, s.owner)
	if err != nil {
		return 0, fmt.Errorf("failed to create download: %w", err)
	}

	dctx := logctx.WithLogger(s.ctx, logctx.LoggerFromContext(ctx))
	dctx = logctx.WithDownloadID(dctx, int64(id))

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.run(dctx, id, req)
	}()

	return id, nil
}

func (s *Service) Query(ctx context.Context, id dm.ID) (*dm.Record, error) {
	rec, err := s.repo.GetDownload(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, dm.ErrNotFound
		}

		return nil, fmt.Errorf("failed to get download: %w", err)
	}

	return rec, nil
}

func (s *Service) Subscribe() *dm.Subscription {
	return s.events.Subscribe()
}

// List returns every download row.
func (s *Service) List(ctx context.Context) ([]dm.Record, error) {
	downloads, err := s.repo.GetDownloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get downloads: %w", err)
	}

	return downloads, nil
}

// Remove deletes a download row together with its file.
func (s *Service) Remove(ctx context.Context, id dm.ID) error {
	rec, err := s.Query(ctx, id)
	if err != nil {
		return err
	}

	if rec.LocalURI != "" {
		err := s.bucket.Delete(ctx, objectKey(rec.ID, rec.Destination, rec.URL))
		if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}

	if err := s.repo.DeleteDownload(ctx, id); err != nil {
		return fmt.Errorf("failed to delete download: %w", err)
	}

	return nil
}

// Close stops the running downloads and waits for them to finish.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, id dm.ID, req dm.Request) {
	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	// Bookkeeping has to survive the cancellation of the download itself.
	bctx := context.WithoutCancel(ctx)

	localURI, n, err := s.fetch(ctx, id, req)
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil {
			reason = reasonStopped
		}

		logger.Error("download failed", "url", req.URL, "err", err)

		if err := s.repo.MarkFailed(bctx, id, reason); err != nil {
			logger.Error("failed to mark download as failed", "err", err)
		}

		s.tel.RecordDownloadFinished(bctx, string(dm.StatusFailed), time.Since(start))
		s.events.Publish(bctx, dm.CompletionEvent{ID: id})

		return
	}

	if err := s.repo.MarkSuccessful(bctx, id, n, localURI); err != nil {
		logger.Error("failed to mark download as successful", "err", err)
	}

	logger.Info("download finished", "location", localURI, "size", humanize.Bytes(uint64(n)), "duration", time.Since(start))

	s.tel.RecordDownloadFinished(bctx, string(dm.StatusSuccessful), time.Since(start))
	s.events.Publish(bctx, dm.CompletionEvent{ID: id})
}

func (s *Service) fetch(ctx context.Context, id dm.ID, req dm.Request) (string, int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("unexpected response status: %s", resp.Status)
	}

	total := resp.ContentLength
	if err := s.repo.MarkRunning(ctx, id, total); err != nil {
		return "", 0, fmt.Errorf("failed to mark download as running: %w", err)
	}

	key := objectKey(id, req.Destination, req.URL)
	logger.Info("downloading file", "key", key, "file_size", humanize.Bytes(uint64(max(total, 0))))

	wctx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()

	w, err := s.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: req.MimeType})
	if err != nil {
		return "", 0, fmt.Errorf("failed to create writer: %w", err)
	}

	pr := newProgressReader(resp.Body, total, s.reportInterval, func(read, _ int64) {
		if err := s.repo.UpdateProgress(ctx, id, read); err != nil {
			logger.Warn("failed to record download progress", "err", err)
		}
	})

	n, err := io.Copy(w, pr)
	if err != nil {
		cancelWrite()
		_ = w.Close()

		return "", n, fmt.Errorf("failed to copy file: %w", err)
	}

	if err := w.Close(); err != nil {
		return "", n, fmt.Errorf("failed to store file: %w", err)
	}

	return s.location(key), n, nil
}

// objectKey places every download under its own prefix so finished files are never overwritten
// by a later download with the same name.
func objectKey(id dm.ID, destination, rawURL string) string {
	name := path.Base(destination)
	if destination == "" || name == "." || name == "/" {
		name = ""

		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
		}

		if name == "" || name == "." || name == "/" {
			name = "download"
		}
	}

	return path.Join(id.String(), name)
}

func (s *Service) location(key string) string {
	loc := url.URL{
		Scheme: s.bucketURL.Scheme,
		Host:   s.bucketURL.Host,
		Path:   path.Join("/", s.bucketURL.Path, key),
	}

	return loc.String()
}
