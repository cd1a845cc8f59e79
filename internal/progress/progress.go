package progress

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/telemetry"
)

const (
	// Complete is the percentage of a download that finished with a local file.
	Complete = 100
	// Failed is the percentage sentinel of a failed download.
	Failed = -1
)

// Percentage rounds downloaded/total to the nearest whole percent. An unknown or empty total
// yields 0.
func Percentage(downloaded, total int64) int {
	if total <= 0 {
		return 0
	}

	return int((downloaded*200 + total) / (total * 2))
}

// Final returns the percentage a terminal record is reported with.
func Final(rec *dm.Record) int {
	if rec != nil && rec.IsSuccessful() {
		return Complete
	}

	return Failed
}

// Update is a progress sample produced by the poller.
type Update struct {
	ID         dm.ID
	Status     dm.Status
	Percentage int
	Downloaded int64
	Total      int64
	LocalURI   string
	Reason     string
}

// Terminal reports whether this is the last update of the download.
func (u Update) Terminal() bool {
	return u.Status.Terminal()
}

// Querier reads the status of a download.
type Querier interface {
	Query(ctx context.Context, id dm.ID) (*dm.Record, error)
}

// Poller samples the status of a download until it reaches a terminal status.
type Poller struct {
	q        Querier
	interval time.Duration
	tel      *telemetry.Telemetry
}

// NewPoller creates a poller that waits interval between queries. A zero interval polls as fast
// as the service answers.
func NewPoller(q Querier, interval time.Duration, tel *telemetry.Telemetry) *Poller {
	return &Poller{
		q:        q,
		interval: interval,
		tel:      tel,
	}
}

// Track polls id in a background goroutine until the download is terminal, unknown to the
// service, or ctx is cancelled. The returned channel is closed when polling stops.
func (p *Poller) Track(ctx context.Context, id dm.ID) <-chan Update {
	updates := make(chan Update, 1)

	ctx = logctx.WithDownloadID(ctx, int64(id))

	go func() {
		logger := logctx.LoggerFromContext(ctx)

		defer close(updates)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("progress poller panic",
					"operation", "track",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()

		logger.Debug("progress poller started")

		if err := p.poll(ctx, id, updates); err != nil {
			logger.Debug("progress poller stopped", "reason", err)
			return
		}

		logger.Debug("progress poller finished")
	}()

	return updates
}

var (
	errCancelled = errors.New("context cancelled")
	errUnknown   = errors.New("download no longer known to the service")
)

func (p *Poller) poll(ctx context.Context, id dm.ID, updates chan<- Update) error {
	logger := logctx.LoggerFromContext(ctx)
	last := -1

	for {
		if ctx.Err() != nil {
			return errCancelled
		}

		rec, err := p.q.Query(ctx, id)

		switch {
		case errors.Is(err, dm.ErrNotFound):
			p.tel.RecordStatusQuery(ctx, "not_found")
			logger.Warn("tracked download disappeared from the download service")

			return errUnknown
		case err != nil:
			if ctx.Err() != nil {
				return errCancelled
			}

			p.tel.RecordStatusQuery(ctx, "error")
			logger.Error("failed to query download status", "err", err)
		default:
			p.tel.RecordStatusQuery(ctx, string(rec.Status))

			if rec.Status.Terminal() {
				return p.send(ctx, updates, Update{
					ID:         id,
					Status:     rec.Status,
					Percentage: Final(rec),
					Downloaded: rec.BytesDownloaded,
					Total:      rec.TotalBytes,
					LocalURI:   rec.LocalURI,
					Reason:     rec.Reason,
				})
			}

			if rec.Status == dm.StatusRunning {
				pct := Percentage(rec.BytesDownloaded, rec.TotalBytes)

				if pct != last {
					logger.Debug("download progress",
						"downloaded", humanize.Bytes(uint64(max(rec.BytesDownloaded, 0))),
						"total", humanize.Bytes(uint64(max(rec.TotalBytes, 0))),
						"percentage", pct)

					if err := p.send(ctx, updates, Update{
						ID:         id,
						Status:     rec.Status,
						Percentage: pct,
						Downloaded: rec.BytesDownloaded,
						Total:      rec.TotalBytes,
					}); err != nil {
						return err
					}

					last = pct
				}
			}
		}

		if !p.wait(ctx) {
			return errCancelled
		}
	}
}

func (p *Poller) send(ctx context.Context, updates chan<- Update, u Update) error {
	select {
	case updates <- u:
		return nil
	case <-ctx.Done():
		return errCancelled
	}
}

func (p *Poller) wait(ctx context.Context) bool {
	if p.interval <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
