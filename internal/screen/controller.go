package screen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/italolelis/download_coordinator/internal/completion"
	"github.com/italolelis/download_coordinator/internal/coordinator"
	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/progress"
	"github.com/italolelis/download_coordinator/internal/telemetry"
)

// ErrStopped is returned by actions sent after the controller loop exited.
var ErrStopped = errors.New("screen controller stopped")

// Coordinator is the download coordinator the screen drives.
type Coordinator interface {
	Start(ctx context.Context, rawURL string) (dm.ID, error)
	Query(ctx context.Context, id dm.ID) (*dm.Record, error)
	ResolveLocalLocation(ctx context.Context, id dm.ID) (string, bool, error)
	RestoreTracked(ctx context.Context) (dm.ID, error)
	SaveTracked(ctx context.Context, id dm.ID) error
	Subscribe() *dm.Subscription
	MimeType() string
}

// Permissions gates the start of a download.
type Permissions interface {
	Name() string
	Request(ctx context.Context) bool
	Granted() bool
}

// Opener launches a viewer for a downloaded file.
type Opener interface {
	Open(ctx context.Context, location, mimeType string) error
}

// Notifier shows transient messages to the user.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Config holds the controller options.
type Config struct {
	// OpenOnComplete opens the file as soon as the completion event arrives.
	OpenOnComplete bool
}

type action func(ctx context.Context) error

// notesBuffer bounds the messages waiting for a slow notifier. Messages beyond it are dropped.
const notesBuffer = 16

type note struct {
	ctx     context.Context
	message string
}

type request struct {
	ctx  context.Context
	fn   action
	errc chan error
}

// Controller owns the screen state. Every mutation happens on the goroutine running Run; public
// methods hand their work to it and wait for the result.
type Controller struct {
	coord    Coordinator
	poller   *progress.Poller
	listener *completion.Listener
	perms    Permissions
	opener   Opener
	notifier Notifier
	tel      *telemetry.Telemetry
	cfg      Config

	requests chan request
	done     chan struct{}
	notes    chan note

	// Owned by the Run goroutine.
	runCtx     context.Context
	state      State
	tracked    dm.ID
	percentage int
	message    string
	visible    bool
	sub        *completion.Subscription
	stopPoll   context.CancelFunc
	updates    <-chan progress.Update
}

// NewController wires the screen to its collaborators. Nothing happens until Run is called.
func NewController(
	coord Coordinator,
	poller *progress.Poller,
	listener *completion.Listener,
	perms Permissions,
	opener Opener,
	notifier Notifier,
	tel *telemetry.Telemetry,
	cfg Config,
) *Controller {
	return &Controller{
		coord:    coord,
		poller:   poller,
		listener: listener,
		perms:    perms,
		opener:   opener,
		notifier: notifier,
		tel:      tel,
		cfg:      cfg,
		requests: make(chan request),
		done:     make(chan struct{}),
		notes:    make(chan note, notesBuffer),
	}
}

// Run is the screen's event loop. It returns when ctx is done, releasing the completion
// subscription and stopping the poller.
func (c *Controller) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	c.runCtx = ctx

	defer close(c.done)
	defer c.teardown()

	go c.deliverNotes()
	defer close(c.notes)

	logger.Info("screen controller started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("screen controller shutdown", "reason", "context_cancelled")

			return nil
		case req := <-c.requests:
			req.errc <- req.fn(req.ctx)
		case u, ok := <-c.updates:
			if !ok {
				c.stopPoller()
				c.reconcile(ctx)

				continue
			}

			c.applyUpdate(ctx, u)
		case ev, ok := <-c.sub.Events():
			if !ok {
				c.sub = nil

				continue
			}

			c.handleCompletion(ctx, ev)
		}
	}
}

func (c *Controller) do(ctx context.Context, fn action) error {
	req := request{ctx: ctx, fn: fn, errc: make(chan error, 1)}

	select {
	case c.requests <- req:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Create asks for the permission downloads need.
func (c *Controller) Create(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		c.perms.Request(ctx)

		return nil
	})
}

// Start restores the tracked download from the preference store.
func (c *Controller) Start(ctx context.Context) error {
	return c.do(ctx, c.onStart)
}

// Resume re-queries the tracked download and starts listening for completion events.
func (c *Controller) Resume(ctx context.Context) error {
	return c.do(ctx, c.onResume)
}

// Pause stops listening for completion events and cancels the poller.
func (c *Controller) Pause(ctx context.Context) error {
	return c.do(ctx, c.onPause)
}

// Stop persists the tracked download.
func (c *Controller) Stop(ctx context.Context) error {
	return c.do(ctx, c.onStop)
}

// Foreground brings the screen back: Start followed by Resume.
func (c *Controller) Foreground(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		if err := c.onStart(ctx); err != nil {
			return err
		}

		return c.onResume(ctx)
	})
}

// Background hides the screen: Pause followed by Stop.
func (c *Controller) Background(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		if err := c.onPause(ctx); err != nil {
			return err
		}

		return c.onStop(ctx)
	})
}

// StartDownload starts downloading rawURL. Rejections are shown as a message and returned.
func (c *Controller) StartDownload(ctx context.Context, rawURL string) error {
	return c.do(ctx, func(ctx context.Context) error {
		return c.startDownload(ctx, rawURL)
	})
}

// Open opens the file of the completed download.
func (c *Controller) Open(ctx context.Context) error {
	return c.do(ctx, c.open)
}

// RequestPermission asks for the permission again and reports the answer.
func (c *Controller) RequestPermission(ctx context.Context) (bool, error) {
	var granted bool

	err := c.do(ctx, func(ctx context.Context) error {
		granted = c.perms.Request(ctx)

		return nil
	})

	return granted, err
}

// Snapshot returns what the screen currently shows.
func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	err := c.do(ctx, func(context.Context) error {
		snap = c.snapshot()

		return nil
	})

	return snap, err
}

func (c *Controller) onStart(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	id, err := c.coord.RestoreTracked(ctx)
	if err != nil {
		logger.Error("failed to restore tracked download", "err", err)

		return nil
	}

	c.tracked = id

	logger.Debug("screen started", "download_id", c.tracked)

	return nil
}

func (c *Controller) onResume(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if c.visible {
		return nil
	}

	c.visible = true

	if c.tracked.Valid() {
		rec, err := c.coord.Query(ctx, c.tracked)

		switch {
		case errors.Is(err, dm.ErrNotFound):
			logger.Warn("tracked download is no longer known to the service", "download_id", c.tracked)

			if c.state == Downloading {
				c.markLost(ctx)
			}
		case err != nil:
			logger.Error("failed to query tracked download", "download_id", c.tracked, "err", err)
		case !rec.Status.Terminal():
			c.state = Downloading
			c.percentage = progress.Percentage(rec.BytesDownloaded, rec.TotalBytes)
			c.startPoller(c.tracked)
		case rec.IsSuccessful():
			c.state = Completed
			c.percentage = progress.Complete
		default:
			c.state = Failed
			c.percentage = progress.Failed
		}
	}

	c.sub = c.listener.Subscribe(c.coord)

	logger.Debug("screen resumed", "download_id", c.tracked, "state", c.state)

	return nil
}

func (c *Controller) onPause(ctx context.Context) error {
	if !c.visible {
		return nil
	}

	c.visible = false

	c.sub.Close()
	c.sub = nil
	c.stopPoller()

	logctx.LoggerFromContext(ctx).Debug("screen paused", "download_id", c.tracked)

	return nil
}

func (c *Controller) onStop(ctx context.Context) error {
	if err := c.coord.SaveTracked(ctx, c.tracked); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to persist tracked download", "download_id", c.tracked, "err", err)

		return err
	}

	return nil
}

func (c *Controller) startDownload(ctx context.Context, rawURL string) error {
	logger := logctx.LoggerFromContext(ctx)

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return c.reject(ctx, "empty_url", &coordinator.InvalidInputError{Reason: "URL is empty"})
	}

	if c.state == Downloading {
		return c.reject(ctx, "in_progress", &coordinator.DownloadInProgressError{ID: c.tracked})
	}

	if c.tracked.Valid() {
		rec, err := c.coord.Query(ctx, c.tracked)

		switch {
		case errors.Is(err, dm.ErrNotFound):
		case err != nil:
			logger.Error("failed to check tracked download", "download_id", c.tracked, "err", err)
			c.show(ctx, MsgUnexpected)

			return fmt.Errorf("failed to check tracked download: %w", err)
		case !rec.Status.Terminal():
			return c.reject(ctx, "in_progress", &coordinator.DownloadInProgressError{ID: c.tracked})
		}
	}

	if !c.perms.Granted() && !c.perms.Request(ctx) {
		return c.reject(ctx, "permission_denied", &coordinator.PermissionDeniedError{Permission: c.perms.Name()})
	}

	id, err := c.coord.Start(ctx, rawURL)
	if err != nil {
		var invalid *coordinator.InvalidInputError
		if errors.As(err, &invalid) {
			return c.reject(ctx, "invalid_url", err)
		}

		logger.Error("failed to start download", "err", err)
		c.show(ctx, MessageFor(err))

		return err
	}

	c.stopPoller()

	c.tracked = id
	c.state = Downloading
	c.percentage = 0
	c.message = ""

	if c.visible {
		c.startPoller(id)
	}

	return nil
}

func (c *Controller) reject(ctx context.Context, reason string, err error) error {
	logctx.LoggerFromContext(ctx).Warn("download start rejected", "reason", reason, "err", err)

	c.tel.RecordRejection(ctx, reason)
	c.show(ctx, MessageFor(err))

	return err
}

func (c *Controller) open(ctx context.Context) error {
	if c.state != Completed {
		err := &coordinator.OpenUnsupportedError{}
		c.tel.RecordOpenAttempt(ctx, "unavailable")
		c.show(ctx, MessageFor(err))

		return err
	}

	location, ok, err := c.coord.ResolveLocalLocation(ctx, c.tracked)
	if err != nil {
		c.tel.RecordOpenAttempt(ctx, "error")
		c.show(ctx, MsgUnableToOpen)

		return fmt.Errorf("failed to resolve local location: %w", err)
	}

	if !ok {
		err := &coordinator.OpenUnsupportedError{}
		c.tel.RecordOpenAttempt(ctx, "unavailable")
		c.show(ctx, MessageFor(err))

		return err
	}

	return c.openLocation(ctx, location)
}

func (c *Controller) openLocation(ctx context.Context, location string) error {
	if err := c.opener.Open(ctx, location, c.coord.MimeType()); err != nil {
		c.tel.RecordOpenAttempt(ctx, "unsupported")
		c.show(ctx, MessageFor(err))

		return err
	}

	c.tel.RecordOpenAttempt(ctx, "opened")

	return nil
}

func (c *Controller) applyUpdate(ctx context.Context, u progress.Update) {
	if u.ID != c.tracked || c.state != Downloading {
		return
	}

	if u.Terminal() {
		c.finish(ctx, completion.Outcome{
			ID:         u.ID,
			Status:     u.Status,
			Percentage: u.Percentage,
			Location:   u.LocalURI,
			Reason:     u.Reason,
			Ready:      u.Percentage == progress.Complete,
		})

		return
	}

	c.percentage = u.Percentage
	c.tel.RecordProgress(ctx, u.Percentage)
}

// reconcile re-queries the tracked download after its poller stopped on its own.
func (c *Controller) reconcile(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", c.tracked)

	if c.state != Downloading {
		return
	}

	rec, err := c.coord.Query(ctx, c.tracked)

	switch {
	case errors.Is(err, dm.ErrNotFound):
		logger.Warn("tracked download is no longer known to the service")
		c.markLost(ctx)
	case err != nil:
		logger.Error("failed to query tracked download", "err", err)

		if c.visible {
			c.startPoller(c.tracked)
		}
	case rec.Status.Terminal():
		c.finish(ctx, completion.Outcome{
			ID:         rec.ID,
			Status:     rec.Status,
			Percentage: progress.Final(rec),
			Location:   rec.LocalURI,
			Reason:     rec.Reason,
			Ready:      rec.IsSuccessful(),
		})
	case c.visible:
		c.startPoller(c.tracked)
	}
}

// markLost fails a download the service dropped so that a new one can be started.
func (c *Controller) markLost(ctx context.Context) {
	c.stopPoller()

	c.state = Failed
	c.percentage = progress.Failed
	c.show(ctx, MsgDownloadFailed)
}

func (c *Controller) handleCompletion(ctx context.Context, ev dm.CompletionEvent) {
	out, ok := c.listener.Handle(ctx, c.tracked, ev)
	if !ok {
		return
	}

	if c.state == Completed || c.state == Failed {
		return
	}

	c.finish(ctx, out)
}

func (c *Controller) finish(ctx context.Context, out completion.Outcome) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", out.ID)

	c.stopPoller()

	if !out.Ready {
		c.state = Failed
		c.percentage = progress.Failed
		logger.Warn("download failed", "reason", out.Reason)
		c.show(ctx, MessageFor(&coordinator.DownloadFailedError{ID: out.ID, Reason: out.Reason}))

		return
	}

	c.state = Completed
	c.percentage = progress.Complete
	c.tel.RecordProgress(ctx, progress.Complete)
	logger.Info("download completed", "location", out.Location)
	c.show(ctx, MsgDownloadCompleted)

	if c.cfg.OpenOnComplete {
		_ = c.openLocation(ctx, out.Location)
	}
}

func (c *Controller) show(ctx context.Context, message string) {
	c.message = message

	if c.notifier == nil {
		return
	}

	select {
	case c.notes <- note{ctx: context.WithoutCancel(ctx), message: message}:
	default:
		logctx.LoggerFromContext(ctx).Warn("dropping notification for slow notifier", "message", message)
	}
}

// deliverNotes hands messages to the notifier off the controller goroutine until notes is
// closed.
func (c *Controller) deliverNotes() {
	for n := range c.notes {
		c.notifier.Notify(n.ctx, n.message)
	}
}

func (c *Controller) startPoller(id dm.ID) {
	c.stopPoller()

	ctx, cancel := context.WithCancel(c.runCtx)
	c.stopPoll = cancel
	c.updates = c.poller.Track(ctx, id)
}

func (c *Controller) stopPoller() {
	if c.stopPoll != nil {
		c.stopPoll()
	}

	c.stopPoll = nil
	c.updates = nil
}

func (c *Controller) teardown() {
	c.sub.Close()
	c.sub = nil
	c.stopPoller()
}

func (c *Controller) snapshot() Snapshot {
	bar, text := progressView(c.state, c.percentage)

	return Snapshot{
		State:             c.state,
		DownloadID:        c.tracked,
		Percentage:        c.percentage,
		Progress:          bar,
		ProgressText:      text,
		OpenEnabled:       c.state == Completed,
		PermissionGranted: c.perms.Granted(),
		Visible:           c.visible,
		Polling:           c.updates != nil,
		Message:           c.message,
	}
}
