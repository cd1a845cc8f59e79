package completion

import (
	"context"
	"errors"

	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/logctx"
	"github.com/italolelis/download_coordinator/internal/progress"
	"github.com/italolelis/download_coordinator/internal/telemetry"
)

// Source hands out completion event subscriptions.
type Source interface {
	Subscribe() *dm.Subscription
}

// Subscription is a completion event subscription held while the screen is visible. A nil
// Subscription has no events and closing it is a no-op.
type Subscription struct {
	sub *dm.Subscription
}

func (s *Subscription) Events() <-chan dm.CompletionEvent {
	if s == nil {
		return nil
	}

	return s.sub.Events()
}

func (s *Subscription) Close() {
	if s != nil {
		s.sub.Close()
	}
}

// Outcome is the result of a completion event for the tracked download.
type Outcome struct {
	ID         dm.ID
	Status     dm.Status
	Percentage int
	Location   string
	Reason     string
	// Ready is true when the file can be opened.
	Ready bool
}

// Listener resolves completion events against the tracked download.
type Listener struct {
	q   progress.Querier
	tel *telemetry.Telemetry
}

// NewListener resolves events through q.
func NewListener(q progress.Querier, tel *telemetry.Telemetry) *Listener {
	return &Listener{q: q, tel: tel}
}

// Subscribe starts listening for completion events. The caller must Close the subscription.
func (l *Listener) Subscribe(src Source) *Subscription {
	return &Subscription{sub: src.Subscribe()}
}

// Handle resolves event for the tracked download. It reports false when the event is unrelated
// or the download is not finished yet.
func (l *Listener) Handle(ctx context.Context, tracked dm.ID, event dm.CompletionEvent) (Outcome, bool) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", event.ID)

	if event.ID != tracked || !event.ID.Valid() {
		logger.Warn("ignoring unrelated download", "tracked_id", tracked)
		l.tel.RecordCompletionEvent(ctx, "ignored")

		return Outcome{}, false
	}

	rec, err := l.q.Query(ctx, event.ID)
	if err != nil {
		if errors.Is(err, dm.ErrNotFound) {
			logger.Warn("completed download is no longer known to the service")
		} else {
			logger.Error("failed to query completed download", "err", err)
		}

		l.tel.RecordCompletionEvent(ctx, "ignored")

		return Outcome{}, false
	}

	if !rec.Status.Terminal() {
		logger.Debug("completion event for a download that is not terminal", "status", rec.Status)
		l.tel.RecordCompletionEvent(ctx, "ignored")

		return Outcome{}, false
	}

	l.tel.RecordCompletionEvent(ctx, "matched")

	out := Outcome{
		ID:         rec.ID,
		Status:     rec.Status,
		Percentage: progress.Final(rec),
		Reason:     rec.Reason,
		Ready:      rec.IsSuccessful(),
	}

	if out.Ready {
		out.Location = rec.LocalURI
	}

	return out, true
}
