package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/dm/dmtest"
	"github.com/italolelis/download_coordinator/internal/progress"
)

func enqueue(t *testing.T, svc *dmtest.Service) dm.ID {
	t.Helper()

	id, err := svc.Enqueue(context.Background(), dm.Request{URL: "http://example.com/a.apk"})
	require.NoError(t, err)

	return id
}

func TestListener_Successful(t *testing.T) {
	ctx := context.Background()
	svc := dmtest.New()
	id := enqueue(t, svc)
	svc.Complete(ctx, id, "file:///downloads/myApkName.apk")

	out, ok := NewListener(svc, nil).Handle(ctx, id, dm.CompletionEvent{ID: id})
	require.True(t, ok)

	assert.Equal(t, progress.Complete, out.Percentage)
	assert.True(t, out.Ready)
	assert.Equal(t, "file:///downloads/myApkName.apk", out.Location)
	assert.Equal(t, dm.StatusSuccessful, out.Status)
}

func TestListener_FailedOrMissingLocation(t *testing.T) {
	ctx := context.Background()
	svc := dmtest.New()

	failed := enqueue(t, svc)
	svc.Fail(ctx, failed, "HTTP 404")

	noFile := enqueue(t, svc)
	svc.Complete(ctx, noFile, "")

	l := NewListener(svc, nil)

	for _, id := range []dm.ID{failed, noFile} {
		out, ok := l.Handle(ctx, id, dm.CompletionEvent{ID: id})
		require.True(t, ok)
		assert.Equal(t, progress.Failed, out.Percentage)
		assert.False(t, out.Ready)
		assert.Empty(t, out.Location)
	}
}

func TestListener_IgnoresUnrelatedEvents(t *testing.T) {
	ctx := context.Background()
	svc := dmtest.New()
	id := enqueue(t, svc)
	other := enqueue(t, svc)
	svc.Complete(ctx, other, "file:///downloads/other.apk")

	l := NewListener(svc, nil)

	tests := []struct {
		name    string
		tracked dm.ID
		event   dm.ID
	}{
		{"different id", id, other},
		{"zero event", id, 0},
		{"zero tracked and event", 0, 0},
		{"nothing tracked", 0, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := svc.Queries()

			_, ok := l.Handle(ctx, tt.tracked, dm.CompletionEvent{ID: tt.event})
			assert.False(t, ok)
			assert.Equal(t, before, svc.Queries(), "unrelated events are not re-queried")
		})
	}
}

func TestListener_IgnoresNonTerminalAndErrors(t *testing.T) {
	ctx := context.Background()
	svc := dmtest.New()
	id := enqueue(t, svc)
	svc.SetProgress(id, 1, 2)

	l := NewListener(svc, nil)

	_, ok := l.Handle(ctx, id, dm.CompletionEvent{ID: id})
	assert.False(t, ok, "running download")

	_, ok = l.Handle(ctx, 50, dm.CompletionEvent{ID: 50})
	assert.False(t, ok, "unknown download")

	svc.QueryErr = errors.New("timeout")

	_, ok = l.Handle(ctx, id, dm.CompletionEvent{ID: id})
	assert.False(t, ok, "query error")
}

func TestSubscription_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc := dmtest.New()
	l := NewListener(svc, nil)

	sub := l.Subscribe(svc)
	assert.Equal(t, 1, svc.Subscribers())

	svc.Publish(ctx, dm.CompletionEvent{ID: 5})

	select {
	case ev := <-sub.Events():
		assert.Equal(t, dm.ID(5), ev.ID)
	case <-time.After(time.Second):
		t.Fatal("no completion event delivered")
	}

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, svc.Subscribers())
}

func TestSubscription_Nil(t *testing.T) {
	var sub *Subscription

	assert.Nil(t, sub.Events())
	assert.NotPanics(t, sub.Close)
}
