package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/download_coordinator/internal/config"
	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/dm/dmtest"
	"github.com/italolelis/download_coordinator/internal/storage"
)

func newTestCoordinator() (*Coordinator, *dmtest.Service, *dmtest.Preferences) {
	svc := dmtest.New()
	prefs := dmtest.NewPreferences()

	return New(svc, prefs, config.DefaultRequestProfile()), svc, prefs
}

func TestCoordinator_StartEnqueuesProfileRequest(t *testing.T) {
	c, svc, _ := newTestCoordinator()

	id, err := c.Start(context.Background(), "  example.com/app.apk ")
	require.NoError(t, err)
	assert.Equal(t, dm.ID(1), id)

	reqs := svc.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "http://example.com/app.apk", reqs[0].URL)
	assert.Equal(t, "Downloading My Application Update...", reqs[0].Title)
	assert.Equal(t, "My Application v2.14.20", reqs[0].Description)
	assert.Equal(t, "application/vnd.android.package-archive", reqs[0].MimeType)
	assert.Equal(t, "myApkName.apk", reqs[0].Destination)
}

func TestCoordinator_StartRejectsInvalidInput(t *testing.T) {
	c, svc, _ := newTestCoordinator()

	for _, input := range []string{"", "   ", "not a url", "ftp://example.com/file", "http://", "example"} {
		t.Run(input, func(t *testing.T) {
			_, err := c.Start(context.Background(), input)

			var invalid *InvalidInputError
			assert.ErrorAs(t, err, &invalid)
		})
	}

	assert.Empty(t, svc.Requests(), "invalid input must not reach the download service")
}

func TestCoordinator_StartWrapsServiceError(t *testing.T) {
	c, svc, _ := newTestCoordinator()
	svc.EnqueueErr = errors.New("service unavailable")

	_, err := c.Start(context.Background(), "https://example.com/app.apk")
	assert.ErrorIs(t, err, svc.EnqueueErr)
	assert.ErrorContains(t, err, "failed to enqueue download")
}

func TestCoordinator_QueryNotFound(t *testing.T) {
	c, _, _ := newTestCoordinator()

	_, err := c.Query(context.Background(), 0)
	assert.ErrorIs(t, err, dm.ErrNotFound)

	_, err = c.Query(context.Background(), 99)
	assert.ErrorIs(t, err, dm.ErrNotFound)
}

func TestCoordinator_QueryTransientError(t *testing.T) {
	c, svc, _ := newTestCoordinator()
	svc.QueryErr = errors.New("timeout")

	_, err := c.Query(context.Background(), 1)
	assert.ErrorIs(t, err, svc.QueryErr)
	assert.NotErrorIs(t, err, dm.ErrNotFound)
}

func TestCoordinator_ResolveLocalLocation(t *testing.T) {
	c, svc, _ := newTestCoordinator()
	ctx := context.Background()

	id, err := c.Start(ctx, "https://example.com/app.apk")
	require.NoError(t, err)

	_, ok, err := c.ResolveLocalLocation(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "pending download has no location")

	svc.Complete(ctx, id, "file:///downloads/myApkName.apk")

	location, ok, err := c.ResolveLocalLocation(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "file:///downloads/myApkName.apk", location)

	_, ok, err = c.ResolveLocalLocation(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok, "unknown download has no location")
}

func TestCoordinator_TrackedIdentifier(t *testing.T) {
	c, _, prefs := newTestCoordinator()
	ctx := context.Background()

	id, err := c.RestoreTracked(ctx)
	require.NoError(t, err)
	assert.Equal(t, dm.ID(0), id, "missing key reads as zero")

	require.NoError(t, c.SaveTracked(ctx, 7))
	require.NoError(t, c.SaveTracked(ctx, 8))

	id, err = c.RestoreTracked(ctx)
	require.NoError(t, err)
	assert.Equal(t, dm.ID(8), id, "last write wins")

	v, err := prefs.GetInt64(ctx, storage.KeyLatestDownloadID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), v)
}

func TestCoordinator_TrackedIdentifierStoreError(t *testing.T) {
	c, _, prefs := newTestCoordinator()
	prefs.Err = errors.New("disk full")

	_, err := c.RestoreTracked(context.Background())
	assert.ErrorIs(t, err, prefs.Err)

	err = c.SaveTracked(context.Background(), 1)
	assert.ErrorIs(t, err, prefs.Err)
}
