package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/download_coordinator/internal/dm"
)

type fakeStore struct {
	mu        sync.Mutex
	records   []dm.Record
	removed   []dm.ID
	listErr   error
	removeErr error
}

func (s *fakeStore) List(context.Context) ([]dm.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]dm.Record(nil), s.records...), s.listErr
}

func (s *fakeStore) Remove(_ context.Context, id dm.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removeErr != nil {
		return s.removeErr
	}

	s.removed = append(s.removed, id)

	return nil
}

func (s *fakeStore) Removed() []dm.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]dm.ID(nil), s.removed...)
}

func TestDeleteExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	store := &fakeStore{records: []dm.Record{
		{ID: 1, Status: dm.StatusSuccessful, UpdatedAt: old},
		{ID: 2, Status: dm.StatusFailed, UpdatedAt: old},
		{ID: 3, Status: dm.StatusRunning, UpdatedAt: old},
		{ID: 4, Status: dm.StatusSuccessful, UpdatedAt: now.Add(-time.Hour)},
		{ID: 5, Status: dm.StatusSuccessful, UpdatedAt: old},
	}}

	deleted, err := DeleteExpired(context.Background(), store, 5, 24*time.Hour, now)
	require.NoError(t, err)

	assert.Equal(t, 2, deleted)
	assert.Equal(t, []dm.ID{1, 2}, store.Removed())
}

func TestDeleteExpired_Errors(t *testing.T) {
	now := time.Now()

	_, err := DeleteExpired(context.Background(), &fakeStore{listErr: errors.New("db closed")}, 0, time.Hour, now)
	assert.ErrorContains(t, err, "failed to list downloads")

	store := &fakeStore{
		records:   []dm.Record{{ID: 1, Status: dm.StatusFailed, UpdatedAt: now.Add(-2 * time.Hour)}},
		removeErr: errors.New("bucket unavailable"),
	}

	deleted, err := DeleteExpired(context.Background(), store, 0, time.Hour, now)
	assert.EqualError(t, err, "bucket unavailable")
	assert.Zero(t, deleted)
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := &fakeStore{records: []dm.Record{
		{ID: 1, Status: dm.StatusSuccessful, UpdatedAt: time.Now().Add(-time.Hour)},
	}}

	done := make(chan struct{})

	go func() {
		defer close(done)
		Run(ctx, store, func(context.Context) dm.ID { return 0 }, time.Millisecond, time.Minute)
	}()

	require.Eventually(t, func() bool { return len(store.Removed()) > 0 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
