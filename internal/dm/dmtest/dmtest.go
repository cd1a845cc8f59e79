// Package dmtest provides an in-memory download service for tests.
package dmtest

import (
	"context"
	"sync"
	"time"

	"github.com/italolelis/download_coordinator/internal/dm"
)

// Service is an in-memory dm.Service. Tests drive downloads through SetProgress, Complete and
// Fail.
type Service struct {
	*dm.Broadcaster

	mu       sync.Mutex
	nextID   dm.ID
	records  map[dm.ID]dm.Record
	requests []dm.Request
	queries  int

	EnqueueErr error
	QueryErr   error
}

var _ dm.Service = (*Service)(nil)

func New() *Service {
	return &Service{
		Broadcaster: dm.NewBroadcaster(),
		records:     make(map[dm.ID]dm.Record),
	}
}

func (s *Service) Enqueue(_ context.Context, req dm.Request) (dm.ID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.EnqueueErr != nil {
		return 0, s.EnqueueErr
	}

	s.nextID++
	now := time.Now()
	s.records[s.nextID] = dm.Record{
		ID:          s.nextID,
		URL:         req.URL,
		Title:       req.Title,
		Description: req.Description,
		MimeType:    req.MimeType,
		Destination: req.Destination,
		Status:      dm.StatusPending,
		TotalBytes:  -1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.requests = append(s.requests, req)

	return s.nextID, nil
}

func (s *Service) Query(_ context.Context, id dm.ID) (*dm.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queries++

	if s.QueryErr != nil {
		return nil, s.QueryErr
	}

	rec, ok := s.records[id]
	if !ok {
		return nil, dm.ErrNotFound
	}

	return &rec, nil
}

// Put stores rec as is, replacing any row with the same identifier.
func (s *Service) Put(rec dm.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec
	if rec.ID > s.nextID {
		s.nextID = rec.ID
	}
}

// Remove deletes the row of id.
func (s *Service) Remove(id dm.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, id)
}

// SetProgress marks id as running with the given byte counters.
func (s *Service) SetProgress(id dm.ID, downloaded, total int64) {
	s.update(id, func(rec *dm.Record) {
		rec.Status = dm.StatusRunning
		rec.BytesDownloaded = downloaded
		rec.TotalBytes = total
	})
}

// Complete marks id as successful and broadcasts its completion.
func (s *Service) Complete(ctx context.Context, id dm.ID, localURI string) {
	s.update(id, func(rec *dm.Record) {
		rec.Status = dm.StatusSuccessful
		rec.LocalURI = localURI
		if rec.TotalBytes > 0 {
			rec.BytesDownloaded = rec.TotalBytes
		}
	})

	s.Publish(ctx, dm.CompletionEvent{ID: id})
}

// Fail marks id as failed and broadcasts its completion.
func (s *Service) Fail(ctx context.Context, id dm.ID, reason string) {
	s.update(id, func(rec *dm.Record) {
		rec.Status = dm.StatusFailed
		rec.Reason = reason
		rec.LocalURI = ""
	})

	s.Publish(ctx, dm.CompletionEvent{ID: id})
}

// Requests returns every request enqueued so far.
func (s *Service) Requests() []dm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]dm.Request(nil), s.requests...)
}

// Queries returns the number of Query calls.
func (s *Service) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queries
}

func (s *Service) update(id dm.ID, fn func(rec *dm.Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return
	}

	fn(&rec)
	rec.UpdatedAt = time.Now()
	s.records[id] = rec
}

// Preferences is an in-memory storage.PreferenceStore.
type Preferences struct {
	mu     sync.Mutex
	values map[string]int64

	Err error
}

func NewPreferences() *Preferences {
	return &Preferences{values: make(map[string]int64)}
}

func (p *Preferences) GetInt64(_ context.Context, key string, fallback int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return 0, p.Err
	}

	v, ok := p.values[key]
	if !ok {
		return fallback, nil
	}

	return v, nil
}

func (p *Preferences) PutInt64(_ context.Context, key string, value int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}

	p.values[key] = value

	return nil
}
