package dm

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned when the download service has no row for an identifier.
var ErrNotFound = errors.New("no such download")

// ID is the opaque handle the download service assigns on enqueue. Zero means no download.
type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Valid reports whether the identifier can refer to an enqueued download.
func (id ID) Valid() bool {
	return id > 0
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the download will not change anymore.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// Request describes a file the download service should fetch.
type Request struct {
	URL         string
	Title       string
	Description string
	MimeType    string
	Destination string
}

// Record is the status row of a single download.
type Record struct {
	ID              ID
	URL             string
	Title           string
	Description     string
	MimeType        string
	Destination     string
	Status          Status
	BytesDownloaded int64
	TotalBytes      int64 // -1 when unknown
	LocalURI        string
	Reason          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsSuccessful reports whether the download finished and left a local file behind.
func (r *Record) IsSuccessful() bool {
	return r.Status == StatusSuccessful && r.LocalURI != ""
}

// CompletionEvent is broadcast when a download reaches a terminal status.
type CompletionEvent struct {
	ID ID
}

// Service is the external download service. Network I/O, partial data and file writes
// belong to it.
type Service interface {
	Enqueue(ctx context.Context, req Request) (ID, error)
	Query(ctx context.Context, id ID) (*Record, error)
	Subscribe() *Subscription
}
