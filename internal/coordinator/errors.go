package coordinator

import (
	"fmt"

	"github.com/italolelis/download_coordinator/internal/dm"
)

// InvalidInputError is returned for an empty or malformed URL. The download service is never
// contacted for invalid input.
type InvalidInputError struct {
	Input  string // The raw input as entered by the user
	Reason string // Human-readable explanation of why the input was rejected
	Err    error  // Underlying error, if any
}

func (e *InvalidInputError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}

	return fmt.Sprintf("invalid input %q: %s", e.Input, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

// PermissionDeniedError is returned when write access to the destination was not granted.
type PermissionDeniedError struct {
	Permission string // The permission that is missing
	Err        error  // Underlying error, if any
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s", e.Permission)
}

func (e *PermissionDeniedError) Unwrap() error {
	return e.Err
}

// DownloadInProgressError is returned when a start is attempted while the tracked download is
// still active.
type DownloadInProgressError struct {
	ID dm.ID // The download that is still active
}

func (e *DownloadInProgressError) Error() string {
	return fmt.Sprintf("download %s is still in progress", e.ID)
}

func (e *DownloadInProgressError) Unwrap() error {
	return nil
}

// DownloadFailedError describes a download the service reported as failed.
type DownloadFailedError struct {
	ID     dm.ID  // The failed download
	Reason string // Reason reported by the download service, if any
	Err    error  // Underlying error, if any
}

func (e *DownloadFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("download %s failed", e.ID)
	}

	return fmt.Sprintf("download %s failed: %s", e.ID, e.Reason)
}

func (e *DownloadFailedError) Unwrap() error {
	return e.Err
}

// OpenUnsupportedError is returned when no viewer can open the downloaded file. The download
// state is not affected.
type OpenUnsupportedError struct {
	Location string // Local file reference that could not be opened
	MimeType string // MIME type of the file
	Err      error  // Underlying error, if any
}

func (e *OpenUnsupportedError) Error() string {
	if e.Location == "" {
		return "unable to open file: no local file available"
	}

	return fmt.Sprintf("unable to open %s (%s)", e.Location, e.MimeType)
}

func (e *OpenUnsupportedError) Unwrap() error {
	return e.Err
}
