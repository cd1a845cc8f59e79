package screen

import (
	"errors"
	"fmt"

	"github.com/italolelis/download_coordinator/internal/coordinator"
	"github.com/italolelis/download_coordinator/internal/dm"
	"github.com/italolelis/download_coordinator/internal/progress"
)

type State int

const (
	Idle State = iota
	Downloading
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Downloading:
		return "downloading"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is what the screen currently shows.
type Snapshot struct {
	State      State `json:"state"`
	DownloadID dm.ID `json:"download_id"`

	// Percentage is the last reported percentage, progress.Failed for a failed download.
	Percentage int `json:"percentage"`

	// Progress is the value of the progress bar, always within 0 and 100.
	Progress int `json:"progress"`

	ProgressText      string `json:"progress_text"`
	OpenEnabled       bool   `json:"open_enabled"`
	PermissionGranted bool   `json:"permission_granted"`
	Visible           bool   `json:"visible"`
	Polling           bool   `json:"polling"`
	Message           string `json:"message,omitempty"`
}

// Messages shown to the user.
const (
	MsgEmptyURL           = "Please enter a URL."
	MsgInvalidURL         = "Invalid URL."
	MsgPermissionDenied   = "Write permission to the download directory is required."
	MsgDownloadInProgress = "A download is already in progress."
	MsgDownloadFailed     = "Download failed."
	MsgDownloadCompleted  = "Download completed."
	MsgUnableToOpen       = "Unable to open file."
	MsgUnexpected         = "Something went wrong, please try again."
)

// MessageFor returns the transient message shown for err.
func MessageFor(err error) string {
	var (
		invalid    *coordinator.InvalidInputError
		denied     *coordinator.PermissionDeniedError
		inProgress *coordinator.DownloadInProgressError
		failed     *coordinator.DownloadFailedError
		open       *coordinator.OpenUnsupportedError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		if invalid.Input == "" {
			return MsgEmptyURL
		}

		return MsgInvalidURL
	case errors.As(err, &denied):
		return MsgPermissionDenied
	case errors.As(err, &inProgress):
		return MsgDownloadInProgress
	case errors.As(err, &failed):
		return MsgDownloadFailed
	case errors.As(err, &open):
		return MsgUnableToOpen
	default:
		return MsgUnexpected
	}
}

func progressView(state State, percentage int) (int, string) {
	switch {
	case state == Completed:
		return progress.Complete, "Completed"
	case state == Failed || percentage < 0:
		return 0, "Failed"
	default:
		return percentage, fmt.Sprintf("%d%%", percentage)
	}
}
