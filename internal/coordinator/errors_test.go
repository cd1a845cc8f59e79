package coordinator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrors_Error(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"empty input", &InvalidInputError{Reason: "URL is empty"}, "invalid input: URL is empty"},
		{"malformed input", &InvalidInputError{Input: "exa mple", Reason: "URL contains whitespace"}, `invalid input "exa mple": URL contains whitespace`},
		{"permission", &PermissionDeniedError{Permission: "write /downloads"}, "permission denied: write /downloads"},
		{"in progress", &DownloadInProgressError{ID: 4}, "download 4 is still in progress"},
		{"failed", &DownloadFailedError{ID: 4}, "download 4 failed"},
		{"failed with reason", &DownloadFailedError{ID: 4, Reason: "HTTP 404"}, "download 4 failed: HTTP 404"},
		{"open without file", &OpenUnsupportedError{}, "unable to open file: no local file available"},
		{"open", &OpenUnsupportedError{Location: "file:///d/a.apk", MimeType: "application/x"}, "unable to open file:///d/a.apk (application/x)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrors_Unwrap(t *testing.T) {
	base := errors.New("base")

	tests := []struct {
		name string
		err  error
	}{
		{"invalid input", &InvalidInputError{Err: base}},
		{"permission", &PermissionDeniedError{Err: base}},
		{"failed", &DownloadFailedError{Err: base}},
		{"open", &OpenUnsupportedError{Err: base}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("context: %w", tt.err)
			assert.ErrorIs(t, wrapped, base)
		})
	}

	assert.NoError(t, (&DownloadInProgressError{}).Unwrap())
}

func TestErrors_As(t *testing.T) {
	err := fmt.Errorf("start: %w", &DownloadInProgressError{ID: 9})

	var inProgress *DownloadInProgressError
	if assert.ErrorAs(t, err, &inProgress) {
		assert.Equal(t, "9", inProgress.ID.String())
	}
}
