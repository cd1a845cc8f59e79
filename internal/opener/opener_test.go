package opener

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/download_coordinator/internal/coordinator"
)

type launch struct {
	name string
	args []string
}

func newTestRegistry(handlers map[string]string, startErr error) (*Registry, *[]launch) {
	var launches []launch

	r := New(handlers)
	r.lookPath = func(file string) (string, error) {
		if file == "missing" {
			return "", errors.New("executable file not found in $PATH")
		}

		return "/usr/bin/" + file, nil
	}
	r.start = func(name string, args ...string) error {
		launches = append(launches, launch{name: name, args: args})
		return startErr
	}

	return r, &launches
}

func TestRegistry_OpenPicksMostSpecificHandler(t *testing.T) {
	const apk = "application/vnd.android.package-archive"

	r, launches := newTestRegistry(map[string]string{
		apk:       "adb install -r",
		"image/*": "feh",
		"*":       "xdg-open",
	}, nil)
	ctx := context.Background()

	require.NoError(t, r.Open(ctx, "file:///downloads/myApkName.apk", apk))
	require.NoError(t, r.Open(ctx, "file:///downloads/cat.png", "IMAGE/PNG"))
	require.NoError(t, r.Open(ctx, "mem:///notes.txt", "text/plain"))

	assert.Equal(t, []launch{
		{name: "/usr/bin/adb", args: []string{"install", "-r", "/downloads/myApkName.apk"}},
		{name: "/usr/bin/feh", args: []string{"/downloads/cat.png"}},
		{name: "/usr/bin/xdg-open", args: []string{"mem:///notes.txt"}},
	}, *launches)
}

func TestRegistry_OpenUnsupported(t *testing.T) {
	tests := []struct {
		name     string
		handlers map[string]string
		startErr error
	}{
		{"no handler", map[string]string{"image/png": "feh"}, nil},
		{"blank handler", map[string]string{"*": "  "}, nil},
		{"command not installed", map[string]string{"*": "missing"}, nil},
		{"launch fails", map[string]string{"*": "xdg-open"}, errors.New("exec format error")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRegistry(tt.handlers, tt.startErr)

			err := r.Open(context.Background(), "file:///downloads/myApkName.apk", "application/vnd.android.package-archive")

			var unsupported *coordinator.OpenUnsupportedError
			require.ErrorAs(t, err, &unsupported)
			assert.Equal(t, "file:///downloads/myApkName.apk", unsupported.Location)
		})
	}
}

func TestLocalPath(t *testing.T) {
	assert.Equal(t, "/downloads/a b.apk", localPath("file:///downloads/a%20b.apk"))
	assert.Equal(t, "mem:///a.apk", localPath("mem:///a.apk"))
	assert.Equal(t, "/plain/path", localPath("/plain/path"))
}
