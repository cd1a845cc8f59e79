package opener

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"

	"github.com/italolelis/download_coordinator/internal/coordinator"
	"github.com/italolelis/download_coordinator/internal/logctx"
)

// Wildcard is the handler key used when no handler matches the MIME type.
const Wildcard = "*"

// Registry opens downloaded files with the command registered for their MIME type.
type Registry struct {
	handlers map[string]string
	lookPath func(file string) (string, error)
	start    func(name string, args ...string) error
}

// New creates a registry from MIME type to command, for example
// {"application/pdf": "evince", "*": "xdg-open"}. Commands may carry arguments.
func New(handlers map[string]string) *Registry {
	return &Registry{
		handlers: handlers,
		lookPath: exec.LookPath,
		start:    startDetached,
	}
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}

	go func() { _ = cmd.Wait() }()

	return nil
}

// Open launches the viewer of mimeType for location. It returns an
// *coordinator.OpenUnsupportedError when no viewer can be launched.
func (r *Registry) Open(ctx context.Context, location, mimeType string) error {
	logger := logctx.LoggerFromContext(ctx).With("location", location, "mime_type", mimeType)

	command, ok := r.handlerFor(mimeType)
	if !ok {
		logger.Error("no handler available to open file")

		return &coordinator.OpenUnsupportedError{Location: location, MimeType: mimeType}
	}

	fields := strings.Fields(command)

	path, err := r.lookPath(fields[0])
	if err != nil {
		logger.Error("handler command not found", "command", fields[0], "err", err)

		return &coordinator.OpenUnsupportedError{Location: location, MimeType: mimeType, Err: err}
	}

	args := append(fields[1:], localPath(location))
	if err := r.start(path, args...); err != nil {
		logger.Error("failed to launch handler", "command", path, "err", err)

		return &coordinator.OpenUnsupportedError{
			Location: location,
			MimeType: mimeType,
			Err:      fmt.Errorf("failed to launch %s: %w", path, err),
		}
	}

	logger.Info("opened downloaded file", "command", path)

	return nil
}

func (r *Registry) handlerFor(mimeType string) (string, bool) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	candidates := []string{mimeType}
	if major, _, ok := strings.Cut(mimeType, "/"); ok {
		candidates = append(candidates, major+"/*")
	}
	candidates = append(candidates, Wildcard)

	for _, key := range candidates {
		if cmd := strings.TrimSpace(r.handlers[key]); cmd != "" {
			return cmd, true
		}
	}

	return "", false
}

// localPath turns a file URI into a filesystem path. Other references are passed through.
func localPath(location string) string {
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "file" {
		return location
	}

	return u.Path
}
