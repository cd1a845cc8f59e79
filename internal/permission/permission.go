package permission

import (
	"context"
	"fmt"
	"os"

	"github.com/italolelis/download_coordinator/internal/logctx"
)

// Checker reports whether the process holds a permission. A nil error means granted.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// Always grants the permission.
var Always Checker = CheckerFunc(func(context.Context) error { return nil })

// DirWritable grants write access when a file can be created in Dir.
type DirWritable struct {
	Dir string
}

func (d DirWritable) Check(_ context.Context) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", d.Dir, err)
	}

	f, err := os.CreateTemp(d.Dir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", d.Dir, err)
	}

	name := f.Name()
	f.Close()

	if err := os.Remove(name); err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}

	return nil
}

// Gate remembers the last answer of a permission request. It is used from the controller
// goroutine only.
type Gate struct {
	name    string
	checker Checker
	granted bool
	lastErr error
}

// NewGate returns a gate that is denied until the first granted Request.
func NewGate(name string, checker Checker) *Gate {
	return &Gate{name: name, checker: checker}
}

// NewDirGate gates on write access to dir. Destinations that are not a local directory, dir
// being empty, are always granted under fallbackName.
func NewDirGate(dir, fallbackName string) *Gate {
	if dir == "" {
		return NewGate(fallbackName, Always)
	}

	return NewGate("write "+dir, DirWritable{Dir: dir})
}

// Name is the human readable permission name, for example "write /downloads".
func (g *Gate) Name() string {
	return g.name
}

// Request asks for the permission and records the answer.
func (g *Gate) Request(ctx context.Context) bool {
	logger := logctx.LoggerFromContext(ctx).With("permission", g.name)

	g.lastErr = g.checker.Check(ctx)
	g.granted = g.lastErr == nil

	if g.granted {
		logger.Debug("permission granted")
	} else {
		logger.Warn("permission denied", "err", g.lastErr)
	}

	return g.granted
}

// Granted reports the answer of the last request.
func (g *Gate) Granted() bool {
	return g.granted
}

// Err is the reason of the last denial.
func (g *Gate) Err() error {
	return g.lastErr
}
