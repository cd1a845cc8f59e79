package permission

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_RequestRecordsAnswer(t *testing.T) {
	ctx := context.Background()
	denied := errors.New("denied by user")
	answer := denied

	g := NewGate("write /downloads", CheckerFunc(func(context.Context) error { return answer }))
	assert.False(t, g.Granted(), "not granted before the first request")
	assert.Equal(t, "write /downloads", g.Name())

	assert.False(t, g.Request(ctx))
	assert.False(t, g.Granted())
	assert.ErrorIs(t, g.Err(), denied)

	answer = nil

	assert.True(t, g.Request(ctx))
	assert.True(t, g.Granted())
	assert.NoError(t, g.Err())
}

func TestAlways(t *testing.T) {
	g := NewGate("remote", Always)
	assert.True(t, g.Request(context.Background()))
}

func TestDirWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "downloads")

	require.NoError(t, DirWritable{Dir: dir}.Check(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the probe file is removed")
}

func TestDirWritable_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	err := DirWritable{Dir: filepath.Join(file, "sub")}.Check(context.Background())
	assert.Error(t, err)
}

func TestNewDirGate_ChecksDestinationDirectory(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "apps")

	g := NewDirGate(dir, "write mem://")
	assert.Equal(t, "write "+dir, g.Name())
	assert.True(t, g.Request(ctx))

	_, err := os.Stat(dir)
	assert.NoError(t, err, "destination directory is created by the check")
}

func TestNewDirGate_DeniesUnwritableDestination(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	g := NewDirGate(filepath.Join(file, "apps"), "unused")
	assert.False(t, g.Request(context.Background()))
	assert.Error(t, g.Err())
}

func TestNewDirGate_NonLocalDestination(t *testing.T) {
	g := NewDirGate("", "write mem://")

	assert.Equal(t, "write mem://", g.Name())
	assert.True(t, g.Request(context.Background()))
}
