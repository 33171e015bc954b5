package log

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WriteAndRotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ltc-node.log")

	logger, err := NewLogger(path)
	require.NoError(t, err)
	defer logger.Close()
	assert.Equal(t, path, logger.Path())

	_, err = logger.Write([]byte("first\n"))
	require.NoError(t, err)

	// logrotate と同じく、リネームしてから開き直す
	rotated := path + ".1"
	require.NoError(t, os.Rename(path, rotated))
	require.NoError(t, logger.Rotate())

	_, err = logger.Write([]byte("second\n"))
	require.NoError(t, err)

	old, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(old))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(current))
}

func TestLogger_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "closed.log")
	logger, err := NewLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	n, err := logger.Write([]byte("dropped"))
	assert.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, logger.Rotate())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestNewLogger_BadPath(t *testing.T) {
	_, err := NewLogger(filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}

func TestNewHandler_Levels(t *testing.T) {
	var file, console strings.Builder

	log := slog.New(NewHandler(&file, Options{}))
	log.Debug("hidden")
	log.Info("shown", "fps", 25)
	assert.NotContains(t, file.String(), "hidden")
	assert.Contains(t, file.String(), "msg=shown fps=25")

	file.Reset()
	log = slog.New(NewHandler(&file, Options{Debug: true, Console: &console}))
	log.Debug("verbose")
	assert.Contains(t, file.String(), "msg=verbose")
	assert.Equal(t, file.String(), console.String())
}
