package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-image-detector/internal/config"
)

func TestNew(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test.log")

	log, cleanup, err := New(config.LogConfig{
		Level:      "DEBUG",
		Filename:   filename,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)
	require.NotNil(t, log)
	t.Cleanup(cleanup)

	log.Info("test log message")
	_ = log.Sync()

	_, err = os.Stat(filename)
	assert.NoError(t, err)
}

func TestCleanupFlushesBufferedFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "test.log")

	log, cleanup, err := New(config.LogConfig{Level: "INFO", Filename: filename, MaxSize: 1})
	require.NoError(t, err)

	log.Info("last words before shutdown")
	cleanup()
	cleanup()

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Contains(t, string(content), "last words before shutdown")
}

func TestNewWithoutFile(t *testing.T) {
	log, cleanup, err := New(config.LogConfig{Level: "WARN"})
	require.NoError(t, err)
	log.Warn("console only")
	cleanup()
}

func TestNewInvalidLevel(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: "INVALID"})
	assert.Error(t, err)
}
