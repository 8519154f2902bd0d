package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	require.NotEmpty(t, dir)
	assert.Contains(t, dir, ".pampax")
	assert.Contains(t, dir, "logs")
}

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	require.NotEmpty(t, path)
	assert.Equal(t, "pampax.log", filepath.Base(path))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, 10, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxFiles)
	assert.True(t, cfg.WriteToStderr)
}

func TestDebugConfig(t *testing.T) {
	assert.Equal(t, "debug", DebugConfig().Level)
}

func TestSetupWritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{
		Level:         "debug",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	})
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, logger)
	logger.Info("hello from the test")

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello from the test")
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"DEBUG":   "DEBUG",
		"info":    "INFO",
		"warn":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO", // unknown levels fall back to info
	}
	for input, want := range cases {
		assert.Equal(t, want, LevelFromString(input).String(), "input %q", input)
	}
}

func TestRotatingWriterImmediateSync(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sync.log")

	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	entry := []byte(`{"level":"INFO","msg":"visible"}` + "\n")
	n, err := w.Write(entry)
	require.NoError(t, err)
	assert.Equal(t, len(entry), n)

	// With per-write sync the entry is readable before Close.
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, string(entry), string(content))
}

func TestRotatingWriterDeferredSync(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "deferred.log")

	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer w.Close()

	w.SetImmediateSync(false)

	entry := []byte(`{"level":"INFO","msg":"buffered"}` + "\n")
	_, err = w.Write(entry)
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, string(entry), string(content))
}

func TestRotatingWriterRotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")

	// Zero-MB limit forces rotation on every write.
	w, err := NewRotatingWriter(logPath, 0, 3)
	require.NoError(t, err)
	defer w.Close()

	payload := strings.Repeat("x", 2048)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)
	_, err = w.Write([]byte(payload))
	require.NoError(t, err)

	assert.FileExists(t, logPath)
	assert.FileExists(t, logPath+".1")
}

func TestRotatingWriterDropsOldGenerations(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "trim.log")

	w, err := NewRotatingWriter(logPath, 0, 2)
	require.NoError(t, err)
	defer w.Close()

	payload := strings.Repeat("y", 1024)
	for i := 0; i < 5; i++ {
		_, _ = w.Write([]byte(payload))
	}

	// With two kept generations, .3 must never survive a rotation.
	_, err = os.Stat(logPath + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingWriterClose(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "close.log")

	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)

	_, err = w.Write([]byte("before close\n"))
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}

func TestRotatingWriterConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")

	w, err := NewRotatingWriter(logPath, 10, 3)
	require.NoError(t, err)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				line := fmt.Sprintf(`{"worker":%d,"iter":%d}`, id, j) + "\n"
				_, _ = w.Write([]byte(line))
			}
		}(i)
	}
	wg.Wait()

	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
